// Package deepgram provides a streaming [stt.Recognizer] backed by the
// Deepgram live transcription WebSocket API.
//
// In [stt.ModeSingleUtterance] the session ends itself as soon as Deepgram
// reports the end of the first utterance (speech_final on a final result, or
// an UtteranceEnd message after a final). In continuous mode it runs until
// closed or until Deepgram closes the socket.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/vaani/pkg/provider/stt"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000
	defaultEndpointMs = 300
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default BCP-47 language used when the stream config
// carries none.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithEndpoint overrides the WebSocket endpoint (used by tests and
// self-hosted deployments).
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithEndpointing sets how much trailing silence, in milliseconds, Deepgram
// waits for before marking speech as final.
func WithEndpointing(ms int) Option {
	return func(p *Provider) {
		p.endpointMs = ms
	}
}

// Provider implements [stt.Recognizer] backed by the Deepgram streaming API.
type Provider struct {
	apiKey     string
	endpoint   string
	model      string
	language   string
	endpointMs int
}

var _ stt.Recognizer = (*Provider)(nil)

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepgram: %w: api key must not be empty", stt.ErrEngineUnsupported)
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   deepgramEndpoint,
		model:      defaultModel,
		language:   defaultLanguage,
		endpointMs: defaultEndpointMs,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream implements [stt.Recognizer].
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.Session, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", classifyDial(resp, err))
	}

	// The read loop must not outlive the session, but it must also not die
	// with the caller's dial context.
	loopCtx, cancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		mode:   cfg.Mode,
		events: make(chan stt.Event, 64),
		audio:  make(chan []byte, 256),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	sess.wg.Add(2)
	go sess.readLoop(loopCtx)
	go sess.writeLoop(loopCtx)

	return sess, nil
}

func classifyDial(resp *http.Response, err error) error {
	if resp != nil {
		switch {
		case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden,
			resp.StatusCode == http.StatusBadRequest:
			return fmt.Errorf("%w: status %d: %w", stt.ErrEngineUnsupported, resp.StatusCode, err)
		case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: status %d: %w", stt.ErrTransient, resp.StatusCode, err)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", stt.ErrNetwork, err)
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = defaultSampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("encoding", "linear16")
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("sample_rate", strconv.Itoa(sr))
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	if cfg.Mode == stt.ModeSingleUtterance {
		q.Set("endpointing", strconv.Itoa(p.endpointMs))
		q.Set("utterance_end_ms", "1000")
		q.Set("vad_events", "true")
	}
	for _, kw := range cfg.Keywords {
		// Deepgram keyword format: word:boost (e.g., "vaani:5")
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// deepgramResponse is the JSON structure returned by Deepgram for Results
// and UtteranceEnd messages.
type deepgramResponse struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// session is a live Deepgram streaming session. It implements stt.Session.
type session struct {
	conn   *websocket.Conn
	mode   stt.Mode
	events chan stt.Event
	audio  chan []byte

	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// SendAudio queues a PCM audio chunk for delivery to Deepgram.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return stt.ErrSessionClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return stt.ErrSessionClosed
	}
}

// Events returns the session's event stream.
func (s *session) Events() <-chan stt.Event { return s.events }

// Close terminates the session. Deepgram is asked to flush first; results
// produced by the flush are discarded.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = s.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		cancel()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
		s.cancel()
		s.wg.Wait()
	})
	return nil
}

// writeLoop reads from the audio channel and sends binary messages to Deepgram.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// emit delivers ev unless the session has been closed.
func (s *session) emit(ev stt.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// readLoop receives JSON messages from Deepgram and turns them into events.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.events)

	heardFinal := false
	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			s.finish(err)
			return
		}

		resp, ok := parseDeepgramResponse(msg)
		if !ok {
			continue
		}
		if resp.Type == "UtteranceEnd" {
			if s.mode == stt.ModeSingleUtterance && heardFinal {
				s.emit(stt.Event{Type: stt.EventEnded})
				go s.Close()
				return
			}
			continue
		}

		t := resp.transcript()
		if t.Text == "" && !resp.SpeechFinal {
			continue
		}
		if t.Text != "" {
			if !s.emit(stt.Event{Type: stt.EventResult, Transcript: t}) {
				return
			}
			heardFinal = heardFinal || t.IsFinal
		}
		if s.mode == stt.ModeSingleUtterance && resp.SpeechFinal && heardFinal {
			s.emit(stt.Event{Type: stt.EventEnded})
			go s.Close()
			return
		}
	}
}

// finish reports why the socket stopped delivering messages.
func (s *session) finish(err error) {
	select {
	case <-s.done:
		return
	default:
	}
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		s.emit(stt.Event{Type: stt.EventEnded})
		return
	}
	slog.Warn("deepgram: stream failed", "err", err)
	s.emit(stt.Event{Type: stt.EventError, Err: fmt.Errorf("deepgram: read: %w: %w", stt.ErrTransient, err)})
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message. Messages
// other than Results and UtteranceEnd are ignored.
func parseDeepgramResponse(data []byte) (deepgramResponse, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return deepgramResponse{}, false
	}
	switch resp.Type {
	case "UtteranceEnd":
		return resp, true
	case "Results":
		return resp, len(resp.Channel.Alternatives) > 0
	default:
		return deepgramResponse{}, false
	}
}

func (r deepgramResponse) transcript() stt.Transcript {
	alt := r.Channel.Alternatives[0]
	words := make([]stt.WordDetail, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, stt.WordDetail{
			Word:       w.Word,
			Start:      time.Duration(w.Start * float64(time.Second)),
			End:        time.Duration(w.End * float64(time.Second)),
			Confidence: w.Confidence,
		})
	}
	return stt.Transcript{
		Text:       alt.Transcript,
		IsFinal:    r.IsFinal,
		Confidence: alt.Confidence,
		Words:      words,
	}
}

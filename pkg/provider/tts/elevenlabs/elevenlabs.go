// Package elevenlabs provides a TTS provider backed by the ElevenLabs
// stream-input WebSocket API.
//
// Answer fragments are pushed over one socket per answer as they arrive and
// base64 PCM comes back on the same socket, so playback can begin before the
// whole answer has been sent.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/vaani/pkg/audio"
	"github.com/MrWong99/vaani/pkg/provider/tts"
)

const (
	defaultBaseURL    = "https://api.elevenlabs.io"
	defaultModel      = "eleven_flash_v2_5"
	defaultSampleRate = 16000

	// DefaultVoice is used when the VoiceProfile carries no ID.
	DefaultVoice = "21m00Tcm4TlvDq8ikWAM"
)

// The API accepts speed in [0.7, 1.2]; faster or slower requests are clamped.
const (
	minSpeed = 0.7
	maxSpeed = 1.2
)

var supportedRates = []int{8000, 16000, 22050, 24000, 44100}

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithSampleRate selects the pcm_<rate> output format. Unsupported rates are
// rejected by [New].
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithBaseURL overrides the API origin. The WebSocket URL is derived from it
// by switching the scheme.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// WithTimeout bounds the voice catalogue request and the socket handshake.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.timeout = d
	}
}

// Provider implements tts.Provider using ElevenLabs.
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	sampleRate int
	timeout    time.Duration
	httpClient *http.Client
}

// New constructs a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		baseURL:    defaultBaseURL,
		sampleRate: defaultSampleRate,
		timeout:    10 * time.Second,
	}
	for _, o := range opts {
		o(p)
	}
	if !supported(p.sampleRate) {
		return nil, fmt.Errorf("elevenlabs: unsupported sample rate %d", p.sampleRate)
	}
	if _, err := url.Parse(p.baseURL); err != nil {
		return nil, fmt.Errorf("elevenlabs: base url: %w", err)
	}
	p.httpClient = &http.Client{Timeout: p.timeout}
	return p, nil
}

func supported(rate int) bool {
	for _, r := range supportedRates {
		if r == rate {
			return true
		}
	}
	return false
}

// Format implements tts.Provider.
func (p *Provider) Format() audio.Format {
	return audio.Format{SampleRate: p.sampleRate, Channels: 1}
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// inputMessage is sent for the opening handshake, each fragment and the
// closing empty text.
type inputMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	APIKey        string         `json:"xi_api_key,omitempty"`
}

type outputMessage struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (p *Provider) streamURL(voiceID string) (string, error) {
	u, err := url.Parse(p.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path += "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream-input"
	q := url.Values{}
	q.Set("model_id", p.model)
	q.Set("output_format", "pcm_"+strconv.Itoa(p.sampleRate))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func settingsFor(voice tts.VoiceProfile) *voiceSettings {
	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
	if s := voice.SpeedFactor; s > 0 && s != 1 {
		vs.Speed = min(max(s, minSpeed), maxSpeed)
	}
	return vs
}

// SynthesizeStream implements tts.Provider. The handshake happens before it
// returns, so a bad key or voice surfaces as an error rather than silence.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	id := voice.ID
	if id == "" {
		id = DefaultVoice
	}
	wsURL, err := p.streamURL(id)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: %w", err)
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, p.timeout)
	defer cancelDial()
	conn, _, err := websocket.Dial(dialCtx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	open := inputMessage{Text: " ", VoiceSettings: settingsFor(voice), APIKey: p.apiKey}
	if err := wsjson.Write(ctx, conn, open); err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("elevenlabs: open stream: %w", err)
	}

	out := make(chan []byte, 64)
	go func() {
		ctx, cancel := context.WithCancel(ctx)
		readDone := make(chan struct{})
		defer func() {
			cancel()
			conn.CloseNow()
			<-readDone
			close(out)
		}()

		go func() {
			defer close(readDone)
			defer cancel()
			p.receive(ctx, conn, out)
		}()

		for {
			select {
			case fragment, ok := <-text:
				if !ok {
					if err := wsjson.Write(ctx, conn, inputMessage{Text: ""}); err != nil {
						return
					}
					<-readDone
					conn.Close(websocket.StatusNormalClosure, "done")
					return
				}
				if strings.TrimSpace(fragment) == "" {
					continue
				}
				// The service buffers until it sees a trailing space.
				if !strings.HasSuffix(fragment, " ") {
					fragment += " "
				}
				if err := wsjson.Write(ctx, conn, inputMessage{Text: fragment}); err != nil {
					if ctx.Err() == nil {
						slog.Warn("elevenlabs: send text failed", "err", err)
					}
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// receive forwards decoded audio until the final message, a read error or
// cancellation.
func (p *Provider) receive(ctx context.Context, conn *websocket.Conn, out chan<- []byte) {
	for {
		var msg outputMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				slog.Warn("elevenlabs: read failed", "err", err)
			}
			return
		}
		if msg.Error != "" {
			slog.Warn("elevenlabs: synthesis error", "error", msg.Error, "message", msg.Message)
			return
		}
		if msg.Audio != "" {
			pcm, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				slog.Warn("elevenlabs: bad audio payload", "err", err)
				continue
			}
			select {
			case out <- pcm:
			case <-ctx.Done():
				return
			}
		}
		if msg.IsFinal {
			return
		}
	}
}

type voicesResponse struct {
	Voices []struct {
		VoiceID  string            `json:"voice_id"`
		Name     string            `json:"name"`
		Category string            `json:"category"`
		Labels   map[string]string `json:"labels"`
	} `json:"voices"`
}

// ListVoices implements tts.Provider.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: unexpected status %d", resp.StatusCode)
	}

	var vr voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: decode: %w", err)
	}
	out := make([]tts.VoiceProfile, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		var meta map[string]string
		if len(v.Labels) > 0 || v.Category != "" {
			meta = make(map[string]string, len(v.Labels)+1)
			for k, val := range v.Labels {
				meta[k] = val
			}
			if v.Category != "" {
				meta["category"] = v.Category
			}
		}
		out = append(out, tts.VoiceProfile{ID: v.VoiceID, Name: v.Name, Provider: "elevenlabs", Metadata: meta})
	}
	return out, nil
}

// Package mock provides test doubles for the stt package interfaces.
//
// Use Recognizer to verify that sessions are started with the expected
// StreamConfig. Every started session is a *Session whose event stream the
// test drives with Emit, End and Fail.
//
// Example:
//
//	rec := mock.NewRecognizer()
//	handle, _ := rec.StartStream(ctx, cfg)
//	sess := <-rec.Started()
//	sess.Emit(stt.Transcript{Text: "hey vaani", IsFinal: true})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vaani/pkg/provider/stt"
)

// StartStreamCall records a single invocation of Recognizer.StartStream.
type StartStreamCall struct {
	// Cfg is the StreamConfig passed to StartStream.
	Cfg stt.StreamConfig
}

// Recognizer is a mock implementation of stt.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamErrs, if non-empty, is consumed in order; a nil entry means
	// success. It takes precedence over StartStreamErr.
	StartStreamErrs []error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall

	// Sessions holds every session that was started, in order.
	Sessions []*Session

	started chan *Session
}

// NewRecognizer returns a ready Recognizer.
func NewRecognizer() *Recognizer {
	return &Recognizer{started: make(chan *Session, 16)}
}

// Ensure Recognizer implements stt.Recognizer at compile time.
var _ stt.Recognizer = (*Recognizer)(nil)

// StartStream records the call and returns a new Session.
func (r *Recognizer) StartStream(_ context.Context, cfg stt.StreamConfig) (stt.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.StartStreamCalls = append(r.StartStreamCalls, StartStreamCall{Cfg: cfg})

	err := r.StartStreamErr
	if len(r.StartStreamErrs) > 0 {
		err = r.StartStreamErrs[0]
		r.StartStreamErrs = r.StartStreamErrs[1:]
	}
	if err != nil {
		return nil, err
	}

	s := NewSession(cfg)
	r.Sessions = append(r.Sessions, s)
	if r.started != nil {
		select {
		case r.started <- s:
		default:
		}
	}
	return s, nil
}

// Started delivers every session as it is started. It is nil for a
// Recognizer not built with NewRecognizer.
func (r *Recognizer) Started() <-chan *Session { return r.started }

// Calls returns a copy of the recorded StartStream calls.
func (r *Recognizer) Calls() []StartStreamCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StartStreamCall(nil), r.StartStreamCalls...)
}

// Active returns the number of sessions that have not been closed or ended.
func (r *Recognizer) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.Sessions {
		if !s.finished() {
			n++
		}
	}
	return n
}

// Session is a mock implementation of stt.Session. Events are delivered
// synchronously: Emit, End and Fail return once the consumer has received
// the event, or report false when the session is already over.
type Session struct {
	mu sync.Mutex

	// Cfg is the StreamConfig the session was started with.
	Cfg stt.StreamConfig

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// --- Call records ---

	// Audio is the concatenation of every chunk passed to SendAudio.
	Audio []byte

	// SendAudioCallCount is the number of times SendAudio was called.
	SendAudioCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	events chan stt.Event
	done   chan struct{}
	over   bool
	sendMu sync.Mutex
}

// Ensure Session implements stt.Session at compile time.
var _ stt.Session = (*Session)(nil)

// NewSession returns an open Session.
func NewSession(cfg stt.StreamConfig) *Session {
	return &Session{
		Cfg:    cfg,
		events: make(chan stt.Event),
		done:   make(chan struct{}),
	}
}

// SendAudio records the chunk and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendAudioCallCount++
	if s.over {
		return stt.ErrSessionClosed
	}
	s.Audio = append(s.Audio, chunk...)
	return s.SendAudioErr
}

// Events returns the event stream.
func (s *Session) Events() <-chan stt.Event { return s.events }

// Close ends the session and closes the event stream.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	s.mu.Unlock()
	s.terminate()
	return nil
}

// Emit delivers a transcript.
func (s *Session) Emit(t stt.Transcript) bool {
	return s.send(stt.Event{Type: stt.EventResult, Transcript: t})
}

// End announces a natural end and closes the stream.
func (s *Session) End() bool {
	ok := s.send(stt.Event{Type: stt.EventEnded})
	s.terminate()
	return ok
}

// Fail reports err and closes the stream.
func (s *Session) Fail(err error) bool {
	ok := s.send(stt.Event{Type: stt.EventError, Err: err})
	s.terminate()
	return ok
}

// AudioBytes returns the number of audio bytes received so far.
func (s *Session) AudioBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Audio)
}

// Closed reports whether the caller closed the session.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount > 0
}

// Done is closed once the session is over.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) send(ev stt.Event) bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) terminate() {
	s.mu.Lock()
	if s.over {
		s.mu.Unlock()
		return
	}
	s.over = true
	close(s.done)
	s.mu.Unlock()

	// Wait for an in-flight send to observe done before closing events.
	s.sendMu.Lock()
	close(s.events)
	s.sendMu.Unlock()
}

func (s *Session) finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.over
}

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	WAV      []byte
	Language string
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Text is returned by Transcribe when TranscribeFunc is nil.
	Text string

	// Err, if non-nil, is returned by Transcribe when TranscribeFunc is nil.
	Err error

	// TranscribeFunc, if set, decides the result of every call.
	TranscribeFunc func(ctx context.Context, wav []byte, language string) (string, error)

	// TranscribeCalls records every call to Transcribe.
	TranscribeCalls []TranscribeCall
}

// Ensure Transcriber implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Transcriber)(nil)

// Transcribe records the call and returns Text, Err.
func (t *Transcriber) Transcribe(ctx context.Context, wav []byte, language string) (string, error) {
	t.mu.Lock()
	t.TranscribeCalls = append(t.TranscribeCalls, TranscribeCall{WAV: append([]byte(nil), wav...), Language: language})
	fn, text, err := t.TranscribeFunc, t.Text, t.Err
	t.mu.Unlock()
	if fn != nil {
		return fn(ctx, wav, language)
	}
	return text, err
}

// Calls returns a copy of the recorded Transcribe calls.
func (t *Transcriber) Calls() []TranscribeCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TranscribeCall(nil), t.TranscribeCalls...)
}

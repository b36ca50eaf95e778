// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that sessions are created with the expected Config.
// Use Session to script detector decisions and inspect the windows that were
// submitted for processing.
//
// Example:
//
//	sess := &mock.Session{
//	    ProcessFunc: func(_ []float32, now time.Time) (vad.Event, bool) {
//	        return vad.Event{Type: vad.EventSpeechStart, At: now}, true
//	    },
//	}
//	eng := &mock.Engine{Session: sess}
//	handle, _ := eng.NewSession(cfg)
package mock

import (
	"sync"
	"time"

	"github.com/MrWong99/vaani/pkg/provider/vad"
)

// NewSessionCall records a single invocation of Engine.NewSession.
type NewSessionCall struct {
	// Cfg is the Config passed to NewSession.
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by NewSession. If nil, NewSession
	// returns a new default Session.
	Session vad.SessionHandle

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records every call to NewSession in order.
	NewSessionCalls []NewSessionCall
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Calls returns a copy of the recorded NewSession calls.
func (e *Engine) Calls() []NewSessionCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]NewSessionCall(nil), e.NewSessionCalls...)
}

// ProcessCall records a single invocation of Session.Process.
type ProcessCall struct {
	// Samples is the number of samples in the window.
	Samples int

	// Now is the timestamp passed to Process.
	Now time.Time
}

// Session is a mock implementation of vad.SessionHandle. Its state follows
// the events it emits.
type Session struct {
	mu sync.Mutex

	// ProcessFunc decides the result of every Process call. When nil, Process
	// never reports an event.
	ProcessFunc func(samples []float32, now time.Time) (vad.Event, bool)

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// ProcessCalls records every call to Process in order.
	ProcessCalls []ProcessCall

	// ForceEndCallCount is the number of times ForceEnd was called.
	ForceEndCallCount int

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	state       vad.State
	speechStart time.Time
}

// Ensure Session implements vad.SessionHandle at compile time.
var _ vad.SessionHandle = (*Session)(nil)

// Process records the call and returns the result of ProcessFunc.
func (s *Session) Process(samples []float32, now time.Time) (vad.Event, bool) {
	s.mu.Lock()
	s.ProcessCalls = append(s.ProcessCalls, ProcessCall{Samples: len(samples), Now: now})
	fn := s.ProcessFunc
	s.mu.Unlock()
	if fn == nil {
		return vad.Event{}, false
	}
	ev, ok := fn(samples, now)
	if ok {
		s.mu.Lock()
		s.apply(ev)
		s.mu.Unlock()
	}
	return ev, ok
}

func (s *Session) apply(ev vad.Event) {
	switch ev.Type {
	case vad.EventSpeechStart:
		s.state = vad.StateSpeaking
		s.speechStart = ev.At
	case vad.EventSpeechEnd:
		s.state = vad.StateSilent
	}
}

// ForceEnd ends a speaking session with ReasonManualStop.
func (s *Session) ForceEnd(now time.Time) (vad.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ForceEndCallCount++
	if s.state != vad.StateSpeaking {
		return vad.Event{}, false
	}
	ev := vad.Event{Type: vad.EventSpeechEnd, At: now, Reason: vad.ReasonManualStop, SpeechStartedAt: s.speechStart}
	s.apply(ev)
	return ev, true
}

// State returns the state implied by the emitted events.
func (s *Session) State() vad.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reset records the call and returns the session to silent.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
	s.state = vad.StateSilent
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// Calls returns a copy of the recorded Process calls.
func (s *Session) Calls() []ProcessCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ProcessCall(nil), s.ProcessCalls...)
}

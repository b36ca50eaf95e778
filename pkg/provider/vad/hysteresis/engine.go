// Package hysteresis implements [vad.Engine] with an RMS level meter and a
// two-threshold state machine.
//
// Each analysis window is reduced to its RMS level and smoothed with an
// exponential moving average. Speech starts when the smoothed level reaches
// the start threshold (outside the cooldown after the previous utterance)
// and ends after the level has stayed below the lower stop threshold for the
// configured silence, or when the utterance hits its maximum length.
//
// Usage:
//
//	eng := hysteresis.New()
//	sess, err := eng.NewSession(vad.DefaultConfig())
//	ev, ok := sess.Process(window, time.Now())
package hysteresis

import (
	"fmt"
	"time"

	"github.com/MrWong99/vaani/pkg/provider/vad"
)

// Engine creates hysteresis VAD sessions. The zero value is ready to use.
type Engine struct{}

var _ vad.Engine = (*Engine)(nil)

// New returns an Engine.
func New() *Engine { return &Engine{} }

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("hysteresis: %w", err)
	}
	return &session{Detector: NewDetector(cfg)}, nil
}

type session struct {
	*Detector
	closed bool
}

func (s *session) Process(samples []float32, now time.Time) (vad.Event, bool) {
	if s.closed {
		return vad.Event{}, false
	}
	return s.Detector.Process(samples, now)
}

func (s *session) ForceEnd(now time.Time) (vad.Event, bool) {
	if s.closed {
		return vad.Event{}, false
	}
	return s.Detector.ForceEnd(now)
}

func (s *session) Close() error {
	s.closed = true
	return nil
}

// Package vad defines the Engine interface for voice activity detection.
//
// A VAD engine turns a stream of short audio analysis windows into discrete
// utterance boundaries. Each session keeps its own state (smoothed level,
// timers, cooldown) so that a fresh session can be created whenever capture
// restarts without stale history leaking into the next utterance.
//
// Processing is synchronous: Process returns immediately, which lets the
// capture loop call it once per analysis tick. The caller supplies the
// timestamp, so sessions are deterministic under a fake clock.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle must not be shared across goroutines.
package vad

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the tuning parameters of a VAD session. Levels are RMS values
// of samples normalized to [-1, 1].
type Config struct {
	// StartThreshold is the smoothed level at or above which speech starts.
	StartThreshold float64

	// StopThreshold is the smoothed level below which a speaking session is
	// considered silent. Must be lower than StartThreshold; the gap between
	// them is the hysteresis band.
	StopThreshold float64

	// MinSpeech is the shortest utterance that silence may end. Shorter
	// bursts keep the session speaking until MinSpeech has elapsed.
	MinSpeech time.Duration

	// Silence is how long the level must stay below StopThreshold before the
	// utterance ends.
	Silence time.Duration

	// Grace is the span after speech start during which silence is ignored,
	// so that a slow onset does not end the utterance immediately.
	Grace time.Duration

	// Cooldown is the minimum gap between the end of one utterance and the
	// start of the next.
	Cooldown time.Duration

	// MaxUtterance cuts an utterance off regardless of level.
	MaxUtterance time.Duration

	// Smoothing is the exponential moving average weight given to the newest
	// level, in (0, 1]. 1 disables smoothing.
	Smoothing float64
}

// DefaultConfig returns thresholds tuned for a close-talking laptop
// microphone at normal speaking volume.
func DefaultConfig() Config {
	return Config{
		StartThreshold: 0.035,
		StopThreshold:  0.02,
		MinSpeech:      400 * time.Millisecond,
		Silence:        900 * time.Millisecond,
		Grace:          300 * time.Millisecond,
		Cooldown:       250 * time.Millisecond,
		MaxUtterance:   30 * time.Second,
		Smoothing:      0.2,
	}
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.StopThreshold < 0 {
		errs = append(errs, errors.New("vad: stop threshold must be non-negative"))
	}
	if c.StartThreshold <= c.StopThreshold {
		errs = append(errs, errors.New("vad: start threshold must be greater than stop threshold"))
	}
	for _, f := range []struct {
		name string
		d    time.Duration
	}{
		{"min speech", c.MinSpeech},
		{"silence", c.Silence},
		{"grace", c.Grace},
		{"cooldown", c.Cooldown},
	} {
		if f.d < 0 {
			errs = append(errs, fmt.Errorf("vad: %s must be non-negative", f.name))
		}
	}
	if c.MaxUtterance <= 0 {
		errs = append(errs, errors.New("vad: max utterance must be positive"))
	}
	if c.Smoothing <= 0 || c.Smoothing > 1 {
		errs = append(errs, errors.New("vad: smoothing must be in (0, 1]"))
	}
	return errors.Join(errs...)
}

// SessionHandle is an active VAD session for a single audio stream.
type SessionHandle interface {
	// Process analyses one window of mono samples in [-1, 1] observed at now
	// and returns an event when the session changed state.
	Process(samples []float32, now time.Time) (Event, bool)

	// ForceEnd ends an active utterance with [ReasonManualStop]. It returns
	// false when the session is silent.
	ForceEnd(now time.Time) (Event, bool)

	// State returns the current detector state.
	State() State

	// Reset returns the session to Silent and clears all history, including
	// the cooldown.
	Reset()

	// Close releases the session. Process after Close reports no events.
	// Calling Close more than once is safe.
	Close() error
}

// Engine is the factory for VAD sessions.
//
// Implementations must be safe for concurrent use.
type Engine interface {
	// NewSession validates cfg and returns a fresh session in [StateSilent].
	NewSession(cfg Config) (SessionHandle, error)
}

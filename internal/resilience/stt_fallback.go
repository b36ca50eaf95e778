package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/vaani/pkg/provider/stt"
)

// STTPermanent reports speech-to-text errors that no other backend can fix:
// an empty recording, or a caller that gave up.
func STTPermanent(err error) bool {
	return errors.Is(err, stt.ErrEmptyAudio) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// RecognizerFallback implements [stt.Recognizer] with automatic failover
// across multiple streaming backends. Each backend has its own circuit
// breaker.
type RecognizerFallback struct {
	group *FallbackGroup[stt.Recognizer]
}

// Compile-time interface assertion.
var _ stt.Recognizer = (*RecognizerFallback)(nil)

// NewRecognizerFallback creates a [RecognizerFallback] with primary as the
// preferred backend. A nil cfg.Permanent defaults to [STTPermanent].
func NewRecognizerFallback(primary stt.Recognizer, primaryName string, cfg FallbackConfig) *RecognizerFallback {
	if cfg.Permanent == nil {
		cfg.Permanent = STTPermanent
	}
	return &RecognizerFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional recognizer as a fallback.
func (f *RecognizerFallback) AddFallback(name string, r stt.Recognizer) {
	f.group.AddFallback(name, r)
}

// StartStream opens a session against the first healthy recognizer. Only
// session setup is covered by failover; a session that fails later is
// restarted by the caller.
func (f *RecognizerFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.Session, error) {
	return ExecuteWithResult(f.group, func(r stt.Recognizer) (stt.Session, error) {
		return r.StartStream(ctx, cfg)
	})
}

// TranscriberFallback implements [stt.Transcriber] with automatic failover.
type TranscriberFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

// Compile-time interface assertion.
var _ stt.Transcriber = (*TranscriberFallback)(nil)

// NewTranscriberFallback creates a [TranscriberFallback] with primary as the
// preferred backend. A nil cfg.Permanent defaults to [STTPermanent].
func NewTranscriberFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *TranscriberFallback {
	if cfg.Permanent == nil {
		cfg.Permanent = STTPermanent
	}
	return &TranscriberFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional transcriber as a fallback.
func (f *TranscriberFallback) AddFallback(name string, t stt.Transcriber) {
	f.group.AddFallback(name, t)
}

// Transcribe implements [stt.Transcriber].
func (f *TranscriberFallback) Transcribe(ctx context.Context, wav []byte, language string) (string, error) {
	return ExecuteWithResult(f.group, func(t stt.Transcriber) (string, error) {
		return t.Transcribe(ctx, wav, language)
	})
}

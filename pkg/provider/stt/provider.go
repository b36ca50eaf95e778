// Package stt defines the speech-to-text abstractions used by the capture
// pipeline.
//
// Two shapes of backend exist:
//
//   - [Recognizer] streams audio over a live session and emits interim and
//     final [Transcript] values as [Event]s. The wake path uses it both for
//     continuous background listening and for single-utterance question
//     capture.
//   - [Transcriber] turns a finished recording (a WAV file) into text in one
//     request. Podcast-mode utterances go through it.
//
// Errors are classified with the sentinels below so that the capture loop
// can decide between retrying and giving up.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

var (
	// ErrEngineUnsupported means the recognizer cannot run in this
	// environment (missing credentials, unsupported language or format).
	// It is permanent.
	ErrEngineUnsupported = errors.New("stt: engine unsupported")

	// ErrTransient is a recoverable engine failure; the session may be
	// restarted.
	ErrTransient = errors.New("stt: transient engine error")

	// ErrNetwork means the backend could not be reached.
	ErrNetwork = errors.New("stt: network failure")

	// ErrEmptyAudio is returned by transcribers for recordings without any
	// samples.
	ErrEmptyAudio = errors.New("stt: empty audio")

	// ErrSessionClosed is returned by SendAudio after Close.
	ErrSessionClosed = errors.New("stt: session closed")
)

// Retryable reports whether err is worth a restart with backoff.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrNetwork)
}

// Mode selects how a recognizer session ends.
type Mode int

const (
	// ModeContinuous keeps recognising until the session is closed.
	ModeContinuous Mode = iota

	// ModeSingleUtterance ends the session after the first utterance has
	// been finalised.
	ModeSingleUtterance
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeContinuous:
		return "continuous"
	case ModeSingleUtterance:
		return "single_utterance"
	default:
		return "unknown"
	}
}

// StreamConfig describes the audio format and recognition options of a new
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz.
	SampleRate int

	// Channels is the number of interleaved channels, normally 1.
	Channels int

	// Language is the BCP-47 tag for recognition (e.g. "en-US"). Empty lets
	// the backend choose.
	Language string

	Mode Mode

	// Keywords boosts recognition of uncommon words such as the wake phrase.
	Keywords []KeywordBoost
}

// Session is an open recognizer stream.
//
// The Events channel is closed when the session ends. A natural end is
// announced with [EventEnded] first; a failure with [EventError]. Close by the
// caller closes the channel without either.
type Session interface {
	// SendAudio delivers a chunk of S16LE PCM in the configured format.
	// After Close it returns [ErrSessionClosed].
	SendAudio(chunk []byte) error

	// Events returns the session's event stream.
	Events() <-chan Event

	// Close terminates the session and releases its resources. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Recognizer opens streaming recognition sessions.
type Recognizer interface {
	StartStream(ctx context.Context, cfg StreamConfig) (Session, error)
}

// Transcriber transcribes complete recordings.
type Transcriber interface {
	// Transcribe returns the text spoken in wav, a canonical 16-bit PCM WAV
	// file. language may be empty.
	Transcribe(ctx context.Context, wav []byte, language string) (string, error)
}

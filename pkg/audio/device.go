// Package audio defines the capture and playback abstractions the voice
// pipeline is built on, plus the PCM helpers shared by every stage.
//
// The two primary abstractions are:
//
//   - [Device] opens the microphone and returns a [Stream] of [Frame] values.
//   - [Player] plays a stream of PCM chunks through the speaker and returns
//     when playback has drained.
//
// Exactly one component may hold an open [Stream] at a time; the capture
// orchestrator enforces that by being the only caller of [Device.Open].
// Implementations live in sub-packages (audio/malgo, audio/mock).
package audio

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrDeviceUnavailable is returned when no capture or playback device
	// can be opened, or an open device disappears mid-stream.
	ErrDeviceUnavailable = errors.New("audio: device unavailable")

	// ErrPermissionDenied is returned when the operating system refuses
	// microphone access. It wraps [ErrDeviceUnavailable].
	ErrPermissionDenied = fmt.Errorf("audio: permission denied: %w", ErrDeviceUnavailable)

	// ErrStreamClosed is returned by operations on a closed [Stream].
	ErrStreamClosed = errors.New("audio: stream closed")
)

// Device is an input device that can be opened for capture.
//
// Implementations must be safe for concurrent use, but callers are expected
// to keep at most one [Stream] open per device.
type Device interface {
	// Open starts capture and returns the live stream. ctx bounds the open
	// call only; the stream stays alive until [Stream.Close].
	Open(ctx context.Context) (Stream, error)

	// Name returns a human-readable identifier for logs and health checks.
	Name() string
}

// Stream is an open capture session.
//
// The channel returned by Frames is closed when the stream ends, either
// because Close was called or because the device failed. In the latter case
// Err reports the cause (wrapping [ErrDeviceUnavailable]).
type Stream interface {
	// Frames delivers captured audio in capture order.
	Frames() <-chan Frame

	// Format is the negotiated capture format.
	Format() Format

	// Err returns the error that terminated the stream, or nil while the
	// stream is running or after a clean Close.
	Err() error

	// Close stops capture and releases the device. Calling Close more than
	// once is a no-op.
	Close() error
}

// Player plays PCM audio through an output device.
type Player interface {
	// Play consumes pcm chunks in format until the channel is closed and the
	// device has drained, or ctx is cancelled. It blocks for the duration
	// of playback.
	Play(ctx context.Context, pcm <-chan []byte, format Format) error
}

package audio

import "time"

// Frame is one block of captured or synthesized audio. Frames are the unit
// that flows from a capture [Stream] into the level meter, the ring buffer and
// the [Recorder].
type Frame struct {
	// Data is little-endian signed 16-bit PCM, interleaved when Channels > 1.
	Data []byte

	// SampleRate in Hz (16000 for the default capture format).
	SampleRate int

	// Channels: 1 for mono capture, 2 for stereo playback devices.
	Channels int

	// Timestamp is the wall-clock time the first sample was captured.
	Timestamp time.Time
}

// Format returns the frame's sample format.
func (f Frame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	return f.Format().Duration(len(f.Data))
}

// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (a local Coqui server, the
// OpenAI speech endpoint) and presents a uniform streaming interface. The
// answer read back to the user is fed in as text fragments and comes out as
// raw S16LE PCM in the provider's [Provider.Format], ready for an
// [audio.Player].
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/vaani/pkg/audio"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes text fragments from the text channel and
	// returns a channel that emits PCM chunks as they are synthesised.
	//
	// The returned channel is closed when all text has been synthesised, when
	// ctx is cancelled, or when synthesis fails part-way. The caller must
	// drain it.
	//
	// Returns a non-nil error only if the stream cannot be started.
	SynthesizeStream(ctx context.Context, text <-chan string, voice VoiceProfile) (<-chan []byte, error)

	// ListVoices returns the voices this provider can speak with.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)

	// Format is the PCM format of every chunk emitted by SynthesizeStream.
	Format() audio.Format
}

// Text returns a closed channel carrying s as a single fragment. It adapts a
// complete answer to [Provider.SynthesizeStream].
func Text(s string) <-chan string {
	ch := make(chan string, 1)
	ch <- s
	close(ch)
	return ch
}

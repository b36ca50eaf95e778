// Package playback speaks answers through the speaker while keeping the
// microphone out of the way.
//
// A [Coordinator] suspends capture before synthesis starts so the assistant
// never hears itself, plays the synthesized audio to completion and then
// resumes the listening mode that was enabled. Resumption also happens when
// synthesis or playback fails or the caller gives up.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/vaani/internal/observe"
	"github.com/MrWong99/vaani/pkg/audio"
	"github.com/MrWong99/vaani/pkg/provider/tts"
)

// defaultResumeTimeout bounds reopening capture after playback.
const defaultResumeTimeout = 5 * time.Second

// Suspender is the part of the capture orchestrator playback needs.
type Suspender interface {
	// Suspend releases the capture device without changing the enabled
	// mode. It reports whether capture was active.
	Suspend(ctx context.Context) (bool, error)

	// Resume reopens the enabled mode.
	Resume(ctx context.Context) error
}

// Option configures a [Coordinator].
type Option func(*Coordinator)

// WithVoice sets the synthesis voice.
func WithVoice(v tts.VoiceProfile) Option {
	return func(c *Coordinator) { c.voice = v }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithResumeTimeout bounds the capture resume after playback.
func WithResumeTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.resumeTimeout = d
		}
	}
}

// Coordinator serializes answer playback. At most one Speak runs at a time.
type Coordinator struct {
	capture       Suspender
	synth         tts.Provider
	player        audio.Player
	voice         tts.VoiceProfile
	metrics       *observe.Metrics
	resumeTimeout time.Duration

	turn     chan struct{}
	speaking atomic.Bool
	voiceMu  sync.Mutex
}

// New returns a Coordinator. capture may be nil when nothing needs to be
// suspended.
func New(capture Suspender, synth tts.Provider, player audio.Player, opts ...Option) *Coordinator {
	c := &Coordinator{
		capture:       capture,
		synth:         synth,
		player:        player,
		resumeTimeout: defaultResumeTimeout,
		turn:          make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Speaking reports whether a playback is in progress.
func (c *Coordinator) Speaking() bool { return c.speaking.Load() }

// SetVoice changes the voice used by subsequent Speak calls.
func (c *Coordinator) SetVoice(v tts.VoiceProfile) {
	c.voiceMu.Lock()
	defer c.voiceMu.Unlock()
	c.voice = v
}

// Voice returns the current voice.
func (c *Coordinator) Voice() tts.VoiceProfile {
	c.voiceMu.Lock()
	defer c.voiceMu.Unlock()
	return c.voice
}

// Speak synthesizes text and plays it, suspending capture for the duration.
// It blocks until playback has finished. Empty text is a no-op.
func (c *Coordinator) Speak(ctx context.Context, text string) (err error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	select {
	case c.turn <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-c.turn }()

	c.speaking.Store(true)
	defer c.speaking.Store(false)

	if c.capture != nil {
		active, serr := c.capture.Suspend(ctx)
		if serr != nil {
			return fmt.Errorf("playback: suspend capture: %w", serr)
		}
		if active {
			defer func() {
				if rerr := c.resume(ctx); rerr != nil {
					err = errors.Join(err, rerr)
				}
			}()
		}
	}

	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		observe.ObserveSince(context.WithoutCancel(ctx), c.metrics.PlaybackDuration, start, observe.Attr("status", status))
	}()

	playCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks, err := c.synth.SynthesizeStream(playCtx, tts.Text(text), c.Voice())
	if err != nil {
		return fmt.Errorf("playback: synthesize: %w", err)
	}
	if err := c.player.Play(playCtx, chunks, c.synth.Format()); err != nil {
		cancel()
		audio.Drain(chunks)
		return fmt.Errorf("playback: play: %w", err)
	}
	slog.Debug("playback: finished", "chars", len(text), "elapsed", time.Since(start))
	return nil
}

func (c *Coordinator) resume(ctx context.Context) error {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.resumeTimeout)
	defer cancel()
	if err := c.capture.Resume(rctx); err != nil {
		slog.Error("playback: resume capture", "err", err)
		return fmt.Errorf("playback: resume capture: %w", err)
	}
	return nil
}

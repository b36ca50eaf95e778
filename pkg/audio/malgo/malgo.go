// Package malgo provides the local microphone and speaker backed by
// miniaudio through github.com/gen2brain/malgo.
//
// A single [Context] is shared by the capture [Device] and the [Player]; it
// must outlive both. Capture always requests signed 16-bit PCM and lets
// miniaudio convert from the hardware format.
//
// Usage:
//
//	mctx, err := malgo.NewContext()
//	defer mctx.Close()
//	dev := malgo.NewDevice(mctx, audio.CaptureFormat)
//	stream, err := dev.Open(ctx)
//	for f := range stream.Frames() { ... }
package malgo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	ma "github.com/gen2brain/malgo"

	"github.com/MrWong99/vaani/pkg/audio"
)

// defaultFrameBuffer is how many callback periods may queue up before the
// consumer is considered too slow and frames are dropped.
const defaultFrameBuffer = 64

// Context owns the miniaudio backend context.
type Context struct {
	ctx  *ma.AllocatedContext
	once sync.Once
}

// NewContext initialises miniaudio with the platform's default backends.
func NewContext() (*Context, error) {
	c, err := ma.InitContext(nil, ma.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", mapError(err))
	}
	return &Context{ctx: c}, nil
}

// Close releases the backend context. Calling Close more than once is a
// no-op.
func (c *Context) Close() {
	c.once.Do(func() {
		_ = c.ctx.Uninit()
		c.ctx.Free()
	})
}

// CaptureDevices lists the names of the available input devices.
func (c *Context) CaptureDevices() ([]string, error) {
	infos, err := c.ctx.Devices(ma.Capture)
	if err != nil {
		return nil, fmt.Errorf("malgo: list devices: %w", mapError(err))
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names, nil
}

// mapError translates miniaudio results into the audio package's sentinels.
func mapError(err error) error {
	var res ma.Result
	if !errors.As(err, &res) {
		return err
	}
	switch res {
	case ma.ErrAccessDenied:
		return fmt.Errorf("%w: %w", audio.ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
	}
}

// ─── Capture ──────────────────────────────────────────────────────────────────

// Device is the default capture device.
type Device struct {
	mctx        *Context
	format      audio.Format
	frameBuffer int
}

var _ audio.Device = (*Device)(nil)

// NewDevice returns a capture device producing format.
func NewDevice(mctx *Context, format audio.Format) *Device {
	if !format.Valid() {
		format = audio.CaptureFormat
	}
	return &Device{mctx: mctx, format: format, frameBuffer: defaultFrameBuffer}
}

// Name implements [audio.Device].
func (d *Device) Name() string { return "malgo/default" }

// Open implements [audio.Device]. It initialises and starts a fresh
// miniaudio device for every call.
func (d *Device) Open(ctx context.Context) (audio.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := &stream{
		format: d.format,
		frames: make(chan audio.Frame, d.frameBuffer),
	}

	cfg := ma.DefaultDeviceConfig(ma.Capture)
	cfg.Capture.Format = ma.FormatS16
	cfg.Capture.Channels = uint32(d.format.Channels)
	cfg.SampleRate = uint32(d.format.SampleRate)

	dev, err := ma.InitDevice(d.mctx.ctx.Context, cfg, ma.DeviceCallbacks{
		Data: s.onData,
		Stop: s.onStop,
	})
	if err != nil {
		return nil, fmt.Errorf("malgo: init capture device: %w", mapError(err))
	}
	s.dev = dev
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("malgo: start capture device: %w", mapError(err))
	}
	slog.Debug("malgo: capture started", "format", d.format.String())
	return s, nil
}

type stream struct {
	format audio.Format
	dev    *ma.Device

	mu      sync.Mutex
	frames  chan audio.Frame
	done    bool
	err     error
	dropped atomic.Int64
	once    sync.Once
}

func (s *stream) onData(_, input []byte, _ uint32) {
	if len(input) == 0 {
		return
	}
	f := audio.Frame{
		Data:       append([]byte(nil), input...),
		SampleRate: s.format.SampleRate,
		Channels:   s.format.Channels,
		Timestamp:  time.Now(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	select {
	case s.frames <- f:
	default:
		if s.dropped.Add(1) == 1 {
			slog.Warn("malgo: consumer too slow, dropping capture frames")
		}
	}
}

// onStop fires for every stop, including the one issued by Close. Only an
// unexpected stop marks the stream as failed.
func (s *stream) onStop() {
	s.mu.Lock()
	closing := s.done
	if !closing && s.err == nil {
		s.err = fmt.Errorf("malgo: capture stopped unexpectedly: %w", audio.ErrDeviceUnavailable)
	}
	s.mu.Unlock()
	if !closing {
		// Uninit must not run on the audio thread.
		go s.shutdown()
	}
}

func (s *stream) Frames() <-chan audio.Frame { return s.frames }

func (s *stream) Format() audio.Format { return s.format }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stream) Close() error {
	s.shutdown()
	return nil
}

func (s *stream) shutdown() {
	s.once.Do(func() {
		s.mu.Lock()
		s.done = true
		s.mu.Unlock()

		_ = s.dev.Stop()
		s.dev.Uninit()

		s.mu.Lock()
		close(s.frames)
		s.mu.Unlock()
		if n := s.dropped.Load(); n > 0 {
			slog.Warn("malgo: capture frames dropped", "count", n)
		}
	})
}

// ─── Playback ─────────────────────────────────────────────────────────────────

// Player plays PCM through the default output device.
type Player struct {
	mctx *Context
}

var _ audio.Player = (*Player)(nil)

// NewPlayer returns a player on mctx.
func NewPlayer(mctx *Context) *Player {
	return &Player{mctx: mctx}
}

// Play implements [audio.Player]. A device is opened per call in the
// requested format and closed when playback has drained.
func (p *Player) Play(ctx context.Context, pcm <-chan []byte, format audio.Format) error {
	if !format.Valid() {
		return fmt.Errorf("malgo: play: invalid format %v", format)
	}

	q := &playQueue{drained: make(chan struct{})}

	cfg := ma.DefaultDeviceConfig(ma.Playback)
	cfg.Playback.Format = ma.FormatS16
	cfg.Playback.Channels = uint32(format.Channels)
	cfg.SampleRate = uint32(format.SampleRate)

	dev, err := ma.InitDevice(p.mctx.ctx.Context, cfg, ma.DeviceCallbacks{Data: q.fill})
	if err != nil {
		return fmt.Errorf("malgo: init playback device: %w", mapError(err))
	}
	defer dev.Uninit()
	if err := dev.Start(); err != nil {
		return fmt.Errorf("malgo: start playback device: %w", mapError(err))
	}
	defer func() { _ = dev.Stop() }()

	for {
		select {
		case chunk, ok := <-pcm:
			if !ok {
				q.finish()
				select {
				case <-q.drained:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			q.push(chunk)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// playQueue hands PCM from the producer to the audio callback.
type playQueue struct {
	mu       sync.Mutex
	buf      []byte
	finished bool
	drained  chan struct{}
	once     sync.Once
}

func (q *playQueue) push(b []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buf = append(q.buf, b...)
}

func (q *playQueue) finish() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.finished = true
}

func (q *playQueue) fill(output, _ []byte, _ uint32) {
	q.mu.Lock()
	n := copy(output, q.buf)
	q.buf = q.buf[n:]
	empty := len(q.buf) == 0 && q.finished
	q.mu.Unlock()

	clear(output[n:])
	if empty {
		q.once.Do(func() { close(q.drained) })
	}
}

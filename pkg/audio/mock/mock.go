// Package mock provides in-memory implementations of [audio.Device],
// [audio.Stream] and [audio.Player] for unit tests.
//
// All mocks are safe for concurrent use. They record calls so tests can
// assert on counts and arguments, and expose exported fields to control
// return values.
//
// Frame delivery is synchronous: [Stream.Push] returns only after the
// consumer has received the frame, which keeps tests of single-goroutine
// event loops deterministic.
//
// Typical usage:
//
//	dev := &mock.Device{}
//	go orchestrator.Start(ctx)
//	s := <-dev.Opened()
//	s.Push(ctx, mock.Tone(audio.CaptureFormat, 0.5, 20*time.Millisecond))
//	s.Fail(audio.ErrDeviceUnavailable)
package mock

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/vaani/pkg/audio"
)

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// NameResult is returned by Name. Defaults to "mock".
	NameResult string

	// OpenError, when set, is returned by Open instead of a stream.
	OpenError error

	// FormatResult is the format of opened streams. Defaults to
	// [audio.CaptureFormat].
	FormatResult audio.Format

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// Streams holds every stream opened so far, in order.
	Streams []*Stream

	opened    chan *Stream
	active    int
	maxActive int
}

var _ audio.Device = (*Device)(nil)

// Name implements [audio.Device].
func (d *Device) Name() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.NameResult == "" {
		return "mock"
	}
	return d.NameResult
}

// Open implements [audio.Device]. On success the new stream is also sent on
// [Device.Opened].
func (d *Device) Open(ctx context.Context) (audio.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.CallCountOpen++
	if d.OpenError != nil {
		err := d.OpenError
		d.mu.Unlock()
		return nil, err
	}
	format := d.FormatResult
	if !format.Valid() {
		format = audio.CaptureFormat
	}
	s := newStream(format, d.release)
	d.Streams = append(d.Streams, s)
	d.active++
	d.maxActive = max(d.maxActive, d.active)
	opened := d.openedChan()
	d.mu.Unlock()

	select {
	case opened <- s:
	default:
	}
	return s, nil
}

// Opened delivers each stream as it is opened. Up to 16 unread streams are
// buffered; further ones are only visible through Streams.
func (d *Device) Opened() <-chan *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.openedChan()
}

func (d *Device) openedChan() chan *Stream {
	if d.opened == nil {
		d.opened = make(chan *Stream, 16)
	}
	return d.opened
}

func (d *Device) release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active--
}

// Active returns the number of streams currently open.
func (d *Device) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// MaxActive returns the highest number of simultaneously open streams seen.
func (d *Device) MaxActive() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxActive
}

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock [audio.Stream] fed by the test through Push.
type Stream struct {
	format  audio.Format
	release func()

	in   chan audio.Frame
	ack  chan struct{}
	out  chan audio.Frame
	done chan struct{}
	once sync.Once

	mu          sync.Mutex
	err         error
	closeCalled int
}

var _ audio.Stream = (*Stream)(nil)

func newStream(format audio.Format, release func()) *Stream {
	s := &Stream{
		format:  format,
		release: release,
		in:      make(chan audio.Frame),
		ack:     make(chan struct{}),
		out:     make(chan audio.Frame),
		done:    make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *Stream) pump() {
	defer close(s.out)
	for {
		select {
		case f := <-s.in:
			select {
			case s.out <- f:
			case <-s.done:
				return
			}
			select {
			case s.ack <- struct{}{}:
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}

// Push delivers f to the consumer and waits until it has been received. It
// reports false when the stream ended or ctx was cancelled first.
func (s *Stream) Push(ctx context.Context, f audio.Frame) bool {
	if f.SampleRate == 0 {
		f.SampleRate, f.Channels = s.format.SampleRate, s.format.Channels
	}
	select {
	case s.in <- f:
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
	select {
	case <-s.ack:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Fail terminates the stream with err, as if the device had disappeared.
func (s *Stream) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.end()
}

func (s *Stream) end() {
	s.once.Do(func() {
		close(s.done)
		if s.release != nil {
			s.release()
		}
	})
}

// Frames implements [audio.Stream].
func (s *Stream) Frames() <-chan audio.Frame { return s.out }

// Format implements [audio.Stream].
func (s *Stream) Format() audio.Format { return s.format }

// Err implements [audio.Stream].
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements [audio.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	s.closeCalled++
	s.mu.Unlock()
	s.end()
	return nil
}

// Done is closed once the stream has ended.
func (s *Stream) Done() <-chan struct{} { return s.done }

// CloseCount returns how many times Close was called.
func (s *Stream) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalled
}

// Tone returns a mono frame of a constant-amplitude square wave whose RMS
// equals level.
func Tone(format audio.Format, level float64, d time.Duration) audio.Frame {
	n := int(math.Round(float64(format.SampleRate)*d.Seconds())) * format.Channels
	samples := make([]float32, n)
	for i := range samples {
		v := float32(level)
		if (i/format.Channels)%2 == 1 {
			v = -v
		}
		samples[i] = v
	}
	return audio.Frame{
		Data:       audio.Float32ToPCM16(samples),
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
	}
}

// ─── Player ───────────────────────────────────────────────────────────────────

// PlayCall records a single [Player.Play] invocation.
type PlayCall struct {
	Format audio.Format

	// Bytes is the total PCM received before Play returned.
	Bytes int
}

// Player is a mock implementation of [audio.Player].
type Player struct {
	mu sync.Mutex

	// PlayError is returned by Play after consuming the input.
	PlayError error

	// Gate, when non-nil, makes Play wait for a receive from it (or ctx)
	// after draining the input, simulating a device still emptying its
	// buffer.
	Gate chan struct{}

	// PlayCalls records all completed Play invocations.
	PlayCalls []PlayCall

	started chan struct{}
}

var _ audio.Player = (*Player)(nil)

// Started receives one value each time Play begins.
func (p *Player) Started() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startedChan()
}

func (p *Player) startedChan() chan struct{} {
	if p.started == nil {
		p.started = make(chan struct{}, 16)
	}
	return p.started
}

// Play implements [audio.Player].
func (p *Player) Play(ctx context.Context, pcm <-chan []byte, format audio.Format) error {
	p.mu.Lock()
	started, gate, playErr := p.startedChan(), p.Gate, p.PlayError
	p.mu.Unlock()
	select {
	case started <- struct{}{}:
	default:
	}

	call := PlayCall{Format: format}
	defer func() {
		p.mu.Lock()
		p.PlayCalls = append(p.PlayCalls, call)
		p.mu.Unlock()
	}()

	for {
		select {
		case chunk, ok := <-pcm:
			if !ok {
				if gate != nil {
					select {
					case <-gate:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
				return playErr
			}
			call.Bytes += len(chunk)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Calls returns a copy of the recorded Play invocations.
func (p *Player) Calls() []PlayCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PlayCall(nil), p.PlayCalls...)
}

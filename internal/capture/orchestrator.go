// Package capture owns the microphone. Its [Orchestrator] runs the enabled
// listening mode as a single event loop: wake-phrase gated question capture
// through a streaming recognizer, or VAD-segmented podcast recording.
//
// The orchestrator is the only component that opens the capture device.
// Switching modes tears the old session down completely before the next one
// opens, so at most one device handle exists at any time. Playback uses
// [Orchestrator.Suspend] and [Orchestrator.Resume] to release the device
// while the assistant speaks without forgetting the enabled mode.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/vaani/internal/observe"
	"github.com/MrWong99/vaani/internal/resilience"
	"github.com/MrWong99/vaani/internal/wake"
	"github.com/MrWong99/vaani/pkg/audio"
	"github.com/MrWong99/vaani/pkg/provider/stt"
	"github.com/MrWong99/vaani/pkg/provider/vad"
	"github.com/MrWong99/vaani/pkg/provider/vad/hysteresis"
)

var (
	// ErrEmptyUtterance means a question capture ended without any text. It
	// is logged and nothing is submitted.
	ErrEmptyUtterance = errors.New("capture: empty utterance")

	// ErrStopped is returned by commands issued after the loop exited.
	ErrStopped = errors.New("capture: orchestrator stopped")

	// ErrStreamEnded is reported when the device stream ends without the
	// orchestrator closing it. It wraps [audio.ErrDeviceUnavailable].
	ErrStreamEnded = fmt.Errorf("capture: capture stream ended: %w", audio.ErrDeviceUnavailable)
)

const (
	// DefaultCaptureTimeout bounds a question capture after the wake phrase.
	// It is also the shortest timeout the configuration accepts.
	DefaultCaptureTimeout = 12 * time.Second

	// MaxCaptureTimeout is the longest configurable question capture.
	MaxCaptureTimeout = 15 * time.Second

	// DefaultTickInterval is the podcast analysis rate (about 60 Hz).
	DefaultTickInterval = time.Second / 60

	// DefaultPreroll is the audio kept before a detected speech start.
	DefaultPreroll = 300 * time.Millisecond

	analysisWindow = 50 * time.Millisecond
	ringSpan       = 2 * time.Second
	keywordBoost   = 2
	eventBuffer    = 64
)

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithRecognizer sets the streaming recognizer used by the wake path.
func WithRecognizer(r stt.Recognizer) Option {
	return func(o *Orchestrator) { o.recognizer = r }
}

// WithWakeMatcher sets the wake phrase matcher.
func WithWakeMatcher(m *wake.Matcher) Option {
	return func(o *Orchestrator) { o.matcher = m }
}

// WithVAD sets the VAD engine and its configuration. Defaults to the
// hysteresis detector with [vad.DefaultConfig].
func WithVAD(engine vad.Engine, cfg vad.Config) Option {
	return func(o *Orchestrator) {
		if engine != nil {
			o.vadEngine = engine
		}
		o.vadCfg = cfg
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithTicks replaces the podcast analysis ticker. The channel is only read
// while podcast listening is active.
func WithTicks(c <-chan time.Time) Option {
	return func(o *Orchestrator) { o.ticks = c }
}

// WithTickInterval sets the podcast analysis rate.
func WithTickInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.tickInterval = d
		}
	}
}

// WithRetryPolicy sets the recognizer restart policy.
func WithRetryPolicy(p resilience.RetryPolicy) Option {
	return func(o *Orchestrator) { o.retry = p.WithDefaults() }
}

// WithCaptureTimeout sets the hard limit of a question capture.
func WithCaptureTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.captureTimeout = d
		}
	}
}

// WithPreroll sets how much audio before the speech start is kept.
func WithPreroll(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.preroll = d
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

type cmdKind int

const (
	cmdSetMode cmdKind = iota
	cmdSuspend
	cmdResume
	cmdUpdateVAD
	cmdUpdateMatcher
)

type command struct {
	kind    cmdKind
	mode    Mode
	vadCfg  vad.Config
	matcher *wake.Matcher
	reply   chan result
}

type result struct {
	ok  bool
	err error
}

// Orchestrator runs capture. All exported methods are safe for concurrent
// use; the capture state itself is only touched by the loop started with
// [Orchestrator.Start].
type Orchestrator struct {
	device         audio.Device
	recognizer     stt.Recognizer
	matcher        *wake.Matcher
	vadEngine      vad.Engine
	vadCfg         vad.Config
	now            func() time.Time
	ticks          <-chan time.Time
	tickInterval   time.Duration
	retry          resilience.RetryPolicy
	captureTimeout time.Duration
	preroll        time.Duration
	metrics        *observe.Metrics

	cmds       chan command
	events     chan Event
	quit       chan struct{}
	done       chan struct{}
	quitOnce   sync.Once
	eventsOnce sync.Once

	mu        sync.Mutex
	started   bool
	mode      Mode
	phase     Phase
	suspended bool

	// Loop-owned.
	sess *Session
	ctx  context.Context
}

// New returns an orchestrator for device. Call [Orchestrator.Start] to run
// it.
func New(device audio.Device, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		device:         device,
		vadEngine:      hysteresis.New(),
		vadCfg:         vad.DefaultConfig(),
		now:            time.Now,
		tickInterval:   DefaultTickInterval,
		retry:          resilience.RetryPolicy{}.WithDefaults(),
		captureTimeout: DefaultCaptureTimeout,
		preroll:        DefaultPreroll,
		cmds:           make(chan command),
		events:         make(chan Event, eventBuffer),
		quit:           make(chan struct{}),
		done:           make(chan struct{}),
		mode:           Off{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// Events returns the event stream. It is closed when the loop exits.
func (o *Orchestrator) Events() <-chan Event { return o.events }

// Mode returns the enabled mode. A suspended orchestrator keeps its mode.
func (o *Orchestrator) Mode() Mode {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mode
}

// Phase returns the current phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// Suspended reports whether capture is suspended for playback.
func (o *Orchestrator) Suspended() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.suspended
}

// Start runs the event loop until ctx is cancelled or Stop is called. It
// returns nil in both cases.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return errors.New("capture: already started")
	}
	o.started = true
	o.mu.Unlock()

	defer close(o.done)
	defer o.closeEvents()

	select {
	case <-o.quit:
		return nil
	default:
	}
	o.ctx = ctx
	o.run(ctx)
	return nil
}

// Stop ends the loop, releasing the device and discarding any partial
// utterance. It returns once everything is released. Calling Stop more than
// once is a no-op.
func (o *Orchestrator) Stop() {
	o.quitOnce.Do(func() { close(o.quit) })
	o.mu.Lock()
	started := o.started
	o.mu.Unlock()
	if !started {
		o.closeEvents()
		return
	}
	<-o.done
}

func (o *Orchestrator) closeEvents() {
	o.eventsOnce.Do(func() { close(o.events) })
}

// SetMode switches the listening mode. The old session is released before
// the new one opens. A failure to open the new mode is returned, reported as
// a terminal [Error] event and leaves the orchestrator Off.
func (o *Orchestrator) SetMode(ctx context.Context, m Mode) error {
	if m == nil {
		m = Off{}
	}
	_, err := o.do(ctx, command{kind: cmdSetMode, mode: m})
	return err
}

// Suspend releases the device while keeping the enabled mode. It reports
// whether capture was active and therefore needs a [Orchestrator.Resume].
func (o *Orchestrator) Suspend(ctx context.Context) (bool, error) {
	return o.do(ctx, command{kind: cmdSuspend})
}

// Resume reopens the enabled mode after Suspend. It is a no-op when capture
// is not suspended.
func (o *Orchestrator) Resume(ctx context.Context) error {
	_, err := o.do(ctx, command{kind: cmdResume})
	return err
}

// UpdateVAD replaces the VAD configuration. A running podcast session
// restarts its detector; a recording in progress is discarded.
func (o *Orchestrator) UpdateVAD(ctx context.Context, cfg vad.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	_, err := o.do(ctx, command{kind: cmdUpdateVAD, vadCfg: cfg})
	return err
}

// UpdateWakeMatcher replaces the wake phrase matcher. It applies to the next
// recognizer session.
func (o *Orchestrator) UpdateWakeMatcher(ctx context.Context, m *wake.Matcher) error {
	_, err := o.do(ctx, command{kind: cmdUpdateMatcher, matcher: m})
	return err
}

func (o *Orchestrator) do(ctx context.Context, c command) (bool, error) {
	c.reply = make(chan result, 1)
	select {
	case o.cmds <- c:
	case <-o.done:
		return false, ErrStopped
	case <-o.quit:
		return false, ErrStopped
	case <-ctx.Done():
		return false, ctx.Err()
	}
	select {
	case r := <-c.reply:
		return r.ok, r.err
	case <-o.done:
		return false, ErrStopped
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (o *Orchestrator) run(ctx context.Context) {
	defer o.teardown("stopped")

	for {
		s := o.sess
		var (
			frames   <-chan audio.Frame
			recogEvs <-chan stt.Event
			ticks    <-chan time.Time
		)
		if s != nil {
			frames, recogEvs, ticks = s.frames, s.recogEvents, s.ticks
		}

		select {
		case <-ctx.Done():
			return
		case <-o.quit:
			return
		case c := <-o.cmds:
			c.reply <- o.handle(ctx, c)
		case f, ok := <-frames:
			if !ok {
				o.streamEnded()
				continue
			}
			o.onFrame(f)
		case ev, ok := <-recogEvs:
			if !ok {
				ev = stt.Event{Type: stt.EventEnded}
			}
			o.onRecognizerEvent(ctx, ev)
		case t := <-ticks:
			o.onTick(t)
		case <-s.deadlineC():
			s.deadline = nil
			slog.Info("capture: question capture timed out", "session_id", s.ID, "timeout", o.captureTimeout)
			o.finishQuestion(ctx)
		case <-s.retryC():
			s.retry = nil
			o.restartRecognizer(ctx)
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, c command) result {
	switch c.kind {
	case cmdSetMode:
		return result{err: o.setMode(ctx, c.mode)}
	case cmdSuspend:
		return o.suspend()
	case cmdResume:
		return result{err: o.resume(ctx)}
	case cmdUpdateVAD:
		o.vadCfg = c.vadCfg
		if s := o.sess; s != nil && s.detector != nil {
			if err := o.resetDetector(s); err != nil {
				o.fail(err)
				return result{err: err}
			}
		}
		return result{}
	case cmdUpdateMatcher:
		o.matcher = c.matcher
		return result{}
	}
	return result{err: fmt.Errorf("capture: unknown command %d", c.kind)}
}

func (o *Orchestrator) setMode(ctx context.Context, m Mode) error {
	o.mu.Lock()
	current, suspended := o.mode, o.suspended
	o.mu.Unlock()

	if current == m && (o.sess != nil || suspended || m.Kind() == KindOff) {
		return nil
	}

	o.teardown("mode change")
	o.setModeValue(m)
	slog.Info("capture: mode changed", "from", current.String(), "to", m.String(), "suspended", suspended)

	if m.Kind() == KindOff || suspended {
		return nil
	}
	if err := o.open(ctx, m); err != nil {
		o.fail(err)
		return err
	}
	return nil
}

func (o *Orchestrator) suspend() result {
	o.mu.Lock()
	mode, suspended := o.mode, o.suspended
	o.mu.Unlock()
	if suspended || mode.Kind() == KindOff {
		return result{}
	}
	o.teardown("suspended")
	o.mu.Lock()
	o.suspended = true
	o.mu.Unlock()
	slog.Debug("capture: suspended", "mode", mode.String())
	return result{ok: true}
}

func (o *Orchestrator) resume(ctx context.Context) error {
	o.mu.Lock()
	mode, suspended := o.mode, o.suspended
	o.suspended = false
	o.mu.Unlock()
	if !suspended || mode.Kind() == KindOff || o.sess != nil {
		return nil
	}
	slog.Debug("capture: resuming", "mode", mode.String())
	if err := o.open(ctx, mode); err != nil {
		o.fail(err)
		return err
	}
	return nil
}

// open acquires the device and starts the consumers of mode.
func (o *Orchestrator) open(ctx context.Context, m Mode) error {
	if m.Kind() == KindWake && (o.recognizer == nil || o.matcher == nil) {
		return fmt.Errorf("capture: wake listening needs a recognizer and wake phrases: %w", stt.ErrEngineUnsupported)
	}

	stream, err := o.device.Open(ctx)
	if err != nil {
		return fmt.Errorf("capture: open device %s: %w", o.device.Name(), err)
	}
	o.metrics.ActiveCaptures.Add(ctx, 1)

	s := &Session{
		ID:        uuid.NewString(),
		Mode:      m,
		StartedAt: o.now(),
		stream:    stream,
		frames:    stream.Frames(),
		format:    stream.Format(),
	}
	o.sess = s

	switch m.Kind() {
	case KindWake:
		if err := o.startRecognizer(ctx, stt.ModeContinuous); err != nil {
			o.teardown("open failed")
			return err
		}
		o.setPhase(PhaseWakeListening)
	case KindPodcast:
		if err := o.resetDetector(s); err != nil {
			o.teardown("open failed")
			return err
		}
		mono := audio.Format{SampleRate: s.format.SampleRate, Channels: 1}
		s.ring = audio.NewSampleRing(mono.Samples(ringSpan))
		s.recorder = audio.NewRecorder(audio.CaptureFormat, o.vadCfg.MaxUtterance+o.preroll+analysisWindow)
		if o.ticks != nil {
			s.ticks = o.ticks
		} else {
			s.ticker = time.NewTicker(o.tickInterval)
			s.ticks = s.ticker.C
		}
		o.setPhase(PhasePodcastListening)
	}

	slog.Info("capture: session opened",
		"session_id", s.ID,
		"mode", m.String(),
		"device", o.device.Name(),
		"format", s.format.String(),
	)
	return nil
}

func (o *Orchestrator) resetDetector(s *Session) error {
	if s.detector != nil {
		_ = s.detector.Close()
		s.detector = nil
	}
	if s.recorder != nil && s.recorder.Discard() {
		slog.Debug("capture: partial utterance discarded", "session_id", s.ID)
	}
	det, err := o.vadEngine.NewSession(o.vadCfg)
	if err != nil {
		return fmt.Errorf("capture: vad session: %w", err)
	}
	s.detector = det
	return nil
}

// teardown releases everything the current session holds. It is safe to
// call without a session.
func (o *Orchestrator) teardown(reason string) {
	s := o.sess
	if s == nil {
		o.setPhase(PhaseIdle)
		return
	}
	o.sess = nil

	s.stopTimers()
	s.closeRecognizer()
	if s.detector != nil {
		if _, ended := s.detector.ForceEnd(o.now()); ended {
			slog.Debug("capture: utterance cut off", "session_id", s.ID, "reason", vad.ReasonManualStop)
		}
		_ = s.detector.Close()
	}
	if s.recorder != nil && s.recorder.Discard() {
		slog.Info("capture: partial utterance discarded", "session_id", s.ID, "reason", reason)
	}
	if err := s.stream.Close(); err != nil {
		slog.Warn("capture: close device stream", "session_id", s.ID, "err", err)
	}
	o.metrics.ActiveCaptures.Add(context.Background(), -1)
	o.setPhase(PhaseIdle)

	slog.Info("capture: session closed", "session_id", s.ID, "reason", reason)
}

// fail tears down the session, switches the mode off and reports a terminal
// error.
func (o *Orchestrator) fail(err error) {
	id := ""
	if o.sess != nil {
		id = o.sess.ID
	}
	o.teardown("error")
	o.setModeValue(Off{})
	o.metrics.RecordCaptureError(context.Background(), errorKind(err), true)
	slog.Error("capture: stopped after error", "session_id", id, "err", err)
	o.emit(Error{SessionID: id, Err: err, Terminal: true})
}

func (o *Orchestrator) streamEnded() {
	err := o.sess.stream.Err()
	if err == nil {
		err = ErrStreamEnded
	} else {
		err = fmt.Errorf("capture: capture stream failed: %w", err)
	}
	o.fail(err)
}

func (o *Orchestrator) onFrame(f audio.Frame) {
	s := o.sess
	switch s.Mode.Kind() {
	case KindWake:
		if s.recog == nil {
			return
		}
		if err := s.recog.SendAudio(f.Data); err != nil && !errors.Is(err, stt.ErrSessionClosed) {
			slog.Debug("capture: send audio", "session_id", s.ID, "err", err)
		}
	case KindPodcast:
		pcm := f.Data
		if f.Channels == 2 {
			pcm = audio.StereoToMono(pcm)
		}
		s.ring.Write(audio.PCM16ToFloat32(pcm))
		s.recorder.Write(f)
	}
}

func (o *Orchestrator) onTick(now time.Time) {
	s := o.sess
	if s == nil || s.detector == nil {
		return
	}
	mono := audio.Format{SampleRate: s.format.SampleRate, Channels: 1}
	window := s.ring.Recent(mono.Samples(analysisWindow))
	if len(window) == 0 {
		return
	}
	ev, ok := s.detector.Process(window, now)
	if !ok {
		return
	}

	switch ev.Type {
	case vad.EventSpeechStart:
		preroll := s.ring.Recent(mono.Samples(o.preroll + analysisWindow))
		pcm := audio.ResampleInt16(audio.Float32ToPCM16(preroll), 1, mono.SampleRate, audio.CaptureFormat.SampleRate)
		if err := s.recorder.Start(ev.At, pcm); err != nil {
			slog.Warn("capture: start recording", "session_id", s.ID, "err", err)
		}
		slog.Debug("capture: speech started", "session_id", s.ID, "level", ev.Level)

	case vad.EventSpeechEnd:
		rec, err := s.recorder.Stop(ev.At)
		if err != nil {
			slog.Warn("capture: stop recording", "session_id", s.ID, "err", err)
			return
		}
		o.metrics.UtteranceDuration.Record(context.Background(), ev.Duration().Seconds(),
			metric.WithAttributes(observe.Attr("mode", "podcast"), observe.Attr("reason", ev.Reason.String())))
		slog.Info("capture: utterance captured",
			"session_id", s.ID,
			"duration", ev.Duration(),
			"reason", ev.Reason.String(),
			"bytes", len(rec.PCM),
		)
		o.emit(UtteranceCaptured{
			SessionID: s.ID,
			WAV:       rec.WAV(),
			StartedAt: ev.SpeechStartedAt,
			Duration:  ev.Duration(),
			Reason:    ev.Reason,
			Language:  s.Mode.Lang(),
		})
	}
}

func (o *Orchestrator) startRecognizer(ctx context.Context, mode stt.Mode) error {
	s := o.sess
	cfg := stt.StreamConfig{
		SampleRate: s.format.SampleRate,
		Channels:   s.format.Channels,
		Language:   s.Mode.Lang(),
		Mode:       mode,
	}
	for _, w := range o.matcher.Words() {
		cfg.Keywords = append(cfg.Keywords, stt.KeywordBoost{Keyword: w, Boost: keywordBoost})
	}
	recog, err := o.recognizer.StartStream(ctx, cfg)
	if err != nil {
		return fmt.Errorf("capture: start recognizer: %w", err)
	}
	s.recog = recog
	s.recogEvents = recog.Events()
	s.recogMode = mode
	return nil
}

func (o *Orchestrator) onRecognizerEvent(ctx context.Context, ev stt.Event) {
	s := o.sess
	switch ev.Type {
	case stt.EventResult:
		s.attempts = 0
		s.lastErr = nil
		if s.wake != nil {
			if ev.Transcript.IsFinal {
				s.wake.appendFinal(ev.Transcript.Text)
			}
			return
		}
		o.checkWake(ctx, ev.Transcript)

	case stt.EventEnded:
		s.closeRecognizer()
		if s.wake != nil {
			o.finishQuestion(ctx)
			return
		}
		slog.Debug("capture: recognizer ended", "session_id", s.ID)
		o.scheduleRestart(nil)

	case stt.EventError:
		s.closeRecognizer()
		err := ev.Err
		if err == nil {
			err = stt.ErrTransient
		}
		if s.wake != nil {
			o.submitQuestion()
		}
		if !stt.Retryable(err) {
			o.fail(fmt.Errorf("capture: recognizer: %w", err))
			return
		}
		o.metrics.RecordCaptureError(ctx, errorKind(err), false)
		o.emit(Error{SessionID: s.ID, Err: err})
		o.scheduleRestart(err)
	}
}

func (o *Orchestrator) checkWake(ctx context.Context, t stt.Transcript) {
	s := o.sess
	d, ok := o.matcher.Detect(t.Text)
	if !ok {
		return
	}
	now := o.now()
	o.metrics.RecordWake(ctx, string(d.Strategy))
	slog.Info("capture: wake phrase detected",
		"session_id", s.ID,
		"phrase", d.Phrase,
		"strategy", string(d.Strategy),
		"final", t.IsFinal,
	)

	s.closeRecognizer()
	o.emit(WakeDetected{SessionID: s.ID, Phrase: d.Phrase, Strategy: d.Strategy, Transcript: t.Text, At: now})

	if err := o.startRecognizer(ctx, stt.ModeSingleUtterance); err != nil {
		if stt.Retryable(err) {
			o.metrics.RecordCaptureError(ctx, errorKind(err), false)
			o.emit(Error{SessionID: s.ID, Err: err})
			o.scheduleRestart(err)
			return
		}
		o.fail(err)
		return
	}
	s.wake = &WakeSession{DetectedAt: now, Phrase: d.Phrase}
	s.deadline = time.NewTimer(o.captureTimeout)
	o.setPhase(PhaseCapturing)
}

// finishQuestion submits the captured question and goes back to background
// listening.
func (o *Orchestrator) finishQuestion(ctx context.Context) {
	s := o.sess
	s.closeRecognizer()
	o.submitQuestion()
	if err := o.startRecognizer(ctx, stt.ModeContinuous); err != nil {
		if stt.Retryable(err) {
			o.scheduleRestart(err)
			return
		}
		o.fail(err)
		return
	}
	o.setPhase(PhaseWakeListening)
}

// submitQuestion emits the accumulated question, if any, and clears the
// wake session.
func (o *Orchestrator) submitQuestion() {
	s := o.sess
	w := s.wake
	if w == nil {
		return
	}
	s.wake = nil
	if s.deadline != nil {
		s.deadline.Stop()
		s.deadline = nil
	}
	elapsed := o.now().Sub(w.DetectedAt)
	if w.Transcript == "" {
		slog.Info("capture: nothing captured after wake phrase", "session_id", s.ID, "err", ErrEmptyUtterance)
		return
	}
	o.metrics.UtteranceDuration.Record(context.Background(), elapsed.Seconds(),
		metric.WithAttributes(observe.Attr("mode", "wake")))
	slog.Info("capture: question captured", "session_id", s.ID, "chars", len(w.Transcript), "elapsed", elapsed)
	o.emit(QuestionCaptured{SessionID: s.ID, Text: w.Transcript, Language: s.Mode.Lang()})
}

// scheduleRestart arms the retry timer for the background recognizer, or
// gives up once the retry policy is exhausted.
func (o *Orchestrator) scheduleRestart(cause error) {
	s := o.sess
	o.setPhase(PhaseWakeListening)
	if cause != nil {
		s.lastErr = cause
	}
	s.attempts++
	delay, ok := o.retry.Backoff(s.attempts)
	if !ok {
		err := fmt.Errorf("%w: recognizer after %d restarts", resilience.ErrRetriesExhausted, s.attempts-1)
		if s.lastErr != nil {
			err = fmt.Errorf("%w: %w", err, s.lastErr)
		}
		o.fail(err)
		return
	}
	slog.Info("capture: restarting recognizer", "session_id", s.ID, "attempt", s.attempts, "backoff", delay)
	s.retry = time.NewTimer(delay)
}

func (o *Orchestrator) restartRecognizer(ctx context.Context) {
	o.metrics.RecognizerRestarts.Add(ctx, 1)
	if err := o.startRecognizer(ctx, stt.ModeContinuous); err != nil {
		if stt.Retryable(err) {
			o.scheduleRestart(err)
			return
		}
		o.fail(err)
		return
	}
	o.setPhase(PhaseWakeListening)
}

func (o *Orchestrator) setModeValue(m Mode) {
	o.mu.Lock()
	o.mode = m
	o.mu.Unlock()
}

func (o *Orchestrator) setPhase(p Phase) {
	o.mu.Lock()
	from := o.phase
	o.phase = p
	o.mu.Unlock()
	if from == p {
		return
	}
	id := ""
	if o.sess != nil {
		id = o.sess.ID
	}
	o.emit(PhaseChanged{SessionID: id, From: from, To: p})
}

func (o *Orchestrator) emit(ev Event) {
	select {
	case o.events <- ev:
	case <-o.quit:
	case <-o.ctx.Done():
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return "device_unavailable"
	case errors.Is(err, stt.ErrEngineUnsupported):
		return "engine_unsupported"
	case errors.Is(err, resilience.ErrRetriesExhausted):
		return "retries_exhausted"
	case errors.Is(err, stt.ErrNetwork):
		return "network"
	case errors.Is(err, stt.ErrTransient):
		return "transient"
	default:
		return "other"
	}
}

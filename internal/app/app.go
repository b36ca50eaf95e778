// Package app wires all vaani subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the capture loop, the assistant and the HTTP
// control plane, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithAsker,
// WithCaptureOptions). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vaani/internal/anchor"
	"github.com/MrWong99/vaani/internal/api"
	"github.com/MrWong99/vaani/internal/assistant"
	"github.com/MrWong99/vaani/internal/capture"
	"github.com/MrWong99/vaani/internal/config"
	"github.com/MrWong99/vaani/internal/health"
	"github.com/MrWong99/vaani/internal/observe"
	"github.com/MrWong99/vaani/internal/playback"
	"github.com/MrWong99/vaani/internal/qa"
	"github.com/MrWong99/vaani/internal/resilience"
	"github.com/MrWong99/vaani/internal/wake"
	"github.com/MrWong99/vaani/pkg/provider/stt"
	"github.com/MrWong99/vaani/pkg/provider/tts"
	"github.com/MrWong99/vaani/pkg/provider/vad"
)

// serverShutdownTimeout bounds the graceful HTTP shutdown inside Run.
const serverShutdownTimeout = 5 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	Recognizer  stt.Recognizer
	Transcriber stt.Transcriber
	TTS         tts.Provider
	VAD         vad.Engine
	Audio       config.AudioBackend
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	logLevel  *slog.LevelVar

	asker       qa.Asker
	captureOpts []capture.Option
	listener    net.Listener

	capture     *capture.Orchestrator
	playback    *playback.Coordinator
	pages       *anchor.Store
	matcher     *anchor.Matcher
	highlighter *anchor.Highlighter
	notices     *assistant.Broadcaster
	assistant   *assistant.Assistant
	handler     http.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithAsker injects a question-answering backend instead of creating an
// HTTP client from config.
func WithAsker(q qa.Asker) Option {
	return func(a *App) { a.asker = q }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel hands the app the level variable behind the process logger so
// that a config reload can change verbosity.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithCaptureOptions appends options to the capture orchestrator, after the
// ones derived from config.
func WithCaptureOptions(opts ...capture.Option) Option {
	return func(a *App) { a.captureOpts = append(a.captureOpts, opts...) }
}

// WithListener serves the control plane on l instead of listening on
// cfg.Server.ListenAddr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). A capture device is
// required; every other provider is optional and its feature is disabled
// when absent.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Audio.Device == nil {
		return nil, errors.New("app: no capture device configured")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// 1. Capture
	if err := a.initCapture(); err != nil {
		return nil, fmt.Errorf("app: init capture: %w", err)
	}

	// 2. Playback
	a.initPlayback()

	// 3. Page text and highlights
	a.initAnchors()

	// 4. Question answering
	if err := a.initQA(); err != nil {
		return nil, fmt.Errorf("app: init qa: %w", err)
	}

	// 5. Assistant
	a.initAssistant()

	// 6. HTTP control plane
	a.initHTTP(ctx)

	if providers.Audio.Close != nil {
		closeAudio := providers.Audio.Close
		a.closers = append(a.closers, func() error {
			closeAudio()
			return nil
		})
	}

	slog.Info("app initialised",
		"recognizer", providers.Recognizer != nil,
		"transcriber", providers.Transcriber != nil,
		"speaker", a.playback != nil,
		"mode", cfg.Capture.Mode,
	)
	return a, nil
}

func (a *App) initCapture() error {
	cfg := a.cfg
	matcher, err := newWakeMatcher(cfg.Wake)
	if err != nil {
		return err
	}

	opts := []capture.Option{
		capture.WithRetryPolicy(cfg.Retry.Policy()),
		capture.WithMetrics(a.metrics),
	}
	if matcher != nil {
		opts = append(opts, capture.WithWakeMatcher(matcher))
	}
	if a.providers.Recognizer != nil {
		opts = append(opts, capture.WithRecognizer(a.providers.Recognizer))
	}
	if a.providers.VAD != nil {
		opts = append(opts, capture.WithVAD(a.providers.VAD, cfg.VAD.Engine()))
	}
	if cfg.Capture.TickInterval > 0 {
		opts = append(opts, capture.WithTickInterval(cfg.Capture.TickInterval))
	}
	if cfg.Capture.Preroll > 0 {
		opts = append(opts, capture.WithPreroll(cfg.Capture.Preroll))
	}
	if cfg.Wake.CaptureTimeout > 0 {
		opts = append(opts, capture.WithCaptureTimeout(cfg.Wake.CaptureTimeout))
	}
	opts = append(opts, a.captureOpts...)

	a.capture = capture.New(a.providers.Audio.Device, opts...)
	a.closers = append(a.closers, func() error {
		a.capture.Stop()
		return nil
	})
	return nil
}

func (a *App) initPlayback() {
	if a.providers.TTS == nil || a.providers.Audio.Player == nil {
		return
	}
	opts := []playback.Option{
		playback.WithVoice(a.cfg.Playback.Voice.Profile(a.cfg.Providers.TTS.Name)),
		playback.WithMetrics(a.metrics),
	}
	if a.cfg.Playback.ResumeTimeout > 0 {
		opts = append(opts, playback.WithResumeTimeout(a.cfg.Playback.ResumeTimeout))
	}
	a.playback = playback.New(a.capture, a.providers.TTS, a.providers.Audio.Player, opts...)
}

func (a *App) initAnchors() {
	cfg := a.cfg.Anchor
	a.pages = anchor.NewStore()
	a.matcher = anchor.NewMatcher(a.pages,
		anchor.WithSnippetLimit(cfg.SnippetLimit),
		anchor.WithMaxTokenHits(cfg.MaxTokenHits),
		anchor.WithMatcherMetrics(a.metrics),
	)
	a.notices = assistant.NewBroadcaster()
	hopts := []anchor.HighlightOption{anchor.WithOnChange(a.notices.HighlightChanged)}
	if cfg.HighlightTTL > 0 && cfg.OverlayTTL > 0 {
		hopts = append(hopts, anchor.WithTTL(cfg.HighlightTTL, cfg.OverlayTTL))
	}
	a.highlighter = anchor.NewHighlighter(hopts...)
	a.closers = append(a.closers, func() error {
		a.highlighter.Close()
		return nil
	})
}

func (a *App) initQA() error {
	if a.asker != nil {
		return nil
	}
	cfg := a.cfg.QA
	opts := []qa.Option{
		qa.WithRateLimit(cfg.RatePerMinute, cfg.Burst),
		qa.WithCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "qa",
			MaxFailures:  cfg.BreakerFailures,
			ResetTimeout: cfg.BreakerReset,
		}),
		qa.WithMetrics(a.metrics),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, qa.WithTimeout(cfg.Timeout))
	}
	client, err := qa.New(cfg.BaseURL, opts...)
	if err != nil {
		return err
	}
	a.asker = client
	return nil
}

func (a *App) initAssistant() {
	opts := []assistant.Option{
		assistant.WithLocator(a.matcher, a.highlighter),
		assistant.WithBroadcaster(a.notices),
		assistant.WithMetrics(a.metrics),
		assistant.WithRetryPolicy(a.cfg.Retry.Policy()),
	}
	if a.providers.Transcriber != nil {
		opts = append(opts, assistant.WithTranscriber(a.providers.Transcriber))
	}
	if a.playback != nil {
		opts = append(opts, assistant.WithSpeaker(a.playback))
	}
	a.assistant = assistant.New(a.asker, opts...)
	a.closers = append(a.closers, func() error {
		a.assistant.Wait()
		a.notices.Close()
		return nil
	})
}

func (a *App) initHTTP(ctx context.Context) {
	checkers := []health.Checker{}
	if p, ok := a.asker.(interface{ Ping(context.Context) error }); ok {
		checkers = append(checkers, health.Checker{Name: "qa_backend", Check: p.Ping})
	}
	if probe := a.providers.Audio.Probe; probe != nil {
		checkers = append(checkers, health.Checker{Name: "capture_device", Check: probe, Optional: true})
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler())

	deps := api.Deps{
		Capture:   a.capture,
		Assistant: a.assistant,
		Pages:     a.pages,
		Locator:   a.matcher,
		Notices:   a.notices,
		Metrics:   a.metrics,
	}
	if a.providers.TTS != nil {
		deps.Voices = a.providers.TTS
	}
	api.New(deps).Register(mux)
	a.handler = mux

	observe.Logger(ctx).Debug("http routes registered", "checks", len(checkers))
}

// Handler returns the HTTP control plane: the /v1 API, health probes and
// /metrics.
func (a *App) Handler() http.Handler { return a.handler }

// Capture returns the capture orchestrator.
func (a *App) Capture() *capture.Orchestrator { return a.capture }

// Assistant returns the assistant.
func (a *App) Assistant() *assistant.Assistant { return a.assistant }

// Run starts the capture loop, the assistant and the HTTP server, applies
// the configured start mode and blocks until ctx is cancelled or a
// subsystem fails. Cancellation is not reported as an error.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.capture.Start(gctx) })
	g.Go(func() error { return a.assistant.Run(gctx, a.capture.Events()) })
	g.Go(func() error { return a.serve(gctx) })
	g.Go(func() error {
		a.applyStartMode(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.capture.Stop()
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (a *App) applyStartMode(ctx context.Context) {
	mode, err := capture.ParseMode(a.cfg.Capture.Mode, a.cfg.Capture.Language)
	if err != nil {
		slog.Warn("invalid start mode", "mode", a.cfg.Capture.Mode, "err", err)
		return
	}
	if mode.Kind() == capture.KindOff {
		return
	}
	if err := a.capture.SetMode(ctx, mode); err != nil && ctx.Err() == nil {
		// A missing device is reported to listeners and can be retried via
		// the API; it does not stop the server.
		slog.Warn("start mode not applied", "mode", mode.String(), "err", err)
	}
}

func (a *App) serve(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		if a.cfg.Server.ListenAddr == "" {
			<-ctx.Done()
			return nil
		}
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen: %w", err)
		}
	}

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", ln.Addr().String())
		if tls := a.cfg.Server.TLS; tls != nil {
			errc <- srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
			return
		}
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	case <-ctx.Done():
	}

	// Websocket subscribers hold connections open; closing the broadcaster
	// lets them finish before the deadline.
	a.notices.Close()
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serverShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		slog.Warn("http shutdown error", "err", err)
		_ = srv.Close()
	}
	<-errc
	return nil
}

// Reload applies a changed configuration. Detector settings, wake phrases,
// the voice and the log level take effect immediately; other changes are
// logged as requiring a restart. It is the onChange callback for
// [config.Watcher].
func (a *App) Reload(ctx context.Context, next *config.Config, diff config.ConfigDiff) {
	if diff.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(diff.NewLogLevel.Slog())
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.VADChanged {
		if err := a.capture.UpdateVAD(ctx, next.VAD.Engine()); err != nil {
			slog.Warn("vad update rejected", "err", err)
		}
	}
	if diff.WakeChanged {
		m, err := newWakeMatcher(next.Wake)
		if err == nil && m != nil {
			err = a.capture.UpdateWakeMatcher(ctx, m)
		}
		if err != nil {
			slog.Warn("wake phrase update rejected", "err", err)
		}
	}
	if diff.VoiceChanged && a.playback != nil {
		a.playback.SetVoice(next.Playback.Voice.Profile(next.Providers.TTS.Name))
	}
	if len(diff.RestartRequired) > 0 {
		slog.Warn("config changes take effect after restart", "sections", diff.RestartRequired)
	}
}

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// newWakeMatcher returns nil without error when no phrases are configured,
// which leaves wake listening unavailable.
func newWakeMatcher(cfg config.WakeConfig) (*wake.Matcher, error) {
	if len(cfg.Phrases) == 0 {
		return nil, nil
	}
	var opts []wake.Option
	if cfg.PhoneticThreshold > 0 {
		opts = append(opts, wake.WithPhonetic(cfg.PhoneticThreshold))
	}
	return wake.New(cfg.Phrases, opts...)
}

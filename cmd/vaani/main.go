// Command vaani is the voice server for the document reader: it listens for
// spoken questions, answers them from the reader's QA backend, speaks the
// answer and highlights the cited passage.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/MrWong99/vaani/internal/app"
	"github.com/MrWong99/vaani/internal/config"
	"github.com/MrWong99/vaani/internal/observe"
	"github.com/MrWong99/vaani/internal/resilience"
	"github.com/MrWong99/vaani/pkg/audio"
	"github.com/MrWong99/vaani/pkg/audio/malgo"
	audiomock "github.com/MrWong99/vaani/pkg/audio/mock"
	"github.com/MrWong99/vaani/pkg/provider/stt"
	"github.com/MrWong99/vaani/pkg/provider/stt/deepgram"
	sttmock "github.com/MrWong99/vaani/pkg/provider/stt/mock"
	oaistt "github.com/MrWong99/vaani/pkg/provider/stt/openai"
	"github.com/MrWong99/vaani/pkg/provider/stt/whisper"
	"github.com/MrWong99/vaani/pkg/provider/tts"
	"github.com/MrWong99/vaani/pkg/provider/tts/coqui"
	"github.com/MrWong99/vaani/pkg/provider/tts/elevenlabs"
	ttsmock "github.com/MrWong99/vaani/pkg/provider/tts/mock"
	oaitts "github.com/MrWong99/vaani/pkg/provider/tts/openai"
	"github.com/MrWong99/vaani/pkg/provider/vad"
	"github.com/MrWong99/vaani/pkg/provider/vad/hysteresis"
	vadmock "github.com/MrWong99/vaani/pkg/provider/vad/mock"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload detector, wake phrase, voice and log level changes from the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "vaani: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "vaani: %v\n", err)
		}
		return 1
	}

	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.Slog())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("vaani starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithLogLevel(&level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		if providers.Audio.Close != nil {
			providers.Audio.Close()
		}
		return 1
	}

	if *watch {
		w, err := config.NewWatcher(*configPath, func(_, next *config.Config, diff config.ConfigDiff) {
			rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			application.Reload(rctx, next, diff)
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	exit := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		exit = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		exit = 1
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	if exit == 0 {
		slog.Info("goodbye")
	}
	return exit
}

// builtinProviders lists the implementations that ship with vaani. Used for
// startup logging.
var builtinProviders = map[string][]string{
	"stt":         {"deepgram", "mock"},
	"transcriber": {"whisper", "openai", "mock"},
	"tts":         {"coqui", "elevenlabs", "openai", "mock"},
	"vad":         {"hysteresis", "mock"},
	"audio":       {"malgo", "mock"},
}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterRecognizer("deepgram", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.Option("language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if v := entry.Option("endpointing_ms"); v != "" {
			ms, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("deepgram: endpointing_ms: %w", err)
			}
			opts = append(opts, deepgram.WithEndpointing(ms))
		}
		return deepgram.New(entry.APIKey, opts...)
	})
	reg.RegisterRecognizer("mock", func(config.ProviderEntry) (stt.Recognizer, error) {
		return sttmock.NewRecognizer(), nil
	})

	reg.RegisterTranscriber("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.Option("language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})
	reg.RegisterTranscriber("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})
	reg.RegisterTranscriber("mock", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		return &sttmock.Transcriber{Text: entry.Option("text")}, nil
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := entry.Option("language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := entry.Option("api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if v := entry.Option("sample_rate"); v != "" {
			rate, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("coqui: sample_rate: %w", err)
			}
			opts = append(opts, coqui.WithOutputSampleRate(rate))
		}
		return coqui.New(entry.BaseURL, opts...)
	})
	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if v := entry.Option("sample_rate"); v != "" {
			rate, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("elevenlabs: sample_rate: %w", err)
			}
			opts = append(opts, elevenlabs.WithSampleRate(rate))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})
	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oaitts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		return oaitts.New(entry.APIKey, entry.Model, opts...)
	})
	reg.RegisterTTS("mock", func(config.ProviderEntry) (tts.Provider, error) {
		return &ttsmock.Provider{}, nil
	})

	reg.RegisterVAD("hysteresis", func(config.ProviderEntry) (vad.Engine, error) {
		return hysteresis.New(), nil
	})
	reg.RegisterVAD("mock", func(config.ProviderEntry) (vad.Engine, error) {
		return &vadmock.Engine{}, nil
	})

	reg.RegisterAudio("malgo", func(_ config.ProviderEntry, format audio.Format) (config.AudioBackend, error) {
		mctx, err := malgo.NewContext()
		if err != nil {
			return config.AudioBackend{}, err
		}
		return config.AudioBackend{
			Device: malgo.NewDevice(mctx, format),
			Player: malgo.NewPlayer(mctx),
			Probe: func(context.Context) error {
				names, err := mctx.CaptureDevices()
				if err != nil {
					return err
				}
				if len(names) == 0 {
					return audio.ErrDeviceUnavailable
				}
				return nil
			},
			Close: mctx.Close,
		}, nil
	})
	reg.RegisterAudio("mock", func(_ config.ProviderEntry, format audio.Format) (config.AudioBackend, error) {
		return config.AudioBackend{
			Device: &audiomock.Device{FormatResult: format},
			Player: &audiomock.Player{},
		}, nil
	})

	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry.
// Fallback entries are wrapped around their primary with per-entry circuit
// breakers.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	pc := cfg.Providers

	rec, err := create(reg.CreateRecognizer, "stt", pc.STT)
	if err != nil {
		return nil, err
	}
	if rec != nil && len(pc.STTFallbacks) > 0 {
		fb := resilience.NewRecognizerFallback(rec, pc.STT.Name, resilience.FallbackConfig{})
		for _, e := range pc.STTFallbacks {
			r, err := create(reg.CreateRecognizer, "stt", e)
			if err != nil {
				return nil, err
			}
			if r != nil {
				fb.AddFallback(e.Name, r)
			}
		}
		rec = fb
	}
	ps.Recognizer = rec

	tr, err := create(reg.CreateTranscriber, "transcriber", pc.Transcriber)
	if err != nil {
		return nil, err
	}
	if tr != nil && len(pc.TranscriberFallbacks) > 0 {
		fb := resilience.NewTranscriberFallback(tr, pc.Transcriber.Name, resilience.FallbackConfig{})
		for _, e := range pc.TranscriberFallbacks {
			t, err := create(reg.CreateTranscriber, "transcriber", e)
			if err != nil {
				return nil, err
			}
			if t != nil {
				fb.AddFallback(e.Name, t)
			}
		}
		tr = fb
	}
	ps.Transcriber = tr

	synth, err := create(reg.CreateTTS, "tts", pc.TTS)
	if err != nil {
		return nil, err
	}
	if synth != nil && len(pc.TTSFallbacks) > 0 {
		fb := resilience.NewTTSFallback(synth, pc.TTS.Name, resilience.FallbackConfig{})
		for _, e := range pc.TTSFallbacks {
			p, err := create(reg.CreateTTS, "tts", e)
			if err != nil {
				return nil, err
			}
			if p != nil {
				fb.AddFallback(e.Name, p)
			}
		}
		synth = fb
	}
	ps.TTS = synth

	if ps.VAD, err = create(reg.CreateVAD, "vad", pc.VAD); err != nil {
		return nil, err
	}

	format := audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels}
	createAudio := func(e config.ProviderEntry) (config.AudioBackend, error) { return reg.CreateAudio(e, format) }
	if ps.Audio, err = create(createAudio, "audio", pc.Audio); err != nil {
		return nil, err
	}
	return ps, nil
}

// create instantiates entry with fn. An empty or unregistered name yields
// the zero value and no error, so the feature it backs is disabled.
func create[T any](fn func(config.ProviderEntry) (T, error), kind string, entry config.ProviderEntry) (T, error) {
	var zero T
	if entry.Name == "" {
		return zero, nil
	}
	p, err := fn(entry)
	switch {
	case errors.Is(err, config.ErrProviderNotRegistered):
		slog.Warn("provider not available, skipping", "kind", kind, "name", entry.Name)
		return zero, nil
	case err != nil:
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name)
	return p, nil
}

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          vaani: startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("Transcriber", cfg.Providers.Transcriber.Name, cfg.Providers.Transcriber.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("VAD", cfg.Providers.VAD.Name, "")
	printProvider("Audio", cfg.Providers.Audio.Name, "")
	fmt.Printf("║  Start mode      : %-19s ║\n", cfg.Capture.Mode)
	fmt.Printf("║  Wake phrases    : %-19d ║\n", len(cfg.Wake.Phrases))
	printValue("QA backend", cfg.QA.BaseURL)
	if cfg.Server.ListenAddr != "" {
		printValue("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printValue(kind, value)
}

func printValue(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

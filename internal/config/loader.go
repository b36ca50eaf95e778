package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/vaani/internal/capture"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":         {"deepgram", "mock"},
	"transcriber": {"whisper", "openai", "mock"},
	"tts":         {"coqui", "elevenlabs", "openai", "mock"},
	"vad":         {"hysteresis", "mock"},
	"audio":       {"malgo", "mock"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected. An empty document yields
// the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		add("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel)
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		add("server.tls requires both cert_file and key_file")
	}

	if cfg.Audio.SampleRate < 0 || (cfg.Audio.SampleRate > 0 && cfg.Audio.SampleRate < 8000) {
		add("audio.sample_rate %d is out of range; at least 8000", cfg.Audio.SampleRate)
	}
	if cfg.Audio.Channels < 0 || cfg.Audio.Channels > 2 {
		add("audio.channels %d is invalid; valid values: 1, 2", cfg.Audio.Channels)
	}

	if _, err := capture.ParseMode(cfg.Capture.Mode, cfg.Capture.Language); err != nil {
		add("capture.mode %q is invalid; valid values: off, wake, podcast", cfg.Capture.Mode)
	}
	if cfg.Capture.Preroll < 0 {
		add("capture.preroll must not be negative")
	}

	if err := cfg.VAD.Engine().Validate(); err != nil {
		add("vad: %w", err)
	}

	if cfg.Wake.PhoneticThreshold < 0 || cfg.Wake.PhoneticThreshold > 1 {
		add("wake.phonetic_threshold %.2f is out of range [0, 1]", cfg.Wake.PhoneticThreshold)
	}
	if d := cfg.Wake.CaptureTimeout; d != 0 && (d < capture.DefaultCaptureTimeout || d > capture.MaxCaptureTimeout) {
		add("wake.capture_timeout %s is out of range [%s, %s]", d, capture.DefaultCaptureTimeout, capture.MaxCaptureTimeout)
	}
	blank := slices.IndexFunc(cfg.Wake.Phrases, func(p string) bool { return strings.TrimSpace(p) == "" })
	if blank >= 0 {
		add("wake.phrases[%d] is empty", blank)
	}

	if cfg.Retry.MaxAttempts < 0 {
		add("retry.max_attempts must not be negative")
	}
	if cfg.Retry.MaxBackoff > 0 && cfg.Retry.InitialBackoff > cfg.Retry.MaxBackoff {
		add("retry.initial_backoff %s exceeds retry.max_backoff %s", cfg.Retry.InitialBackoff, cfg.Retry.MaxBackoff)
	}

	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("transcriber", cfg.Providers.Transcriber.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("audio", cfg.Providers.Audio.Name)

	fallbacks := []struct {
		kind, key string
		primary   ProviderEntry
		entries   []ProviderEntry
	}{
		{"stt", "stt", cfg.Providers.STT, cfg.Providers.STTFallbacks},
		{"transcriber", "transcriber", cfg.Providers.Transcriber, cfg.Providers.TranscriberFallbacks},
		{"tts", "tts", cfg.Providers.TTS, cfg.Providers.TTSFallbacks},
	}
	for _, fb := range fallbacks {
		for i, e := range fb.entries {
			if e.Name == "" {
				add("providers.%s_fallbacks[%d].name is required", fb.key, i)
			}
			validateProviderName(fb.kind, e.Name)
		}
		if len(fb.entries) > 0 && fb.primary.Name == "" {
			add("providers.%s_fallbacks requires providers.%s", fb.key, fb.key)
		}
	}
	switch cfg.Capture.Mode {
	case "wake":
		if cfg.Providers.STT.Name == "" {
			add("capture.mode wake requires providers.stt")
		}
	case "podcast":
		if cfg.Providers.Transcriber.Name == "" {
			add("capture.mode podcast requires providers.transcriber")
		}
	}
	if cfg.Providers.STT.Name == "" && cfg.Providers.Transcriber.Name == "" {
		slog.Warn("no recognizer or transcriber configured; only typed questions will work")
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("providers.tts is not configured; answers will not be spoken")
	}

	if s := cfg.Playback.Voice.SpeedFactor; s != 0 && (s < 0.25 || s > 4) {
		add("playback.voice.speed_factor %.2f is out of range [0.25, 4.0]", s)
	}

	if u, err := url.Parse(cfg.QA.BaseURL); cfg.QA.BaseURL != "" && (err != nil || u.Scheme == "" || u.Host == "") {
		add("qa.base_url %q is not an absolute URL", cfg.QA.BaseURL)
	}
	if cfg.QA.RatePerMinute < 0 {
		add("qa.rate_per_minute must not be negative")
	}

	if cfg.Anchor.HighlightTTL > 0 && cfg.Anchor.OverlayTTL > 0 && cfg.Anchor.OverlayTTL < cfg.Anchor.HighlightTTL {
		add("anchor.overlay_ttl %s must not be shorter than anchor.highlight_ttl %s", cfg.Anchor.OverlayTTL, cfg.Anchor.HighlightTTL)
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

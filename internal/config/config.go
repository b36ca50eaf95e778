// Package config provides the configuration schema, loader, hot-reload
// watcher and provider registry for the vaani voice server.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/vaani/internal/resilience"
	"github.com/MrWong99/vaani/pkg/provider/tts"
	"github.com/MrWong99/vaani/pkg/provider/vad"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l to a [slog.Level]. Unknown levels map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Capture   CaptureConfig   `yaml:"capture"`
	VAD       VADConfig       `yaml:"vad"`
	Wake      WakeConfig      `yaml:"wake"`
	Retry     RetryConfig     `yaml:"retry"`
	Providers ProvidersConfig `yaml:"providers"`
	Playback  PlaybackConfig  `yaml:"playback"`
	QA        QAConfig        `yaml:"qa"`
	Anchor    AnchorConfig    `yaml:"anchor"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the control plane (e.g., "127.0.0.1:8765").
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AudioConfig describes the capture format requested from the device.
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
}

// CaptureConfig controls the capture orchestrator.
type CaptureConfig struct {
	// Mode is the listening mode entered at startup: off, wake or podcast.
	Mode string `yaml:"mode"`

	// Language is the BCP-47 tag used for recognition and transcription.
	Language string `yaml:"language"`

	// Preroll is how much audio before the detected speech start is kept
	// with each podcast utterance.
	Preroll time.Duration `yaml:"preroll"`

	// TickInterval is the podcast level-polling period.
	TickInterval time.Duration `yaml:"tick_interval"`
}

// VADConfig tunes the podcast voice activity detector. Zero values keep
// the engine defaults.
type VADConfig struct {
	StartThreshold float64       `yaml:"start_threshold"`
	StopThreshold  float64       `yaml:"stop_threshold"`
	MinSpeech      time.Duration `yaml:"min_speech"`
	Silence        time.Duration `yaml:"silence"`
	Grace          time.Duration `yaml:"grace"`
	Cooldown       time.Duration `yaml:"cooldown"`
	MaxUtterance   time.Duration `yaml:"max_utterance"`
	Smoothing      float64       `yaml:"smoothing"`
}

// Engine returns the detector configuration: [vad.DefaultConfig] with the
// non-zero fields of c applied.
func (c VADConfig) Engine() vad.Config {
	out := vad.DefaultConfig()
	setIf(&out.StartThreshold, c.StartThreshold)
	setIf(&out.StopThreshold, c.StopThreshold)
	setIf(&out.MinSpeech, c.MinSpeech)
	setIf(&out.Silence, c.Silence)
	setIf(&out.Grace, c.Grace)
	setIf(&out.Cooldown, c.Cooldown)
	setIf(&out.MaxUtterance, c.MaxUtterance)
	setIf(&out.Smoothing, c.Smoothing)
	return out
}

func setIf[T comparable](dst *T, v T) {
	var zero T
	if v != zero {
		*dst = v
	}
}

// WakeConfig configures wake-phrase detection.
type WakeConfig struct {
	Phrases []string `yaml:"phrases"`

	// PhoneticThreshold enables phonetic matching when in (0, 1].
	PhoneticThreshold float64 `yaml:"phonetic_threshold"`

	// CaptureTimeout bounds question capture after the wake phrase.
	CaptureTimeout time.Duration `yaml:"capture_timeout"`
}

// RetryConfig bounds recognizer restarts.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// Policy converts c into a retry policy.
func (c RetryConfig) Policy() resilience.RetryPolicy {
	return resilience.RetryPolicy{
		MaxAttempts:    c.MaxAttempts,
		InitialBackoff: c.InitialBackoff,
		MaxBackoff:     c.MaxBackoff,
	}.WithDefaults()
}

// ProvidersConfig selects the implementation of each pipeline stage by a
// name registered in the [Registry].
type ProvidersConfig struct {
	// STT is the streaming recognizer used in wake mode.
	STT          ProviderEntry   `yaml:"stt"`
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`

	// Transcriber turns podcast utterances into text. Fallbacks are tried
	// in order when it fails.
	Transcriber          ProviderEntry   `yaml:"transcriber"`
	TranscriberFallbacks []ProviderEntry `yaml:"transcriber_fallbacks"`

	TTS          ProviderEntry   `yaml:"tts"`
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`

	VAD   ProviderEntry `yaml:"vad"`
	Audio ProviderEntry `yaml:"audio"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation (e.g., "deepgram", "whisper").
	Name string `yaml:"name"`

	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// Option returns the string form of a provider option, or "".
func (e ProviderEntry) Option(key string) string {
	v, ok := e.Options[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// PlaybackConfig configures spoken answers.
type PlaybackConfig struct {
	Voice VoiceConfig `yaml:"voice"`

	// ResumeTimeout bounds re-opening capture after playback.
	ResumeTimeout time.Duration `yaml:"resume_timeout"`
}

// VoiceConfig selects the TTS voice.
type VoiceConfig struct {
	VoiceID string `yaml:"voice_id"`

	// SpeedFactor adjusts speaking rate in [0.25, 4.0]. 0 means default.
	SpeedFactor float64 `yaml:"speed_factor"`
}

// Profile converts v into a voice profile for provider.
func (v VoiceConfig) Profile(provider string) tts.VoiceProfile {
	return tts.VoiceProfile{ID: v.VoiceID, Provider: provider, SpeedFactor: v.SpeedFactor}
}

// QAConfig points at the question-answering backend.
type QAConfig struct {
	BaseURL       string        `yaml:"base_url"`
	Timeout       time.Duration `yaml:"timeout"`
	RatePerMinute int           `yaml:"rate_per_minute"`
	Burst         int           `yaml:"burst"`

	// BreakerFailures consecutive network failures open the circuit for
	// BreakerReset.
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerReset    time.Duration `yaml:"breaker_reset"`
}

// AnchorConfig tunes citation lookup and highlighting.
type AnchorConfig struct {
	SnippetLimit int           `yaml:"snippet_limit"`
	MaxTokenHits int           `yaml:"max_token_hits"`
	HighlightTTL time.Duration `yaml:"highlight_ttl"`
	OverlayTTL   time.Duration `yaml:"overlay_ttl"`
}

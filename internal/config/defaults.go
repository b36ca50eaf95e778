package config

import (
	"time"

	"github.com/MrWong99/vaani/internal/anchor"
	"github.com/MrWong99/vaani/internal/capture"
	"github.com/MrWong99/vaani/pkg/audio"
)

// Defaults used by [ApplyDefaults].
const (
	DefaultListenAddr     = "127.0.0.1:8765"
	DefaultLanguage       = "en-US"
	DefaultQABaseURL      = "http://127.0.0.1:5000"
	DefaultQATimeout      = 60 * time.Second
	DefaultRatePerMinute  = 30
	DefaultResumeTimeout  = 5 * time.Second
	DefaultBreakerReset   = 30 * time.Second
	DefaultBreakerFailure = 5
)

// DefaultWakePhrases are used when wake.phrases is empty.
var DefaultWakePhrases = []string{"hey vaani", "ok vaani"}

// ApplyDefaults fills unset fields of cfg in place.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, DefaultListenAddr)
	setDefault(&cfg.Server.LogLevel, LogInfo)

	setDefault(&cfg.Audio.SampleRate, audio.CaptureFormat.SampleRate)
	setDefault(&cfg.Audio.Channels, audio.CaptureFormat.Channels)

	setDefault(&cfg.Capture.Mode, "off")
	setDefault(&cfg.Capture.Language, DefaultLanguage)
	setDefault(&cfg.Capture.Preroll, capture.DefaultPreroll)
	setDefault(&cfg.Capture.TickInterval, capture.DefaultTickInterval)

	if len(cfg.Wake.Phrases) == 0 {
		cfg.Wake.Phrases = append([]string(nil), DefaultWakePhrases...)
	}
	setDefault(&cfg.Wake.CaptureTimeout, capture.DefaultCaptureTimeout)

	setDefault(&cfg.Providers.VAD.Name, "hysteresis")
	setDefault(&cfg.Providers.Audio.Name, "malgo")

	setDefault(&cfg.Playback.ResumeTimeout, DefaultResumeTimeout)

	setDefault(&cfg.QA.BaseURL, DefaultQABaseURL)
	setDefault(&cfg.QA.Timeout, DefaultQATimeout)
	setDefault(&cfg.QA.RatePerMinute, DefaultRatePerMinute)
	setDefault(&cfg.QA.Burst, 3)
	setDefault(&cfg.QA.BreakerFailures, DefaultBreakerFailure)
	setDefault(&cfg.QA.BreakerReset, DefaultBreakerReset)

	setDefault(&cfg.Anchor.SnippetLimit, anchor.DefaultSnippetLimit)
	setDefault(&cfg.Anchor.MaxTokenHits, anchor.DefaultMaxTokenHits)
	setDefault(&cfg.Anchor.HighlightTTL, anchor.DefaultFragmentTTL)
	setDefault(&cfg.Anchor.OverlayTTL, anchor.DefaultOverlayTTL)
}

func setDefault[T comparable](dst *T, v T) {
	var zero T
	if *dst == zero {
		*dst = v
	}
}

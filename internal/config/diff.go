package config

import (
	"fmt"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied without a restart are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VADChanged is set when any detector threshold or duration changed.
	VADChanged bool

	// WakeChanged is set when the phrases or the phonetic threshold changed.
	WakeChanged bool

	VoiceChanged bool

	// RestartRequired lists changed sections that only take effect after a
	// restart.
	RestartRequired []string
}

// Changed reports whether d contains any change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.VADChanged || d.WakeChanged || d.VoiceChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.VADChanged = old.VAD != new.VAD
	d.WakeChanged = old.Wake.PhoneticThreshold != new.Wake.PhoneticThreshold ||
		!slices.Equal(old.Wake.Phrases, new.Wake.Phrases)
	d.VoiceChanged = old.Playback.Voice != new.Playback.Voice

	if old.Server.ListenAddr != new.Server.ListenAddr || !tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Capture != new.Capture || old.Wake.CaptureTimeout != new.Wake.CaptureTimeout || old.Retry != new.Retry {
		d.RestartRequired = append(d.RestartRequired, "capture")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.QA != new.QA {
		d.RestartRequired = append(d.RestartRequired, "qa")
	}
	if old.Anchor != new.Anchor {
		d.RestartRequired = append(d.RestartRequired, "anchor")
	}
	return d
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.STT, b.STT) &&
		slices.EqualFunc(a.STTFallbacks, b.STTFallbacks, entryEqual) &&
		entryEqual(a.Transcriber, b.Transcriber) &&
		slices.EqualFunc(a.TranscriberFallbacks, b.TranscriberFallbacks, entryEqual) &&
		entryEqual(a.TTS, b.TTS) &&
		slices.EqualFunc(a.TTSFallbacks, b.TTSFallbacks, entryEqual) &&
		entryEqual(a.VAD, b.VAD) &&
		entryEqual(a.Audio, b.Audio)
}

func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, v := range a.Options {
		if w, ok := b.Options[k]; !ok || fmt.Sprint(v) != fmt.Sprint(w) {
			return false
		}
	}
	return true
}

package tts

// VoiceProfile describes a TTS voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// SpeedFactor adjusts speaking rate (0.25-4.0, 0 or 1.0 = default).
	// Providers without rate control ignore it.
	SpeedFactor float64

	// Metadata holds provider-specific voice attributes.
	Metadata map[string]string `json:",omitempty"`
}

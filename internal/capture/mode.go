package capture

import "fmt"

// Kind identifies the variant of a [Mode].
type Kind int

const (
	KindOff Kind = iota
	KindWake
	KindPodcast
)

// String returns the kind name used by the control API.
func (k Kind) String() string {
	switch k {
	case KindOff:
		return "off"
	case KindWake:
		return "wake"
	case KindPodcast:
		return "podcast"
	default:
		return "unknown"
	}
}

// Mode is the listening mode the user enabled. It is one of [Off],
// [WakeListening] or [PodcastListening]; no other implementations exist, so
// a mode can never be "wake and podcast" at once.
type Mode interface {
	Kind() Kind
	String() string

	// Lang returns the recognition language, empty for Off.
	Lang() string

	mode()
}

// Off disables capture.
type Off struct{}

// WakeListening listens continuously for the wake phrase and then captures
// one spoken question.
type WakeListening struct {
	// Language is the BCP-47 recognition language; empty lets the engine
	// decide.
	Language string
}

// PodcastListening segments free speech with the VAD and hands out every
// utterance as a recording.
type PodcastListening struct {
	Language string
}

func (Off) Kind() Kind              { return KindOff }
func (WakeListening) Kind() Kind    { return KindWake }
func (PodcastListening) Kind() Kind { return KindPodcast }

func (Off) Lang() string                { return "" }
func (m WakeListening) Lang() string    { return m.Language }
func (m PodcastListening) Lang() string { return m.Language }

func (Off) String() string { return "off" }

func (m WakeListening) String() string { return withLanguage("wake", m.Language) }

func (m PodcastListening) String() string { return withLanguage("podcast", m.Language) }

func (Off) mode()              {}
func (WakeListening) mode()    {}
func (PodcastListening) mode() {}

func withLanguage(kind, lang string) string {
	if lang == "" {
		return kind
	}
	return fmt.Sprintf("%s(%s)", kind, lang)
}

// ParseMode builds a mode from its kind name ("off", "wake", "podcast").
func ParseMode(kind, language string) (Mode, error) {
	switch kind {
	case "off", "":
		return Off{}, nil
	case "wake":
		return WakeListening{Language: language}, nil
	case "podcast":
		return PodcastListening{Language: language}, nil
	default:
		return nil, fmt.Errorf("capture: unknown mode %q", kind)
	}
}

// Phase is what the orchestrator is doing right now.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseWakeListening
	PhaseCapturing
	PhasePodcastListening
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseWakeListening:
		return "wake_listening"
	case PhaseCapturing:
		return "capturing"
	case PhasePodcastListening:
		return "podcast_listening"
	default:
		return "unknown"
	}
}

package vad

import "time"

// State is the detector state.
type State int

const (
	// StateSilent means no utterance is in progress.
	StateSilent State = iota

	// StateSpeaking means an utterance has started and not yet ended.
	StateSpeaking
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateSilent:
		return "silent"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// EventType enumerates VAD transitions.
type EventType int

const (
	// EventSpeechStart marks the start of an utterance.
	EventSpeechStart EventType = iota

	// EventSpeechEnd marks the end of an utterance; see [Event.Reason].
	EventSpeechEnd
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventSpeechStart:
		return "speech_start"
	case EventSpeechEnd:
		return "speech_end"
	default:
		return "unknown"
	}
}

// EndReason explains why an utterance ended.
type EndReason int

const (
	// ReasonNone is used on start events.
	ReasonNone EndReason = iota

	// ReasonSilenceTimeout: the level stayed below the stop threshold long
	// enough after the minimum speech duration.
	ReasonSilenceTimeout

	// ReasonMaxDuration: the utterance hit the configured maximum.
	ReasonMaxDuration

	// ReasonManualStop: the session was ended by the caller.
	ReasonManualStop
)

// String returns the reason name.
func (r EndReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonSilenceTimeout:
		return "silence_timeout"
	case ReasonMaxDuration:
		return "max_duration"
	case ReasonManualStop:
		return "manual_stop"
	default:
		return "unknown"
	}
}

// Event is a VAD state transition.
type Event struct {
	Type EventType

	// Level is the smoothed level at the time of the transition.
	Level float64

	// At is the timestamp passed to Process or ForceEnd.
	At time.Time

	// Reason is set on EventSpeechEnd only.
	Reason EndReason

	// SpeechStartedAt is the start of the utterance this event belongs to.
	SpeechStartedAt time.Time
}

// Duration returns the utterance length for end events and zero otherwise.
func (e Event) Duration() time.Duration {
	if e.Type != EventSpeechEnd {
		return 0
	}
	return e.At.Sub(e.SpeechStartedAt)
}

package stt

import "time"

// Transcript is a recognition result. Both interim and final results use
// this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal marks results the backend has committed to.
	IsFinal bool

	// Confidence is in [0, 1]; zero when the backend does not report it.
	Confidence float64

	// Words contains per-word detail when available.
	Words []WordDetail
}

// WordDetail holds per-word timing relative to session start.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// KeywordBoost raises the recognition probability of a word.
type KeywordBoost struct {
	Keyword string

	// Boost is the provider-specific intensity.
	Boost float64
}

// EventType classifies session events.
type EventType int

const (
	// EventResult carries an interim or final transcript.
	EventResult EventType = iota

	// EventEnded is sent once when the backend ended the session by itself.
	EventEnded

	// EventError is sent once when the session failed; see [Event.Err].
	EventError
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventResult:
		return "result"
	case EventEnded:
		return "ended"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a message from a recognizer session.
type Event struct {
	Type       EventType
	Transcript Transcript
	Err        error
}

package capture

import (
	"time"

	"github.com/MrWong99/vaani/internal/wake"
	"github.com/MrWong99/vaani/pkg/provider/vad"
)

// Event is emitted on [Orchestrator.Events]. The concrete types are
// [PhaseChanged], [WakeDetected], [QuestionCaptured], [UtteranceCaptured]
// and [Error].
type Event interface {
	// Session returns the ID of the capture session the event belongs to.
	// It is empty for events raised outside a session.
	Session() string
}

// PhaseChanged reports a phase transition.
type PhaseChanged struct {
	SessionID string
	From, To  Phase
}

// WakeDetected reports that the wake phrase was heard and question capture
// has begun.
type WakeDetected struct {
	SessionID  string
	Phrase     string
	Strategy   wake.Strategy
	Transcript string
	At         time.Time
}

// QuestionCaptured carries the text of a question spoken after the wake
// phrase.
type QuestionCaptured struct {
	SessionID string
	Text      string
	Language  string
}

// UtteranceCaptured carries one VAD-delimited podcast utterance.
type UtteranceCaptured struct {
	SessionID string

	// WAV is the utterance as a 16 kHz mono WAV file, including a short
	// pre-roll before the detected start.
	WAV       []byte
	StartedAt time.Time
	Duration  time.Duration
	Reason    vad.EndReason
	Language  string
}

// Error reports a capture failure. Terminal errors have switched the mode
// to Off.
type Error struct {
	SessionID string
	Err       error
	Terminal  bool
}

func (e PhaseChanged) Session() string      { return e.SessionID }
func (e WakeDetected) Session() string      { return e.SessionID }
func (e QuestionCaptured) Session() string  { return e.SessionID }
func (e UtteranceCaptured) Session() string { return e.SessionID }
func (e Error) Session() string             { return e.SessionID }

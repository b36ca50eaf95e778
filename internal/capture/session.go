package capture

import (
	"strings"
	"time"

	"github.com/MrWong99/vaani/pkg/audio"
	"github.com/MrWong99/vaani/pkg/provider/stt"
	"github.com/MrWong99/vaani/pkg/provider/vad"
)

// WakeSession is the state of one question capture after a wake detection.
type WakeSession struct {
	DetectedAt time.Time
	Phrase     string

	// Transcript accumulates the final results of the capture.
	Transcript string
}

func (w *WakeSession) appendFinal(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if w.Transcript == "" {
		w.Transcript = text
		return
	}
	w.Transcript += " " + text
}

// Session holds everything that belongs to one enabled mode: the device
// handle and whatever consumes it. It exists only inside the event loop and
// is torn down as a unit.
type Session struct {
	ID        string
	Mode      Mode
	StartedAt time.Time

	stream audio.Stream
	frames <-chan audio.Frame
	format audio.Format

	// Wake path.
	recog       stt.Session
	recogEvents <-chan stt.Event
	recogMode   stt.Mode
	attempts    int
	lastErr     error
	retry       *time.Timer
	wake        *WakeSession
	deadline    *time.Timer

	// Podcast path.
	detector vad.SessionHandle
	ring     *audio.SampleRing
	recorder *audio.Recorder
	ticker   *time.Ticker
	ticks    <-chan time.Time
}

// Attempts returns the number of recognizer restarts since the last
// transcript.
func (s *Session) Attempts() int { return s.attempts }

func (s *Session) retryC() <-chan time.Time {
	if s == nil || s.retry == nil {
		return nil
	}
	return s.retry.C
}

func (s *Session) deadlineC() <-chan time.Time {
	if s == nil || s.deadline == nil {
		return nil
	}
	return s.deadline.C
}

func (s *Session) closeRecognizer() {
	if s.recog != nil {
		_ = s.recog.Close()
		s.recog = nil
		s.recogEvents = nil
	}
}

func (s *Session) stopTimers() {
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	if s.deadline != nil {
		s.deadline.Stop()
		s.deadline = nil
	}
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	s.ticks = nil
}

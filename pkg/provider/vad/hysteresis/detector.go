package hysteresis

import (
	"time"

	"github.com/MrWong99/vaani/pkg/provider/vad"
)

// Detector is the two-threshold state machine behind a session. It is not
// safe for concurrent use.
type Detector struct {
	cfg      vad.Config
	smoother *Smoother

	state        vad.State
	speechStart  time.Time
	silenceStart time.Time
	lastEnd      time.Time
}

// NewDetector returns a silent detector. cfg is assumed valid.
func NewDetector(cfg vad.Config) *Detector {
	return &Detector{cfg: cfg, smoother: NewSmoother(cfg.Smoothing)}
}

// Process measures samples and advances the state machine.
func (d *Detector) Process(samples []float32, now time.Time) (vad.Event, bool) {
	return d.ProcessLevel(RMS(samples), now)
}

// ProcessLevel advances the state machine with a raw (unsmoothed) level.
func (d *Detector) ProcessLevel(rms float64, now time.Time) (vad.Event, bool) {
	level := d.smoother.Update(rms)

	if d.state == vad.StateSilent {
		if level < d.cfg.StartThreshold || !d.cooledDown(now) {
			return vad.Event{}, false
		}
		d.state = vad.StateSpeaking
		d.speechStart = now
		d.silenceStart = time.Time{}
		return vad.Event{Type: vad.EventSpeechStart, Level: level, At: now, SpeechStartedAt: now}, true
	}

	speech := now.Sub(d.speechStart)
	if speech >= d.cfg.MaxUtterance {
		return d.end(level, now, vad.ReasonMaxDuration), true
	}
	if level >= d.cfg.StopThreshold {
		d.silenceStart = time.Time{}
		return vad.Event{}, false
	}
	if speech <= d.cfg.Grace {
		return vad.Event{}, false
	}
	if d.silenceStart.IsZero() {
		d.silenceStart = now
	}
	if now.Sub(d.silenceStart) >= d.cfg.Silence && speech >= d.cfg.MinSpeech {
		return d.end(level, now, vad.ReasonSilenceTimeout), true
	}
	return vad.Event{}, false
}

// ForceEnd ends an active utterance with [vad.ReasonManualStop].
func (d *Detector) ForceEnd(now time.Time) (vad.Event, bool) {
	if d.state != vad.StateSpeaking {
		return vad.Event{}, false
	}
	return d.end(d.smoother.Value(), now, vad.ReasonManualStop), true
}

func (d *Detector) end(level float64, now time.Time, reason vad.EndReason) vad.Event {
	ev := vad.Event{
		Type:            vad.EventSpeechEnd,
		Level:           level,
		At:              now,
		Reason:          reason,
		SpeechStartedAt: d.speechStart,
	}
	d.state = vad.StateSilent
	d.lastEnd = now
	d.silenceStart = time.Time{}
	return ev
}

func (d *Detector) cooledDown(now time.Time) bool {
	return d.lastEnd.IsZero() || now.Sub(d.lastEnd) >= d.cfg.Cooldown
}

// State returns the current state.
func (d *Detector) State() vad.State { return d.state }

// Level returns the current smoothed level.
func (d *Detector) Level() float64 { return d.smoother.Value() }

// Reset returns the detector to its initial state.
func (d *Detector) Reset() {
	d.smoother.Reset()
	d.state = vad.StateSilent
	d.speechStart = time.Time{}
	d.silenceStart = time.Time{}
	d.lastEnd = time.Time{}
}

package hysteresis

import (
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/vaani/pkg/provider/vad"
)

var epoch = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func at(ms int) time.Time { return epoch.Add(time.Duration(ms) * time.Millisecond) }

// testConfig disables smoothing so levels map directly onto decisions.
func testConfig() vad.Config {
	return vad.Config{
		StartThreshold: 0.5,
		StopThreshold:  0.3,
		MinSpeech:      300 * time.Millisecond,
		Silence:        200 * time.Millisecond,
		Grace:          100 * time.Millisecond,
		Cooldown:       500 * time.Millisecond,
		MaxUtterance:   2 * time.Second,
		Smoothing:      1,
	}
}

type step struct {
	ms    int
	level float64
}

type transition struct {
	typ    vad.EventType
	reason vad.EndReason
	ms     int
}

func run(d *Detector, steps []step) []transition {
	var out []transition
	for _, s := range steps {
		if ev, ok := d.ProcessLevel(s.level, at(s.ms)); ok {
			out = append(out, transition{ev.Type, ev.Reason, int(ev.At.Sub(epoch) / time.Millisecond)})
		}
	}
	return out
}

// ramp returns one step per 100ms from startMs to endMs inclusive.
func ramp(startMs, endMs int, level float64) []step {
	var out []step
	for ms := startMs; ms <= endMs; ms += 100 {
		out = append(out, step{ms, level})
	}
	return out
}

func TestDetector_Transitions(t *testing.T) {
	start := transition{vad.EventSpeechStart, vad.ReasonNone, 0}

	tests := []struct {
		name  string
		cfg   func(*vad.Config)
		steps []step
		want  []transition
	}{
		{
			name:  "below start threshold never starts",
			steps: ramp(0, 1000, 0.45),
			want:  nil,
		},
		{
			name:  "silence timeout",
			steps: append(ramp(0, 200, 0.6), ramp(300, 600, 0.1)...),
			want:  []transition{start, {vad.EventSpeechEnd, vad.ReasonSilenceTimeout, 500}},
		},
		{
			name:  "silence inside grace is ignored",
			steps: append([]step{{0, 0.6}, {100, 0.1}}, ramp(200, 600, 0.1)...),
			want:  []transition{start, {vad.EventSpeechEnd, vad.ReasonSilenceTimeout, 400}},
		},
		{
			name:  "min speech delays the end",
			cfg:   func(c *vad.Config) { c.MinSpeech = time.Second },
			steps: append([]step{{0, 0.6}}, ramp(100, 1200, 0.1)...),
			want:  []transition{start, {vad.EventSpeechEnd, vad.ReasonSilenceTimeout, 1000}},
		},
		{
			name: "level recovery resets the silence timer",
			steps: []step{
				{0, 0.6}, {200, 0.1}, {300, 0.1}, {400, 0.4},
				{500, 0.1}, {600, 0.1}, {700, 0.1},
			},
			want: []transition{start, {vad.EventSpeechEnd, vad.ReasonSilenceTimeout, 700}},
		},
		{
			name:  "hysteresis band keeps speaking until the max cut",
			steps: append([]step{{0, 0.6}}, ramp(100, 2500, 0.4)...),
			want:  []transition{start, {vad.EventSpeechEnd, vad.ReasonMaxDuration, 2000}},
		},
		{
			name:  "max cut applies while loud",
			steps: ramp(0, 2200, 0.9),
			want:  []transition{start, {vad.EventSpeechEnd, vad.ReasonMaxDuration, 2000}},
		},
		{
			name: "cooldown suppresses an immediate restart",
			steps: append(append(ramp(0, 200, 0.6), ramp(300, 500, 0.1)...),
				step{600, 0.9}, step{900, 0.9}, step{1000, 0.9}),
			want: []transition{
				start,
				{vad.EventSpeechEnd, vad.ReasonSilenceTimeout, 500},
				{vad.EventSpeechStart, vad.ReasonNone, 1000},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			if tc.cfg != nil {
				tc.cfg(&cfg)
			}
			if got := run(NewDetector(cfg), tc.steps); !slices.Equal(got, tc.want) {
				t.Errorf("transitions = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestDetector_SmoothingDelaysStart(t *testing.T) {
	cfg := testConfig()
	cfg.Smoothing = 0.2
	d := NewDetector(cfg)

	// ema after n ticks of 1.0 is 1-0.8^n: 0.2, 0.36, 0.488, 0.5904.
	got := run(d, ramp(0, 300, 1.0))
	want := []transition{{vad.EventSpeechStart, vad.ReasonNone, 300}}
	if !slices.Equal(got, want) {
		t.Errorf("transitions = %+v, want %+v", got, want)
	}
}

func TestDetector_ForceEnd(t *testing.T) {
	d := NewDetector(testConfig())
	if _, ok := d.ForceEnd(at(0)); ok {
		t.Fatal("ForceEnd on a silent detector reported an event")
	}
	d.ProcessLevel(0.9, at(0))
	ev, ok := d.ForceEnd(at(150))
	if !ok || ev.Type != vad.EventSpeechEnd || ev.Reason != vad.ReasonManualStop {
		t.Fatalf("ForceEnd = (%+v, %v), want manual stop", ev, ok)
	}
	if ev.Duration() != 150*time.Millisecond {
		t.Errorf("Duration() = %v, want 150ms", ev.Duration())
	}
	if d.State() != vad.StateSilent {
		t.Errorf("state = %v, want silent", d.State())
	}
}

func TestDetector_ResetClearsCooldown(t *testing.T) {
	d := NewDetector(testConfig())
	d.ProcessLevel(0.9, at(0))
	d.ForceEnd(at(100))
	if _, ok := d.ProcessLevel(0.9, at(200)); ok {
		t.Fatal("started inside cooldown")
	}
	d.Reset()
	if ev, ok := d.ProcessLevel(0.9, at(300)); !ok || ev.Type != vad.EventSpeechStart {
		t.Errorf("after Reset got (%+v, %v), want speech start", ev, ok)
	}
}

// TestDetector_Invariants drives the detector with random levels and checks
// the properties every event sequence must satisfy.
func TestDetector_Invariants(t *testing.T) {
	cfg := testConfig()
	tick := 50 * time.Millisecond
	rng := rand.New(rand.NewPCG(7, 11))

	for run := range 50 {
		d := NewDetector(cfg)
		var (
			events []vad.Event
			levels []float64
		)
		for i := range 2000 {
			level := rng.Float64() * 0.8
			if ev, ok := d.ProcessLevel(level, epoch.Add(time.Duration(i)*tick)); ok {
				events = append(events, ev)
				levels = append(levels, level)
			}
		}

		var lastEnd time.Time
		for i, ev := range events {
			wantType := vad.EventSpeechStart
			if i%2 == 1 {
				wantType = vad.EventSpeechEnd
			}
			if ev.Type != wantType {
				t.Fatalf("run %d event %d: type %v, want %v (events must alternate)", run, i, ev.Type, wantType)
			}
			switch ev.Type {
			case vad.EventSpeechStart:
				if levels[i] < cfg.StartThreshold {
					t.Fatalf("run %d event %d: started at level %v", run, i, levels[i])
				}
				if !lastEnd.IsZero() && ev.At.Sub(lastEnd) < cfg.Cooldown {
					t.Fatalf("run %d event %d: started %v after previous end", run, i, ev.At.Sub(lastEnd))
				}
			case vad.EventSpeechEnd:
				lastEnd = ev.At
				if ev.Duration() > cfg.MaxUtterance {
					t.Fatalf("run %d event %d: utterance of %v exceeds max", run, i, ev.Duration())
				}
				if ev.Reason == vad.ReasonSilenceTimeout {
					if ev.Duration() < cfg.MinSpeech {
						t.Fatalf("run %d event %d: silence end after only %v", run, i, ev.Duration())
					}
					if levels[i] >= cfg.StopThreshold {
						t.Fatalf("run %d event %d: silence end at level %v", run, i, levels[i])
					}
				}
			}
		}
	}
}

// TestDetector_DefaultSmoothingBound holds a level just above the start
// threshold for at least MinSpeech, then silence for at least Silence, using
// the default EMA weight. The end is bounded from the onset of the raw level:
// the smoothed start lags that onset, so the detector's own SpeechStartedAt
// is only bounded by Silence.
func TestDetector_DefaultSmoothingBound(t *testing.T) {
	cfg := vad.DefaultConfig()
	const tick = 20 * time.Millisecond

	for _, level := range []float64{0.036, 0.05, 0.2, 0.9} {
		for _, hold := range []time.Duration{cfg.MinSpeech, cfg.MinSpeech + 260*time.Millisecond, 2 * time.Second} {
			d := NewDetector(cfg)
			var events []vad.Event
			for ts := time.Duration(0); ts < hold+cfg.Silence+time.Second; ts += tick {
				l := level
				if ts >= hold {
					l = 0
				}
				if ev, ok := d.ProcessLevel(l, epoch.Add(ts)); ok {
					events = append(events, ev)
				}
			}

			if len(events) != 2 || events[0].Type != vad.EventSpeechStart || events[1].Type != vad.EventSpeechEnd {
				t.Errorf("level %v hold %v: events = %+v, want one start and one end", level, hold, events)
				continue
			}
			start, end := events[0], events[1]
			if end.Reason != vad.ReasonSilenceTimeout {
				t.Errorf("level %v hold %v: reason = %v", level, hold, end.Reason)
			}
			if bound := epoch.Add(cfg.MinSpeech + cfg.Silence); end.At.Before(bound) {
				t.Errorf("level %v hold %v: end at %v, before onset+minSpeech+silence %v", level, hold, end.At.Sub(epoch), bound.Sub(epoch))
			}
			if end.At.Before(epoch.Add(hold + cfg.Silence)) {
				t.Errorf("level %v hold %v: end at %v, before raw silence lasted %v", level, hold, end.At.Sub(epoch), cfg.Silence)
			}
			if end.Duration() < cfg.MinSpeech {
				t.Errorf("level %v hold %v: utterance of %v shorter than MinSpeech", level, hold, end.Duration())
			}
			if start.At.After(epoch.Add(hold)) {
				t.Errorf("level %v hold %v: start at %v, after the level dropped", level, hold, start.At.Sub(epoch))
			}
		}
	}
}

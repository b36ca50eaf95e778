package anchor

import (
	"slices"
	"sync"
	"time"
)

// Display durations of a highlight.
const (
	DefaultFragmentTTL = 4 * time.Second
	DefaultOverlayTTL  = 4200 * time.Millisecond
)

// Highlight is what the UI should currently show.
type Highlight struct {
	Page int `json:"page"`

	// Fragments are highlighted fragment indexes; empty once they expired.
	Fragments []int `json:"fragments"`

	// Overlay is the bounding box; nil once it expired.
	Overlay *Rect `json:"overlay,omitempty"`
}

// Visible reports whether anything is highlighted.
func (h Highlight) Visible() bool { return len(h.Fragments) > 0 || h.Overlay != nil }

// HighlightOption configures a [Highlighter].
type HighlightOption func(*Highlighter)

// WithTTL sets how long fragments and the overlay stay visible.
func WithTTL(fragments, overlay time.Duration) HighlightOption {
	return func(h *Highlighter) {
		if fragments > 0 {
			h.fragmentTTL = fragments
		}
		if overlay > 0 {
			h.overlayTTL = overlay
		}
	}
}

// WithOnChange registers a callback invoked with the new state after every
// change. It runs without the highlighter's lock held. Calls are serialized,
// and a state superseded before its callback ran is skipped, so the last
// call always carries the current state.
func WithOnChange(fn func(Highlight)) HighlightOption {
	return func(h *Highlighter) { h.onChange = fn }
}

// WithAfterFunc replaces time.AfterFunc, for tests.
func WithAfterFunc(fn func(time.Duration, func()) Timer) HighlightOption {
	return func(h *Highlighter) { h.afterFunc = fn }
}

// Timer is the part of *time.Timer the highlighter uses.
type Timer interface {
	Stop() bool
}

// Highlighter shows one match at a time. A newer match replaces the previous
// one and cancels its timers. It is safe for concurrent use.
type Highlighter struct {
	fragmentTTL time.Duration
	overlayTTL  time.Duration
	onChange    func(Highlight)
	afterFunc   func(time.Duration, func()) Timer

	mu     sync.Mutex
	gen    uint64 // bumped per Show and Clear; stale timers compare against it
	rev    uint64 // bumped per state change
	state  Highlight
	timers []Timer
	closed bool

	notifyMu sync.Mutex
}

// NewHighlighter returns an idle Highlighter.
func NewHighlighter(opts ...HighlightOption) *Highlighter {
	h := &Highlighter{
		fragmentTTL: DefaultFragmentTTL,
		overlayTTL:  DefaultOverlayTTL,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Show highlights m.
func (h *Highlighter) Show(m Match) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.stopTimersLocked()
	h.gen++
	gen := h.gen
	overlay := m.Rect
	h.state = Highlight{Page: m.Page, Fragments: slices.Clone(m.Fragments)}
	if !overlay.Empty() {
		h.state.Overlay = &overlay
	}
	h.timers = append(h.timers,
		h.afterFunc(h.fragmentTTL, func() { h.expire(gen, true) }),
		h.afterFunc(h.overlayTTL, func() { h.expire(gen, false) }),
	)
	state, rev := h.changedLocked()
	h.mu.Unlock()
	h.notify(state, rev)
}

func (h *Highlighter) expire(gen uint64, fragments bool) {
	h.mu.Lock()
	if h.gen != gen || h.closed {
		h.mu.Unlock()
		return
	}
	if fragments {
		h.state.Fragments = nil
	} else {
		h.state.Overlay = nil
	}
	state, rev := h.changedLocked()
	h.mu.Unlock()
	h.notify(state, rev)
}

// Active returns a snapshot of the current highlight.
func (h *Highlighter) Active() Highlight {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

// Clear removes the highlight immediately.
func (h *Highlighter) Clear() {
	h.mu.Lock()
	h.stopTimersLocked()
	h.gen++
	h.state = Highlight{}
	state, rev := h.changedLocked()
	h.mu.Unlock()
	h.notify(state, rev)
}

// Close stops all timers. Show is a no-op afterwards.
func (h *Highlighter) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.stopTimersLocked()
	h.state = Highlight{}
}

func (h *Highlighter) stopTimersLocked() {
	for _, t := range h.timers {
		t.Stop()
	}
	h.timers = nil
}

func (h *Highlighter) snapshotLocked() Highlight {
	s := Highlight{Page: h.state.Page, Fragments: slices.Clone(h.state.Fragments)}
	if h.state.Overlay != nil {
		r := *h.state.Overlay
		s.Overlay = &r
	}
	return s
}

// changedLocked records a state change and returns the state to publish.
func (h *Highlighter) changedLocked() (Highlight, uint64) {
	h.rev++
	return h.snapshotLocked(), h.rev
}

func (h *Highlighter) notify(s Highlight, rev uint64) {
	if h.onChange == nil {
		return
	}
	h.notifyMu.Lock()
	defer h.notifyMu.Unlock()
	h.mu.Lock()
	stale := rev != h.rev
	h.mu.Unlock()
	if !stale {
		h.onChange(s)
	}
}

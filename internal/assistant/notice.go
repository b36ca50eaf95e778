package assistant

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/vaani/internal/anchor"
)

// NoticeKind classifies a [Notice].
type NoticeKind string

const (
	NoticePhase      NoticeKind = "phase"
	NoticeWake       NoticeKind = "wake"
	NoticeQuestion   NoticeKind = "question"
	NoticeAnswer     NoticeKind = "answer"
	NoticeAnchored   NoticeKind = "anchored"
	NoticeUnanchored NoticeKind = "unanchored"
	NoticeHighlight  NoticeKind = "highlight"
	NoticeError      NoticeKind = "error"
)

// Notice is a UI-facing update. Only the fields relevant to Kind are set.
type Notice struct {
	Kind      NoticeKind `json:"kind"`
	SessionID string     `json:"session_id,omitempty"`
	At        time.Time  `json:"at"`

	Phase     string            `json:"phase,omitempty"`
	Phrase    string            `json:"phrase,omitempty"`
	Question  string            `json:"question,omitempty"`
	Answer    string            `json:"answer,omitempty"`
	Match     *anchor.Match     `json:"match,omitempty"`
	Highlight *anchor.Highlight `json:"highlight,omitempty"`

	Error     string `json:"error,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	Terminal  bool   `json:"terminal,omitempty"`
}

// Broadcaster fans notices out to subscribers. A subscriber that falls
// behind loses notices rather than stalling the pipeline.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[int]chan Notice
	nextID int
	closed bool
}

// NewBroadcaster returns a Broadcaster with no subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Notice)}
}

// Subscribe registers a subscriber with the given buffer size. The returned
// cancel func unregisters it and closes the channel; it may be called more
// than once.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Notice, func()) {
	ch := make(chan Notice, max(buffer, 1))
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

// Publish delivers n to every subscriber without blocking.
func (b *Broadcaster) Publish(n Notice) {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- n:
		default:
			slog.Warn("assistant: subscriber lagging, notice dropped", "subscriber", id, "kind", n.Kind)
		}
	}
}

// Close closes every subscriber channel. Later subscriptions receive a
// closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// HighlightChanged publishes h. Pass it to [anchor.WithOnChange] so that
// highlight expiry reaches the UI.
func (b *Broadcaster) HighlightChanged(h anchor.Highlight) {
	b.Publish(Notice{Kind: NoticeHighlight, Highlight: &h})
}

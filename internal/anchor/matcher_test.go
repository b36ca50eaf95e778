package anchor_test

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/vaani/internal/anchor"
)

func newStore() *anchor.Store {
	s := anchor.NewStore()
	s.SetPage(1, []anchor.Fragment{
		{Text: "The", Rect: anchor.Rect{X: 10, Y: 100, W: 20, H: 12}},
		{Text: "quick", Rect: anchor.Rect{X: 34, Y: 100, W: 36, H: 12}},
		{Text: "brown", Rect: anchor.Rect{X: 74, Y: 100, W: 38, H: 12}},
		{Text: "fox", Rect: anchor.Rect{X: 10, Y: 114, W: 22, H: 12}},
	})
	s.SetPage(2, []anchor.Fragment{
		{Text: "jumps over", Rect: anchor.Rect{X: 10, Y: 40, W: 60, H: 12}},
		{Text: "the lazy dog.", Rect: anchor.Rect{X: 10, Y: 54, W: 80, H: 12}},
	})
	s.SetPage(3, []anchor.Fragment{
		{Text: "Entropy measures", Rect: anchor.Rect{X: 10, Y: 10, W: 90, H: 12}},
		{Text: "disorder in a system.", Rect: anchor.Rect{X: 10, Y: 24, W: 120, H: 12}},
	})
	return s
}

func TestLocate(t *testing.T) {
	t.Parallel()
	m := anchor.NewMatcher(newStore())

	tests := []struct {
		name      string
		page      int
		snippet   string
		query     string
		anchors   []string
		wantPage  int
		wantFrags []int
		wantStage anchor.Stage
		wantErr   error
	}{
		{
			name:      "exact",
			page:      1,
			snippet:   "quick brown",
			wantPage:  1,
			wantFrags: []int{1, 2},
			wantStage: anchor.StageExact,
		},
		{
			name:      "normalized snippet",
			page:      1,
			snippet:   "  Quick\n  BROWN ",
			wantPage:  1,
			wantFrags: []int{1, 2},
			wantStage: anchor.StageExact,
		},
		{
			name:      "previous page",
			page:      3,
			snippet:   "the lazy dog",
			wantPage:  2,
			wantFrags: []int{1},
			wantStage: anchor.StageNeighbor,
		},
		{
			name:      "next page",
			page:      1,
			snippet:   "jumps over the lazy",
			wantPage:  2,
			wantFrags: []int{0, 1},
			wantStage: anchor.StageNeighbor,
		},
		{
			name:      "anchor phrase",
			page:      2,
			snippet:   "a paraphrase the backend made up",
			anchors:   []string{"not on any page", "Entropy measures"},
			query:     "zzz",
			wantPage:  3,
			wantFrags: []int{0},
			wantStage: anchor.StageAnchorPhrase,
		},
		{
			name:      "tokens from query",
			page:      3,
			snippet:   "slow turtle",
			query:     "What about disorder?",
			wantPage:  3,
			wantFrags: []int{1},
			wantStage: anchor.StageTokens,
		},
		{
			name:      "tokens fall back to snippet",
			page:      2,
			snippet:   "a fox, maybe",
			wantPage:  1,
			wantFrags: []int{3},
			wantStage: anchor.StageTokens,
		},
		{
			name:    "no match",
			page:    1,
			snippet: "slow turtle",
			wantErr: anchor.ErrNoMatch,
		},
		{
			name:    "nothing to search",
			page:    1,
			wantErr: anchor.ErrNoMatch,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := m.Locate(tc.page, tc.snippet, tc.query, tc.anchors...)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if tc.wantErr != nil {
				return
			}
			if got.Page != tc.wantPage || got.Stage != tc.wantStage || !slices.Equal(got.Fragments, tc.wantFrags) {
				t.Errorf("Locate = %+v, want page %d frags %v stage %s", got, tc.wantPage, tc.wantFrags, tc.wantStage)
			}
		})
	}
}

func TestLocate_RectIsUnion(t *testing.T) {
	t.Parallel()
	m := anchor.NewMatcher(newStore())

	got, err := m.Locate(1, "brown fox", "")
	if err != nil {
		t.Fatal(err)
	}
	want := anchor.Rect{X: 10, Y: 100, W: 102, H: 26}
	if got.Rect != want {
		t.Errorf("Rect = %+v, want %+v", got.Rect, want)
	}
}

func TestLocate_AcrossBlankFragment(t *testing.T) {
	t.Parallel()
	s := anchor.NewStore()
	s.SetPage(1, []anchor.Fragment{
		{Text: " The quick red", Rect: anchor.Rect{X: 10, Y: 100, W: 80, H: 12}},
		{Text: " ", Rect: anchor.Rect{X: 90, Y: 100, W: 4, H: 12}},
		{Text: "brown foxes jumped", Rect: anchor.Rect{X: 94, Y: 100, W: 110, H: 12}},
	})
	m := anchor.NewMatcher(s)

	got, err := m.Locate(1, "quick red brown foxes", "")
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if got.Stage != anchor.StageExact || !slices.Equal(got.Fragments, []int{0, 2}) {
		t.Errorf("Locate = %+v, want exact match on fragments [0 2]", got)
	}
}

func TestLocate_SnippetIsTruncated(t *testing.T) {
	t.Parallel()
	s := anchor.NewStore()
	s.SetPage(1, []anchor.Fragment{{Text: strings.Repeat("x", 230)}})
	m := anchor.NewMatcher(s)

	snippet := strings.Repeat("x", 220) + " and then some text that is not on the page"
	got, err := m.Locate(1, snippet, "")
	if err != nil || got.Stage != anchor.StageExact {
		t.Fatalf("Locate = %+v, %v", got, err)
	}

	short := anchor.NewMatcher(s, anchor.WithSnippetLimit(400))
	if got, _ := short.Locate(1, snippet, "qqq"); got.Stage == anchor.StageExact {
		t.Error("untruncated snippet matched exactly")
	}
}

func TestLocate_TokenHitsAreCapped(t *testing.T) {
	t.Parallel()
	frags := make([]anchor.Fragment, 100)
	for i := range frags {
		frags[i] = anchor.Fragment{Text: "theorem"}
	}
	s := anchor.NewStore()
	s.SetPage(5, frags)

	got, err := anchor.NewMatcher(s).Locate(5, "", "which theorem")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Fragments) != anchor.DefaultMaxTokenHits {
		t.Errorf("selected %d fragments, want %d", len(got.Fragments), anchor.DefaultMaxTokenHits)
	}
	got, _ = anchor.NewMatcher(s, anchor.WithMaxTokenHits(5)).Locate(5, "", "theorem")
	if len(got.Fragments) != 5 {
		t.Errorf("selected %d fragments, want 5", len(got.Fragments))
	}
}

func TestTokens(t *testing.T) {
	t.Parallel()

	got := anchor.Tokens("What is the CPU's role? The CPU, I said!")
	want := []string{"what", "the", "cpu", "role", "said"}
	if !slices.Equal(got, want) {
		t.Errorf("Tokens = %v, want %v", got, want)
	}
}

type fakeTimer struct {
	d       time.Duration
	fn      func()
	stopped bool
}

func (f *fakeTimer) Stop() bool {
	f.stopped = true
	return true
}

type fakeTimers struct {
	mu  sync.Mutex
	all []*fakeTimer
}

func (ft *fakeTimers) after(d time.Duration, fn func()) anchor.Timer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	t := &fakeTimer{d: d, fn: fn}
	ft.all = append(ft.all, t)
	return t
}

func (ft *fakeTimers) get(i int) *fakeTimer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.all[i]
}

func TestHighlighter(t *testing.T) {
	t.Parallel()
	timers := &fakeTimers{}
	var changes []anchor.Highlight
	h := anchor.NewHighlighter(
		anchor.WithAfterFunc(timers.after),
		anchor.WithOnChange(func(s anchor.Highlight) { changes = append(changes, s) }),
	)

	m := anchor.Match{Page: 1, Fragments: []int{1, 2}, Rect: anchor.Rect{X: 1, Y: 2, W: 3, H: 4}}
	h.Show(m)

	st := h.Active()
	if st.Page != 1 || !slices.Equal(st.Fragments, []int{1, 2}) || st.Overlay == nil || *st.Overlay != m.Rect {
		t.Fatalf("Active = %+v", st)
	}
	if timers.get(0).d != anchor.DefaultFragmentTTL || timers.get(1).d != anchor.DefaultOverlayTTL {
		t.Errorf("ttls = %s, %s", timers.get(0).d, timers.get(1).d)
	}

	timers.get(0).fn()
	if st := h.Active(); len(st.Fragments) != 0 || st.Overlay == nil {
		t.Errorf("after fragment ttl: %+v", st)
	}
	timers.get(1).fn()
	if st := h.Active(); st.Visible() {
		t.Errorf("after overlay ttl: %+v", st)
	}
	if len(changes) != 3 {
		t.Errorf("onChange called %d times, want 3", len(changes))
	}
}

func TestHighlighter_NewMatchReplacesOld(t *testing.T) {
	t.Parallel()
	timers := &fakeTimers{}
	h := anchor.NewHighlighter(anchor.WithAfterFunc(timers.after))

	h.Show(anchor.Match{Page: 1, Fragments: []int{0}})
	h.Show(anchor.Match{Page: 2, Fragments: []int{4, 5}})
	if !timers.get(0).stopped || !timers.get(1).stopped {
		t.Error("previous timers not stopped")
	}

	// A stale timer that fired anyway must not clear the new highlight.
	timers.get(0).fn()
	st := h.Active()
	if st.Page != 2 || !slices.Equal(st.Fragments, []int{4, 5}) {
		t.Errorf("Active = %+v", st)
	}
	if st.Overlay != nil {
		t.Error("empty rect produced an overlay")
	}
}

func TestHighlighter_SupersededChangeNotPublished(t *testing.T) {
	t.Parallel()
	timers := &fakeTimers{}
	release := make(chan struct{})
	var (
		mu      sync.Mutex
		changes []anchor.Highlight
	)
	h := anchor.NewHighlighter(
		anchor.WithAfterFunc(timers.after),
		anchor.WithOnChange(func(s anchor.Highlight) {
			mu.Lock()
			first := len(changes) == 0
			changes = append(changes, s)
			mu.Unlock()
			if first {
				<-release
			}
		}),
	)
	waitFor := func(cond func(anchor.Highlight) bool) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for !cond(h.Active()) {
			if time.Now().After(deadline) {
				t.Fatalf("state never reached, Active = %+v", h.Active())
			}
			time.Sleep(time.Millisecond)
		}
	}

	var wg sync.WaitGroup
	// The first Show blocks inside its callback.
	wg.Go(func() { h.Show(anchor.Match{Page: 1, Fragments: []int{0}}) })
	waitFor(func(s anchor.Highlight) bool { return s.Page == 1 })

	// The old match expires, then a new match arrives, while the first
	// callback is still running.
	wg.Go(func() { timers.get(0).fn() })
	waitFor(func(s anchor.Highlight) bool { return len(s.Fragments) == 0 })
	wg.Go(func() { h.Show(anchor.Match{Page: 2, Fragments: []int{4}}) })
	waitFor(func(s anchor.Highlight) bool { return s.Page == 2 })

	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	last := changes[len(changes)-1]
	if last.Page != 2 || !slices.Equal(last.Fragments, []int{4}) {
		t.Errorf("last published state = %+v, want page 2 fragments [4]", last)
	}
	for _, c := range changes[1:] {
		if c.Page == 1 {
			t.Errorf("superseded state %+v published", c)
		}
	}
}

func TestHighlighter_ClearAndClose(t *testing.T) {
	t.Parallel()
	timers := &fakeTimers{}
	h := anchor.NewHighlighter(anchor.WithAfterFunc(timers.after))

	h.Show(anchor.Match{Page: 1, Fragments: []int{0}})
	h.Clear()
	if h.Active().Visible() || !timers.get(0).stopped {
		t.Error("Clear left a highlight or a running timer")
	}

	h.Close()
	h.Show(anchor.Match{Page: 1, Fragments: []int{0}})
	if h.Active().Visible() {
		t.Error("Show after Close took effect")
	}
}

func TestHighlighter_RealTimers(t *testing.T) {
	t.Parallel()
	h := anchor.NewHighlighter(anchor.WithTTL(10*time.Millisecond, 20*time.Millisecond))
	defer h.Close()

	h.Show(anchor.Match{Page: 1, Fragments: []int{0}, Rect: anchor.Rect{W: 1, H: 1}})
	deadline := time.Now().Add(2 * time.Second)
	for h.Active().Visible() {
		if time.Now().After(deadline) {
			t.Fatal("highlight never expired")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

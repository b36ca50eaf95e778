// Package anchor maps a citation snippet returned by the answering backend
// back onto the text fragments of a rendered page, so the UI can highlight
// where an answer came from.
//
// The UI registers each rendered page's text layer with a [Store]. A
// [Matcher] searches the page's [PageIndex] for the snippet, widening the
// search to neighbouring pages, anchor phrases and finally single tokens. A
// [Highlighter] keeps the result visible for a few seconds.
package anchor

import (
	"slices"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Rect is a fragment's box in page coordinates.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Empty reports whether r has no area.
func (r Rect) Empty() bool { return r.W <= 0 || r.H <= 0 }

// Union returns the smallest rectangle containing r and o. Empty rectangles
// are ignored.
func (r Rect) Union(o Rect) Rect {
	switch {
	case o.Empty():
		return r
	case r.Empty():
		return o
	}
	x0, y0 := min(r.X, o.X), min(r.Y, o.Y)
	x1, y1 := max(r.X+r.W, o.X+o.W), max(r.Y+r.H, o.Y+o.H)
	return Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// Fragment is one text run of a page's text layer.
type Fragment struct {
	Text string `json:"text"`
	Rect Rect   `json:"rect"`
}

// Span is a fragment's position in [PageIndex.Text], in runes.
type Span struct {
	Start, End int
}

// Len returns the span length in runes.
func (s Span) Len() int { return s.End - s.Start }

// PageIndex is the searchable text of one page: the normalized fragment
// texts joined by single spaces, plus each fragment's offsets. Offsets are
// contiguous: a fragment starts one rune after the previous non-empty one
// ended. A fragment that normalizes to nothing (a whitespace-only text item)
// gets a zero-length span at the current position and adds no separator.
type PageIndex struct {
	Page      int
	Text      string
	Spans     []Span
	Fragments []Fragment

	runes []rune
}

// BuildIndex indexes fragments in reading order.
func BuildIndex(page int, fragments []Fragment) *PageIndex {
	idx := &PageIndex{
		Page:      page,
		Spans:     make([]Span, len(fragments)),
		Fragments: slices.Clone(fragments),
	}
	var b strings.Builder
	pos := 0
	for i, f := range fragments {
		t := normalize(f.Text)
		if t != "" && b.Len() > 0 {
			b.WriteByte(' ')
			pos++
		}
		b.WriteString(t)
		n := utf8.RuneCountInString(t)
		idx.Spans[i] = Span{Start: pos, End: pos + n}
		pos += n
	}
	idx.Text = b.String()
	idx.runes = []rune(idx.Text)
	return idx
}

// find returns the rune range of the first occurrence of needle.
func (p *PageIndex) find(needle string) (Span, bool) {
	i := strings.Index(p.Text, needle)
	if i < 0 || needle == "" {
		return Span{}, false
	}
	start := utf8.RuneCountInString(p.Text[:i])
	return Span{Start: start, End: start + utf8.RuneCountInString(needle)}, true
}

// overlapping returns the fragments overlapping m by at least
// min(minOverlap, fragment length) runes.
func (p *PageIndex) overlapping(m Span, minOverlap int) []int {
	var out []int
	for i, s := range p.Spans {
		if s.Len() == 0 {
			continue
		}
		ov := min(s.End, m.End) - max(s.Start, m.Start)
		if ov > 0 && ov >= min(minOverlap, s.Len()) {
			out = append(out, i)
		}
	}
	return out
}

// fragmentText returns the normalized text of fragment i.
func (p *PageIndex) fragmentText(i int) string {
	s := p.Spans[i]
	return string(p.runes[s.Start:s.End])
}

// Store holds the registered text layer of every rendered page and caches
// their indexes. It is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	pages   map[int][]Fragment
	indexes map[int]*PageIndex
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		pages:   make(map[int][]Fragment),
		indexes: make(map[int]*PageIndex),
	}
}

// SetPage registers or replaces the fragments of page. A re-rendered page
// invalidates its cached index.
func (s *Store) SetPage(page int, fragments []Fragment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[page] = slices.Clone(fragments)
	delete(s.indexes, page)
}

// RemovePage forgets page.
func (s *Store) RemovePage(page int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pages, page)
	delete(s.indexes, page)
}

// Reset forgets every page, e.g. when another document is opened.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.pages)
	clear(s.indexes)
}

// Pages returns the registered page numbers in ascending order.
func (s *Store) Pages() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.pages))
	for p := range s.pages {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Index returns the index of page, building it on first use. It reports
// false for unknown pages.
func (s *Store) Index(page int) (*PageIndex, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.indexes[page]; ok {
		return idx, true
	}
	frags, ok := s.pages[page]
	if !ok {
		return nil, false
	}
	idx := BuildIndex(page, frags)
	s.indexes[page] = idx
	return idx, true
}

// normalize applies NFKC, lowercases and collapses whitespace.
func normalize(s string) string {
	s = strings.ToLower(norm.NFKC.String(s))
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// truncate returns the first n runes of s.
func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

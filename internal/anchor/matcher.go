package anchor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/vaani/internal/observe"
)

// ErrNoMatch means no stage could place the snippet on the page or its
// neighbours. The answer is still valid; it just cannot be highlighted.
var ErrNoMatch = errors.New("anchor: no match found")

// Defaults for [Matcher].
const (
	DefaultSnippetLimit   = 220
	DefaultMinOverlap     = 6
	DefaultMaxTokenHits   = 60
	DefaultMinTokenLength = 3
)

// Stage names the search stage that produced a match.
type Stage string

const (
	StageExact        Stage = "exact"
	StageNeighbor     Stage = "neighbor"
	StageAnchorPhrase Stage = "anchor_phrase"
	StageTokens       Stage = "tokens"
)

// Match is a located snippet.
type Match struct {
	Page int `json:"page"`

	// Fragments are indexes into the page's fragments, ascending.
	Fragments []int `json:"fragments"`

	// Rect is the union of the selected fragments' boxes.
	Rect  Rect  `json:"rect"`
	Stage Stage `json:"stage"`
}

// MatcherOption configures a [Matcher].
type MatcherOption func(*Matcher)

// WithSnippetLimit sets how many runes of the normalized snippet are
// searched for.
func WithSnippetLimit(n int) MatcherOption {
	return func(m *Matcher) {
		if n > 0 {
			m.snippetLimit = n
		}
	}
}

// WithMaxTokenHits caps the fragments selected by the token fallback.
func WithMaxTokenHits(n int) MatcherOption {
	return func(m *Matcher) {
		if n > 0 {
			m.maxTokenHits = n
		}
	}
}

// WithMatcherMetrics sets the metrics sink.
func WithMatcherMetrics(mt *observe.Metrics) MatcherOption {
	return func(m *Matcher) { m.metrics = mt }
}

// Matcher locates snippets in the pages of a [Store]. It is safe for
// concurrent use.
type Matcher struct {
	store        *Store
	snippetLimit int
	maxTokenHits int
	metrics      *observe.Metrics
}

// NewMatcher returns a Matcher over store.
func NewMatcher(store *Store, opts ...MatcherOption) *Matcher {
	m := &Matcher{
		store:        store,
		snippetLimit: DefaultSnippetLimit,
		maxTokenHits: DefaultMaxTokenHits,
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// Locate finds snippet on page. The search order is:
//
//  1. the snippet on page itself;
//  2. the snippet on page-1, then page+1;
//  3. each anchor phrase on page, page-1 and page+1;
//  4. tokens of query (or of the snippet when query is empty) on page,
//     page-1 and page+1.
//
// It returns [ErrNoMatch] when every stage fails.
func (m *Matcher) Locate(page int, snippet, query string, anchors ...string) (Match, error) {
	match, err := m.locate(page, snippet, query, anchors)
	stage := string(match.Stage)
	if err != nil {
		stage = "none"
	}
	m.metrics.RecordAnchor(context.Background(), stage)
	slog.Debug("anchor: locate", "page", page, "stage", stage, "fragments", len(match.Fragments))
	return match, err
}

func (m *Matcher) locate(page int, snippet, query string, anchors []string) (Match, error) {
	needle := strings.TrimSpace(truncate(normalize(snippet), m.snippetLimit))
	neighbours := []int{page - 1, page + 1}

	if needle != "" {
		if match, ok := m.phraseOn(page, needle); ok {
			match.Stage = StageExact
			return match, nil
		}
		for _, p := range neighbours {
			if match, ok := m.phraseOn(p, needle); ok {
				match.Stage = StageNeighbor
				return match, nil
			}
		}
	}

	order := []int{page, page - 1, page + 1}
	for _, a := range anchors {
		phrase := strings.TrimSpace(truncate(normalize(a), m.snippetLimit))
		if phrase == "" {
			continue
		}
		for _, p := range order {
			if match, ok := m.phraseOn(p, phrase); ok {
				match.Stage = StageAnchorPhrase
				return match, nil
			}
		}
	}

	if strings.TrimSpace(query) == "" {
		query = snippet
	}
	if tokens := Tokens(query); len(tokens) > 0 {
		for _, p := range order {
			if match, ok := m.tokensOn(p, tokens); ok {
				match.Stage = StageTokens
				return match, nil
			}
		}
	}
	return Match{}, ErrNoMatch
}

func (m *Matcher) phraseOn(page int, phrase string) (Match, bool) {
	idx, ok := m.store.Index(page)
	if !ok {
		return Match{}, false
	}
	span, ok := idx.find(phrase)
	if !ok {
		return Match{}, false
	}
	frags := idx.overlapping(span, DefaultMinOverlap)
	if len(frags) == 0 {
		return Match{}, false
	}
	return newMatch(idx, frags), true
}

func (m *Matcher) tokensOn(page int, tokens []string) (Match, bool) {
	idx, ok := m.store.Index(page)
	if !ok {
		return Match{}, false
	}
	var frags []int
	for i := range idx.Spans {
		text := idx.fragmentText(i)
		for _, tok := range tokens {
			if strings.Contains(text, tok) {
				frags = append(frags, i)
				break
			}
		}
		if len(frags) == m.maxTokenHits {
			break
		}
	}
	if len(frags) == 0 {
		return Match{}, false
	}
	return newMatch(idx, frags), true
}

func newMatch(idx *PageIndex, frags []int) Match {
	var r Rect
	for _, i := range frags {
		r = r.Union(idx.Fragments[i].Rect)
	}
	return Match{Page: idx.Page, Fragments: frags, Rect: r}
}

// Tokens splits text into distinct normalized words of at least
// DefaultMinTokenLength runes, in order of first appearance.
func Tokens(text string) []string {
	words := strings.FieldsFunc(normalize(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && !unicode.IsMark(r)
	})
	var out []string
	seen := make(map[string]bool)
	for _, w := range words {
		if utf8.RuneCountInString(w) < DefaultMinTokenLength || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

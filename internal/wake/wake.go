// Package wake detects a wake phrase in speech recognizer transcripts.
//
// Recognizers rarely spell an invented name the same way twice ("vaani",
// "vani", "vaaniii"), so a [Matcher] tries several increasingly tolerant
// strategies and reports the first that succeeds:
//
//  1. substring containment of the normalized phrase;
//  2. ordered word prefixes: every phrase word starts some transcript word,
//     in order, with other words allowed in between;
//  3. a vowel-tolerant pattern in which each vowel may repeat;
//  4. optionally, phonetic similarity (Double Metaphone plus Jaro-Winkler).
//
// A Matcher is immutable after construction and safe for concurrent use.
package wake

import (
	"errors"
	"regexp"
	"strings"
)

// ErrNoPhrases is returned by New when no usable phrase was given.
var ErrNoPhrases = errors.New("wake: no usable wake phrase")

// Strategy names the rule that detected the phrase.
type Strategy string

const (
	StrategySubstring Strategy = "substring"
	StrategyPrefix    Strategy = "word_prefix"
	StrategyVowel     Strategy = "vowel_repeat"
	StrategyPhonetic  Strategy = "phonetic"
)

// Detection describes a successful match.
type Detection struct {
	// Phrase is the configured phrase as given to New.
	Phrase   string
	Strategy Strategy
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithPhonetic enables the phonetic stage. threshold is the minimum
// Jaro-Winkler similarity; values outside (0, 1] disable the stage.
func WithPhonetic(threshold float64) Option {
	return func(m *Matcher) {
		if threshold > 0 && threshold <= 1 {
			m.phoneticThreshold = threshold
		}
	}
}

type phrase struct {
	original   string
	normalized string
	words      []string
	pattern    *regexp.Regexp
	phonetic   phoneticPhrase
}

// Matcher checks transcripts against a set of wake phrases.
type Matcher struct {
	phrases           []phrase
	phoneticThreshold float64
}

// New compiles phrases. Phrases that normalize to nothing are skipped.
func New(phrases []string, opts ...Option) (*Matcher, error) {
	m := &Matcher{}
	for _, o := range opts {
		o(m)
	}
	seen := make(map[string]bool)
	for _, p := range phrases {
		norm := Normalize(p)
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		words := strings.Fields(norm)
		m.phrases = append(m.phrases, phrase{
			original:   strings.TrimSpace(p),
			normalized: norm,
			words:      words,
			pattern:    regexp.MustCompile(vowelPattern(words)),
			phonetic:   newPhoneticPhrase(words),
		})
	}
	if len(m.phrases) == 0 {
		return nil, ErrNoPhrases
	}
	return m, nil
}

// Match reports whether transcript contains one of the wake phrases, and
// which.
func (m *Matcher) Match(transcript string) (bool, string) {
	d, ok := m.Detect(transcript)
	return ok, d.Phrase
}

// Detect is Match with the deciding strategy.
func (m *Matcher) Detect(transcript string) (Detection, bool) {
	text := Normalize(transcript)
	if text == "" {
		return Detection{}, false
	}
	words := strings.Fields(text)

	// Strategies are tried across all phrases before moving on, so a strict
	// match of any phrase wins over a tolerant match of an earlier one.
	for _, p := range m.phrases {
		if strings.Contains(text, p.normalized) {
			return Detection{Phrase: p.original, Strategy: StrategySubstring}, true
		}
	}
	for _, p := range m.phrases {
		if prefixSubsequence(p.words, words) {
			return Detection{Phrase: p.original, Strategy: StrategyPrefix}, true
		}
	}
	for _, p := range m.phrases {
		if p.pattern.MatchString(text) {
			return Detection{Phrase: p.original, Strategy: StrategyVowel}, true
		}
	}
	if m.phoneticThreshold > 0 {
		for _, p := range m.phrases {
			if p.phonetic.matchWindows(words, m.phoneticThreshold) {
				return Detection{Phrase: p.original, Strategy: StrategyPhonetic}, true
			}
		}
	}
	return Detection{}, false
}

// Words returns the distinct normalized words of all phrases, for
// recognizer keyword boosting.
func (m *Matcher) Words() []string {
	var out []string
	seen := make(map[string]bool)
	for _, p := range m.phrases {
		for _, w := range p.words {
			if !seen[w] {
				seen[w] = true
				out = append(out, w)
			}
		}
	}
	return out
}

// prefixSubsequence reports whether each phrase word is a prefix of some
// transcript word, in order.
func prefixSubsequence(phrase, words []string) bool {
	i := 0
	for _, w := range words {
		if i == len(phrase) {
			break
		}
		if strings.HasPrefix(w, phrase[i]) {
			i++
		}
	}
	return i == len(phrase)
}

// vowelPattern builds a word-bounded pattern in which every run of the same
// Latin vowel matches one or more repetitions.
func vowelPattern(words []string) string {
	parts := make([]string, len(words))
	for i, w := range words {
		var b strings.Builder
		var prev rune
		for _, r := range w {
			if isVowel(r) {
				if r == prev {
					continue
				}
				b.WriteString(regexp.QuoteMeta(string(r)))
				b.WriteByte('+')
			} else {
				b.WriteString(regexp.QuoteMeta(string(r)))
			}
			prev = r
		}
		parts[i] = b.String()
	}
	return `(?:^| )` + strings.Join(parts, " +") + `(?: |$)`
}

func isVowel(r rune) bool {
	switch r {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}

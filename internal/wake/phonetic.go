package wake

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// phoneticPhrase holds the Double Metaphone codes of each phrase word.
type phoneticPhrase struct {
	words []string
	codes []map[string]struct{}
	full  string
}

func newPhoneticPhrase(words []string) phoneticPhrase {
	p := phoneticPhrase{words: words, full: strings.Join(words, "")}
	for _, w := range words {
		p.codes = append(p.codes, codes(w))
	}
	return p
}

// codes returns the non-empty Double Metaphone codes of a word.
func codes(word string) map[string]struct{} {
	out := make(map[string]struct{}, 2)
	primary, secondary := matchr.DoubleMetaphone(word)
	if primary != "" {
		out[primary] = struct{}{}
	}
	if secondary != "" {
		out[secondary] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// matchWindows slides a window of len(p.words) over the transcript words. A
// window matches when every word shares a phonetic code with its phrase word
// and the concatenated window is Jaro-Winkler similar to the phrase.
func (p phoneticPhrase) matchWindows(words []string, threshold float64) bool {
	n := len(p.words)
	for start := 0; start+n <= len(words); start++ {
		window := words[start : start+n]
		ok := true
		for i, w := range window {
			if w == p.words[i] {
				continue
			}
			if !overlap(p.codes[i], codes(w)) {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		if matchr.JaroWinkler(strings.Join(window, ""), p.full, false) >= threshold {
			return true
		}
	}
	return false
}

package wake

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// latinDiacritic matches the combining marks NFKD splits off accented Latin
// letters. Marks of other scripts (Devanagari vowel signs) are kept.
var latinDiacritic = runes.Predicate(func(r rune) bool {
	return r >= 0x0300 && r <= 0x036F
})

// Normalize lowercases s, folds Latin diacritics ("vāṇī" becomes "vani"),
// replaces everything that is not a letter or mark with a space, collapses
// whitespace and trims.
func Normalize(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(latinDiacritic), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	space := false
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsMark(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		space = true
	}
	return b.String()
}

package tts

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"
)

// SentenceBoundary returns the byte index of the first sentence-ending
// character ('.', '!', '?' or the Devanagari danda) that is either at the end
// of s or immediately followed by whitespace. Returns -1 if there is none.
//
// Abbreviations like "Dr.Who" or numbers like "3.14" are not boundaries.
func SentenceBoundary(s string) int {
	for i, r := range s {
		switch r {
		case '.', '!', '?', '।':
			next := i + utf8.RuneLen(r)
			if next >= len(s) {
				return i
			}
			if nr, _ := utf8.DecodeRuneInString(s[next:]); unicode.IsSpace(nr) {
				return i
			}
		}
	}
	return -1
}

// Sentences reads text fragments and emits complete, trimmed sentences. The
// remainder is flushed when text closes. The output closes when text closes
// or ctx is cancelled.
func Sentences(ctx context.Context, text <-chan string) <-chan string {
	out := make(chan string, 4)
	go func() {
		defer close(out)
		emit := func(s string) bool {
			if s == "" {
				return true
			}
			select {
			case out <- s:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var buf strings.Builder
		for {
			select {
			case fragment, ok := <-text:
				if !ok {
					emit(strings.TrimSpace(buf.String()))
					return
				}
				buf.WriteString(fragment)
				for {
					s := buf.String()
					idx := SentenceBoundary(s)
					if idx < 0 {
						break
					}
					_, size := utf8.DecodeRuneInString(s[idx:])
					buf.Reset()
					buf.WriteString(s[idx+size:])
					if !emit(strings.TrimSpace(s[:idx+size])) {
						return
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

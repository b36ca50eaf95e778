package tts

import (
	"context"
	"slices"
	"testing"
)

func TestSentenceBoundary(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"Hello world", -1},
		{"Hello.", 5},
		{"Hello. World", 5},
		{"Pi is 3.14 roughly", -1},
		{"Really? Yes!", 6},
		{"Dr.Who is here", -1},
		{"नमस्ते। आप", len("नमस्ते")},
		{"", -1},
	}
	for _, tc := range tests {
		if got := SentenceBoundary(tc.in); got != tc.want {
			t.Errorf("SentenceBoundary(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestSentences(t *testing.T) {
	text := make(chan string, 8)
	for _, f := range []string{"The answer ", "is on page 4. It shows", " a graph! And", " the rest"} {
		text <- f
	}
	close(text)

	var got []string
	for s := range Sentences(context.Background(), text) {
		got = append(got, s)
	}
	want := []string{"The answer is on page 4.", "It shows a graph!", "And the rest"}
	if !slices.Equal(got, want) {
		t.Errorf("Sentences = %q, want %q", got, want)
	}
}

func TestSentences_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	text := make(chan string)
	out := Sentences(ctx, text)
	cancel()
	for range out {
	}
}

func TestText(t *testing.T) {
	var got []string
	for s := range Text("hello") {
		got = append(got, s)
	}
	if !slices.Equal(got, []string{"hello"}) {
		t.Errorf("Text = %q", got)
	}
}

package wake_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/vaani/internal/wake"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"Hey, Vaani!", "hey vaani"},
		{"  hey\t\nvāṇī  ", "hey vani"},
		{"Café-Crème", "cafe creme"},
		{"OK 42 go", "ok go"},
		{"हे वाणी।", "हे वाणी"},
		{"...", ""},
	}
	for _, tc := range tests {
		if got := wake.Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNew_NoPhrases(t *testing.T) {
	t.Parallel()

	for _, phrases := range [][]string{nil, {""}, {"  ", "!!"}} {
		if _, err := wake.New(phrases); !errors.Is(err, wake.ErrNoPhrases) {
			t.Errorf("New(%q) err = %v, want ErrNoPhrases", phrases, err)
		}
	}
}

func TestMatcher_Detect(t *testing.T) {
	t.Parallel()

	m, err := wake.New([]string{"hey vaani", "ok vaani"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		transcript string
		want       bool
		phrase     string
		strategy   wake.Strategy
	}{
		{"um hey vaaniii can you", true, "hey vaani", wake.StrategySubstring},
		{"hey vanish", false, "", ""},
		{"Hey Vaani, what is this?", true, "hey vaani", wake.StrategySubstring},
		{"ok so vaanis turn", true, "ok vaani", wake.StrategyPrefix},
		{"hey there vaani", true, "hey vaani", wake.StrategyPrefix},
		{"hey vaaaanii", true, "hey vaani", wake.StrategyVowel},
		{"Hey, Vāṇī!", true, "hey vaani", wake.StrategyVowel},
		{"vaani hey", false, "", ""},
		{"hey", false, "", ""},
		{"", false, "", ""},
		{"hey vonnie", false, "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.transcript, func(t *testing.T) {
			d, ok := m.Detect(tc.transcript)
			if ok != tc.want {
				t.Fatalf("Detect(%q) ok = %v, want %v", tc.transcript, ok, tc.want)
			}
			if d.Phrase != tc.phrase || d.Strategy != tc.strategy {
				t.Errorf("Detect(%q) = %+v, want phrase %q strategy %q", tc.transcript, d, tc.phrase, tc.strategy)
			}
			detected, phrase := m.Match(tc.transcript)
			if detected != tc.want || phrase != tc.phrase {
				t.Errorf("Match(%q) = (%v, %q)", tc.transcript, detected, phrase)
			}
		})
	}
}

func TestMatcher_Phonetic(t *testing.T) {
	t.Parallel()

	m, err := wake.New([]string{"hey vaani"}, wake.WithPhonetic(0.8))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d, ok := m.Detect("um hey vonnie tell me")
	if !ok || d.Strategy != wake.StrategyPhonetic {
		t.Fatalf("Detect = %+v, %v; want phonetic match", d, ok)
	}
	if ok, _ := m.Match("hey vanish"); ok {
		t.Error("hey vanish must not match phonetically")
	}
}

func TestMatcher_PhoneticThresholdOutOfRange(t *testing.T) {
	t.Parallel()

	m, _ := wake.New([]string{"hey vaani"}, wake.WithPhonetic(1.5))
	if ok, _ := m.Match("hey vonnie"); ok {
		t.Error("an invalid threshold must leave the phonetic stage disabled")
	}
}

func TestMatcher_Devanagari(t *testing.T) {
	t.Parallel()

	m, err := wake.New([]string{"हे वाणी"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if ok, phrase := m.Match("अरे हे वाणी बताओ"); !ok || phrase != "हे वाणी" {
		t.Errorf("Match = %v, %q", ok, phrase)
	}
}

func TestMatcher_Words(t *testing.T) {
	t.Parallel()

	m, _ := wake.New([]string{"Hey Vaani", "ok vaani", "hey vaani"})
	if got, want := m.Words(), []string{"hey", "vaani", "ok"}; !slices.Equal(got, want) {
		t.Errorf("Words() = %v, want %v", got, want)
	}
}

package anchor

import (
	"strings"
	"testing"
)

func TestRectUnion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b Rect
		want Rect
	}{
		{"disjoint", Rect{0, 0, 10, 10}, Rect{20, 5, 10, 10}, Rect{0, 0, 30, 15}},
		{"contained", Rect{0, 0, 10, 10}, Rect{2, 2, 3, 3}, Rect{0, 0, 10, 10}},
		{"empty left", Rect{}, Rect{1, 2, 3, 4}, Rect{1, 2, 3, 4}},
		{"empty right", Rect{1, 2, 3, 4}, Rect{5, 5, 0, 9}, Rect{1, 2, 3, 4}},
	}
	for _, tc := range tests {
		if got := tc.a.Union(tc.b); got != tc.want {
			t.Errorf("%s: Union = %+v, want %+v", tc.name, got, tc.want)
		}
	}
}

func TestBuildIndex(t *testing.T) {
	t.Parallel()

	idx := BuildIndex(3, []Fragment{{Text: "The"}, {Text: "quick"}, {Text: "  Brown\t"}, {Text: "fox"}})
	if idx.Text != "the quick brown fox" {
		t.Fatalf("Text = %q", idx.Text)
	}
	want := []Span{{0, 3}, {4, 9}, {10, 15}, {16, 19}}
	for i, s := range idx.Spans {
		if s != want[i] {
			t.Errorf("span %d = %+v, want %+v", i, s, want[i])
		}
		if i > 0 && s.Start != idx.Spans[i-1].End+1 {
			t.Errorf("span %d not contiguous", i)
		}
	}
	if got := idx.fragmentText(2); got != "brown" {
		t.Errorf("fragmentText(2) = %q", got)
	}
}

func TestBuildIndex_BlankFragments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		fragments []string
		wantText  string
		wantSpans []Span
	}{
		{
			name:      "whitespace item between words",
			fragments: []string{" The quick", " ", "brown fox"},
			wantText:  "the quick brown fox",
			wantSpans: []Span{{0, 9}, {9, 9}, {10, 19}},
		},
		{
			name:      "leading and trailing blanks",
			fragments: []string{"", "\t", "fox", "  "},
			wantText:  "fox",
			wantSpans: []Span{{0, 0}, {0, 0}, {0, 3}, {3, 3}},
		},
		{
			name:      "consecutive blanks",
			fragments: []string{"a", " ", "", "b"},
			wantText:  "a b",
			wantSpans: []Span{{0, 1}, {1, 1}, {1, 1}, {2, 3}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			frags := make([]Fragment, len(tc.fragments))
			for i, f := range tc.fragments {
				frags[i] = Fragment{Text: f}
			}
			idx := BuildIndex(1, frags)
			if idx.Text != tc.wantText {
				t.Errorf("Text = %q, want %q", idx.Text, tc.wantText)
			}
			for i, s := range idx.Spans {
				if s != tc.wantSpans[i] {
					t.Errorf("span %d = %+v, want %+v", i, s, tc.wantSpans[i])
				}
				if i > 0 && s.Start < idx.Spans[i-1].End {
					t.Errorf("span %d starts before span %d ends", i, i-1)
				}
			}
		})
	}
}

func TestBuildIndex_RuneOffsets(t *testing.T) {
	t.Parallel()

	idx := BuildIndex(1, []Fragment{{Text: "नमस्ते"}, {Text: "दुनिया"}})
	span, ok := idx.find("दुनिया")
	if !ok {
		t.Fatal("find failed")
	}
	if span != idx.Spans[1] {
		t.Errorf("find = %+v, want %+v", span, idx.Spans[1])
	}
}

func TestOverlapping(t *testing.T) {
	t.Parallel()

	idx := BuildIndex(1, []Fragment{{Text: "abcdefgh"}, {Text: "ijklmnop"}, {Text: "xy"}, {Text: ""}})
	tests := []struct {
		match Span
		want  []int
	}{
		// Two runes of the first fragment are below the six rune minimum.
		{Span{6, 17}, []int{1}},
		{Span{0, 17}, []int{0, 1}},
		// Short fragments need only their own length.
		{Span{16, 20}, []int{2}},
		{Span{15, 16}, nil},
	}
	for _, tc := range tests {
		got := idx.overlapping(tc.match, DefaultMinOverlap)
		if !equalInts(got, tc.want) {
			t.Errorf("overlapping(%+v) = %v, want %v", tc.match, got, tc.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	if got := truncate("वाणी says hi", 4); got != "वाणी" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("short", 220); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	long := strings.Repeat("ab", 200)
	if got := truncate(long, DefaultSnippetLimit); len(got) != DefaultSnippetLimit {
		t.Errorf("len = %d", len(got))
	}
}

func TestStore(t *testing.T) {
	t.Parallel()

	s := NewStore()
	if _, ok := s.Index(1); ok {
		t.Fatal("unknown page indexed")
	}
	s.SetPage(2, []Fragment{{Text: "b"}})
	s.SetPage(1, []Fragment{{Text: "a"}})

	first, ok := s.Index(1)
	if !ok {
		t.Fatal("page 1 missing")
	}
	if again, _ := s.Index(1); again != first {
		t.Error("index rebuilt without a re-render")
	}

	s.SetPage(1, []Fragment{{Text: "re-rendered"}})
	fresh, _ := s.Index(1)
	if fresh == first || fresh.Text != "re-rendered" {
		t.Errorf("re-render not picked up: %q", fresh.Text)
	}

	if got := s.Pages(); !equalInts(got, []int{1, 2}) {
		t.Errorf("Pages() = %v", got)
	}
	s.RemovePage(2)
	if _, ok := s.Index(2); ok {
		t.Error("removed page still indexed")
	}
	s.Reset()
	if len(s.Pages()) != 0 {
		t.Error("Reset kept pages")
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

package text

import (
	"testing"
)

func TestILSpanContains(t *testing.T) {
	s := NewILSpan(10, 20)

	cases := []struct {
		offset int
		want   bool
	}{
		{9, false},
		{10, true},
		{19, true},
		{20, false},
	}
	for _, c := range cases {
		if got := s.Contains(c.offset); got != c.want {
			t.Errorf("Contains(%d) = %v, want %v", c.offset, got, c.want)
		}
	}
}

func TestILSpanIntersect(t *testing.T) {
	a := NewILSpan(0, 100)
	b := NewILSpan(50, 80)

	got := a.Intersect(b)
	if got != (ILSpan{Start: 50, End: 80}) {
		t.Errorf("Intersect = %v, want [50, 80)", got)
	}

	// Disjoint spans collapse to an empty span, never a reversed one.
	c := NewILSpan(200, 300)
	got = a.Intersect(c)
	if !got.Empty() {
		t.Errorf("disjoint Intersect = %v, want empty", got)
	}
}

func TestNewILSpanReversedPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for reversed span")
		}
	}()
	NewILSpan(5, 4)
}

func TestSpanCover(t *testing.T) {
	a := Span{Start: 10, End: 20}
	b := Span{Start: 5, End: 15}

	got := a.Cover(b)
	if got != (Span{Start: 5, End: 20}) {
		t.Errorf("Cover = %v", got)
	}
}

func TestGroupLineEdits(t *testing.T) {
	// Out-of-order insertion across two files.
	paths := []string{"b.go", "a.go", "b.go", "a.go", "b.go"}
	edits := []LineEdit{
		{OldLine: 30, NewLine: 31},
		{OldLine: 7, NewLine: 8},
		{OldLine: 2, NewLine: 2},
		{OldLine: 1, NewLine: 1},
		{OldLine: 2, NewLine: 3}, // duplicate oldLine, last wins
	}

	groups := GroupLineEdits(paths, edits)

	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	if groups[0].Path != "a.go" || groups[1].Path != "b.go" {
		t.Errorf("groups not ordered by path: %q, %q", groups[0].Path, groups[1].Path)
	}

	a := groups[0].Edits
	if len(a) != 2 || a[0].OldLine != 1 || a[1].OldLine != 7 {
		t.Errorf("a.go edits not sorted by old line: %v", a)
	}

	b := groups[1].Edits
	if len(b) != 2 || b[0].OldLine != 2 || b[1].OldLine != 30 {
		t.Errorf("b.go edits wrong: %v", b)
	}
	if b[0].NewLine != 3 {
		t.Errorf("duplicate entry should keep last occurrence, got NewLine=%d", b[0].NewLine)
	}
}

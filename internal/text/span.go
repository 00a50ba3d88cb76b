// Package text provides the span and line-edit value types shared by the
// analysis engine. Instruction spans are half-open [Start, End) ranges over
// an abstract instruction-offset axis; source spans are half-open byte
// ranges in a document snapshot.
package text

import "fmt"

// ILSpan is a half-open range [Start, End) of instruction offsets.
type ILSpan struct {
	Start int
	End   int
}

// NewILSpan returns the span [start, end). Panics when end < start; a
// reversed span is always a caller bug.
func NewILSpan(start, end int) ILSpan {
	if end < start {
		panic(fmt.Sprintf("text: reversed instruction span [%d, %d)", start, end))
	}
	return ILSpan{Start: start, End: end}
}

// Contains reports whether offset falls inside the span.
func (s ILSpan) Contains(offset int) bool {
	return offset >= s.Start && offset < s.End
}

// Empty reports whether the span covers no offsets.
func (s ILSpan) Empty() bool {
	return s.Start == s.End
}

// Len returns the number of offsets covered.
func (s ILSpan) Len() int {
	return s.End - s.Start
}

// Intersect returns the overlap of two spans. A non-overlapping pair
// yields an empty span anchored at the clamp point.
func (s ILSpan) Intersect(other ILSpan) ILSpan {
	out := s
	if other.Start > out.Start {
		out.Start = other.Start
	}
	if other.End < out.End {
		out.End = other.End
	}
	if out.End < out.Start {
		out.End = out.Start
	}
	return out
}

func (s ILSpan) String() string {
	return fmt.Sprintf("[%d, %d)", s.Start, s.End)
}

// Span is a half-open byte range in a document snapshot.
type Span struct {
	Start int
	End   int
}

// Contains reports whether offset falls inside the span.
func (s Span) Contains(offset int) bool {
	return offset >= s.Start && offset < s.End
}

// ContainsSpan reports whether other lies entirely inside s.
func (s Span) ContainsSpan(other Span) bool {
	return other.Start >= s.Start && other.End <= s.End
}

// Overlaps reports whether the two spans share at least one byte.
func (s Span) Overlaps(other Span) bool {
	return s.Start < other.End && other.Start < s.End
}

// Cover returns the smallest span containing both s and other.
func (s Span) Cover(other Span) Span {
	if other.Start < s.Start {
		s.Start = other.Start
	}
	if other.End > s.End {
		s.End = other.End
	}
	return s
}

func (s Span) String() string {
	return fmt.Sprintf("%d-%d", s.Start, s.End)
}

// Location is a position in source, 1-indexed, used in diagnostics.
type Location struct {
	Path   string `json:"path"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d:%d", l.Path, l.Line, l.Column)
}

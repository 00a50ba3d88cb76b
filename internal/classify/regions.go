package classify

import (
	"sort"

	"hotpatch/internal/oracle"
	"hotpatch/internal/text"
)

// ExceptionRegions returns the minimal set of handler spans protecting
// the given active statement: every handler whose enclosing try-like
// statement contains the statement contributes its span, and nested or
// overlapping spans are merged so the union is covered by the smallest
// number of spans.
func ExceptionRegions(active text.Span, handlers []oracle.HandlerRegion) []text.Span {
	var relevant []text.Span
	for _, h := range handlers {
		if h.Enclosing.ContainsSpan(active) {
			relevant = append(relevant, h.Handler)
		}
	}
	return mergeSpans(relevant)
}

// mergeSpans collapses overlapping and nested spans into their minimal
// covering set, sorted by start offset.
func mergeSpans(spans []text.Span) []text.Span {
	if len(spans) == 0 {
		return nil
	}

	sorted := make([]text.Span, len(spans))
	copy(sorted, spans)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End > sorted[j].End
	})

	out := []text.Span{sorted[0]}
	for _, s := range sorted[1:] {
		last := &out[len(out)-1]
		if s.Start <= last.End {
			if s.End > last.End {
				last.End = s.End
			}
			continue
		}
		out = append(out, s)
	}
	return out
}

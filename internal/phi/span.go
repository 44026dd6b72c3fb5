package phi

// Span is a half-open [Start, End) range.
type Span struct {
	Start int
	End   int
}

// Len is the span length.
func (s Span) Len() int {
	return s.End - s.Start
}

// Overlaps reports whether the two spans share at least one position.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// OverlapFraction is the intersection length divided by the union length of
// the two spans. The denominator is floored at 1.
func OverlapFraction(a, b Span) float64 {
	inter := min(a.End, b.End) - max(a.Start, b.Start)
	if inter < 0 {
		inter = 0
	}
	denom := max(a.End, b.End) - min(a.Start, b.Start)
	if denom < 1 {
		denom = 1
	}
	return float64(inter) / float64(denom)
}

// SpanSet tracks accepted spans for one resolution sub-category.
type SpanSet struct {
	spans []Span
	limit float64
}

// NewSpanSet creates a set that rejects spans overlapping an accepted span by
// more than limit.
func NewSpanSet(limit float64) *SpanSet {
	return &SpanSet{limit: limit}
}

// Conflicts reports whether s overlaps any accepted span beyond the limit.
func (ss *SpanSet) Conflicts(s Span) bool {
	for _, accepted := range ss.spans {
		if OverlapFraction(s, accepted) > ss.limit {
			return true
		}
	}
	return false
}

// TryAdd accepts s unless it conflicts.
func (ss *SpanSet) TryAdd(s Span) bool {
	if ss.Conflicts(s) {
		return false
	}
	ss.spans = append(ss.spans, s)
	return true
}

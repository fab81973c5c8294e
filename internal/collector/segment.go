package collector

// Segment is a candidate block sub-range awaiting a fetch attempt.
// From <= To always holds for segments produced by Split.
type Segment struct {
	From    uint64
	To      uint64
	Attempt int
}

// Span returns the inclusive block count of the segment.
func (s Segment) Span() uint64 {
	return s.To - s.From + 1
}

// Split divides the segment at its midpoint into two disjoint children whose
// union equals the parent. Attempt counters reset so each child gets a fresh
// retry budget.
func (s Segment) Split() (Segment, Segment) {
	mid := s.From + (s.To-s.From)/2
	return Segment{From: s.From, To: mid}, Segment{From: mid + 1, To: s.To}
}

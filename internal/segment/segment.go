// Package segment implements the interval algebra the windowed list
// cache (internal/listcache) uses to decide between scroll-fill, full
// refill and hint-ahead (spec.md §4.3).
package segment

// Kind classifies how two segments overlap.
type Kind int

const (
	// Disjoint means the two segments share no indices.
	Disjoint Kind = iota
	// Equal means both segments cover exactly the same indices.
	Equal
	// IncludedInOther means the receiver is a proper subset of the argument.
	IncludedInOther
	// CenterRemains means the argument is a proper subset of the receiver,
	// strictly inside it (neither edge aligns).
	CenterRemains
	// TopRemains means only the top part of the receiver is not covered
	// by the argument (the argument covers the receiver's bottom).
	TopRemains
	// BottomRemains means only the bottom part of the receiver is not
	// covered by the argument (the argument covers the receiver's top).
	BottomRemains
)

func (k Kind) String() string {
	switch k {
	case Disjoint:
		return "DISJOINT"
	case Equal:
		return "EQUAL"
	case IncludedInOther:
		return "INCLUDED_IN_OTHER"
	case CenterRemains:
		return "CENTER_REMAINS"
	case TopRemains:
		return "TOP_REMAINS"
	case BottomRemains:
		return "BOTTOM_REMAINS"
	default:
		return "UNKNOWN"
	}
}

// Segment is the half-open interval [Line, Line+Count).
type Segment struct {
	Line  int
	Count int
}

// New builds a segment, clamping a negative count to zero.
func New(line, count int) Segment {
	if count < 0 {
		count = 0
	}
	return Segment{Line: line, Count: count}
}

// Empty reports whether the segment covers no indices.
func (s Segment) Empty() bool { return s.Count <= 0 }

// End is the exclusive end of the segment.
func (s Segment) End() int { return s.Line + s.Count }

// Contains reports whether line falls within the segment.
func (s Segment) Contains(line int) bool {
	return !s.Empty() && line >= s.Line && line < s.End()
}

// Result is the outcome of intersecting two segments: the classification
// and the size of the overlap.
type Result struct {
	Kind    Kind
	Overlap int
}

// Intersect classifies how a relates to b and returns the overlap size,
// per spec.md §4.3's exact case list.
func (a Segment) Intersect(b Segment) Result {
	if a.Empty() || b.Empty() {
		// An empty segment "contains" the other only when its own
		// (zero-width) start lies strictly inside the other segment;
		// this is the refill-bookkeeping special case spec.md calls
		// out explicitly.
		if a.Empty() && !b.Empty() && b.Line < a.Line && a.Line < b.End() {
			return Result{Kind: IncludedInOther, Overlap: 0}
		}
		if b.Empty() && !a.Empty() && a.Line < b.Line && b.Line < a.End() {
			return Result{Kind: CenterRemains, Overlap: 0}
		}
		return Result{Kind: Disjoint, Overlap: 0}
	}

	if a.Line == b.Line && a.Count == b.Count {
		return Result{Kind: Equal, Overlap: a.Count}
	}

	if a.Line >= b.Line && a.End() <= b.End() {
		// a is fully inside b (proper, since Equal was already handled).
		return Result{Kind: IncludedInOther, Overlap: a.Count}
	}

	if b.Line >= a.Line && b.End() <= a.End() {
		// b is fully inside a (proper).
		return Result{Kind: CenterRemains, Overlap: b.Count}
	}

	// Partial overlap: figure out which side remains uncovered.
	//
	// a starts before b and a's tail overlaps b's head: a's top (its
	// start) is untouched, a's bottom is covered by the overlap, so a's
	// top "remains" relative to the overlap location -> TOP_REMAINS.
	if a.Line < b.Line && a.End() > b.Line && a.End() <= b.End() {
		overlap := a.End() - b.Line
		return Result{Kind: TopRemains, Overlap: overlap}
	}

	// b starts before a and b's tail overlaps a's head: a's bottom
	// remains uncovered -> BOTTOM_REMAINS.
	if b.Line < a.Line && b.End() > a.Line && b.End() <= a.End() {
		overlap := b.End() - a.Line
		return Result{Kind: BottomRemains, Overlap: overlap}
	}

	return Result{Kind: Disjoint, Overlap: 0}
}

// Mirror returns the classification b.Intersect(a) would yield given
// a.Intersect(b) == k, without recomputing the intersection. Equal and
// Disjoint are self-mirrors; IncludedInOther/CenterRemains swap with each
// other, and TopRemains/BottomRemains swap with each other.
func Mirror(k Kind) Kind {
	switch k {
	case IncludedInOther:
		return CenterRemains
	case CenterRemains:
		return IncludedInOther
	case TopRemains:
		return BottomRemains
	case BottomRemains:
		return TopRemains
	default:
		return k
	}
}

// Gap returns the contiguous range of indices that must be fetched to
// grow `have` into a window that also covers `want`, assuming the two
// segments are within scroll-fill distance (caller's responsibility to
// check). Returns ok=false if have already covers want.
func Gap(have, want Segment) (gap Segment, ok bool) {
	res := have.Intersect(want)
	switch res.Kind {
	case Equal, CenterRemains:
		return Segment{}, false
	case IncludedInOther:
		// have lies inside want: fetch the side of want that have does
		// not reach, or all of want when it sticks out on both sides.
		switch {
		case have.Line == want.Line:
			return New(have.End(), want.End()-have.End()), true
		case have.End() == want.End():
			return New(want.Line, have.Line-want.Line), true
		default:
			return want, true
		}
	case Disjoint:
		return want, true
	case TopRemains:
		// have starts before want and have's tail overlaps want's head:
		// the new data needed is want's portion past have's end.
		return New(have.End(), want.End()-have.End()), true
	case BottomRemains:
		// want starts before have and want's tail overlaps have's
		// head: the new data needed is want's portion before have's
		// start.
		return New(want.Line, have.Line-want.Line), true
	default:
		return want, true
	}
}

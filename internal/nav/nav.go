// Package nav implements cursor, selection and wrap-mode navigation
// over a filtered list (spec.md §4.4, component C5).
package nav

// WrapMode controls what happens when a movement would step past
// either end of the list.
type WrapMode int

const (
	WrapNone WrapMode = iota
	WrapToTop
	WrapToBottom
	WrapFull
)

func (w WrapMode) String() string {
	switch w {
	case WrapNone:
		return "none"
	case WrapToTop:
		return "wrap-to-top"
	case WrapToBottom:
		return "wrap-to-bottom"
	case WrapFull:
		return "full"
	default:
		return "unknown"
	}
}

// Filter owns per-item visibility/selectability flags over a list of a
// given size. It must report consistency violations through
// EnsureConsistency so Nav can recover the cursor.
type Filter interface {
	IsVisible(line int) bool
	IsSelectable(line int) bool
	// EnsureConsistency re-validates the filter's cached bookkeeping
	// (first/last selectable/visible indices) against the current list
	// size and reports whether the previously held cursor position is
	// still valid.
	EnsureConsistency(listSize int) (cursorStillValid bool)
}

// acceptAll is the default filter used when the caller passes nil: every
// line in range is both visible and selectable.
type acceptAll struct{}

func (acceptAll) IsVisible(line int) bool                       { return true }
func (acceptAll) IsSelectable(line int) bool                    { return true }
func (acceptAll) EnsureConsistency(listSize int) (valid bool) { return true }

// Nav is one filtered view's cursor/selection/wrap-mode state (spec.md
// §4.4).
type Nav struct {
	listSize       int
	maxLines       int
	wrap           WrapMode
	cursor         int
	firstDisplayed int
	selectedLine   int
	filter         Filter
}

// New creates a Nav over a list of listSize items, displaying at most
// maxLines at a time. A nil filter means every item is visible and
// selectable.
func New(listSize, maxLines int, wrap WrapMode, filter Filter) *Nav {
	if filter == nil {
		filter = acceptAll{}
	}
	if maxLines < 1 {
		maxLines = 1
	}
	n := &Nav{listSize: listSize, maxLines: maxLines, wrap: wrap, filter: filter}
	n.CheckSelection()
	return n
}

// Cursor returns the absolute item index the cursor sits on.
func (n *Nav) Cursor() int { return n.cursor }

// FirstDisplayed returns the absolute index of the first item shown.
func (n *Nav) FirstDisplayed() int { return n.firstDisplayed }

// SelectedLine returns the screen-relative row the cursor occupies.
func (n *Nav) SelectedLine() int { return n.selectedLine }

// SetListSize updates the underlying list size, e.g. after a
// ListInvalidate rebind, and re-anchors the cursor.
func (n *Nav) SetListSize(size int) {
	n.listSize = size
	n.CheckSelection()
}

// GetTotalNumberOfVisibleItems counts every visible index in [0,listSize).
func (n *Nav) GetTotalNumberOfVisibleItems() int {
	count := 0
	for i := 0; i < n.listSize; i++ {
		if n.filter.IsVisible(i) {
			count++
		}
	}
	return count
}

// Begin is the absolute index of the first displayed item.
func (n *Nav) Begin() int { return n.firstDisplayed }

// End is the exclusive absolute index bounding the displayed window:
// Begin()..End() yields at most maxLines consecutive visible indices.
func (n *Nav) End() int {
	line := n.firstDisplayed
	shown := 0
	for line < n.listSize && shown < n.maxLines {
		if n.filter.IsVisible(line) {
			shown++
		}
		line++
	}
	return line
}

func (n *Nav) firstSelectable() (int, bool) {
	for i := 0; i < n.listSize; i++ {
		if n.filter.IsSelectable(i) {
			return i, true
		}
	}
	return 0, false
}

func (n *Nav) lastSelectable() (int, bool) {
	for i := n.listSize - 1; i >= 0; i-- {
		if n.filter.IsSelectable(i) {
			return i, true
		}
	}
	return 0, false
}

// nextSelectable scans from line (exclusive) in direction dir (+1/-1)
// for the next selectable index within [0,listSize).
func (n *Nav) nextSelectable(line, dir int) (int, bool) {
	for i := line + dir; i >= 0 && i < n.listSize; i += dir {
		if n.filter.IsSelectable(i) {
			return i, true
		}
	}
	return 0, false
}

func (n *Nav) countVisibleBetween(from, to int) int {
	count := 0
	for i := from; i < to; i++ {
		if n.filter.IsVisible(i) {
			count++
		}
	}
	return count
}

// move steps the cursor n times in direction dir, applying wrap as a
// single final hop if the movement overshoots an end. Returns whether
// the cursor changed.
func (n *Nav) move(count, dir int) bool {
	if count == 0 {
		return false
	}

	cur := n.cursor
	moved := false
	for i := 0; i < count; i++ {
		next, ok := n.nextSelectable(cur, dir)
		if !ok {
			wraps := (dir > 0 && (n.wrap == WrapToTop || n.wrap == WrapFull)) ||
				(dir < 0 && (n.wrap == WrapToBottom || n.wrap == WrapFull))
			if !wraps {
				break
			}
			var edge int
			var hasEdge bool
			if dir > 0 {
				edge, hasEdge = n.firstSelectable()
			} else {
				edge, hasEdge = n.lastSelectable()
			}
			if hasEdge && edge != cur {
				cur = edge
				moved = true
			}
			break
		}
		cur = next
		moved = true
	}

	if !moved {
		return false
	}
	n.cursor = cur
	n.recomputeWindow(dir)
	return true
}

// recomputeWindow re-anchors firstDisplayed/selectedLine after the
// cursor changed by an incremental step in direction dir.
func (n *Nav) recomputeWindow(dir int) {
	if n.cursor < n.firstDisplayed {
		n.firstDisplayed = n.cursor
	}
	for n.countVisibleBetween(n.firstDisplayed, n.cursor) >= n.maxLines {
		next, ok := n.nextSelectableVisible(n.firstDisplayed)
		if !ok {
			break
		}
		n.firstDisplayed = next
	}
	n.selectedLine = n.countVisibleBetween(n.firstDisplayed, n.cursor)
}

// nextSelectableVisible finds the next visible index strictly after
// line, used to advance the display window by one row.
func (n *Nav) nextSelectableVisible(line int) (int, bool) {
	for i := line + 1; i < n.listSize; i++ {
		if n.filter.IsVisible(i) {
			return i, true
		}
	}
	return 0, false
}

// Down moves the selection forward by count selectable items. Returns
// true if anything visible changed.
func (n *Nav) Down(count int) bool { return n.move(count, +1) }

// Up moves the selection backward by count selectable items. Returns
// true if anything visible changed.
func (n *Nav) Up(count int) bool { return n.move(count, -1) }

// SetCursorByLineNumber jumps the cursor to the nearest selectable item
// at or after line, re-centring the display window around it when the
// list is longer than the screen (spec.md §4.4).
func (n *Nav) SetCursorByLineNumber(line int) bool {
	if line < 0 {
		line = 0
	}
	if line >= n.listSize {
		line = n.listSize - 1
	}
	if line < 0 {
		return false
	}

	target := line
	if !n.filter.IsSelectable(target) {
		if nx, ok := n.nextSelectable(target-1, +1); ok {
			target = nx
		} else if pv, ok := n.nextSelectable(target, -1); ok {
			target = pv
		} else {
			return false
		}
	}

	changed := target != n.cursor
	n.cursor = target

	if n.listSize > n.maxLines {
		half := n.maxLines / 2
		first := n.cursor - half
		if first < 0 {
			first = 0
		}
		if first > n.listSize-n.maxLines {
			first = n.listSize - n.maxLines
		}
		n.firstDisplayed = first
	} else {
		n.firstDisplayed = 0
	}
	n.selectedLine = n.countVisibleBetween(n.firstDisplayed, n.cursor)
	return changed
}

// CheckSelection re-anchors the cursor to the nearest selectable item
// after the filter or underlying list changed (spec.md §4.4). Returns
// true if the cursor moved.
func (n *Nav) CheckSelection() bool {
	n.filter.EnsureConsistency(n.listSize)

	if n.listSize == 0 {
		n.cursor, n.firstDisplayed, n.selectedLine = 0, 0, 0
		return false
	}

	if n.cursor >= n.listSize {
		n.cursor = n.listSize - 1
	}
	if n.firstDisplayed > n.cursor {
		n.firstDisplayed = n.cursor
	}

	if n.filter.IsSelectable(n.cursor) {
		n.recomputeWindow(+1)
		return false
	}

	if nx, ok := n.nextSelectable(n.cursor, +1); ok {
		n.cursor = nx
	} else if pv, ok := n.nextSelectable(n.cursor, -1); ok {
		n.cursor = pv
	} else {
		n.cursor = 0
	}
	n.recomputeWindow(+1)
	return true
}

// Package listcache implements the windowed list cache (spec.md §4.2,
// component C4): a synchronous-looking random-access view over a
// possibly-unbounded broker-served list, backed by a sliding window of
// at most W items.
package listcache

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tplusa/drcpd/internal/broker"
	"github.com/tplusa/drcpd/internal/ids"
	"github.com/tplusa/drcpd/internal/rnf"
	"github.com/tplusa/drcpd/internal/segment"
	"github.com/tplusa/drcpd/internal/streaminfo"
)

// OpResult is the outcome of a cache operation (spec.md §4.2).
type OpResult int

const (
	Succeeded OpResult = iota
	Started
	Busy
	Failed
	Canceled
)

func (r OpResult) String() string {
	switch r {
	case Succeeded:
		return "SUCCEEDED"
	case Started:
		return "STARTED"
	case Busy:
		return "BUSY"
	case Failed:
		return "FAILED"
	case Canceled:
		return "CANCELED"
	default:
		return "UNKNOWN"
	}
}

// Direction is the direction a hinted access looks ahead in.
type Direction int

const (
	Forward Direction = iota
	Backward
)

// CallerID names why an EnterList happened, mirroring the C++ source's
// distinction between a first entry, a position reset and a
// descend/ascend triggered by the crawler (spec.md §4.5).
type CallerID int

const (
	CallerFirstEntry CallerID = iota
	CallerResetPosition
	CallerDescend
	CallerAscend
)

// BitrateCapper caps preloaded bitrate metadata at read time, per the
// `maximum_stream_bit_rate` configuration key (SPEC_FULL.md §3).
type BitrateCapper interface {
	Cap(kbps int, has bool) (int, bool)
}

// NoCap is a BitrateCapper that never caps.
type NoCap struct{}

func (NoCap) Cap(kbps int, has bool) (int, bool) { return kbps, has }

type slot struct {
	item  broker.Item
	valid bool
}

type hintWaiter struct {
	line int
	cb   func(error)
}

type itemWaiter struct {
	line int
	cb   func(*broker.Item, error)
}

type inflight struct {
	seg         segment.Segment // the range actually requested from the broker
	final       segment.Segment // the window the cache should settle into once seg lands
	call        *rnf.Call[broker.RangeResult]
	itemWaiters []itemWaiter
	hintWaiters []hintWaiter
}

// Cache is one navigation view's window over one list at a time. A new
// Cache is created when a view first enters a list and discarded when
// the view is torn down (spec.md §3 "Lifecycles").
type Cache struct {
	mu sync.Mutex

	bus      broker.Bus
	log      zerolog.Logger
	w        int // prefetch window size
	capper   BitrateCapper
	registry *rnf.Registry
	refs     *streaminfo.RefSet

	bound     ids.BoundList
	firstLine int
	size      int // -1 == unknown
	slots     []slot

	pending *inflight

	nextEpoch *ids.Epoch // shared counter across clones sharing a binding source
}

// New creates an empty, unbound cache instance with prefetch size w.
// registry is the cookie dispatch table a bus binding (internal/dbusbus)
// drives; it may be nil in tests that never complete an async fetch.
// refs is the reference-counted list-id set Reserve/Release operate on
// (SPEC_FULL.md §4.9); pass the same *streaminfo.RefSet the stream info
// registry (C7) was built with so the two share bookkeeping, or nil if
// this cache never needs to pin a list against discard.
func New(bus broker.Bus, log zerolog.Logger, w int, capper BitrateCapper, registry *rnf.Registry, refs *streaminfo.RefSet) *Cache {
	if capper == nil {
		capper = NoCap{}
	}
	e := ids.Epoch(0)
	return &Cache{
		bus:       bus,
		log:       log,
		w:         w,
		capper:    capper,
		registry:  registry,
		refs:      refs,
		size:      -1,
		nextEpoch: &e,
	}
}

// Reserve marks list as still in use, so it is not discarded eagerly by
// whatever owns its backing storage even after this cache's own window
// moves away from it. A no-op if the cache was built without a shared
// RefSet.
func (c *Cache) Reserve(list ids.ListID) {
	if c.refs != nil {
		c.refs.Ref(list)
	}
}

// Release drops a reservation previously taken with Reserve.
func (c *Cache) Release(list ids.ListID) {
	if c.refs != nil {
		c.refs.Unref(list)
	}
}

// GetListID returns the currently bound list id, or ids.InvalidListID.
func (c *Cache) GetListID() ids.ListID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bound.ID
}

// GetNumberOfItems returns the cached total item count, or 0 if unknown.
func (c *Cache) GetNumberOfItems() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.size < 0 {
		return 0
	}
	return c.size
}

// Empty reports whether the bound list has zero items.
func (c *Cache) Empty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size == 0
}

// Window is a point-in-time read of the cache's current list binding and
// the portion of it already resident, for internal/automation's
// get_cache_window and internal/monitor's dashboard.
type Window struct {
	ListID     ids.ListID
	TotalItems int
	FirstLine  int
	Items      []broker.Item
}

// WindowSnapshot copies the cache's current binding and resident slots.
// Items holds only the slots already filled in; a line with no item yet
// (still in flight, or past what's been fetched) is simply absent.
func (c *Cache) WindowSnapshot() Window {
	c.mu.Lock()
	defer c.mu.Unlock()

	items := make([]broker.Item, 0, len(c.slots))
	for _, sl := range c.slots {
		if sl.valid {
			items = append(items, sl.item)
		}
	}
	total := c.size
	if total < 0 {
		total = 0
	}
	return Window{ListID: c.bound.ID, TotalItems: total, FirstLine: c.firstLine, Items: items}
}

func (c *Cache) bumpEpoch() ids.Epoch {
	*c.nextEpoch++
	return *c.nextEpoch
}

// EnterList binds the cache to list, with the window anchored at
// startLine. Same (list, startLine) as the current binding is a
// synchronous no-op (spec.md §4.2).
func (c *Cache) EnterList(ctx context.Context, list ids.ListID, startLine int, caller CallerID, title string) (OpResult, error) {
	c.mu.Lock()
	if c.bound.ID == list && c.firstLine == startLine && c.size >= 0 {
		c.mu.Unlock()
		return Succeeded, nil
	}
	c.mu.Unlock()

	res, errCode := c.bus.CheckRange(ctx, list, 0, 0)
	if errCode != broker.ErrOK {
		c.log.Warn().Stringer("list", list).Str("err", errCode.Error()).Msg("listcache: enter_list size query failed")
		return Failed, errCode
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelPendingLocked()

	c.bound = ids.BoundList{ID: list, Epoch: c.bumpEpoch()}
	c.firstLine = startLine
	c.size = res.Size
	c.slots = nil
	return Succeeded, nil
}

// windowSegmentLocked returns the segment the current window occupies.
func (c *Cache) windowSegmentLocked() segment.Segment {
	return segment.New(c.firstLine, len(c.slots))
}

// GetItemAsync returns the item at line if it is already in the window
// (SUCCEEDED), triggers a fetch and returns STARTED if not, or
// SUCCEEDED with a nil item if line is out of range or the list is
// empty (spec.md §4.2 contracts). onReady is invoked exactly once, only
// when STARTED is returned, once the window covers line (or fails).
func (c *Cache) GetItemAsync(ctx context.Context, line int, onReady func(*broker.Item, error)) (OpResult, *broker.Item) {
	c.mu.Lock()

	if c.size == 0 || line < 0 || (c.size >= 0 && line >= c.size) {
		c.mu.Unlock()
		return Succeeded, nil
	}

	if item, _ := c.lookupLocked(line); item != nil {
		c.mu.Unlock()
		return Succeeded, item
	}

	want := segment.New(line, 1)
	c.startFetchLocked(ctx, want, itemWaiter{line: line, cb: onReady}, nil)
	c.mu.Unlock()
	return Started, nil
}

// HintPlannedAccess ensures the item at referenceLine (computed by the
// caller as "next in direction") is cached, without ever triggering a
// full refill (spec.md §4.2, hint-ahead).
func (c *Cache) HintPlannedAccess(ctx context.Context, referenceLine int, dir Direction, onReady func(error)) OpResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.size == 0 || referenceLine < 0 || (c.size >= 0 && referenceLine >= c.size) {
		return Succeeded
	}

	if idx := referenceLine - c.firstLine; idx >= 0 && idx < len(c.slots) && c.slots[idx].valid {
		return Succeeded
	}

	want := segment.New(referenceLine, 1)
	have := c.windowSegmentLocked()
	if !c.withinScrollDistance(have, want) {
		// Hint-ahead never performs a full refill.
		return Succeeded
	}
	target := c.targetWindowLocked(have, referenceLine)
	if _, ok := segment.Gap(have, target); !ok {
		return Succeeded
	}

	c.log.Debug().Int("line", referenceLine).Str("dir", dir.String()).Msg("listcache: hint-ahead fetch")
	c.startFetchLocked(ctx, want, itemWaiter{}, &hintWaiter{line: referenceLine, cb: onReady})
	return Started
}

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// targetWindowLocked returns the full w-wide window that should replace
// have so it contains line, sliding the minimum distance from have's
// current position: just far enough forward if line sits past the end,
// just far enough back if line sits before the start, unchanged if
// line is already inside have. Caller must hold c.mu.
func (c *Cache) targetWindowLocked(have segment.Segment, line int) segment.Segment {
	newLine := have.Line
	switch {
	case line < have.Line:
		newLine = line
	case line >= have.End():
		newLine = line - c.w + 1
	default:
		return have
	}
	if newLine < 0 {
		newLine = 0
	}
	count := c.w
	if c.size >= 0 && newLine+count > c.size {
		count = c.size - newLine
		if count < 0 {
			count = 0
		}
	}
	return segment.New(newLine, count)
}

func (c *Cache) withinScrollDistance(have, want segment.Segment) bool {
	if have.Empty() {
		return false
	}
	if want.Line < have.Line {
		return have.Line-want.Line <= c.w
	}
	if want.Line >= have.End() {
		return want.Line-have.End()+1 <= c.w
	}
	return true
}

// startFetchLocked decides between scroll-fill and full refill for
// `want`, coalescing into any already-pending fetch when possible.
// Caller must hold c.mu.
func (c *Cache) startFetchLocked(ctx context.Context, want segment.Segment, iw itemWaiter, hw *hintWaiter) {
	if c.pending != nil {
		if res := c.pending.seg.Intersect(want); res.Kind != segment.Disjoint {
			if iw.cb != nil {
				c.pending.itemWaiters = append(c.pending.itemWaiters, iw)
			}
			if hw != nil {
				c.pending.hintWaiters = append(c.pending.hintWaiters, *hw)
			}
			return
		}
		// Not coalescable: queue behind the pending fetch; it will be
		// reconsidered when the pending fetch completes.
		if iw.cb != nil {
			c.pending.itemWaiters = append(c.pending.itemWaiters, itemWaiter{line: -1, cb: func(*broker.Item, error) {
				c.mu.Lock()
				defer c.mu.Unlock()
				c.startFetchLocked(ctx, want, iw, nil)
			}})
		}
		if hw != nil {
			hwCopy := *hw
			c.pending.hintWaiters = append(c.pending.hintWaiters, hintWaiter{line: -1, cb: func(error) {
				c.mu.Lock()
				defer c.mu.Unlock()
				c.startFetchLocked(ctx, want, itemWaiter{}, &hwCopy)
			}})
		}
		return
	}

	have := c.windowSegmentLocked()
	var fetchSeg, final segment.Segment
	if !have.Empty() && c.withinScrollDistance(have, want) {
		target := c.targetWindowLocked(have, want.Line)
		gap, ok := segment.Gap(have, target)
		if !ok {
			// Already covered by the window; resolve immediately
			// instead of issuing a pointless fetch.
			if iw.cb != nil {
				iw.cb(c.lookupLocked(want.Line))
			}
			if hw != nil {
				hw.cb(nil)
			}
			return
		}
		fetchSeg = gap
		final = target
	} else {
		count := c.w
		if c.size >= 0 && want.Line+count > c.size {
			count = c.size - want.Line
		}
		fetchSeg = segment.New(want.Line, count)
		final = fetchSeg
	}

	call := rnf.New[broker.RangeResult](c.log)
	inf := &inflight{seg: fetchSeg, final: final, call: call}
	if iw.cb != nil {
		inf.itemWaiters = append(inf.itemWaiters, iw)
	}
	if hw != nil {
		inf.hintWaiters = append(inf.hintWaiters, *hw)
	}
	c.pending = inf

	cookie, err := c.bus.GetRange(ctx, c.bound.ID, fetchSeg.Line, fetchSeg.Count)
	if err != nil {
		c.failPendingLocked(inf, err)
		return
	}
	call.Request(uint32(cookie))
	if c.registry != nil {
		rnf.RegisterCall(c.registry, uint32(cookie), call)
	}
	boundAtRequest := c.bound

	go c.awaitFetch(ctx, call, inf, boundAtRequest, fetchSeg)
}

// awaitFetch blocks on the call's reply and then posts the result back
// onto the cache by re-acquiring the mutex; this is the "bus-thread
// posts a deferred call to the main context" pattern from spec.md §5,
// simplified to a direct mutex handoff since this package has no
// separate main-loop goroutine of its own (internal/loop supplies that
// for the daemon as a whole).
func (c *Cache) awaitFetch(ctx context.Context, call *rnf.Call[broker.RangeResult], inf *inflight, bound ids.BoundList, fetchSeg segment.Segment) {
	result, err := call.FetchBlocking()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending != inf {
		return
	}
	c.pending = nil

	if !c.bound.Matches(bound) {
		// The list was rebound (ListInvalidate or a new EnterList)
		// while this fetch was outstanding; drop it.
		return
	}

	if err != nil {
		c.failPendingLocked(inf, err)
		return
	}

	c.mergeRangeLocked(inf.final, result)

	if result.FirstActual != fetchSeg.Line || len(result.Items) != fetchSeg.Count {
		// Broker truncated the range; re-query the list size (spec.md
		// §4.2 tie-breaks).
		if sz, code := c.bus.CheckRange(ctx, c.bound.ID, 0, 0); code == broker.ErrOK {
			c.size = sz.Size
		}
	}

	for _, iw := range inf.itemWaiters {
		if iw.line < 0 {
			iw.cb(nil, nil) // retry-trampoline waiter
			continue
		}
		item, _ := c.lookupLocked(iw.line)
		iw.cb(item, nil)
	}
	for _, hw := range inf.hintWaiters {
		if hw.line < 0 {
			hw.cb(nil)
			continue
		}
		hw.cb(nil)
	}
}

func (c *Cache) failPendingLocked(inf *inflight, err error) {
	c.pending = nil
	for _, iw := range inf.itemWaiters {
		if iw.cb != nil {
			iw.cb(nil, err)
		}
	}
	for _, hw := range inf.hintWaiters {
		if hw.cb != nil {
			hw.cb(err)
		}
	}
}

// lookupLocked returns the (capped) item at line if the window holds a
// valid slot for it. Caller must hold c.mu.
func (c *Cache) lookupLocked(line int) (*broker.Item, error) {
	idx := line - c.firstLine
	if idx < 0 || idx >= len(c.slots) || !c.slots[idx].valid {
		return nil, nil
	}
	item := c.slots[idx].item
	item.Meta.BitrateKbps, item.Meta.HasBitrate = c.capper.Cap(item.Meta.BitrateKbps, item.Meta.HasBitrate)
	return &item, nil
}

// mergeRangeLocked writes a fetched range into the window. final is the
// w-wide window the cache is meant to settle into once this fetch
// lands (computed by startFetchLocked, either the scroll-fill target or
// the full-refill range itself); trimLocked uses it to pick which edge
// of an oversized union to drop. Caller must hold c.mu.
func (c *Cache) mergeRangeLocked(final segment.Segment, result broker.RangeResult) {
	fetched := segment.New(result.FirstActual, len(result.Items))
	cur := c.windowSegmentLocked()

	// A fetch that doesn't touch the current window (a full refill
	// anchored somewhere else entirely) replaces it outright; unioning
	// two disjoint ranges would leave an unfetched hole between them.
	adjacent := !cur.Empty() && fetched.Line <= cur.End() && fetched.End() >= cur.Line
	if cur.Empty() || !adjacent {
		c.firstLine = fetched.Line
		c.slots = make([]slot, fetched.Count)
		for i, it := range result.Items {
			c.slots[i] = slot{item: it, valid: true}
		}
		c.trimLocked(final)
		return
	}

	union := segment.New(minInt(cur.Line, fetched.Line), 0)
	union.Count = maxInt(cur.End(), fetched.End()) - union.Line

	newSlots := make([]slot, union.Count)
	for i, s := range c.slots {
		newSlots[cur.Line-union.Line+i] = s
	}
	for i, it := range result.Items {
		newSlots[fetched.Line-union.Line+i] = slot{item: it, valid: true}
	}

	c.firstLine = union.Line
	c.slots = newSlots
	c.trimLocked(final)
}

// trimLocked caps the window at w items once it has grown past that
// (a scroll-fill union is typically one gap wider than w). It keeps
// the w-wide slice closest to anchor — the window the cache is meant
// to settle into — rather than always keeping the leading slots, so a
// backward scroll-fill drops from the front and a forward one drops
// from the back. Caller must hold c.mu.
func (c *Cache) trimLocked(anchor segment.Segment) {
	if len(c.slots) <= c.w {
		return
	}
	cur := c.windowSegmentLocked()
	newFirst := cur.Line
	if !anchor.Empty() {
		newFirst = anchor.Line
	}
	if maxFirst := cur.End() - c.w; newFirst > maxFirst {
		newFirst = maxFirst
	}
	if newFirst < cur.Line {
		newFirst = cur.Line
	}
	offset := newFirst - cur.Line
	c.slots = c.slots[offset : offset+c.w]
	c.firstLine = newFirst
}

// CloneState copies window bytes and navigation anchor from other into
// c without refetching (spec.md §4.2 clone_state).
func (c *Cache) CloneState(other *Cache) {
	other.mu.Lock()
	bound := other.bound
	firstLine := other.firstLine
	size := other.size
	slots := make([]slot, len(other.slots))
	copy(slots, other.slots)
	other.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.bound = bound
	c.firstLine = firstLine
	c.size = size
	c.slots = slots
}

// CancelAllAsyncCalls cancels any in-flight range fetch.
func (c *Cache) CancelAllAsyncCalls() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		inf := c.pending
		c.cancelPendingLocked()
		c.failPendingLocked(inf, rnf.ErrAborted)
	}
}

// cancelPendingLocked cancels and unregisters any in-flight fetch,
// leaving c.pending nil. Caller must hold c.mu.
func (c *Cache) cancelPendingLocked() {
	if c.pending == nil {
		return
	}
	if c.registry != nil {
		c.registry.Cancel(c.pending.call.Cookie())
	}
	c.pending.call.Cancel()
	c.pending = nil
}

// HandleListInvalidate implements spec.md §4.2's ListInvalidate
// handling with the Open Question resolved per SPEC_FULL.md §3:
// rebind + mark dirty + re-query size when a valid replacement is
// offered for the currently bound list; discard the window otherwise.
func (c *Cache) HandleListInvalidate(ctx context.Context, ev broker.ListInvalidateEvent) {
	c.mu.Lock()
	if c.bound.ID != ev.Old {
		c.mu.Unlock()
		return
	}
	c.cancelPendingLocked()
	if !ev.New.IsValid() {
		c.bound = ids.BoundList{}
		c.slots = nil
		c.size = -1
		c.mu.Unlock()
		return
	}
	c.bound = ids.BoundList{ID: ev.New, Epoch: c.bumpEpoch()}
	c.slots = nil
	c.size = -1
	c.mu.Unlock()

	if sz, code := c.bus.CheckRange(ctx, ev.New, 0, 0); code == broker.ErrOK {
		c.mu.Lock()
		if c.bound.ID == ev.New {
			c.size = sz.Size
		}
		c.mu.Unlock()
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

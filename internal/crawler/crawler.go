// Package crawler implements the playlist crawler (spec.md §4.5,
// component C6): a depth-first directional traversal of a tree of
// broker-served lists, producing the next (or previous) playable leaf
// item.
package crawler

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tplusa/drcpd/internal/broker"
	"github.com/tplusa/drcpd/internal/ids"
	"github.com/tplusa/drcpd/internal/listcache"
	"github.com/tplusa/drcpd/internal/nav"
	"github.com/tplusa/drcpd/internal/rnf"
)

// MaxDirectoryDepth bounds recursion; exceeding it is a soft skip
// (spec.md §4.5 "Skipping and tie-breaks").
const MaxDirectoryDepth = 512

// Direction is the traversal direction.
type Direction int

const (
	DirNone Direction = iota
	Forward
	Backward
)

func (d Direction) step() int {
	if d == Backward {
		return -1
	}
	return 1
}

// RecursiveMode controls whether directories are entered or skipped.
type RecursiveMode int

const (
	Flat RecursiveMode = iota
	DepthFirst
)

// State is one of FindNextOp's states (spec.md §4.5), extended with
// WaitingForChildID per the REDESIGN FLAG converting the descent's
// child-list-id resolution to the same async envelope as GetRange/GetUris.
type State int

const (
	Initial State = iota
	Running
	WaitingForList
	WaitingForItem
	WaitingForChildID
	Succeeded
	Failed
	Cancelled
)

func (s State) String() string {
	names := [...]string{"INITIAL", "RUNNING", "WAITING_FOR_LIST", "WAITING_FOR_ITEM", "WAITING_FOR_CHILD_ID", "SUCCEEDED", "FAILED", "CANCELLED"}
	if int(s) < 0 || int(s) >= len(names) {
		return "UNKNOWN"
	}
	return names[s]
}

// PositionalState is the outcome's position relative to the list it
// finished on.
type PositionalState int

const (
	Unknown PositionalState = iota
	SomewhereInList
	ReachedStartOfList
	ReachedEndOfList
)

// Result is the payload of a finished FindNextOp.
type Result struct {
	Positional PositionalState
	Item       *broker.Item
	ListID     ids.ListID
	Line       int
}

// ErrCancelled is returned to onDone when do_cancel interrupted the op.
var ErrCancelled = errors.New("crawler: cancelled")

// level is one stack frame of the depth-first traversal: the list
// currently being walked, its cache/nav pair, and (for every level but
// the root) the index of the parent item this level was entered from.
type level struct {
	listID     ids.ListID
	cache      *listcache.Cache
	nav        *nav.Nav
	parentItem int
}

// FindNextOp is a single long-lived traversal (spec.md §4.5).
type FindNextOp struct {
	mu sync.Mutex

	bus      broker.Bus
	newCache func() *listcache.Cache
	log      zerolog.Logger
	registry *rnf.Registry

	dir  Direction
	mode RecursiveMode

	levels []*level
	state  State

	pendingChild *rnf.Call[broker.ChildListResult]

	onDone func(Result, error)
}

// New creates a FindNextOp in the Initial state. onDone is invoked
// exactly once, when the op reaches Succeeded, Failed or Cancelled.
// registry is the cookie dispatch table the child-list-id lookup
// registers against; it may be nil in tests that never complete that
// async fetch.
func New(bus broker.Bus, newCache func() *listcache.Cache, log zerolog.Logger, dir Direction, mode RecursiveMode, registry *rnf.Registry, onDone func(Result, error)) *FindNextOp {
	return &FindNextOp{bus: bus, newCache: newCache, log: log, dir: dir, mode: mode, registry: registry, onDone: onDone}
}

// State returns the op's current state.
func (op *FindNextOp) State() State {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.state
}

// Depth returns how many levels deep the traversal currently sits
// (1 at the root list), or 0 before DoStart — internal/automation's
// get_crawler_state and internal/monitor's dashboard read this.
func (op *FindNextOp) Depth() int {
	op.mu.Lock()
	defer op.mu.Unlock()
	return len(op.levels)
}

// CurrentListID returns the list id the innermost traversal level is
// walking, or ids.InvalidListID before DoStart.
func (op *FindNextOp) CurrentListID() ids.ListID {
	op.mu.Lock()
	defer op.mu.Unlock()
	if len(op.levels) == 0 {
		return ids.InvalidListID
	}
	return op.levels[len(op.levels)-1].listID
}

// DoStart begins the traversal at startList/startLine (spec.md §4.5
// step 1, caller-id first-entry).
func (op *FindNextOp) DoStart(ctx context.Context, startList ids.ListID, startLine int) {
	op.mu.Lock()
	if op.state != Initial {
		op.mu.Unlock()
		return
	}
	op.state = Running
	lvl := &level{listID: startList}
	op.levels = []*level{lvl}
	op.mu.Unlock()

	op.enterLevel(ctx, lvl, startLine, listcache.CallerFirstEntry, startLine)
}

// DoCancel cancels the underlying cache's in-flight calls and moves the
// op to Cancelled. Any event that arrives afterwards is dropped.
func (op *FindNextOp) DoCancel() {
	op.mu.Lock()
	if op.state == Succeeded || op.state == Failed || op.state == Cancelled {
		op.mu.Unlock()
		return
	}
	op.state = Cancelled
	if op.pendingChild != nil {
		if op.registry != nil {
			op.registry.Cancel(op.pendingChild.Cookie())
		}
		op.pendingChild.Cancel()
	}
	var cur *listcache.Cache
	if len(op.levels) > 0 {
		cur = op.levels[len(op.levels)-1].cache
	}
	onDone := op.onDone
	op.mu.Unlock()

	if cur != nil {
		cur.CancelAllAsyncCalls()
	}
	if onDone != nil {
		onDone(Result{}, ErrCancelled)
	}
}

func (op *FindNextOp) top() *level { return op.levels[len(op.levels)-1] }

// finish reports the terminal result exactly once. Caller must NOT hold
// op.mu.
func (op *FindNextOp) finish(state State, res Result, err error) {
	op.mu.Lock()
	if op.state == Succeeded || op.state == Failed || op.state == Cancelled {
		op.mu.Unlock()
		return
	}
	op.state = state
	onDone := op.onDone
	op.mu.Unlock()

	if onDone != nil {
		onDone(res, err)
	}
}

func (op *FindNextOp) cancelled() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.state == Cancelled
}

// cursorNaturalFirst tells enterLevel to place the cursor at the
// directory's natural first position in the traversal direction (spec.md
// §4.5 "first item on descent"), rather than at an explicit line.
const cursorNaturalFirst = -1

// enterLevel issues the (always-synchronous, per spec.md §4.2) enter_list
// call for lvl and, on success, re-syncs the level's Nav (spec.md §4.5
// step 2). cursorLine is either an explicit resume position (DoStart:
// the caller — e.g. skip-to-next — is responsible for having already
// advanced past the current item) or cursorNaturalFirst (descend: index
// 0 forward / size-1 backward).
func (op *FindNextOp) enterLevel(ctx context.Context, lvl *level, startLine int, caller listcache.CallerID, cursorLine int) {
	if op.cancelled() {
		return
	}
	if lvl.cache == nil {
		lvl.cache = op.newCache()
	}

	res, err := lvl.cache.EnterList(ctx, lvl.listID, startLine, caller, "")
	if res != listcache.Succeeded {
		op.handleEnterListFailure(ctx, lvl, err)
		return
	}

	size := lvl.cache.GetNumberOfItems()
	lvl.nav = nav.New(size, 1, nav.WrapNone, nil)

	if size == 0 {
		if len(op.levels) == 1 {
			op.finish(Succeeded, Result{Positional: endOfListFor(op.dir)}, nil)
			return
		}
		// Empty directory: nothing at this level, pop back to the
		// parent and keep looking.
		op.levels = op.levels[:len(op.levels)-1]
		op.continueSearch(ctx)
		return
	}

	if cursorLine == cursorNaturalFirst {
		cursorLine = 0
		if op.dir == Backward {
			cursorLine = size - 1
		}
	}
	if cursorLine < 0 || cursorLine >= size {
		// The resume position no longer exists in this list (it shrank
		// under us); nothing sane to examine here.
		if len(op.levels) == 1 {
			op.finish(Succeeded, Result{Positional: endOfListFor(op.dir)}, nil)
			return
		}
		op.levels = op.levels[:len(op.levels)-1]
		op.continueSearch(ctx)
		return
	}
	lvl.nav.SetCursorByLineNumber(cursorLine)
	op.processCurrentItem(ctx)
}

// handleEnterListFailure classifies a failed directory open: hard
// broker errors fail the whole op, everything else is a skip (spec.md
// §4.5 "Skipping and tie-breaks").
func (op *FindNextOp) handleEnterListFailure(ctx context.Context, lvl *level, err error) {
	if be, ok := err.(broker.Error); ok && be.IsHard() {
		op.finish(Failed, Result{}, be)
		return
	}
	op.log.Debug().Err(err).Stringer("list", lvl.listID).Msg("crawler: skipping list that failed to open")
	if len(op.levels) == 1 {
		// The root list itself failed to open: nothing to fall back to.
		op.finish(Failed, Result{}, err)
		return
	}
	op.levels = op.levels[:len(op.levels)-1]
	op.continueSearch(ctx)
}

// processCurrentItem runs spec.md §4.5 step 3, sub-steps b-e, for the
// item the current level's cursor sits on.
func (op *FindNextOp) processCurrentItem(ctx context.Context) {
	if op.cancelled() {
		return
	}
	lvl := op.top()

	refLine := lvl.nav.Cursor() + op.dir.step()
	hintDir := listcache.Forward
	if op.dir == Backward {
		hintDir = listcache.Backward
	}

	res := lvl.cache.HintPlannedAccess(ctx, refLine, hintDir, func(error) {
		op.mu.Lock()
		waiting := op.state == WaitingForItem
		op.mu.Unlock()
		if waiting {
			op.fetchCurrentItem(ctx)
		}
	})
	if res == listcache.Started {
		op.mu.Lock()
		op.state = WaitingForItem
		op.mu.Unlock()
		return
	}
	op.fetchCurrentItem(ctx)
}

func (op *FindNextOp) fetchCurrentItem(ctx context.Context) {
	if op.cancelled() {
		return
	}
	lvl := op.top()

	res, item := lvl.cache.GetItemAsync(ctx, lvl.nav.Cursor(), func(it *broker.Item, err error) {
		op.mu.Lock()
		waiting := op.state == WaitingForItem
		op.mu.Unlock()
		if waiting {
			op.handleItem(ctx, it, err)
		}
	})
	if res == listcache.Started {
		op.mu.Lock()
		op.state = WaitingForItem
		op.mu.Unlock()
		return
	}
	op.handleItem(ctx, item, nil)
}

func (op *FindNextOp) handleItem(ctx context.Context, item *broker.Item, err error) {
	if op.cancelled() {
		return
	}
	if err != nil {
		op.finish(Failed, Result{}, err)
		return
	}

	lvl := op.top()
	if item == nil {
		// The list shrank under us since the cursor was placed; treat
		// like falling off the end of this level.
		op.continueSearch(ctx)
		return
	}

	if !item.Kind.IsDirectory() {
		op.finish(Succeeded, Result{Positional: SomewhereInList, Item: item, ListID: lvl.listID, Line: lvl.nav.Cursor()}, nil)
		return
	}

	if op.mode == Flat {
		op.continueSearch(ctx)
		return
	}
	if len(op.levels) >= MaxDirectoryDepth {
		op.log.Warn().Stringer("list", lvl.listID).Msg("crawler: max directory depth reached, skipping")
		op.continueSearch(ctx)
		return
	}
	op.resolveChildListID(ctx, lvl, lvl.nav.Cursor())
}

// resolveChildListID issues the async (REDESIGN-FLAG-compliant) child
// list id lookup for a directory item and suspends in WaitingForChildID.
func (op *FindNextOp) resolveChildListID(ctx context.Context, lvl *level, item int) {
	cookie, err := op.bus.GetListIdAsync(ctx, lvl.listID, item)
	if err != nil {
		op.log.Debug().Err(err).Msg("crawler: skipping directory, child list id request failed")
		op.continueSearch(ctx)
		return
	}

	call := rnf.New[broker.ChildListResult](op.log)
	call.Request(uint32(cookie))
	if op.registry != nil {
		rnf.RegisterCall(op.registry, uint32(cookie), call)
	}

	op.mu.Lock()
	op.state = WaitingForChildID
	op.pendingChild = call
	op.mu.Unlock()

	go func() {
		res, err := call.FetchBlocking()

		op.mu.Lock()
		if op.state != WaitingForChildID || op.pendingChild != call {
			op.mu.Unlock()
			return
		}
		op.pendingChild = nil
		op.mu.Unlock()

		if err != nil {
			if be, ok := err.(broker.Error); ok && be.IsHard() {
				op.finish(Failed, Result{}, be)
				return
			}
			op.log.Debug().Err(err).Msg("crawler: skipping directory, child list id resolution failed")
			op.continueSearch(ctx)
			return
		}
		op.descend(ctx, lvl, item, res.ChildList)
	}()
}

func (op *FindNextOp) descend(ctx context.Context, parent *level, childItem int, childList ids.ListID) {
	if op.cancelled() {
		return
	}
	child := &level{listID: childList, parentItem: childItem}

	op.mu.Lock()
	op.levels = append(op.levels, child)
	op.state = Running
	op.mu.Unlock()

	op.enterLevel(ctx, child, 0, listcache.CallerDescend, cursorNaturalFirst)
}

// continueSearch implements spec.md §4.5 step 4: advance the cursor one
// step; if that fails, finish at depth 1 or ascend otherwise.
func (op *FindNextOp) continueSearch(ctx context.Context) {
	if op.cancelled() {
		return
	}
	lvl := op.top()

	var moved bool
	if op.dir == Backward {
		moved = lvl.nav.Up(1)
	} else {
		moved = lvl.nav.Down(1)
	}
	if moved {
		op.processCurrentItem(ctx)
		return
	}

	if len(op.levels) == 1 {
		op.finish(Succeeded, Result{Positional: endOfListFor(op.dir)}, nil)
		return
	}

	child := op.levels[len(op.levels)-1]
	op.levels = op.levels[:len(op.levels)-1]
	parent := op.top()
	op.ascend(ctx, parent, child.parentItem)
}

// ascend re-enters the parent list (caller-id ascend) and places the
// cursor after (forward) or before (backward) the just-exited child
// (spec.md §4.5 "On ascent..."). If that placement itself falls outside
// the parent list, step 3a's "nothing at this level" rule applies and
// the search continues from the parent instead of examining the item.
func (op *FindNextOp) ascend(ctx context.Context, parent *level, childItem int) {
	if op.cancelled() {
		return
	}

	res, err := parent.cache.EnterList(ctx, parent.listID, parent.nav.Cursor(), listcache.CallerAscend, "")
	if res != listcache.Succeeded {
		op.handleEnterListFailure(ctx, parent, err)
		return
	}

	size := parent.cache.GetNumberOfItems()
	parent.nav.SetListSize(size)

	target := childItem + op.dir.step()
	if target < 0 || target >= size {
		op.continueSearch(ctx)
		return
	}
	parent.nav.SetCursorByLineNumber(target)
	op.processCurrentItem(ctx)
}

func endOfListFor(dir Direction) PositionalState {
	if dir == Backward {
		return ReachedStartOfList
	}
	return ReachedEndOfList
}

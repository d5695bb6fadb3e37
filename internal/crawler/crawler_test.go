package crawler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tplusa/drcpd/internal/broker"
	"github.com/tplusa/drcpd/internal/ids"
	"github.com/tplusa/drcpd/internal/listcache"
	"github.com/tplusa/drcpd/internal/rnf"
)

// pendingReq records what a cookie-returning fakeBus call was actually
// asking for, so the test driver can answer it with the right payload
// type once it is told (via Registry.OnRegister) that the cookie is safe
// to resolve.
type pendingReq struct {
	kind  string // "range" or "childid"
	list  ids.ListID
	first int
	count int
	item  int
}

// fakeBus serves a fixed directory tree from in-memory tables.
// CheckRange/GetListId answer synchronously, matching the real broker
// contract (spec.md §4.2); GetRange/GetListIdAsync hand back a cookie
// that the test resolves out of band through the shared rnf.Registry,
// standing in for the DataAvailable signal a real bus binding delivers.
type fakeBus struct {
	mu         sync.Mutex
	lists      map[ids.ListID][]broker.Item
	children   map[ids.ListID]map[int]ids.ListID
	nextCookie uint32
	pending    map[ids.Cookie]pendingReq
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		lists:    map[ids.ListID][]broker.Item{},
		children: map[ids.ListID]map[int]ids.ListID{},
		pending:  map[ids.Cookie]pendingReq{},
	}
}

func (b *fakeBus) GetListId(ctx context.Context, parent ids.ListID, item int) (broker.ChildListResult, broker.Error) {
	return broker.ChildListResult{}, broker.ErrNotSupported
}

func (b *fakeBus) GetListIdAsync(ctx context.Context, parent ids.ListID, item int) (ids.Cookie, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextCookie++
	c := ids.Cookie(b.nextCookie)
	b.pending[c] = pendingReq{kind: "childid", list: parent, item: item}
	return c, nil
}

func (b *fakeBus) CheckRange(ctx context.Context, list ids.ListID, first, count int) (broker.SizeResult, broker.Error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	items, ok := b.lists[list]
	if !ok {
		return broker.SizeResult{}, broker.ErrNotFound
	}
	return broker.SizeResult{Size: len(items)}, broker.ErrOK
}

func (b *fakeBus) GetRange(ctx context.Context, list ids.ListID, first, count int) (ids.Cookie, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextCookie++
	c := ids.Cookie(b.nextCookie)
	b.pending[c] = pendingReq{kind: "range", list: list, first: first, count: count}
	return c, nil
}

func (b *fakeBus) GetUris(ctx context.Context, list ids.ListID, item int) (ids.Cookie, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextCookie++
	return ids.Cookie(b.nextCookie), nil
}

func (b *fakeBus) GetParentLink(ctx context.Context, list ids.ListID) (broker.ParentLinkResult, broker.Error) {
	return broker.ParentLinkResult{}, broker.ErrNotSupported
}

func mkItem(text string, kind broker.ItemKind) broker.Item {
	return broker.Item{Text: text, Kind: kind}
}

// harness drives a FindNextOp to completion without sleeps or polling:
// Registry.OnRegister tells the driver loop exactly when a cookie is
// safe to resolve, and the op's onDone closes done exactly once.
type harness struct {
	bus    *fakeBus
	reg    *rnf.Registry
	log    zerolog.Logger
	notify chan uint32
}

func newHarness() *harness {
	h := &harness{bus: newFakeBus(), reg: rnf.NewRegistry(), log: zerolog.Nop(), notify: make(chan uint32, 64)}
	h.reg.OnRegister = func(cookie uint32) { h.notify <- cookie }
	return h
}

func (h *harness) newCache() *listcache.Cache {
	return listcache.New(h.bus, h.log, 64, nil, h.reg, nil)
}

func (h *harness) resolve(cookie uint32) {
	h.bus.mu.Lock()
	req, ok := h.bus.pending[ids.Cookie(cookie)]
	if ok {
		delete(h.bus.pending, ids.Cookie(cookie))
	}
	lists := h.bus.lists
	children := h.bus.children
	h.bus.mu.Unlock()
	if !ok {
		return
	}

	switch req.kind {
	case "range":
		items := lists[req.list]
		start, end := req.first, req.first+req.count
		if start > len(items) {
			start = len(items)
		}
		if end > len(items) {
			end = len(items)
		}
		h.reg.Deliver(cookie, broker.RangeResult{FirstActual: start, Items: items[start:end]}, nil)
	case "childid":
		child := children[req.list][req.item]
		h.reg.Deliver(cookie, broker.ChildListResult{ChildList: child}, nil)
	}
}

// drive starts op and services cookie deliveries until onDone fires or
// 2s pass.
func (h *harness) drive(t *testing.T, op *FindNextOp, ctx context.Context, startList ids.ListID, startLine int, done chan struct {
	res Result
	err error
}) (Result, error) {
	t.Helper()
	op.DoStart(ctx, startList, startLine)

	timeout := time.After(2 * time.Second)
	for {
		select {
		case out := <-done:
			return out.res, out.err
		case cookie := <-h.notify:
			h.resolve(cookie)
		case <-timeout:
			t.Fatal("crawler test: timed out waiting for FindNextOp to finish")
			return Result{}, nil
		}
	}
}

// newOp builds a FindNextOp whose onDone feeds the given done channel.
func newOp(h *harness, dir Direction, mode RecursiveMode, done chan struct {
	res Result
	err error
}) *FindNextOp {
	return New(h.bus, h.newCache, h.log, dir, mode, h.reg, func(res Result, err error) {
		done <- struct {
			res Result
			err error
		}{res, err}
	})
}

func TestFlatModeSkipsDirectoryAndFindsFile(t *testing.T) {
	h := newHarness()
	h.bus.lists[1] = []broker.Item{
		mkItem("a directory", broker.KindDirectory),
		mkItem("a file", broker.KindRegularFile),
	}

	done := make(chan struct {
		res Result
		err error
	}, 1)
	op := newOp(h, Forward, Flat, done)

	res, err := h.drive(t, op, context.Background(), 1, 0, done)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Positional != SomewhereInList || res.Item == nil || res.Item.Text != "a file" || res.Line != 1 {
		t.Fatalf("result = %+v, want the file at line 1", res)
	}
}

func TestDepthFirstDescendsAndFindsLeaf(t *testing.T) {
	h := newHarness()
	h.bus.lists[1] = []broker.Item{
		mkItem("subdir", broker.KindDirectory),
	}
	h.bus.children[1] = map[int]ids.ListID{0: 2}
	h.bus.lists[2] = []broker.Item{
		mkItem("track one", broker.KindRegularFile),
	}

	done := make(chan struct {
		res Result
		err error
	}, 1)
	op := newOp(h, Forward, DepthFirst, done)

	res, err := h.drive(t, op, context.Background(), 1, 0, done)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ListID != 2 || res.Item == nil || res.Item.Text != "track one" {
		t.Fatalf("result = %+v, want track one in list 2", res)
	}
}

func TestDepthFirstSkipsEmptyDirectoryThenFindsNextSibling(t *testing.T) {
	h := newHarness()
	h.bus.lists[1] = []broker.Item{
		mkItem("empty subdir", broker.KindDirectory),
		mkItem("a file", broker.KindRegularFile),
	}
	h.bus.children[1] = map[int]ids.ListID{0: 2}
	h.bus.lists[2] = nil // empty directory: nothing to find there

	done := make(chan struct {
		res Result
		err error
	}, 1)
	op := newOp(h, Forward, DepthFirst, done)

	res, err := h.drive(t, op, context.Background(), 1, 0, done)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ListID != 1 || res.Item == nil || res.Item.Text != "a file" || res.Line != 1 {
		t.Fatalf("result = %+v, want the sibling file at list 1 line 1", res)
	}
}

func TestReachedEndOfListAtRoot(t *testing.T) {
	h := newHarness()
	h.bus.lists[1] = []broker.Item{
		mkItem("only file", broker.KindRegularFile),
	}

	done := make(chan struct {
		res Result
		err error
	}, 1)
	op := newOp(h, Forward, DepthFirst, done)

	res, err := h.drive(t, op, context.Background(), 1, 0, done)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The sole item is found first; start past it to force end-of-list.
	if res.Positional != SomewhereInList {
		t.Fatalf("first find = %+v, want SomewhereInList", res)
	}

	done2 := make(chan struct {
		res Result
		err error
	}, 1)
	op2 := newOp(h, Forward, DepthFirst, done2)
	res2, err2 := h.drive(t, op2, context.Background(), 1, 1, done2)
	if err2 != nil {
		t.Fatalf("unexpected error: %v", err2)
	}
	if res2.Positional != ReachedEndOfList {
		t.Fatalf("result = %+v, want ReachedEndOfList", res2)
	}
}

func TestHardBrokerErrorFailsTheOp(t *testing.T) {
	h := newHarness()
	// hardErrorBus answers CheckRange with a hard failure. Entering a
	// list queries its size through the cache's own bus, so the op's
	// caches are built over hardBus as well.
	hardBus := &hardErrorBus{fakeBus: h.bus}
	h.bus.lists[1] = nil
	newHardCache := func() *listcache.Cache { return listcache.New(hardBus, h.log, 64, nil, h.reg, nil) }

	done := make(chan struct {
		res Result
		err error
	}, 1)
	op := New(hardBus, newHardCache, h.log, Forward, DepthFirst, h.reg, func(res Result, err error) {
		done <- struct {
			res Result
			err error
		}{res, err}
	})

	res, err := h.drive(t, op, context.Background(), 1, 0, done)
	_ = res
	if err == nil {
		t.Fatal("expected a hard-error failure, got nil")
	}
	be, ok := err.(broker.Error)
	if !ok || !be.IsHard() {
		t.Fatalf("error = %v, want a hard broker.Error", err)
	}
}

// hardErrorBus wraps fakeBus but answers CheckRange with a hard failure,
// to exercise handleEnterListFailure's fail-the-whole-op path.
type hardErrorBus struct {
	*fakeBus
}

func (b *hardErrorBus) CheckRange(ctx context.Context, list ids.ListID, first, count int) (broker.SizeResult, broker.Error) {
	return broker.SizeResult{}, broker.ErrPermissionDenied
}

func TestDoCancelInvokesOnDoneExactlyOnceWithErrCancelled(t *testing.T) {
	h := newHarness()
	h.bus.lists[1] = []broker.Item{
		mkItem("a file", broker.KindRegularFile),
	}

	done := make(chan struct {
		res Result
		err error
	}, 2)
	op := New(h.bus, h.newCache, h.log, Forward, DepthFirst, h.reg, func(res Result, err error) {
		done <- struct {
			res Result
			err error
		}{res, err}
	})

	op.DoStart(context.Background(), 1, 0)
	op.DoCancel()
	op.DoCancel() // must not invoke onDone a second time

	select {
	case out := <-done:
		if out.err != ErrCancelled {
			t.Fatalf("err = %v, want ErrCancelled", out.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("DoCancel never invoked onDone")
	}

	select {
	case out := <-done:
		t.Fatalf("onDone invoked a second time: %+v", out)
	default:
	}
}

// TestAscendRule3aOutOfRangeFinishesAtRoot builds a tree that is
// exhausted two levels deep (root -> onlyDir -> emptySub, all with nothing
// to find) so that continue_search's only non-root child pops back into
// ascend(), and the placement (parentItem+1) lands outside the root
// list — spec.md §4.5 step 3a's "nothing at this level" rule.
func TestAscendRule3aOutOfRangeFinishesAtRoot(t *testing.T) {
	h := newHarness()
	h.bus.lists[1] = []broker.Item{mkItem("onlyDir", broker.KindDirectory)}
	h.bus.children[1] = map[int]ids.ListID{0: 2}
	h.bus.lists[2] = []broker.Item{mkItem("emptySub", broker.KindDirectory)}
	h.bus.children[2] = map[int]ids.ListID{0: 3}
	h.bus.lists[3] = nil

	done := make(chan struct {
		res Result
		err error
	}, 1)
	op := newOp(h, Forward, DepthFirst, done)

	res, err := h.drive(t, op, context.Background(), 1, 0, done)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Positional != ReachedEndOfList {
		t.Fatalf("result = %+v, want ReachedEndOfList", res)
	}
}

// TestAscendInRangePlacementExaminesNextSibling mirrors the same
// exhausted-subtree shape but with a second root-level sibling to land
// on: the ascend placement (parentItem+1) is in range this time, so the
// op must examine dirB rather than skip it, and continue descending from
// there to the real leaf.
func TestAscendInRangePlacementExaminesNextSibling(t *testing.T) {
	h := newHarness()
	h.bus.lists[1] = []broker.Item{
		mkItem("dirA", broker.KindDirectory),
		mkItem("dirB", broker.KindDirectory),
	}
	h.bus.children[1] = map[int]ids.ListID{0: 2, 1: 4}
	h.bus.lists[2] = []broker.Item{mkItem("emptySub", broker.KindDirectory)}
	h.bus.children[2] = map[int]ids.ListID{0: 3}
	h.bus.lists[3] = nil
	h.bus.lists[4] = []broker.Item{mkItem("leafY", broker.KindRegularFile)}

	done := make(chan struct {
		res Result
		err error
	}, 1)
	op := newOp(h, Forward, DepthFirst, done)

	res, err := h.drive(t, op, context.Background(), 1, 0, done)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ListID != 4 || res.Item == nil || res.Item.Text != "leafY" {
		t.Fatalf("result = %+v, want leafY in list 4", res)
	}
}

package listcache

import (
	"context"
	"strconv"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tplusa/drcpd/internal/broker"
	"github.com/tplusa/drcpd/internal/ids"
	"github.com/tplusa/drcpd/internal/rnf"
	"github.com/tplusa/drcpd/internal/streaminfo"
)

// syncBus is a broker.Bus double whose CheckRange answers from an
// in-memory item slice. GetListIdAsync/GetUris are unused by these
// tests and return zero values.
type syncBus struct {
	items []broker.Item
	size  int
}

func newSyncBus(items []broker.Item) *syncBus {
	return &syncBus{items: items, size: len(items)}
}

func (b *syncBus) GetListId(ctx context.Context, parent ids.ListID, item int) (broker.ChildListResult, broker.Error) {
	return broker.ChildListResult{}, broker.ErrNotSupported
}
func (b *syncBus) GetListIdAsync(ctx context.Context, parent ids.ListID, item int) (ids.Cookie, error) {
	return 0, nil
}
func (b *syncBus) CheckRange(ctx context.Context, list ids.ListID, first, count int) (broker.SizeResult, broker.Error) {
	return broker.SizeResult{Size: b.size}, broker.ErrOK
}
func (b *syncBus) GetUris(ctx context.Context, list ids.ListID, item int) (ids.Cookie, error) {
	return 0, nil
}
func (b *syncBus) GetParentLink(ctx context.Context, list ids.ListID) (broker.ParentLinkResult, broker.Error) {
	return broker.ParentLinkResult{}, broker.ErrNotSupported
}

// GetRange always hands out cookie 1; tests that need to complete the
// fetch drive it home with an *rnf.Registry and Deliver(1, ...) rather
// than a real bus dispatcher (internal/dbusbus owns that in production).
func (b *syncBus) GetRange(ctx context.Context, list ids.ListID, first, count int) (ids.Cookie, error) {
	return 1, nil
}

func mkItems(n int) []broker.Item {
	items := make([]broker.Item, n)
	for i := range items {
		items[i] = broker.Item{Text: strconv.Itoa(i), Kind: broker.KindRegularFile}
	}
	return items
}

func TestEnterListSameBindingIsSyncNoop(t *testing.T) {
	bus := newSyncBus(mkItems(5))
	c := New(bus, zerolog.Nop(), 4, nil, nil, nil)

	if got, _ := c.EnterList(context.Background(), 7, 0, CallerFirstEntry, "root"); got != Succeeded {
		t.Fatalf("first EnterList = %v, want SUCCEEDED", got)
	}
	if got := c.GetNumberOfItems(); got != 5 {
		t.Fatalf("GetNumberOfItems = %d, want 5", got)
	}
	if got, _ := c.EnterList(context.Background(), 7, 0, CallerFirstEntry, "root"); got != Succeeded {
		t.Fatalf("repeat EnterList = %v, want SUCCEEDED", got)
	}
}

func TestEnterListEmptyList(t *testing.T) {
	bus := newSyncBus(nil)
	c := New(bus, zerolog.Nop(), 4, nil, nil, nil)
	c.EnterList(context.Background(), 1, 0, CallerFirstEntry, "")
	if !c.Empty() {
		t.Fatal("expected Empty() true for a zero-size list")
	}
	res, item := c.GetItemAsync(context.Background(), 0, nil)
	if res != Succeeded || item != nil {
		t.Fatalf("GetItemAsync on empty list = %v/%v, want SUCCEEDED/nil", res, item)
	}
}

func TestGetItemAsyncOutOfRange(t *testing.T) {
	bus := newSyncBus(mkItems(3))
	c := New(bus, zerolog.Nop(), 4, nil, nil, nil)
	c.EnterList(context.Background(), 1, 0, CallerFirstEntry, "")

	res, item := c.GetItemAsync(context.Background(), 99, nil)
	if res != Succeeded || item != nil {
		t.Fatalf("out-of-range GetItemAsync = %v/%v, want SUCCEEDED/nil", res, item)
	}
}

func TestHandleListInvalidateNoReplacementClearsBinding(t *testing.T) {
	bus := newSyncBus(mkItems(10))
	c := New(bus, zerolog.Nop(), 4, nil, nil, nil)
	c.EnterList(context.Background(), 3, 0, CallerFirstEntry, "")

	c.HandleListInvalidate(context.Background(), broker.ListInvalidateEvent{Old: 3, New: ids.InvalidListID})

	if c.GetListID() != ids.InvalidListID {
		t.Fatalf("GetListID() after invalidate-without-replacement = %v, want invalid", c.GetListID())
	}
}

func TestHandleListInvalidateWithReplacementRebinds(t *testing.T) {
	busA := newSyncBus(mkItems(10))
	c := New(busA, zerolog.Nop(), 4, nil, nil, nil)
	c.EnterList(context.Background(), 3, 0, CallerFirstEntry, "")

	busB := newSyncBus(mkItems(20))
	c.bus = busB // the replacement list lives behind a different broker in this double

	c.HandleListInvalidate(context.Background(), broker.ListInvalidateEvent{Old: 3, New: 4})

	if c.GetListID() != 4 {
		t.Fatalf("GetListID() after rebind = %v, want 4", c.GetListID())
	}
	if got := c.GetNumberOfItems(); got != 20 {
		t.Fatalf("GetNumberOfItems() after rebind = %d, want 20 (re-queried)", got)
	}
}

func TestHandleListInvalidateIgnoresUnrelatedList(t *testing.T) {
	bus := newSyncBus(mkItems(5))
	c := New(bus, zerolog.Nop(), 4, nil, nil, nil)
	c.EnterList(context.Background(), 3, 0, CallerFirstEntry, "")

	c.HandleListInvalidate(context.Background(), broker.ListInvalidateEvent{Old: 999, New: 4})

	if c.GetListID() != 3 {
		t.Fatalf("GetListID() after unrelated invalidate = %v, want unchanged 3", c.GetListID())
	}
}

func TestCloneStateCopiesWindowWithoutRefetch(t *testing.T) {
	src := New(newSyncBus(mkItems(5)), zerolog.Nop(), 4, nil, nil, nil)
	src.EnterList(context.Background(), 1, 0, CallerFirstEntry, "")
	src.mu.Lock()
	src.slots = []slot{{item: broker.Item{Text: "a"}, valid: true}, {item: broker.Item{Text: "b"}, valid: true}}
	src.firstLine = 0
	src.mu.Unlock()

	dst := New(nil, zerolog.Nop(), 4, nil, nil, nil)
	dst.CloneState(src)

	res, item := dst.GetItemAsync(context.Background(), 1, nil)
	if res != Succeeded || item == nil || item.Text != "b" {
		t.Fatalf("cloned GetItemAsync(1) = %v/%+v, want SUCCEEDED/{Text:b}", res, item)
	}
}

type capAt int

func (c capAt) Cap(kbps int, has bool) (int, bool) {
	if has && kbps > int(c) {
		return int(c), true
	}
	return kbps, has
}

func TestBitrateCapperAppliedOnRead(t *testing.T) {
	items := mkItems(1)
	items[0].Meta = broker.Metadata{HasBitrate: true, BitrateKbps: 320}
	c := New(newSyncBus(items), zerolog.Nop(), 4, capAt(192), nil, nil)
	c.EnterList(context.Background(), 1, 0, CallerFirstEntry, "")
	c.mu.Lock()
	c.slots = []slot{{item: items[0], valid: true}}
	c.firstLine = 0
	c.mu.Unlock()

	_, item := c.GetItemAsync(context.Background(), 0, nil)
	if item == nil || item.Meta.BitrateKbps != 192 {
		t.Fatalf("capped item = %+v, want BitrateKbps=192", item)
	}
}

func TestCancelAllAsyncCallsIsSafeWithNoPending(t *testing.T) {
	c := New(newSyncBus(mkItems(5)), zerolog.Nop(), 4, nil, nil, nil)
	c.CancelAllAsyncCalls() // must not panic
}

func TestReserveReleaseShareTheProvidedRefSet(t *testing.T) {
	refs := streaminfo.NewRefSet()
	c := New(newSyncBus(mkItems(5)), zerolog.Nop(), 4, nil, nil, refs)

	c.Reserve(9)
	if !refs.IsReferenced(9) {
		t.Fatal("Reserve should reference list 9 on the shared RefSet")
	}
	c.Release(9)
	if refs.IsReferenced(9) {
		t.Fatal("Release should drop the reference once taken")
	}
}

func TestReserveReleaseAreNoopsWithoutARefSet(t *testing.T) {
	c := New(newSyncBus(mkItems(5)), zerolog.Nop(), 4, nil, nil, nil)
	c.Reserve(1) // must not panic
	c.Release(1) // must not panic
}

// TestScrollFillForwardFetchesMinimalGapAndSlidesWindow drives
// spec.md §8 Scenario 1 end to end through a registry, rather than
// populating the window directly: window W=5 at lines 0..4, then
// get_item_async for line 6 must fetch only the two-line gap (5,6) and
// settle the window at 2..6, not refetch-and-discard a single line.
func TestScrollFillForwardFetchesMinimalGapAndSlidesWindow(t *testing.T) {
	items := mkItems(20)
	reg := rnf.NewRegistry()
	c := New(newSyncBus(items), zerolog.Nop(), 5, nil, reg, nil)
	c.EnterList(context.Background(), 1, 0, CallerFirstEntry, "")

	c.mu.Lock()
	c.slots = []slot{
		{item: items[0], valid: true},
		{item: items[1], valid: true},
		{item: items[2], valid: true},
		{item: items[3], valid: true},
		{item: items[4], valid: true},
	}
	c.firstLine = 0
	c.mu.Unlock()

	done := make(chan *broker.Item, 1)
	res, item := c.GetItemAsync(context.Background(), 6, func(it *broker.Item, err error) { done <- it })
	if res != Started || item != nil {
		t.Fatalf("GetItemAsync(6) = %v/%v, want STARTED/nil", res, item)
	}

	if !reg.Deliver(1, broker.RangeResult{FirstActual: 5, Items: items[5:7]}, nil) {
		t.Fatal("Deliver found no pending call for cookie 1")
	}

	got := <-done
	if got == nil || got.Text != "6" {
		t.Fatalf("onReady item = %+v, want item 6", got)
	}

	w := c.WindowSnapshot()
	if w.FirstLine != 2 || len(w.Items) != 5 {
		t.Fatalf("window after forward scroll-fill = firstLine=%d items=%d, want firstLine=2 items=5", w.FirstLine, len(w.Items))
	}
	if w.Items[0].Text != "2" || w.Items[4].Text != "6" {
		t.Fatalf("window items = %+v, want lines 2..6", w.Items)
	}
}

// TestScrollFillBackwardFetchesMinimalGapAndSlidesWindow is the mirror
// case: window at lines 5..9, get_item_async for line 3 must fetch
// only (3,4) and settle the window at 3..7 with no invalid hole left
// where lines 8..9 used to be.
func TestScrollFillBackwardFetchesMinimalGapAndSlidesWindow(t *testing.T) {
	items := mkItems(20)
	reg := rnf.NewRegistry()
	c := New(newSyncBus(items), zerolog.Nop(), 5, nil, reg, nil)
	c.EnterList(context.Background(), 1, 0, CallerFirstEntry, "")

	c.mu.Lock()
	c.slots = []slot{
		{item: items[5], valid: true},
		{item: items[6], valid: true},
		{item: items[7], valid: true},
		{item: items[8], valid: true},
		{item: items[9], valid: true},
	}
	c.firstLine = 5
	c.mu.Unlock()

	done := make(chan *broker.Item, 1)
	res, item := c.GetItemAsync(context.Background(), 3, func(it *broker.Item, err error) { done <- it })
	if res != Started || item != nil {
		t.Fatalf("GetItemAsync(3) = %v/%v, want STARTED/nil", res, item)
	}

	if !reg.Deliver(1, broker.RangeResult{FirstActual: 3, Items: items[3:5]}, nil) {
		t.Fatal("Deliver found no pending call for cookie 1")
	}

	got := <-done
	if got == nil || got.Text != "3" {
		t.Fatalf("onReady item = %+v, want item 3", got)
	}

	w := c.WindowSnapshot()
	if w.FirstLine != 3 || len(w.Items) != 5 {
		t.Fatalf("window after backward scroll-fill = firstLine=%d items=%d, want firstLine=3 items=5", w.FirstLine, len(w.Items))
	}
	if w.Items[0].Text != "3" || w.Items[4].Text != "7" {
		t.Fatalf("window items = %+v, want lines 3..7, got %+v", w.Items, w.Items)
	}
}

package loop

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tplusa/drcpd/internal/broker"
	"github.com/tplusa/drcpd/internal/eventqueue"
	"github.com/tplusa/drcpd/internal/ids"
	"github.com/tplusa/drcpd/internal/views"
)

type recordingView struct {
	name   string
	events []eventqueue.Event
}

func (v *recordingView) Name() string                                  { return v.name }
func (v *recordingView) Activate(ctx context.Context) error            { return nil }
func (v *recordingView) Deactivate(ctx context.Context)                {}
func (v *recordingView) HandleEvent(ctx context.Context, ev eventqueue.Event) error {
	v.events = append(v.events, ev)
	return nil
}

type fakeCache struct {
	seen []broker.ListInvalidateEvent
}

func (c *fakeCache) HandleListInvalidate(ctx context.Context, ev broker.ListInvalidateEvent) {
	c.seen = append(c.seen, ev)
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestRunDispatchesEventsToActiveView(t *testing.T) {
	vm := views.New(zerolog.Nop())
	v := &recordingView{name: "list"}
	vm.Register(v)
	if err := vm.Open(context.Background(), "list"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	events := make(chan eventqueue.Event, 4)
	l := New(zerolog.Nop(), events, nil, vm)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	events <- eventqueue.Event{Kind: eventqueue.NavLevelUp}
	waitUntil(t, func() bool { return len(v.events) == 1 })
	if v.events[0].Kind != eventqueue.NavLevelUp {
		t.Fatalf("v.events[0].Kind = %v, want NavLevelUp", v.events[0].Kind)
	}
}

func TestRunBroadcastsInvalidateToAllRegisteredCaches(t *testing.T) {
	vm := views.New(zerolog.Nop())
	invalidate := make(chan broker.ListInvalidateEvent, 4)
	l := New(zerolog.Nop(), nil, invalidate, vm)

	c1, c2 := &fakeCache{}, &fakeCache{}
	l.RegisterCache(c1)
	l.RegisterCache(c2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	ev := broker.ListInvalidateEvent{Old: ids.ListID(1), New: ids.ListID(2)}
	invalidate <- ev

	waitUntil(t, func() bool { return len(c1.seen) == 1 && len(c2.seen) == 1 })
	if c1.seen[0] != ev || c2.seen[0] != ev {
		t.Fatalf("caches did not both see %+v: %+v %+v", ev, c1.seen, c2.seen)
	}
}

func TestDeferRunsOnLoopGoroutineInOrder(t *testing.T) {
	vm := views.New(zerolog.Nop())
	l := New(zerolog.Nop(), nil, nil, vm)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	var order []int
	done := make(chan struct{})
	l.Defer(func() { order = append(order, 1) })
	l.Defer(func() { order = append(order, 2) })
	l.Defer(func() { order = append(order, 3); close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("deferred calls never completed")
	}
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("order = %v, want [1 2 3]", order)
	}
}

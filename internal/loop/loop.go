// Package loop implements the single main-thread cooperative event
// loop (spec.md §5, SPEC_FULL.md §5): a `select` over the UI command
// mailbox, broker list-invalidation signals, and a generic deferred-call
// channel any goroutine can post work through — the Go equivalent of
// "post a deferred call to the main context". It is grounded on
// teacher's single-goroutine `tea.Program` Update loop (`src/model.go`):
// one goroutine mutates shared state, everything else sends it a
// message instead of touching that state directly.
package loop

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/tplusa/drcpd/internal/broker"
	"github.com/tplusa/drcpd/internal/eventqueue"
	"github.com/tplusa/drcpd/internal/views"
)

// Invalidatable is anything that reacts to a broker's ListInvalidate
// signal (spec.md §6) — internal/listcache.Cache satisfies this.
type Invalidatable interface {
	HandleListInvalidate(ctx context.Context, ev broker.ListInvalidateEvent)
}

// Loop is the main-thread event dispatcher. Nothing here needs its own
// mutex: Loop.Run is the only goroutine that ever calls into the
// Invalidatable caches or the view manager, matching spec.md §5's "the
// main thread alone mutates views, navigations, caches" rule.
type Loop struct {
	log zerolog.Logger

	events     <-chan eventqueue.Event
	invalidate <-chan broker.ListInvalidateEvent
	deferred   chan func()

	views  *views.Manager
	caches []Invalidatable
}

// New creates a Loop. invalidate may be nil if no broker's
// ListInvalidate signal has been wired up yet (tests, or a broker that
// doesn't support it).
func New(log zerolog.Logger, events <-chan eventqueue.Event, invalidate <-chan broker.ListInvalidateEvent, vm *views.Manager) *Loop {
	return &Loop{
		log:        log,
		events:     events,
		invalidate: invalidate,
		deferred:   make(chan func(), 64),
		views:      vm,
	}
}

// RegisterCache adds c to the set notified on every ListInvalidate
// signal. Call before Run starts; Loop.Run is the only reader of the
// slice afterward so no lock is needed.
func (l *Loop) RegisterCache(c Invalidatable) {
	l.caches = append(l.caches, c)
}

// Defer posts fn to run on the loop goroutine, in receipt order
// relative to other deferred calls — a way for a non-loop goroutine to
// touch loop-owned state safely.
func (l *Loop) Defer(fn func()) {
	l.deferred <- fn
}

// Run drains events, invalidation signals, and deferred calls until
// ctx is done.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-l.events:
			if !ok {
				l.events = nil
				continue
			}
			if err := l.views.Dispatch(ctx, ev); err != nil {
				l.log.Warn().Err(err).Stringer("kind", ev.Kind).Msg("loop: view dispatch failed")
			}

		case ev, ok := <-l.invalidate:
			if !ok {
				l.invalidate = nil
				continue
			}
			for _, c := range l.caches {
				c.HandleListInvalidate(ctx, ev)
			}

		case fn := <-l.deferred:
			fn()
		}
	}
}

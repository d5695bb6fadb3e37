// Package views implements the view manager (spec.md §4 overview,
// component C10): a registry of views, activation/deactivation, and
// routing of UI events to whichever view is active. The concrete,
// source-specific views themselves are out of scope (spec.md §1
// Non-goals) — this package only owns the abstract contract a view
// exposes to the rest of the daemon.
package views

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tplusa/drcpd/internal/eventqueue"
)

// View is the abstract contract a concrete, source-specific view
// implements. Activate/Deactivate bracket the view's lifetime on
// screen; HandleEvent receives every UI event not already consumed by
// the manager itself (spec.md §2 "drives C6 through C4").
type View interface {
	Name() string
	Activate(ctx context.Context) error
	Deactivate(ctx context.Context)
	HandleEvent(ctx context.Context, ev eventqueue.Event) error
}

// Searchable is implemented by views that accept
// Views.SearchParameters(context, [(key,value)*]) (spec.md §6).
type Searchable interface {
	SetSearchParameters(ctx context.Context, searchContext string, params []eventqueue.SearchParam) error
}

// ErrUnknownView is returned by Open/Toggle for a name with no
// registered View.
type ErrUnknownView string

func (e ErrUnknownView) Error() string { return fmt.Sprintf("views: unknown view %q", string(e)) }

// Manager is the registry + active-view tracker. Every method runs on
// the main loop goroutine — like C8's mailbox, nothing here needs its
// own lock beyond what's necessary to let Active() be read from other
// goroutines (internal/monitor, internal/automation).
type Manager struct {
	log zerolog.Logger

	mu       sync.RWMutex
	byName   map[string]View
	active   View
	toggleAt map[[2]string]int // not consulted: Toggle decides from the active view alone
}

// New creates an empty Manager.
func New(log zerolog.Logger) *Manager {
	return &Manager{
		log:      log,
		byName:   make(map[string]View),
		toggleAt: make(map[[2]string]int),
	}
}

// Register adds a view to the registry. Registering a view under a
// name already in use replaces it.
func (m *Manager) Register(v View) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byName[v.Name()] = v
}

// Active returns the currently active view's name, or "" if none.
func (m *Manager) Active() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil {
		return ""
	}
	return m.active.Name()
}

// Open deactivates the current view (if any) and activates name.
// Opening the already-active view is a no-op.
func (m *Manager) Open(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openLocked(ctx, name)
}

func (m *Manager) openLocked(ctx context.Context, name string) error {
	if m.active != nil && m.active.Name() == name {
		return nil
	}
	v, ok := m.byName[name]
	if !ok {
		return ErrUnknownView(name)
	}
	if m.active != nil {
		m.active.Deactivate(ctx)
	}
	if err := v.Activate(ctx); err != nil {
		m.log.Warn().Err(err).Str("view", name).Msg("views: activate failed")
		m.active = nil
		return err
	}
	m.active = v
	return nil
}

// Toggle switches between views a and b: if neither is active, a is
// opened; otherwise the view that is not currently active is opened.
// Repeated toggling of the same pair alternates, matching teacher's
// listView/logsView flip (spec.md §6 "Views.Toggle(a, b)").
func (m *Manager) Toggle(ctx context.Context, a, b string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	target := a
	if m.active != nil && m.active.Name() == a {
		target = b
	}
	return m.openLocked(ctx, target)
}

// SearchParameters forwards search parameters to the active view, if
// it implements Searchable; otherwise it is a no-op (a view with no
// search concept simply ignores them).
func (m *Manager) SearchParameters(ctx context.Context, searchContext string, params []eventqueue.SearchParam) error {
	m.mu.RLock()
	active := m.active
	m.mu.RUnlock()

	if active == nil {
		return nil
	}
	s, ok := active.(Searchable)
	if !ok {
		return nil
	}
	return s.SetSearchParameters(ctx, searchContext, params)
}

// Dispatch routes one UI event (spec.md §2 "UI events enter C9, are
// dispatched by C10 to the active view"). ViewOpen/ViewToggle/
// ViewSearchParameters are handled by the manager itself; everything
// else is forwarded to the active view's HandleEvent.
func (m *Manager) Dispatch(ctx context.Context, ev eventqueue.Event) error {
	switch ev.Kind {
	case eventqueue.ViewOpen:
		args, ok := ev.Args.(eventqueue.ViewOpenArgs)
		if !ok {
			return fmt.Errorf("views: ViewOpen event with wrong args type %T", ev.Args)
		}
		return m.Open(ctx, args.Name)
	case eventqueue.ViewToggle:
		args, ok := ev.Args.(eventqueue.ViewToggleArgs)
		if !ok {
			return fmt.Errorf("views: ViewToggle event with wrong args type %T", ev.Args)
		}
		return m.Toggle(ctx, args.A, args.B)
	case eventqueue.ViewSearchParameters:
		args, ok := ev.Args.(eventqueue.SearchParametersArgs)
		if !ok {
			return fmt.Errorf("views: ViewSearchParameters event with wrong args type %T", ev.Args)
		}
		return m.SearchParameters(ctx, args.Context, args.Params)
	default:
		m.mu.RLock()
		active := m.active
		m.mu.RUnlock()
		if active == nil {
			m.log.Debug().Stringer("kind", ev.Kind).Msg("views: event dropped, no active view")
			return nil
		}
		return active.HandleEvent(ctx, ev)
	}
}

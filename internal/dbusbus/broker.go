// Package dbusbus provides the concrete D-Bus bindings for the three
// bus roles spec.md §6 describes as external collaborators: the list
// broker bus (component S1, talked to by C4/C6), the stream player
// bus (talked to by C8), and the UI command bus (feeding C9). Every
// type here implements the plain Go interface its internal package
// already defines (broker.Bus, player.Bus), so production wiring in
// cmd/drcpd swaps a dbusbus value in where tests use a fake.
package dbusbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"

	"github.com/tplusa/drcpd/internal/broker"
	"github.com/tplusa/drcpd/internal/ids"
)

// BrokerBus implements broker.Bus over a de.tahifi.Lists.Navigation
// peer (spec.md §6), grounded on `_examples/original_source/src/
// dbus_iface.c`'s proxy construction and `dbus_handlers.cc`'s
// DataAvailable/DataError dispatch. Where the original's GLib proxies
// use an async-call-plus-signal pattern, this binding uses godbus's
// own Object.Go to get per-call completion, and resolves the matching
// rnf.Registry entry directly from that completion instead of
// threading results through a separate signal subscription — the
// cookie contract internal/listcache and internal/crawler already
// depend on is satisfied either way.
type BrokerBus struct {
	conn *dbus.Conn
	dest string
	path dbus.ObjectPath
	log  zerolog.Logger

	mu       sync.Mutex
	nextID   uint32
	resolved func(cookie ids.Cookie, payload any, err error)
}

// NewBrokerBus binds to a list-broker peer at dest/path on conn.
// resolveAsync is called from the connection's own goroutine when an
// async call completes; production wiring is
// rnf.Registry.Deliver(uint32(cookie), payload, err).
func NewBrokerBus(conn *dbus.Conn, dest string, path dbus.ObjectPath, log zerolog.Logger, resolveAsync func(cookie ids.Cookie, payload any, err error)) *BrokerBus {
	return &BrokerBus{conn: conn, dest: dest, path: path, log: log, resolved: resolveAsync}
}

const navIface = "de.tahifi.Lists.Navigation"

func (b *BrokerBus) obj() dbus.BusObject { return b.conn.Object(b.dest, b.path) }

func (b *BrokerBus) nextCookie() ids.Cookie {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	return ids.Cookie(b.nextID)
}

// GetListId is the synchronous child-list-id lookup (spec.md §4.5 step
// 3e).
func (b *BrokerBus) GetListId(ctx context.Context, parent ids.ListID, item int) (broker.ChildListResult, broker.Error) {
	var errCode uint8
	var childList uint32
	var title string
	var translatable bool

	call := b.obj().CallWithContext(ctx, navIface+".GetListId", 0, uint32(parent), int16(item))
	if call.Err != nil {
		b.log.Warn().Err(call.Err).Msg("dbusbus: GetListId call failed")
		return broker.ChildListResult{}, broker.ErrInternal
	}
	if err := call.Store(&errCode, &childList, &title, &translatable); err != nil {
		b.log.Warn().Err(err).Msg("dbusbus: GetListId reply decode failed")
		return broker.ChildListResult{}, broker.ErrInternal
	}
	return broker.ChildListResult{ChildList: ids.ListID(childList), Title: title, Translatable: translatable}, broker.Error(errCode)
}

// GetListIdAsync is the non-blocking form SPEC_FULL.md §9 requires.
func (b *BrokerBus) GetListIdAsync(ctx context.Context, parent ids.ListID, item int) (ids.Cookie, error) {
	cookie := b.nextCookie()
	call := b.obj().GoWithContext(ctx, navIface+".GetListId", 0, nil, uint32(parent), int16(item))
	go b.awaitChildList(cookie, call)
	return cookie, nil
}

func (b *BrokerBus) awaitChildList(cookie ids.Cookie, call *dbus.Call) {
	<-call.Done
	if call.Err != nil {
		b.deliver(cookie, broker.ChildListResult{}, call.Err)
		return
	}
	var errCode uint8
	var childList uint32
	var title string
	var translatable bool
	if err := call.Store(&errCode, &childList, &title, &translatable); err != nil {
		b.deliver(cookie, broker.ChildListResult{}, err)
		return
	}
	if broker.Error(errCode) != broker.ErrOK {
		b.deliver(cookie, broker.ChildListResult{}, broker.Error(errCode))
		return
	}
	b.deliver(cookie, broker.ChildListResult{ChildList: ids.ListID(childList), Title: title, Translatable: translatable}, nil)
}

// CheckRange is synchronous; (list,0,0) yields the total item count.
func (b *BrokerBus) CheckRange(ctx context.Context, list ids.ListID, first, count int) (broker.SizeResult, broker.Error) {
	var errCode uint8
	var firstActual, size int32

	call := b.obj().CallWithContext(ctx, navIface+".CheckRange", 0, uint32(list), int32(first), int32(count))
	if call.Err != nil {
		b.log.Warn().Err(call.Err).Msg("dbusbus: CheckRange call failed")
		return broker.SizeResult{}, broker.ErrInternal
	}
	if err := call.Store(&errCode, &firstActual, &size); err != nil {
		b.log.Warn().Err(err).Msg("dbusbus: CheckRange reply decode failed")
		return broker.SizeResult{}, broker.ErrInternal
	}
	return broker.SizeResult{FirstActual: int(firstActual), Size: int(size)}, broker.Error(errCode)
}

// GetRange is asynchronous and cookie-based.
func (b *BrokerBus) GetRange(ctx context.Context, list ids.ListID, first, count int) (ids.Cookie, error) {
	cookie := b.nextCookie()
	call := b.obj().GoWithContext(ctx, navIface+".GetRange", 0, nil, uint32(list), int32(first), int32(count))
	go b.awaitRange(cookie, call)
	return cookie, nil
}

func (b *BrokerBus) awaitRange(cookie ids.Cookie, call *dbus.Call) {
	<-call.Done
	if call.Err != nil {
		b.deliver(cookie, broker.RangeResult{}, call.Err)
		return
	}
	var errCode uint8
	var firstActual int32
	var names []string
	var kinds []uint8
	if err := call.Store(&errCode, &firstActual, &names, &kinds); err != nil {
		b.deliver(cookie, broker.RangeResult{}, err)
		return
	}
	if broker.Error(errCode) != broker.ErrOK {
		b.deliver(cookie, broker.RangeResult{}, broker.Error(errCode))
		return
	}
	items := make([]broker.Item, len(names))
	for i, name := range names {
		kind := broker.KindOpaque
		if i < len(kinds) {
			kind = broker.ItemKind(kinds[i])
		}
		items[i] = broker.Item{Text: name, Kind: kind}
	}
	b.deliver(cookie, broker.RangeResult{FirstActual: int(firstActual), Items: items}, nil)
}

// GetUris is asynchronous and cookie-based.
func (b *BrokerBus) GetUris(ctx context.Context, list ids.ListID, item int) (ids.Cookie, error) {
	cookie := b.nextCookie()
	call := b.obj().GoWithContext(ctx, navIface+".GetURIs", 0, nil, uint32(list), int16(item))
	go b.awaitUris(cookie, call)
	return cookie, nil
}

func (b *BrokerBus) awaitUris(cookie ids.Cookie, call *dbus.Call) {
	<-call.Done
	if call.Err != nil {
		b.deliver(cookie, broker.UrisResult{}, call.Err)
		return
	}
	var errCode uint8
	var uris []string
	if err := call.Store(&errCode, &uris); err != nil {
		b.deliver(cookie, broker.UrisResult{}, err)
		return
	}
	if broker.Error(errCode) != broker.ErrOK {
		b.deliver(cookie, broker.UrisResult{}, broker.Error(errCode))
		return
	}
	b.deliver(cookie, broker.UrisResult{URIs: uris}, nil)
}

// GetParentLink is synchronous.
func (b *BrokerBus) GetParentLink(ctx context.Context, list ids.ListID) (broker.ParentLinkResult, broker.Error) {
	var errCode uint8
	var parentList uint32
	var item int16
	var title string
	var translatable bool

	call := b.obj().CallWithContext(ctx, navIface+".GetParentLink", 0, uint32(list))
	if call.Err != nil {
		b.log.Warn().Err(call.Err).Msg("dbusbus: GetParentLink call failed")
		return broker.ParentLinkResult{}, broker.ErrInternal
	}
	if err := call.Store(&errCode, &parentList, &item, &title, &translatable); err != nil {
		b.log.Warn().Err(err).Msg("dbusbus: GetParentLink reply decode failed")
		return broker.ParentLinkResult{}, broker.ErrInternal
	}
	return broker.ParentLinkResult{ParentList: ids.ListID(parentList), Item: int(item), Title: title, Translatable: translatable}, broker.Error(errCode)
}

func (b *BrokerBus) deliver(cookie ids.Cookie, payload any, err error) {
	if b.resolved == nil {
		return
	}
	b.resolved(cookie, payload, err)
}

// SubscribeListInvalidate wires the broker's ListInvalidate signal
// (spec.md §6) onto a channel, matching dbus_handlers.cc's
// dbussignal_lists_navigation_list_invalidate. Production code runs
// this once at startup; it returns a channel of ListInvalidateEvent
// values translated from the godbus signals, already filtered to this
// path.
func (b *BrokerBus) SubscribeListInvalidate(ctx context.Context) (<-chan broker.ListInvalidateEvent, error) {
	err := b.conn.AddMatchSignalContext(ctx,
		dbus.WithMatchObjectPath(b.path),
		dbus.WithMatchInterface(navIface),
		dbus.WithMatchMember("ListInvalidate"),
	)
	if err != nil {
		return nil, fmt.Errorf("dbusbus: subscribe ListInvalidate: %w", err)
	}

	raw := make(chan *dbus.Signal, 16)
	b.conn.Signal(raw)

	out := make(chan broker.ListInvalidateEvent, 16)
	go func() {
		defer close(out)
		for sig := range raw {
			if sig.Path != b.path || sig.Name != navIface+".ListInvalidate" {
				continue
			}
			if len(sig.Body) < 2 {
				continue
			}
			old, ok1 := sig.Body[0].(uint32)
			next, ok2 := sig.Body[1].(uint32)
			if !ok1 || !ok2 {
				continue
			}
			out <- broker.ListInvalidateEvent{Old: ids.ListID(old), New: ids.ListID(next)}
		}
	}()
	return out, nil
}

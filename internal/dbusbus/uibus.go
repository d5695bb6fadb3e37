package dbusbus

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"

	"github.com/tplusa/drcpd/internal/eventqueue"
	"github.com/tplusa/drcpd/internal/ids"
)

const (
	uiPlaybackIface = "de.tahifi.Drcpd.Playback"
	uiViewsIface    = "de.tahifi.Drcpd.Views"
	uiNavIface      = "de.tahifi.Drcpd.ListNavigation"
)

// UIBus subscribes to the UI command bus (spec.md §6) and posts each
// signal onto an eventqueue.Queue as a typed Event, the C9 mailbox
// internal/loop drains. Grounded on `_examples/original_source/src/
// dbus_handlers.cc`'s dbussignal_dcpd_playback/views/listnavigation
// switch-by-member-name dispatch, generalized into a table keyed on
// (interface, member).
type UIBus struct {
	conn  *dbus.Conn
	path  dbus.ObjectPath
	log   zerolog.Logger
	queue *eventqueue.Queue
}

// NewUIBus wires signals arriving at path into queue.
func NewUIBus(conn *dbus.Conn, path dbus.ObjectPath, queue *eventqueue.Queue, log zerolog.Logger) *UIBus {
	return &UIBus{conn: conn, path: path, log: log, queue: queue}
}

// Subscribe registers match rules for every UI command bus interface
// and starts the dispatch goroutine. Close the connection to stop it;
// there is no separate stop channel since
// closing the underlying dbus.Conn closes godbus's signal channel too.
func (u *UIBus) Subscribe() error {
	for _, iface := range []string{uiPlaybackIface, uiViewsIface, uiNavIface} {
		err := u.conn.AddMatchSignal(
			dbus.WithMatchObjectPath(u.path),
			dbus.WithMatchInterface(iface),
		)
		if err != nil {
			return fmt.Errorf("dbusbus: subscribe %s: %w", iface, err)
		}
	}

	raw := make(chan *dbus.Signal, 32)
	u.conn.Signal(raw)
	go u.dispatch(raw)
	return nil
}

func (u *UIBus) dispatch(raw <-chan *dbus.Signal) {
	for sig := range raw {
		if sig.Path != u.path {
			continue
		}
		ev, ok := u.translate(sig)
		if !ok {
			continue
		}
		if err := u.queue.Post(ev); err != nil {
			u.log.Warn().Err(err).Str("signal", sig.Name).Msg("dbusbus: UI event dropped, queue full")
		}
	}
}

func (u *UIBus) translate(sig *dbus.Signal) (eventqueue.Event, bool) {
	switch sig.Name {
	case uiPlaybackIface + ".Start":
		return eventqueue.Event{Kind: eventqueue.PlaybackStart}, true
	case uiPlaybackIface + ".Stop":
		return eventqueue.Event{Kind: eventqueue.PlaybackStop}, true
	case uiPlaybackIface + ".Pause":
		return eventqueue.Event{Kind: eventqueue.PlaybackPause}, true
	case uiPlaybackIface + ".Resume":
		return eventqueue.Event{Kind: eventqueue.PlaybackResume}, true
	case uiPlaybackIface + ".Next":
		return eventqueue.Event{Kind: eventqueue.PlaybackNext}, true
	case uiPlaybackIface + ".Previous":
		return eventqueue.Event{Kind: eventqueue.PlaybackPrevious}, true
	case uiPlaybackIface + ".RepeatModeToggle":
		return eventqueue.Event{Kind: eventqueue.PlaybackRepeatModeToggle}, true
	case uiPlaybackIface + ".ShuffleModeToggle":
		return eventqueue.Event{Kind: eventqueue.PlaybackShuffleModeToggle}, true
	case uiPlaybackIface + ".SetSpeed":
		if len(sig.Body) < 1 {
			return eventqueue.Event{}, false
		}
		speed, ok := sig.Body[0].(float64)
		if !ok {
			return eventqueue.Event{}, false
		}
		return eventqueue.Event{Kind: eventqueue.PlaybackSetSpeed, Args: eventqueue.SetSpeedArgs{Speed: speed}}, true
	case uiPlaybackIface + ".Seek":
		if len(sig.Body) < 2 {
			return eventqueue.Event{}, false
		}
		pos, ok1 := sig.Body[0].(float64)
		unit, ok2 := sig.Body[1].(string)
		if !ok1 || !ok2 {
			return eventqueue.Event{}, false
		}
		return eventqueue.Event{Kind: eventqueue.PlaybackSeek, Args: eventqueue.SeekArgs{Pos: pos, Unit: unit}}, true
	case uiPlaybackIface + ".StreamInfo":
		if len(sig.Body) < 6 {
			return eventqueue.Event{}, false
		}
		sid, ok1 := sig.Body[0].(uint16)
		artist, ok2 := sig.Body[1].(string)
		album, ok3 := sig.Body[2].(string)
		title, ok4 := sig.Body[3].(string)
		alt, ok5 := sig.Body[4].(string)
		url, ok6 := sig.Body[5].(string)
		if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || !ok6 {
			return eventqueue.Event{}, false
		}
		return eventqueue.Event{Kind: eventqueue.PlaybackStreamInfo, Args: eventqueue.StreamInfoArgs{
			StreamID: ids.StreamID(sid), Artist: artist, Album: album, Title: title, AltTrack: alt, URL: url,
		}}, true

	case uiViewsIface + ".Open":
		if len(sig.Body) < 1 {
			return eventqueue.Event{}, false
		}
		name, ok := sig.Body[0].(string)
		if !ok {
			return eventqueue.Event{}, false
		}
		return eventqueue.Event{Kind: eventqueue.ViewOpen, Args: eventqueue.ViewOpenArgs{Name: name}}, true
	case uiViewsIface + ".Toggle":
		if len(sig.Body) < 2 {
			return eventqueue.Event{}, false
		}
		a, ok1 := sig.Body[0].(string)
		b, ok2 := sig.Body[1].(string)
		if !ok1 || !ok2 {
			return eventqueue.Event{}, false
		}
		return eventqueue.Event{Kind: eventqueue.ViewToggle, Args: eventqueue.ViewToggleArgs{A: a, B: b}}, true
	case uiViewsIface + ".SearchParameters":
		if len(sig.Body) < 2 {
			return eventqueue.Event{}, false
		}
		searchCtx, ok1 := sig.Body[0].(string)
		kvPairs, ok2 := sig.Body[1].([][]string)
		if !ok1 || !ok2 {
			return eventqueue.Event{}, false
		}
		params := make([]eventqueue.SearchParam, 0, len(kvPairs))
		for _, kv := range kvPairs {
			if len(kv) != 2 {
				continue
			}
			params = append(params, eventqueue.SearchParam{Key: kv[0], Value: kv[1]})
		}
		return eventqueue.Event{Kind: eventqueue.ViewSearchParameters, Args: eventqueue.SearchParametersArgs{Context: searchCtx, Params: params}}, true

	case uiNavIface + ".LevelUp":
		return eventqueue.Event{Kind: eventqueue.NavLevelUp}, true
	case uiNavIface + ".LevelDown":
		return eventqueue.Event{Kind: eventqueue.NavLevelDown}, true
	case uiNavIface + ".MoveLines":
		if len(sig.Body) < 1 {
			return eventqueue.Event{}, false
		}
		n, ok := sig.Body[0].(int32)
		if !ok {
			return eventqueue.Event{}, false
		}
		return eventqueue.Event{Kind: eventqueue.NavMoveLines, Args: eventqueue.MoveArgs{N: int(n)}}, true
	case uiNavIface + ".MovePages":
		if len(sig.Body) < 1 {
			return eventqueue.Event{}, false
		}
		n, ok := sig.Body[0].(int32)
		if !ok {
			return eventqueue.Event{}, false
		}
		return eventqueue.Event{Kind: eventqueue.NavMovePages, Args: eventqueue.MoveArgs{N: int(n)}}, true

	default:
		u.log.Debug().Str("signal", sig.Name).Msg("dbusbus: unrecognized UI signal")
		return eventqueue.Event{}, false
	}
}

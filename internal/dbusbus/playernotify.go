package dbusbus

import (
	"context"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"

	"github.com/tplusa/drcpd/internal/ids"
	"github.com/tplusa/drcpd/internal/player"
)

// PlayerNotifier subscribes to the stream player's own signals
// (spec.md §6: NowPlaying, MetaDataChanged, Stopped, StoppedWithError,
// PauseState, PositionChanged) and drives a player.Coordinator
// accordingly, mirroring `_examples/original_source/src/
// dbus_handlers.cc`'s dbussignal_splay_playback dispatch.
type PlayerNotifier struct {
	conn  *dbus.Conn
	path  dbus.ObjectPath
	log   zerolog.Logger
	coord *player.Coordinator
}

// NewPlayerNotifier wires signals arriving at path into coord.
func NewPlayerNotifier(conn *dbus.Conn, path dbus.ObjectPath, coord *player.Coordinator, log zerolog.Logger) *PlayerNotifier {
	return &PlayerNotifier{conn: conn, path: path, coord: coord, log: log}
}

// Subscribe registers the match rule and starts the dispatch
// goroutine.
func (n *PlayerNotifier) Subscribe() error {
	if err := n.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(n.path),
		dbus.WithMatchInterface(playbackIface),
	); err != nil {
		return err
	}

	raw := make(chan *dbus.Signal, 32)
	n.conn.Signal(raw)
	go n.dispatch(raw)
	return nil
}

func (n *PlayerNotifier) dispatch(raw <-chan *dbus.Signal) {
	ctx := context.Background()
	for sig := range raw {
		if sig.Path != n.path {
			continue
		}
		switch sig.Name {
		case playbackIface + ".NowPlaying":
			if len(sig.Body) < 1 {
				continue
			}
			if sid, ok := sig.Body[0].(uint16); ok {
				tryEnqueue := len(sig.Body) > 1
				n.coord.StartNotification(ctx, ids.StreamID(sid), tryEnqueue)
			}
		case playbackIface + ".Stopped", playbackIface + ".StoppedWithError":
			n.coord.StopNotification()
		case playbackIface + ".PauseState":
			n.coord.PauseNotification()
		case playbackIface + ".PositionChanged":
			if len(sig.Body) < 2 {
				continue
			}
			pos, ok1 := sig.Body[0].(float64)
			dur, ok2 := sig.Body[1].(float64)
			if ok1 && ok2 {
				n.coord.TrackTimesNotification(pos, dur)
			}
		case playbackIface + ".MetaDataChanged":
			// Preloaded metadata lives in C7/broker items already;
			// nothing for the coordinator to reconcile here.
		default:
			n.log.Debug().Str("signal", sig.Name).Msg("dbusbus: unrecognized player signal")
		}
	}
}

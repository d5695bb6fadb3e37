package dbusbus

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"

	"github.com/tplusa/drcpd/internal/ids"
	"github.com/tplusa/drcpd/internal/player"
)

const (
	urlfifoIface  = "de.tahifi.Splay.URLFIFO"
	playbackIface = "de.tahifi.Splay.Playback"
)

// PlayerBus implements player.Bus over a de.tahifi.Splay peer (spec.md
// §6 "Stream player bus"), grounded on `_examples/original_source/src/
// player_control.cc`'s URLFIFO.Push/Playback.Next/.Stop call sites.
type PlayerBus struct {
	conn *dbus.Conn
	dest string
	path dbus.ObjectPath
	log  zerolog.Logger
}

// NewPlayerBus binds to a stream player peer at dest/path on conn.
func NewPlayerBus(conn *dbus.Conn, dest string, path dbus.ObjectPath, log zerolog.Logger) *PlayerBus {
	return &PlayerBus{conn: conn, dest: dest, path: path, log: log}
}

func (p *PlayerBus) obj() dbus.BusObject { return p.conn.Object(p.dest, p.path) }

// PushURL enqueues url tagged with streamID.
func (p *PlayerBus) PushURL(ctx context.Context, streamID ids.StreamID, url string, playImmediate bool) (player.FIFOStatus, error) {
	var status uint8
	call := p.obj().CallWithContext(ctx, urlfifoIface+".Push", 0, uint16(streamID), url, playImmediate)
	if call.Err != nil {
		return player.FIFOFailed, fmt.Errorf("dbusbus: URLFIFO.Push: %w", call.Err)
	}
	if err := call.Store(&status); err != nil {
		return player.FIFOFailed, fmt.Errorf("dbusbus: URLFIFO.Push reply decode: %w", err)
	}
	switch status {
	case 0:
		return player.FIFOStarted, nil
	case 1:
		return player.FIFOFull, nil
	case 2:
		return player.FIFOPlayingNow, nil
	default:
		return player.FIFOFailed, nil
	}
}

// Next advances the player to the next queued stream.
func (p *PlayerBus) Next(ctx context.Context) (ids.StreamID, bool, error) {
	var next uint16
	var isPlaying bool
	call := p.obj().CallWithContext(ctx, playbackIface+".Next", 0)
	if call.Err != nil {
		return ids.InvalidStreamID, false, fmt.Errorf("dbusbus: Playback.Next: %w", call.Err)
	}
	if err := call.Store(&next, &isPlaying); err != nil {
		return ids.InvalidStreamID, false, fmt.Errorf("dbusbus: Playback.Next reply decode: %w", err)
	}
	return ids.StreamID(next), isPlaying, nil
}

// Clear empties the queue, optionally keeping one stream id in place.
func (p *PlayerBus) Clear(ctx context.Context, keep ids.StreamID) (ids.StreamID, []ids.StreamID, []ids.StreamID, error) {
	var current uint16
	var queuedRaw, removedRaw []uint16

	call := p.obj().CallWithContext(ctx, urlfifoIface+".Clear", 0, uint16(keep))
	if call.Err != nil {
		return ids.InvalidStreamID, nil, nil, fmt.Errorf("dbusbus: URLFIFO.Clear: %w", call.Err)
	}
	if err := call.Store(&current, &queuedRaw, &removedRaw); err != nil {
		return ids.InvalidStreamID, nil, nil, fmt.Errorf("dbusbus: URLFIFO.Clear reply decode: %w", err)
	}

	queued := make([]ids.StreamID, len(queuedRaw))
	for i, v := range queuedRaw {
		queued[i] = ids.StreamID(v)
	}
	removed := make([]ids.StreamID, len(removedRaw))
	for i, v := range removedRaw {
		removed[i] = ids.StreamID(v)
	}
	return ids.StreamID(current), queued, removed, nil
}

// Start starts playback.
func (p *PlayerBus) Start(ctx context.Context) error {
	return p.call(ctx, playbackIface+".Start")
}

// Stop stops playback.
func (p *PlayerBus) Stop(ctx context.Context) error {
	return p.call(ctx, playbackIface+".Stop")
}

// Pause pauses playback.
func (p *PlayerBus) Pause(ctx context.Context) error {
	return p.call(ctx, playbackIface+".Pause")
}

// Seek seeks to pos, given in unit ("ms" or "%").
func (p *PlayerBus) Seek(ctx context.Context, pos float64, unit string) error {
	call := p.obj().CallWithContext(ctx, playbackIface+".Seek", 0, pos, unit)
	if call.Err != nil {
		return fmt.Errorf("dbusbus: Playback.Seek: %w", call.Err)
	}
	return nil
}

func (p *PlayerBus) call(ctx context.Context, method string) error {
	call := p.obj().CallWithContext(ctx, method, 0)
	if call.Err != nil {
		return fmt.Errorf("dbusbus: %s: %w", method, call.Err)
	}
	return nil
}

package dbusbus

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"

	"github.com/tplusa/drcpd/internal/eventqueue"
)

func TestTranslatePlaybackSeek(t *testing.T) {
	u := &UIBus{log: zerolog.Nop()}
	sig := &dbus.Signal{Name: uiPlaybackIface + ".Seek", Body: []interface{}{float64(1500), "ms"}}

	ev, ok := u.translate(sig)
	if !ok {
		t.Fatal("translate() ok = false, want true")
	}
	if ev.Kind != eventqueue.PlaybackSeek {
		t.Fatalf("ev.Kind = %v, want PlaybackSeek", ev.Kind)
	}
	args, ok := ev.Args.(eventqueue.SeekArgs)
	if !ok || args.Pos != 1500 || args.Unit != "ms" {
		t.Fatalf("ev.Args = %+v, want SeekArgs{1500, ms}", ev.Args)
	}
}

func TestTranslateViewsToggle(t *testing.T) {
	u := &UIBus{log: zerolog.Nop()}
	sig := &dbus.Signal{Name: uiViewsIface + ".Toggle", Body: []interface{}{"list", "logs"}}

	ev, ok := u.translate(sig)
	if !ok {
		t.Fatal("translate() ok = false, want true")
	}
	args, ok := ev.Args.(eventqueue.ViewToggleArgs)
	if !ok || args.A != "list" || args.B != "logs" {
		t.Fatalf("ev.Args = %+v, want ViewToggleArgs{list, logs}", ev.Args)
	}
}

func TestTranslateNavMoveLines(t *testing.T) {
	u := &UIBus{log: zerolog.Nop()}
	sig := &dbus.Signal{Name: uiNavIface + ".MoveLines", Body: []interface{}{int32(-3)}}

	ev, ok := u.translate(sig)
	if !ok {
		t.Fatal("translate() ok = false, want true")
	}
	if args, ok := ev.Args.(eventqueue.MoveArgs); !ok || args.N != -3 {
		t.Fatalf("ev.Args = %+v, want MoveArgs{-3}", ev.Args)
	}
}

func TestTranslateUnknownSignalIsIgnored(t *testing.T) {
	u := &UIBus{log: zerolog.Nop()}
	sig := &dbus.Signal{Name: "de.tahifi.Drcpd.Playback.Unknown", Body: nil}

	if _, ok := u.translate(sig); ok {
		t.Fatal("translate() ok = true, want false for unknown signal")
	}
}

func TestTranslateMalformedBodyIsRejected(t *testing.T) {
	u := &UIBus{log: zerolog.Nop()}
	sig := &dbus.Signal{Name: uiPlaybackIface + ".Seek", Body: []interface{}{"not-a-float", "ms"}}

	if _, ok := u.translate(sig); ok {
		t.Fatal("translate() ok = true, want false for malformed body")
	}
}

// Package eventqueue implements the UI command mailbox (spec.md §4.8,
// component C9): every signal handler on the UI command bus (spec.md §6)
// posts an opaque, typed-payload Event here; the single main loop
// (internal/loop) is the only consumer, draining it in arrival order.
package eventqueue

import (
	"errors"

	"github.com/tplusa/drcpd/internal/ids"
)

// Kind is the UI command bus signal an Event carries (spec.md §6 "UI
// command bus").
type Kind int

const (
	PlaybackStart Kind = iota
	PlaybackStop
	PlaybackPause
	PlaybackResume
	PlaybackNext
	PlaybackPrevious
	PlaybackSetSpeed
	PlaybackSeek
	PlaybackRepeatModeToggle
	PlaybackShuffleModeToggle
	PlaybackStreamInfo
	ViewOpen
	ViewToggle
	ViewSearchParameters
	NavLevelUp
	NavLevelDown
	NavMoveLines
	NavMovePages
)

func (k Kind) String() string {
	names := [...]string{
		"PLAYBACK_START", "PLAYBACK_STOP", "PLAYBACK_PAUSE", "PLAYBACK_RESUME",
		"PLAYBACK_NEXT", "PLAYBACK_PREVIOUS", "PLAYBACK_SET_SPEED", "PLAYBACK_SEEK",
		"PLAYBACK_REPEAT_MODE_TOGGLE", "PLAYBACK_SHUFFLE_MODE_TOGGLE", "PLAYBACK_STREAM_INFO",
		"VIEW_OPEN", "VIEW_TOGGLE", "VIEW_SEARCH_PARAMETERS",
		"NAV_LEVEL_UP", "NAV_LEVEL_DOWN", "NAV_MOVE_LINES", "NAV_MOVE_PAGES",
	}
	if int(k) < 0 || int(k) >= len(names) {
		return "UNKNOWN"
	}
	return names[k]
}

// SeekArgs is the payload of Playback.Seek(x, unit).
type SeekArgs struct {
	Pos  float64
	Unit string
}

// SetSpeedArgs is the payload of Playback.SetSpeed(d).
type SetSpeedArgs struct {
	Speed float64
}

// StreamInfoArgs is the payload of Playback.StreamInfo(id, artist, album,
// title, alttrack, url) — external stream metadata (spec.md §4.6).
type StreamInfoArgs struct {
	StreamID ids.StreamID
	Artist   string
	Album    string
	Title    string
	AltTrack string
	URL      string
}

// ViewOpenArgs is the payload of Views.Open(name).
type ViewOpenArgs struct {
	Name string
}

// ViewToggleArgs is the payload of Views.Toggle(a, b).
type ViewToggleArgs struct {
	A, B string
}

// SearchParam is one (key, value) pair of Views.SearchParameters.
type SearchParam struct {
	Key, Value string
}

// SearchParametersArgs is the payload of
// Views.SearchParameters(context, [(key,value)*]).
type SearchParametersArgs struct {
	Context string
	Params  []SearchParam
}

// MoveArgs is the payload of ListNavigation.MoveLines(n)/MovePages(n).
type MoveArgs struct {
	N int
}

// Event is one posted UI command: Kind identifies which signal fired,
// Args is one of the typed structs above (nil for signals that carry no
// parameters, e.g. PlaybackStart).
type Event struct {
	Kind Kind
	Args any
}

// ErrFull is returned by Post when the queue's buffer is saturated — the
// main loop has fallen far enough behind that posting would otherwise
// block the bus-I/O goroutine delivering the signal.
var ErrFull = errors.New("eventqueue: full")

// Queue is the UI event mailbox: any number of signal-handler goroutines
// may Post; internal/loop is the sole reader of Events().
type Queue struct {
	ch chan Event
}

// New creates a Queue buffering up to capacity unconsumed events.
func New(capacity int) *Queue {
	return &Queue{ch: make(chan Event, capacity)}
}

// Post enqueues e without blocking, returning ErrFull if the buffer is
// saturated.
func (q *Queue) Post(e Event) error {
	select {
	case q.ch <- e:
		return nil
	default:
		return ErrFull
	}
}

// Events returns the channel the main loop selects on.
func (q *Queue) Events() <-chan Event { return q.ch }

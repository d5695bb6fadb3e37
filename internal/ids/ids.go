// Package ids implements the typed identifier algebra shared by every
// component that talks to list brokers and the stream player: list ids,
// stream ids (partitioned into "our" and "external" ranges) and request
// cookies.
package ids

import "fmt"

// ListID identifies a list on a specific broker. Zero is never valid.
type ListID uint32

// InvalidListID is the sentinel returned where no list is bound.
const InvalidListID ListID = 0

// IsValid reports whether id is usable in a broker call.
func (id ListID) IsValid() bool { return id != InvalidListID }

func (id ListID) String() string { return fmt.Sprintf("list:%d", uint32(id)) }

// Epoch is a monotonic counter bumped every time a ListID is (re)bound to
// a cache window, so that late-arriving replies for a since-rebound or
// since-invalidated list can be recognised and dropped (SPEC_FULL.md §3).
type Epoch uint64

// StreamID is the 16-bit identifier space the stream player uses for
// queued/playing streams. The space is partitioned: ids below
// StreamIDHalf were assigned locally by this daemon ("our" ids), ids at
// or above it were assigned by some other actor ("external" ids).
type StreamID uint16

const (
	// InvalidStreamID marks "no stream".
	InvalidStreamID StreamID = 0

	// StreamIDHalf is the first id in the external half of the space.
	StreamIDHalf StreamID = 1 << 15

	// StreamIDMax is the last assignable id.
	StreamIDMax StreamID = ^StreamID(0)
)

// IsOurs reports whether id falls in the locally-assigned range.
func (id StreamID) IsOurs() bool { return id != InvalidStreamID && id < StreamIDHalf }

// IsExternal reports whether id falls in the externally-assigned range.
func (id StreamID) IsExternal() bool { return id >= StreamIDHalf }

// IsValid reports whether id is not the invalid sentinel.
func (id StreamID) IsValid() bool { return id != InvalidStreamID }

func (id StreamID) String() string {
	switch {
	case id == InvalidStreamID:
		return "stream:invalid"
	case id.IsOurs():
		return fmt.Sprintf("stream:ours:%d", uint16(id))
	default:
		return fmt.Sprintf("stream:ext:%d", uint16(id))
	}
}

// Cookie is a broker-scoped handle for an in-flight asynchronous call.
type Cookie uint32

// InvalidCookie marks "no outstanding call".
const InvalidCookie Cookie = 0

func (c Cookie) IsValid() bool { return c != InvalidCookie }

func (c Cookie) String() string { return fmt.Sprintf("cookie:%d", uint32(c)) }

// BoundList pairs a ListID with the epoch it was bound under. Replies
// must be matched against both fields; an id match with a stale epoch is
// treated as DISJOINT from the current state and discarded.
type BoundList struct {
	ID    ListID
	Epoch Epoch
}

// IsValid reports whether the bound list refers to a real list.
func (b BoundList) IsValid() bool { return b.ID.IsValid() }

// Matches reports whether other refers to exactly the same (id, epoch).
func (b BoundList) Matches(other BoundList) bool {
	return b.ID == other.ID && b.Epoch == other.Epoch
}

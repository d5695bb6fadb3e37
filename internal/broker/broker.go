// Package broker defines the contract a list-broker peer exposes over
// the bus (spec.md §6) and the data types that travel across it. Brokers
// are external collaborators; internal/dbusbus provides the concrete
// D-Bus binding, tests use fakes implementing the same interface.
package broker

import (
	"context"

	"github.com/tplusa/drcpd/internal/ids"
)

// ItemKind is the list item variant (spec.md §3).
type ItemKind int

const (
	KindOpaque ItemKind = iota
	KindRegularFile
	KindDirectory
	KindPlaylistFile
	KindPlaylistDirectory
	KindServer
	KindStorageDevice
	KindSearchForm
	KindLogoutLink
	KindLocked
)

func (k ItemKind) String() string {
	switch k {
	case KindOpaque:
		return "opaque"
	case KindRegularFile:
		return "regular_file"
	case KindDirectory:
		return "directory"
	case KindPlaylistFile:
		return "playlist_file"
	case KindPlaylistDirectory:
		return "playlist_directory"
	case KindServer:
		return "server"
	case KindStorageDevice:
		return "storage_device"
	case KindSearchForm:
		return "search_form"
	case KindLogoutLink:
		return "logout_link"
	case KindLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// IsDirectory reports whether the item can be descended into by the
// crawler (spec.md §4.5 step 3e).
func (k ItemKind) IsDirectory() bool {
	return k == KindDirectory || k == KindPlaylistDirectory
}

// Metadata is preloaded track metadata read out of a list item at
// enumeration time (spec.md glossary: "preloaded metadata").
type Metadata struct {
	Artist       string
	Album        string
	Title        string
	BitrateKbps  int
	HasBitrate   bool
}

// Item is a single list entry.
type Item struct {
	Text          string
	Translatable  bool
	Kind          ItemKind
	Meta          Metadata
	HasMeta       bool
}

// Error is the list-broker error taxonomy (spec.md §7).
type Error int

const (
	ErrOK Error = iota
	ErrInternal
	ErrInvalidID
	ErrInvalidURI
	ErrInconsistent
	ErrOutOfRange
	ErrEmpty
	ErrOverflown
	ErrUnderflown
	ErrInvalidStreamURL
	ErrInvalidStrBoURL
	ErrNotFound
	ErrBusy500
	ErrBusy1000
	ErrBusy1500
	ErrBusy3000
	ErrBusy5000
	ErrBusy
	ErrInterrupted
	ErrPhysicalMediaIO
	ErrNetIO
	ErrProtocol
	ErrAuthentication
	ErrNotSupported
	ErrPermissionDenied
)

func (e Error) Error() string {
	names := [...]string{
		"OK", "INTERNAL", "INVALID_ID", "INVALID_URI", "INCONSISTENT",
		"OUT_OF_RANGE", "EMPTY", "OVERFLOWN", "UNDERFLOWN",
		"INVALID_STREAM_URL", "INVALID_STRBO_URL", "NOT_FOUND",
		"BUSY_500", "BUSY_1000", "BUSY_1500", "BUSY_3000", "BUSY_5000",
		"BUSY", "INTERRUPTED", "PHYSICAL_MEDIA_IO", "NET_IO", "PROTOCOL",
		"AUTHENTICATION", "NOT_SUPPORTED", "PERMISSION_DENIED",
	}
	if int(e) < 0 || int(e) >= len(names) {
		return "UNKNOWN"
	}
	return names[e]
}

// IsBusy reports whether e is one of the transient BUSY_* variants that
// the cache should recover from by retrying (spec.md §7).
func (e Error) IsBusy() bool {
	switch e {
	case ErrBusy500, ErrBusy1000, ErrBusy1500, ErrBusy3000, ErrBusy5000, ErrBusy:
		return true
	default:
		return false
	}
}

// IsHard reports whether e is one of the "hard" failures the crawler
// must surface as an operation failure rather than skip past (spec.md
// §4.5 "Skipping and tie-breaks").
func (e Error) IsHard() bool {
	switch e {
	case ErrPermissionDenied, ErrProtocol, ErrAuthentication:
		return true
	default:
		return false
	}
}

// RangeResult is the payload of a completed GetRange call.
type RangeResult struct {
	FirstActual int
	Items       []Item
}

// SizeResult is the payload of the synchronous CheckRange(list,0,0)
// total-size query.
type SizeResult struct {
	FirstActual int
	Size        int
}

// UrisResult is the payload of a completed GetUris call.
type UrisResult struct {
	URIs []string
}

// ChildListResult is the payload of the synchronous GetListId call.
type ChildListResult struct {
	ChildList    ids.ListID
	Title        string
	Translatable bool
}

// ParentLinkResult is the payload of the synchronous GetParentLink call.
type ParentLinkResult struct {
	ParentList   ids.ListID
	Item         int
	Title        string
	Translatable bool
}

// Bus is the method surface a list broker exposes (spec.md §6). Every
// async method returns a cookie used to match the eventual
// DataAvailable/DataError signal; callers wrap the cookie in an
// rnf.Call.
type Bus interface {
	// GetListId resolves the child list id a directory item points to.
	// Synchronous (spec.md §4.5 step 3e, flagged for async conversion
	// by a REDESIGN FLAG and implemented as such here via
	// GetListIdAsync; GetListId is retained for brokers that only
	// support the blocking form).
	GetListId(ctx context.Context, parent ids.ListID, item int) (ChildListResult, Error)

	// GetListIdAsync is the non-blocking form SPEC_FULL.md §9 requires:
	// it returns a cookie immediately and the result arrives via
	// DataAvailable/DataError like GetRange/GetUris.
	GetListIdAsync(ctx context.Context, parent ids.ListID, item int) (ids.Cookie, error)

	// CheckRange is synchronous; (list,0,0) yields the total item count.
	CheckRange(ctx context.Context, list ids.ListID, first, count int) (SizeResult, Error)

	// GetRange is asynchronous and cookie-based.
	GetRange(ctx context.Context, list ids.ListID, first, count int) (ids.Cookie, error)

	// GetUris is asynchronous and cookie-based.
	GetUris(ctx context.Context, list ids.ListID, item int) (ids.Cookie, error)

	// GetParentLink is synchronous.
	GetParentLink(ctx context.Context, list ids.ListID) (ParentLinkResult, Error)
}

// Signals is the set of broker-emitted bus signals a subscriber can
// receive (spec.md §6).
type Signals struct {
	// ListInvalidate fires when old is invalidated, optionally
	// replaced by new (ids.InvalidListID if there is no replacement).
	ListInvalidate chan ListInvalidateEvent
	// DataAvailable fires with the set of cookies whose async reply is
	// ready to fetch.
	DataAvailable chan []ids.Cookie
	// DataError fires with the set of cookies whose async call failed,
	// and the error code.
	DataError chan DataErrorEvent
}

// ListInvalidateEvent is the payload of a ListInvalidate signal.
type ListInvalidateEvent struct {
	Old ids.ListID
	New ids.ListID
}

// DataErrorEvent is the payload of a DataError signal.
type DataErrorEvent struct {
	Cookies []ids.Cookie
	Code    Error
}

// Package streaminfo implements the stream info registry (spec.md §4.7,
// component C7): a fixed-capacity map from our-assigned stream ids to
// the list coordinates and fallback metadata they were queued from, plus
// the reference-counted list-id set C4's windowed caches share to decide
// whether a list is still in use.
package streaminfo

import (
	"errors"
	"sort"
	"sync"

	"github.com/tplusa/drcpd/internal/ids"
)

// MaxEntries bounds the registry, matching the fixed capacity of
// `_examples/original_source/src/streaminfo.hh`'s StreamInfo::MAX_ENTRIES.
const MaxEntries = 20

// ErrFull is returned by Insert once MaxEntries streams are registered;
// the caller must Forget an id before inserting another.
var ErrFull = errors.New("streaminfo: registry full")

// Item is the coordinate and fallback metadata recorded for one of our
// stream ids: where in the broker tree it was read from, and the title
// to show until real metadata (or StreamInfo signal data) arrives.
type Item struct {
	AltName string
	URL     string
	ListID  ids.ListID
	Line    int
}

// RefSet is a reference-counted set of list ids, shared between the
// registry's own bookkeeping and internal/listcache's Reserve/Release
// (SPEC_FULL.md §4.9): a window may be told "still referenced, do not
// discard eagerly" even after its own navigation view is torn down.
type RefSet struct {
	mu     sync.Mutex
	counts map[ids.ListID]int
}

// NewRefSet creates an empty reference-counted set.
func NewRefSet() *RefSet {
	return &RefSet{counts: make(map[ids.ListID]int)}
}

// Ref increments list's reference count.
func (s *RefSet) Ref(list ids.ListID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[list]++
}

// Unref decrements list's reference count, removing the entry once it
// reaches zero. Unref on an id with no outstanding reference is a no-op.
func (s *RefSet) Unref(list ids.ListID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.counts[list]
	if !ok {
		return
	}
	if n <= 1 {
		delete(s.counts, list)
		return
	}
	s.counts[list] = n - 1
}

// IsReferenced reports whether list has at least one outstanding
// reference.
func (s *RefSet) IsReferenced(list ids.ListID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[list] > 0
}

// Registry is the stream id -> Item map (spec.md §4.7). The zero value
// is not usable; construct with New.
type Registry struct {
	mu      sync.Mutex
	streams map[ids.StreamID]*Item
	nextID  ids.StreamID
	refs    *RefSet
}

// New creates an empty registry with its own reference-counted list-id
// set, generating ids starting at the first id in the "ours" half of
// the stream id space.
func New() *Registry {
	return &Registry{
		streams: make(map[ids.StreamID]*Item),
		nextID:  1,
		refs:    NewRefSet(),
	}
}

// Refs returns the registry's reference-counted list-id set, for
// internal/listcache's Reserve/Release to share.
func (r *Registry) Refs() *RefSet { return r.refs }

// Clear discards every known stream and drops every reference the
// registry itself was holding.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range r.streams {
		r.refs.Unref(it.ListID)
	}
	r.streams = make(map[ids.StreamID]*Item)
}

// Insert assigns a fresh "ours" stream id to (altName, listID, line) and
// references listID, returning ids.InvalidStreamID and ErrFull once
// MaxEntries entries are already registered. The id generator
// monotonically increases and wraps within the "ours" half of the space,
// skipping the invalid id on overflow — mirroring StreamInfo::insert's
// skip-on-collision loop, simplified since MaxEntries is far below the
// half-space size so a fresh id is always found on the first pass.
func (r *Registry) Insert(altName string, listID ids.ListID, line int) (ids.StreamID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.streams) >= MaxEntries {
		return ids.InvalidStreamID, ErrFull
	}

	for {
		id := r.nextID
		r.nextID++
		if r.nextID == ids.InvalidStreamID || r.nextID >= ids.StreamIDHalf {
			r.nextID = 1
		}
		if id == ids.InvalidStreamID {
			continue
		}
		if _, taken := r.streams[id]; taken {
			continue
		}

		r.streams[id] = &Item{AltName: altName, ListID: listID, Line: line}
		r.refs.Ref(listID)
		return id, nil
	}
}

// Forget removes id's entry and unreferences its list id. Forgetting an
// unknown id is a no-op; callers that need to distinguish "already gone"
// should check Lookup first.
func (r *Registry) Forget(id ids.StreamID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.streams[id]
	if !ok {
		return
	}
	delete(r.streams, id)
	r.refs.Unref(it.ListID)
}

// Lookup returns a copy of id's item, or false if id is not known. A
// copy is returned (rather than a pointer into the map) so callers
// cannot mutate registry state without going through SetURL.
func (r *Registry) Lookup(id ids.StreamID) (Item, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.streams[id]
	if !ok {
		return Item{}, false
	}
	return *it, true
}

// SetURL updates the URL recorded for an already-known stream id.
// Reports whether id was known.
func (r *Registry) SetURL(id ids.StreamID, url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.streams[id]
	if !ok {
		return false
	}
	it.URL = url
	return true
}

// Count returns the number of known streams.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

// Entry is one registered stream as returned by Entries.
type Entry struct {
	ID ids.StreamID
	Item
}

// Entries returns every currently registered stream, sorted by id —
// internal/automation's get_player_queue reads the enqueue worker's
// outstanding pushes this way without a dedicated queue structure of its
// own.
func (r *Registry) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, len(r.streams))
	for id, it := range r.streams {
		out = append(out, Entry{ID: id, Item: *it})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ReferencedLists returns every list id with at least one known stream,
// sorted, mirroring StreamInfo::get_referenced_lists's sorted output.
func (r *Registry) ReferencedLists() []ids.ListID {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[ids.ListID]struct{})
	for _, it := range r.streams {
		seen[it.ListID] = struct{}{}
	}
	out := make([]ids.ListID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

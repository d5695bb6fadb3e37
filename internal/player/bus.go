// Package player implements the player coordinator (spec.md §4.6,
// component C8): the enqueue worker that keeps the stream player's URL
// queue fed from a playlist crawl, and the per-stream state machine that
// reconciles the player's notifications against what the coordinator
// last assumed.
package player

import (
	"context"

	"github.com/tplusa/drcpd/internal/ids"
)

// FIFOStatus is the result of a URLFIFO.Push call (spec.md §6).
type FIFOStatus int

const (
	// FIFOStarted means the URL was accepted and queued.
	FIFOStarted FIFOStatus = iota
	// FIFOFull means the queue is at capacity; the URL was rejected and
	// the coordinator must suspend until a queue-drained notification.
	FIFOFull
	// FIFOPlayingNow means the URL was accepted and playback started on
	// it immediately (the queue was empty).
	FIFOPlayingNow
	// FIFOFailed is a hard failure pushing the URL (spec.md's
	// FIFO_FAILURE): the coordinator must revert.
	FIFOFailed
)

// Bus is the stream player bus (spec.md §6): URLFIFO and Playback method
// groups. internal/dbusbus provides the concrete binding; tests use
// fakes implementing this interface.
type Bus interface {
	// PushURL enqueues url tagged with streamID. playImmediate requests
	// immediate playback if the queue is currently empty.
	PushURL(ctx context.Context, streamID ids.StreamID, url string, playImmediate bool) (FIFOStatus, error)
	// Next advances the player to the next queued stream, returning its
	// id and whether playback is active.
	Next(ctx context.Context) (next ids.StreamID, isPlaying bool, err error)
	// Clear empties the queue, optionally keeping one stream id (the
	// currently playing one) in place. Returns what was removed.
	Clear(ctx context.Context, keep ids.StreamID) (current ids.StreamID, queued []ids.StreamID, removed []ids.StreamID, err error)

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Pause(ctx context.Context) error
	Seek(ctx context.Context, pos float64, unit string) error
}

package player

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tplusa/drcpd/internal/crawler"
	"github.com/tplusa/drcpd/internal/ids"
	"github.com/tplusa/drcpd/internal/streaminfo"
)

// ExternalMeta is metadata for an externally-initiated stream, set via
// set_external_stream_meta_data (spec.md §4.6).
type ExternalMeta struct {
	Artist   string
	Album    string
	Title    string
	AltTrack string
	URL      string
}

// Snapshot is a point-in-time copy of the coordinator's state, safe to
// read from any goroutine (internal/monitor, internal/automation) without
// going through the enqueue worker's mailbox.
type Snapshot struct {
	Active          bool
	Direction       crawler.Direction
	Mode            crawler.RecursiveMode
	State           StreamState
	CurrentStreamID ids.StreamID
	CurrentListID   ids.ListID
	CurrentLine     int
	Position        float64
	Duration        float64
	Suspended       bool
	CrawlState      crawler.State
	CrawlDepth      int
	CrawlListID     ids.ListID
}

// ResolveURI looks up the playable URI for a found item. The crawler's
// Result (spec.md §4.5) doesn't carry a URI — fetching it is an
// additional broker round trip the coordinator performs synchronously
// before pushing, the same kind of concession spec.md §9 already accepts
// for the crawler's own child-list-id resolution.
type ResolveURI func(ctx context.Context, list ids.ListID, line int) (string, error)

// NewOp builds a fresh playlist crawl for the given direction/mode, to be
// started with DoStart by the coordinator. Wiring the cache/bus
// construction here, rather than inside this package, keeps the
// coordinator ignorant of how a Cache is built (internal/listcache,
// internal/broker) — main.go supplies the closure.
type NewOp func(dir crawler.Direction, mode crawler.RecursiveMode, onDone func(crawler.Result, error)) *crawler.FindNextOp

// Coordinator is the player coordinator (spec.md §4.6, component C8): an
// enqueue worker goroutine processing every public call through a single
// FIFO mailbox, exactly as spec.md §5 requires ("the enqueue worker
// mutates C7 and C8's own state under a single mutex" — here, under the
// stronger guarantee of being the only goroutine that ever touches it).
type Coordinator struct {
	bus        Bus
	log        zerolog.Logger
	streams    *streaminfo.Registry
	resolveURI ResolveURI
	newOp      NewOp

	mailbox chan func(*Coordinator)

	active    bool
	dir       crawler.Direction
	mode      crawler.RecursiveMode
	op        *crawler.FindNextOp
	firstPush bool
	buffering func()

	suspended  bool
	resumeList ids.ListID
	resumeLine int

	skipNextPending bool

	state           StreamState
	currentStreamID ids.StreamID
	currentListID   ids.ListID
	currentLine     int
	position        float64
	duration        float64

	externalMeta map[ids.StreamID]ExternalMeta

	snapshot atomicSnapshot
}

// New creates a Coordinator and starts its enqueue worker goroutine.
// The mailbox holds up to 64 pending jobs before a caller blocks on
// post; 64 comfortably exceeds anything one crawl cycle posts.
func New(bus Bus, log zerolog.Logger, streams *streaminfo.Registry, resolveURI ResolveURI, newOp NewOp) *Coordinator {
	c := &Coordinator{
		bus:        bus,
		log:        log,
		streams:    streams,
		resolveURI: resolveURI,
		newOp:      newOp,
		mailbox:    make(chan func(*Coordinator), 64),
		state:      StreamStopped,
	}
	c.publishSnapshot()
	go c.runWorker()
	return c
}

// Close stops the enqueue worker. Must not be called concurrently with
// any other method.
func (c *Coordinator) Close() { close(c.mailbox) }

func (c *Coordinator) runWorker() {
	for j := range c.mailbox {
		c.runJob(j)
	}
}

// runJob recovers a panicking job so one bad enqueue cycle can't take the
// whole worker down, mirroring teacher's safeGo (src/crashlog.go) applied
// per-message instead of per-goroutine since this goroutine is long-lived.
func (c *Coordinator) runJob(j func(*Coordinator)) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Msg("player: enqueue worker job panicked, recovered")
		}
	}()
	j(c)
}

func (c *Coordinator) post(job func(*Coordinator)) { c.mailbox <- job }

// Flush blocks until every job posted before this call has run. Tests use
// it to observe the coordinator's state deterministically without
// sleeping; production code has no use for it.
func (c *Coordinator) Flush() {
	done := make(chan struct{})
	c.post(func(c *Coordinator) { close(done) })
	<-done
}

// Snapshot returns the coordinator's state as of the last completed
// mailbox job.
func (c *Coordinator) Snapshot() Snapshot { return c.snapshot.load() }

// StreamEntries returns every stream currently registered in C7, the
// closest thing to a "player queue" the coordinator can report —
// internal/automation's get_player_queue reads it directly since the
// registry has its own lock and needs no mailbox round trip.
func (c *Coordinator) StreamEntries() []streaminfo.Entry { return c.streams.Entries() }

func (c *Coordinator) publishSnapshot() {
	crawlState := crawler.Initial
	crawlDepth := 0
	crawlListID := ids.InvalidListID
	if c.op != nil {
		crawlState = c.op.State()
		crawlDepth = c.op.Depth()
		crawlListID = c.op.CurrentListID()
	}

	c.snapshot.store(Snapshot{
		Active:          c.active,
		Direction:       c.dir,
		Mode:            c.mode,
		State:           c.state,
		CurrentStreamID: c.currentStreamID,
		CurrentListID:   c.currentListID,
		CurrentLine:     c.currentLine,
		Position:        c.position,
		Duration:        c.duration,
		Suspended:       c.suspended,
		CrawlState:      crawlState,
		CrawlDepth:      crawlDepth,
		CrawlListID:     crawlListID,
	})
}

func stepFor(dir crawler.Direction) int {
	if dir == crawler.Backward {
		return -1
	}
	return 1
}

// Take switches the coordinator into active mode and starts a traversal
// + enqueue cycle from (list, line) (spec.md §4.6 take()). initial is the
// state to optimistically assume until the player's own notifications say
// otherwise.
func (c *Coordinator) Take(ctx context.Context, initial StreamState, dir crawler.Direction, mode crawler.RecursiveMode, list ids.ListID, line int, bufferingCB func()) {
	c.post(func(c *Coordinator) { c.doTake(ctx, initial, dir, mode, list, line, bufferingCB) })
}

func (c *Coordinator) doTake(ctx context.Context, initial StreamState, dir crawler.Direction, mode crawler.RecursiveMode, list ids.ListID, line int, bufferingCB func()) {
	if c.op != nil {
		c.op.DoCancel()
		c.op = nil
	}
	c.active = true
	c.dir = dir
	c.mode = mode
	c.state = initial
	c.buffering = bufferingCB
	c.suspended = false
	c.skipNextPending = false
	c.firstPush = true
	c.publishSnapshot()
	c.startCrawl(ctx, list, line)
}

// startCrawl launches exactly one FindNextOp, honoring "keep at most one
// traversal operation in flight at a time" (spec.md §4.6). Each cycle
// gets its own trace id so a debug log can follow one enqueue attempt
// from crawl to push across the async gap, the way teacher's
// request-scoped logging ties a multi-step D-Bus exchange together.
func (c *Coordinator) startCrawl(ctx context.Context, list ids.ListID, line int) {
	trace := uuid.New()
	c.log.Debug().Stringer("trace", trace).Stringer("list", list).Int("line", line).Msg("player: starting enqueue crawl cycle")

	var op *crawler.FindNextOp
	op = c.newOp(c.dir, c.mode, func(res crawler.Result, err error) {
		c.post(func(c *Coordinator) { c.handleCrawlResult(ctx, trace, op, res, err) })
	})
	c.op = op
	op.DoStart(ctx, list, line)
}

// handleCrawlResult processes a finished FindNextOp. op identifies which
// traversal this callback belongs to: if the coordinator has since moved
// on (a new Take, a direction reversal, or a Release), c.op no longer
// equals op and the stale result is dropped — the same "does this event
// match what I'm waiting for" discipline spec.md §5 requires.
func (c *Coordinator) handleCrawlResult(ctx context.Context, trace uuid.UUID, op *crawler.FindNextOp, res crawler.Result, err error) {
	if c.op != op {
		return
	}
	c.op = nil

	if err != nil {
		if err == crawler.ErrCancelled {
			return
		}
		c.log.Warn().Stringer("trace", trace).Err(err).Msg("player: crawl failed, reverting to inactive")
		c.revert()
		return
	}
	if !c.active {
		return
	}
	if res.Positional != crawler.SomewhereInList {
		// Traversal naturally exhausted; nothing more to enqueue.
		c.publishSnapshot()
		return
	}
	c.enqueueFound(ctx, trace, res)
}

func (c *Coordinator) revert() {
	c.active = false
	c.state = StreamStopped
	c.suspended = false
	c.publishSnapshot()
}

// enqueueFound pushes one found item's URI and, depending on the FIFO's
// answer, either starts the next traversal cycle or suspends (spec.md
// §4.6 "Enqueue discipline").
func (c *Coordinator) enqueueFound(ctx context.Context, trace uuid.UUID, res crawler.Result) {
	altName := ""
	if res.Item != nil {
		altName = res.Item.Text
	}

	sid, err := c.streams.Insert(altName, res.ListID, res.Line)
	if err != nil {
		c.log.Debug().Err(err).Msg("player: stream info registry full, pausing enqueue")
		c.suspended = true
		c.resumeList, c.resumeLine = res.ListID, res.Line
		c.publishSnapshot()
		return
	}

	url, err := c.resolveURI(ctx, res.ListID, res.Line)
	if err != nil {
		c.log.Debug().Err(err).Stringer("list", res.ListID).Msg("player: skipping item, URI resolution failed")
		c.streams.Forget(sid)
		c.startCrawl(ctx, res.ListID, res.Line+stepFor(c.dir))
		return
	}

	playImmediate := c.firstPush && c.state == StreamStopped
	c.firstPush = false
	if c.skipNextPending {
		playImmediate = true
		c.skipNextPending = false
	}

	c.log.Debug().Stringer("trace", trace).Stringer("stream", sid).Msg("player: pushing enqueued item")
	status, err := c.bus.PushURL(ctx, sid, url, playImmediate)
	if err != nil {
		c.log.Warn().Stringer("trace", trace).Err(err).Msg("player: push failed, reverting")
		c.streams.Forget(sid)
		c.revert()
		return
	}

	switch status {
	case FIFOFailed:
		c.streams.Forget(sid)
		c.revert()
	case FIFOFull:
		c.streams.Forget(sid)
		c.suspended = true
		c.resumeList, c.resumeLine = res.ListID, res.Line
		c.publishSnapshot()
	case FIFOPlayingNow:
		c.state = StreamBuffering
		c.currentStreamID = sid
		c.currentListID = res.ListID
		c.currentLine = res.Line
		if c.buffering != nil {
			c.buffering()
		}
		c.publishSnapshot()
		c.startCrawl(ctx, res.ListID, res.Line+stepFor(c.dir))
	case FIFOStarted:
		c.publishSnapshot()
		c.startCrawl(ctx, res.ListID, res.Line+stepFor(c.dir))
	}
}

// QueueDrained resumes a suspended enqueue cycle (player queue-drained
// notification, spec.md §4.6).
func (c *Coordinator) QueueDrained(ctx context.Context) {
	c.post(func(c *Coordinator) { c.doQueueDrained(ctx) })
}

func (c *Coordinator) doQueueDrained(ctx context.Context) {
	if !c.active || !c.suspended {
		return
	}
	c.suspended = false
	c.publishSnapshot()
	c.startCrawl(ctx, c.resumeList, c.resumeLine)
}

// Release leaves active mode and drains the mailbox of further enqueue
// activity (spec.md §4.6 release()). stopIfActive restricts the optional
// Stop command to the case where the coordinator was actually active;
// sendStop with stopIfActive false always stops regardless.
func (c *Coordinator) Release(ctx context.Context, sendStop, stopIfActive bool) {
	c.post(func(c *Coordinator) { c.doRelease(ctx, sendStop, stopIfActive) })
}

func (c *Coordinator) doRelease(ctx context.Context, sendStop, stopIfActive bool) {
	wasActive := c.active
	if c.op != nil {
		c.op.DoCancel()
		c.op = nil
	}
	c.active = false
	c.suspended = false
	c.publishSnapshot()

	if sendStop && (!stopIfActive || wasActive) {
		if err := c.bus.Stop(ctx); err != nil {
			c.log.Warn().Err(err).Msg("player: release: stop failed")
		}
	}
}

// StartNotification reconciles a player-reported stream start against C7
// (spec.md §4.6 "Stream-id reconciliation").
func (c *Coordinator) StartNotification(ctx context.Context, sid ids.StreamID, tryEnqueue bool) {
	c.post(func(c *Coordinator) { c.doStartNotification(ctx, sid, tryEnqueue) })
}

func (c *Coordinator) doStartNotification(ctx context.Context, sid ids.StreamID, tryEnqueue bool) {
	switch {
	case sid.IsOurs():
		if item, ok := c.streams.Lookup(sid); ok {
			c.currentStreamID = sid
			c.currentListID = item.ListID
			c.currentLine = item.Line
		} else {
			// Dropped by the player (queue overflow): forget any older
			// tracking rather than attribute stale coordinates to it.
			c.currentStreamID = ids.InvalidStreamID
			c.currentListID = ids.InvalidListID
			c.currentLine = 0
		}
	case sid.IsExternal():
		// Metadata from set_external_stream_meta_data wins; just track
		// which stream is current.
		c.currentStreamID = sid
		c.currentListID = ids.InvalidListID
		c.currentLine = 0
	}
	c.state = StreamBuffering
	c.publishSnapshot()

	if tryEnqueue && c.suspended {
		c.doQueueDrained(ctx)
	}
}

// StopNotification reconciles a player-reported stop.
func (c *Coordinator) StopNotification() {
	c.post(func(c *Coordinator) {
		c.state = StreamStopped
		c.currentStreamID = ids.InvalidStreamID
		c.publishSnapshot()
	})
}

// PauseNotification reconciles a player-reported pause.
func (c *Coordinator) PauseNotification() {
	c.post(func(c *Coordinator) {
		c.state = StreamPaused
		c.publishSnapshot()
	})
}

// TrackTimesNotification records the player's reported position/duration.
// Receiving one at all implies playback is actually under way, so a
// STREAM_BUFFERING guess is reconciled to STREAM_PLAYING.
func (c *Coordinator) TrackTimesNotification(pos, dur float64) {
	c.post(func(c *Coordinator) {
		c.position, c.duration = pos, dur
		if c.state == StreamBuffering {
			c.state = StreamPlaying
		}
		c.publishSnapshot()
	})
}

// SkipToNext implements spec.md §4.6 skip_to_next().
func (c *Coordinator) SkipToNext(ctx context.Context) {
	c.post(func(c *Coordinator) { c.doSkipToNext(ctx) })
}

func (c *Coordinator) doSkipToNext(ctx context.Context) {
	if c.state == StreamBuffering {
		// Already switching tracks; absorb the request.
		return
	}

	next, _, err := c.bus.Next(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("player: skip_to_next failed")
		return
	}

	if !next.IsValid() {
		// Nothing queued yet: fulfil it as soon as the worker enqueues
		// the next item, by forcing that push to play immediately.
		if c.op != nil {
			c.skipNextPending = true
		}
		return
	}

	c.currentStreamID = next
	if next.IsOurs() {
		if item, ok := c.streams.Lookup(next); ok {
			c.currentListID, c.currentLine = item.ListID, item.Line
		}
	}
	c.state = StreamBuffering
	c.publishSnapshot()
}

// SkipToPrevious implements spec.md §4.6 skip_to_previous(). position is
// the player's last reported playback position; rewindThreshold == 0
// disables restart-in-place.
func (c *Coordinator) SkipToPrevious(ctx context.Context, rewindThreshold, position float64) {
	c.post(func(c *Coordinator) { c.doSkipToPrevious(ctx, rewindThreshold, position) })
}

func (c *Coordinator) doSkipToPrevious(ctx context.Context, rewindThreshold, position float64) {
	if rewindThreshold > 0 && position >= rewindThreshold {
		if err := c.bus.Seek(ctx, 0, "ms"); err != nil {
			c.log.Warn().Err(err).Msg("player: skip_to_previous: seek-to-start failed")
		}
		return
	}

	item, ok := c.streams.Lookup(c.currentStreamID)
	if !ok {
		c.log.Debug().Msg("player: skip_to_previous: current stream not tracked, staying put")
		return
	}

	_, _, removed, err := c.bus.Clear(ctx, c.currentStreamID)
	if err != nil {
		c.log.Warn().Err(err).Msg("player: skip_to_previous: clear failed")
		return
	}
	for _, r := range removed {
		c.streams.Forget(r)
	}

	c.dir = crawler.Backward
	if c.op != nil {
		c.op.DoCancel()
		c.op = nil
	}
	c.firstPush = false // the current stream is already playing; don't force play-immediate
	c.publishSnapshot()
	c.startCrawl(ctx, item.ListID, item.Line-1)
}

// SetExternalStreamMetaData records metadata for an externally-initiated
// stream (spec.md §4.6, §6 StreamInfo signal).
func (c *Coordinator) SetExternalStreamMetaData(sid ids.StreamID, artist, album, title, altTrack, url string) {
	c.post(func(c *Coordinator) {
		if !sid.IsExternal() {
			return
		}
		if c.externalMeta == nil {
			c.externalMeta = make(map[ids.StreamID]ExternalMeta)
		}
		c.externalMeta[sid] = ExternalMeta{Artist: artist, Album: album, Title: title, AltTrack: altTrack, URL: url}
	})
}

// ExternalMetaData returns the metadata previously recorded for an
// external stream id, if any.
func (c *Coordinator) ExternalMetaData(sid ids.StreamID) (ExternalMeta, bool) {
	result := make(chan ExternalMeta, 1)
	found := make(chan bool, 1)
	c.post(func(c *Coordinator) {
		m, ok := c.externalMeta[sid]
		result <- m
		found <- ok
	})
	return <-result, <-found
}

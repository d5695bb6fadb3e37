// Package rnf implements the Request-Notified-Fetched async call
// envelope (spec.md §4.1, component C2): a four-state object wrapping a
// single broker RPC that may run long, plus an absorbing Cancelled
// state. "RNF" is the original source's own shorthand for the state
// sequence.
package rnf

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// State is one of the envelope's five states.
type State int

const (
	Initial State = iota
	Requested
	Notified
	Fetched
	Cancelled
)

func (s State) String() string {
	switch s {
	case Initial:
		return "INITIAL"
	case Requested:
		return "REQUESTED"
	case Notified:
		return "NOTIFIED"
	case Fetched:
		return "FETCHED"
	case Cancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Failure taxonomy for envelope usage errors, distinct from the broker's
// own error taxonomy (spec.md §7) which travels inside the payload.
var (
	// ErrAborted is returned from an operation on an envelope that was
	// cancelled locally.
	ErrAborted = errors.New("rnf: aborted")
	// ErrBadState is returned when a call is made out of sequence.
	ErrBadState = errors.New("rnf: bad state")
	// ErrNoResult is returned by Result() before Fetched is reached.
	ErrNoResult = errors.New("rnf: no result available")
)

// Call wraps one outstanding broker RPC. The zero value is not usable;
// construct with New.
type Call[T any] struct {
	mu      sync.Mutex
	state   State
	cookie  uint32
	payload T
	err     error
	waiters []chan struct{}
	log     zerolog.Logger
	trace   uuid.UUID
}

// New creates a call envelope in the Initial state.
func New[T any](log zerolog.Logger) *Call[T] {
	return &Call[T]{state: Initial, log: log, trace: uuid.New()}
}

// TraceID returns the envelope's correlation id, for log lines emitted
// by the caller around Request/Fetch/Cancel.
func (c *Call[T]) TraceID() uuid.UUID { return c.trace }

// State returns the envelope's current state.
func (c *Call[T]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Request moves Initial -> Requested and records the cookie the broker
// returned. Calling Request again while already Requested is a no-op
// (idempotent, per spec.md §4.1); calling it from any other state is
// ErrBadState.
func (c *Call[T]) Request(cookie uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Initial:
		c.cookie = cookie
		c.state = Requested
		c.log.Debug().Str("trace", c.trace.String()).Uint32("cookie", cookie).Msg("rnf: requested")
		return nil
	case Requested:
		if c.cookie != cookie {
			return ErrBadState
		}
		return nil
	default:
		return ErrBadState
	}
}

// Cookie returns the cookie associated with this call, valid once
// Requested has been reached.
func (c *Call[T]) Cookie() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cookie
}

// OnDataAvailable is invoked by the broker-bus dispatcher when a
// DataAvailable signal names this call's cookie. It stores the payload
// and transitions Requested -> Notified, waking any blocked waiters.
func (c *Call[T]) OnDataAvailable(payload T) {
	c.mu.Lock()
	if c.state != Requested {
		c.mu.Unlock()
		return
	}
	c.payload = payload
	c.state = Notified
	c.wakeLocked()
	c.mu.Unlock()
}

// OnDataError is invoked by the broker-bus dispatcher when a DataError
// signal names this call's cookie. It stores the failure and
// transitions Requested -> Notified (with a failure payload).
func (c *Call[T]) OnDataError(err error) {
	c.mu.Lock()
	if c.state != Requested {
		c.mu.Unlock()
		return
	}
	c.err = err
	c.state = Notified
	c.wakeLocked()
	c.mu.Unlock()
}

// wakeLocked closes every pending waiter channel. Caller must hold mu.
func (c *Call[T]) wakeLocked() {
	for _, w := range c.waiters {
		close(w)
	}
	c.waiters = nil
}

// FetchAsync transitions Notified -> Fetched and returns the payload. It
// fails with ErrBadState if called before Notified or after Cancel.
func (c *Call[T]) FetchAsync() (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	switch c.state {
	case Notified:
		c.state = Fetched
		if c.err != nil {
			return zero, c.err
		}
		return c.payload, nil
	case Cancelled:
		return zero, ErrAborted
	default:
		return zero, ErrBadState
	}
}

// waitChanLocked registers a channel that closes when the call
// reaches Notified or Cancelled. Caller must hold mu; returns nil if
// already resolvable.
func (c *Call[T]) waitChanLocked() chan struct{} {
	if c.state == Notified || c.state == Cancelled {
		return nil
	}
	ch := make(chan struct{})
	c.waiters = append(c.waiters, ch)
	return ch
}

// FetchBlocking blocks until Notified or Cancelled, then behaves like
// FetchAsync.
func (c *Call[T]) FetchBlocking() (T, error) {
	c.mu.Lock()
	if c.state != Requested {
		c.mu.Unlock()
		return c.FetchAsync()
	}
	ch := c.waitChanLocked()
	c.mu.Unlock()

	if ch != nil {
		<-ch
	}
	return c.FetchAsync()
}

// Result returns the fetched payload, failing with ErrNoResult unless
// the envelope is in Fetched state (spec.md §4.1 get_result()).
func (c *Call[T]) Result() (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	if c.state != Fetched {
		return zero, ErrNoResult
	}
	if c.err != nil {
		return zero, c.err
	}
	return c.payload, nil
}

// Cancel atomically transitions the call to Cancelled from any of
// Initial, Requested or Notified. It is synchronous from the caller's
// perspective: any reply that arrives afterwards via OnDataAvailable /
// OnDataError is dropped because those methods check for Requested
// state, which Cancel has already left. Calling Cancel twice is a no-op.
func (c *Call[T]) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Cancelled || c.state == Fetched {
		return
	}
	c.state = Cancelled
	c.log.Debug().Str("trace", c.trace.String()).Msg("rnf: cancelled")
	c.wakeLocked()
}

package dcp

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is a Transaction's position in spec.md §4.8's lifecycle:
// pending → in-progress → done | failed | timeout.
type State int

const (
	Pending State = iota
	InProgress
	Done
	Failed
	Timeout
)

func (s State) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case InProgress:
		return "IN_PROGRESS"
	case Done:
		return "DONE"
	case Failed:
		return "FAILED"
	case Timeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// Transaction is one outbound DCP frame and its settlement (spec.md
// §4.8). Wait blocks until the frame reaches a terminal state.
type Transaction struct {
	Frame []byte

	mu    sync.Mutex
	state State
	done  chan struct{}
}

func newTransaction(frame []byte) *Transaction {
	return &Transaction{Frame: frame, state: Pending, done: make(chan struct{})}
}

// State returns the transaction's current state.
func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transaction) settle(s State) {
	t.mu.Lock()
	if t.state == Done || t.state == Failed || t.state == Timeout {
		t.mu.Unlock()
		return
	}
	t.state = s
	t.mu.Unlock()
	close(t.done)
}

// Wait blocks until the transaction settles or ctx is done, returning
// the final (or last-known) state.
func (t *Transaction) Wait(ctx context.Context) (State, error) {
	select {
	case <-t.done:
		return t.State(), nil
	case <-ctx.Done():
		return t.State(), ctx.Err()
	}
}

// Writer sends one outbound DCP frame; Queue calls it with at most one
// frame in flight at a time.
type Writer func(frame []byte) error

// Queue is the DCP transaction queue (spec.md §4.8): only one
// transaction may be in progress at a time, subsequent frames wait.
// Every method is safe to call from any goroutine — production wiring
// has the ack reader (its own goroutine, spec.md §5's bus-I/O-thread
// analogue) and the ack-timeout timer's callback both calling in.
type Queue struct {
	mu         sync.Mutex
	log        zerolog.Logger
	write      Writer
	ackTimeout time.Duration

	pending []*Transaction
	current *Transaction
	timer   *time.Timer
}

// New creates an empty Queue. ackTimeout is spec.md §6's 15s default;
// tests pass a shorter value to avoid a real 15s sleep.
func New(write Writer, ackTimeout time.Duration, log zerolog.Logger) *Queue {
	return &Queue{write: write, ackTimeout: ackTimeout, log: log}
}

// Enqueue appends frame to the queue, starting it immediately if
// nothing is currently in progress.
func (q *Queue) Enqueue(frame []byte) *Transaction {
	q.mu.Lock()
	defer q.mu.Unlock()
	txn := newTransaction(frame)
	q.pending = append(q.pending, txn)
	q.startNextLocked()
	return txn
}

// Depth reports how many transactions are pending plus the one (if any)
// currently in progress — internal/monitor's queue-depth reading.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	if q.current != nil {
		n++
	}
	return n
}

func (q *Queue) startNextLocked() {
	if q.current != nil || len(q.pending) == 0 {
		return
	}
	txn := q.pending[0]
	q.pending = q.pending[1:]
	q.current = txn
	txn.mu.Lock()
	txn.state = InProgress
	txn.mu.Unlock()

	if err := q.write(txn.Frame); err != nil {
		q.log.Warn().Err(err).Msg("dcp: frame write failed")
		txn.settle(Failed)
		q.current = nil
		q.startNextLocked()
		return
	}

	q.timer = time.AfterFunc(q.ackTimeout, func() { q.handleTimeout(txn) })
}

func (q *Queue) handleTimeout(txn *Transaction) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current != txn {
		return // already settled by an ack that raced the timer
	}
	q.log.Warn().Dur("timeout", q.ackTimeout).Msg("dcp: ack timed out")
	txn.settle(Timeout)
	q.current = nil
	q.startNextLocked()
}

// HandleAck settles the in-progress transaction per the peer's
// acknowledgement and starts the next one. A stray ack with nothing in
// progress is logged and ignored.
func (q *Queue) HandleAck(ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		q.log.Warn().Msg("dcp: ack received with no transaction in progress")
		return
	}
	if q.timer != nil {
		q.timer.Stop()
	}
	txn := q.current
	if ok {
		txn.settle(Done)
	} else {
		txn.settle(Failed)
	}
	q.current = nil
	q.startNextLocked()
}

package dcp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func discardLog() zerolog.Logger { return zerolog.Nop() }

type fakeWriter struct {
	mu     sync.Mutex
	frames [][]byte
	fail   bool
}

func (w *fakeWriter) write(frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return errors.New("write failed")
	}
	w.frames = append(w.frames, frame)
	return nil
}

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.frames)
}

func TestEnqueueWritesFirstFrameImmediately(t *testing.T) {
	w := &fakeWriter{}
	q := New(w.write, time.Second, discardLog())

	q.Enqueue([]byte("<frame-1/>"))
	q.Enqueue([]byte("<frame-2/>"))

	if got := w.count(); got != 1 {
		t.Fatalf("writer.count() = %d, want 1 (second frame must wait)", got)
	}
	if got := q.Depth(); got != 2 {
		t.Fatalf("Depth() = %d, want 2", got)
	}
}

func TestHandleAckSettlesAndStartsNext(t *testing.T) {
	w := &fakeWriter{}
	q := New(w.write, time.Second, discardLog())

	txn1 := q.Enqueue([]byte("<frame-1/>"))
	txn2 := q.Enqueue([]byte("<frame-2/>"))

	q.HandleAck(true)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	state, err := txn1.Wait(ctx)
	if err != nil || state != Done {
		t.Fatalf("txn1 state = %v, err = %v, want Done", state, err)
	}

	if got := w.count(); got != 2 {
		t.Fatalf("writer.count() = %d, want 2 after first ack", got)
	}

	q.HandleAck(false)
	state, err = txn2.Wait(ctx)
	if err != nil || state != Failed {
		t.Fatalf("txn2 state = %v, err = %v, want Failed", state, err)
	}
}

func TestWriteFailureFailsTransactionAndAdvances(t *testing.T) {
	w := &fakeWriter{fail: true}
	q := New(w.write, time.Second, discardLog())

	txn := q.Enqueue([]byte("<frame/>"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	state, err := txn.Wait(ctx)
	if err != nil || state != Failed {
		t.Fatalf("txn state = %v, err = %v, want Failed", state, err)
	}
	if got := q.Depth(); got != 0 {
		t.Fatalf("Depth() = %d, want 0", got)
	}
}

func TestAckTimeoutPromotesTransactionAndAdvances(t *testing.T) {
	w := &fakeWriter{}
	q := New(w.write, 20*time.Millisecond, discardLog())

	txn1 := q.Enqueue([]byte("<frame-1/>"))
	txn2 := q.Enqueue([]byte("<frame-2/>"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	state, err := txn1.Wait(ctx)
	if err != nil || state != Timeout {
		t.Fatalf("txn1 state = %v, err = %v, want Timeout", state, err)
	}

	// Second frame should now have been written, taking its own slot.
	deadline := time.Now().Add(time.Second)
	for w.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := w.count(); got != 2 {
		t.Fatalf("writer.count() = %d, want 2 after first timeout", got)
	}

	q.HandleAck(true)
	state, err = txn2.Wait(ctx)
	if err != nil || state != Done {
		t.Fatalf("txn2 state = %v, err = %v, want Done", state, err)
	}
}

func TestHandleAckWithNothingInProgressIsIgnored(t *testing.T) {
	w := &fakeWriter{}
	q := New(w.write, time.Second, discardLog())

	q.HandleAck(true) // must not panic

	if got := q.Depth(); got != 0 {
		t.Fatalf("Depth() = %d, want 0", got)
	}
}

package dcp

import (
	"path/filepath"
	"testing"
	"time"
)

func TestWriteFrameAndReadAckRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ack")

	readyW := make(chan *FIFO, 1)
	go func() {
		w, err := Create(path, true)
		if err != nil {
			t.Errorf("Create(writeOnly): %v", err)
			return
		}
		readyW <- w
	}()

	r, err := Create(path, false)
	if err != nil {
		t.Fatalf("Create(readOnly): %v", err)
	}
	w := <-readyW
	defer w.Close()
	defer r.Close()

	if err := w.WriteFrame([]byte("OK\n")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	ok, eof, err := r.ReadAck()
	if err != nil || eof || !ok {
		t.Fatalf("ReadAck() = (%v, %v, %v), want (true, false, nil)", ok, eof, err)
	}
}

func TestReadAckDetectsProtocolViolation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ack")

	readyW := make(chan *FIFO, 1)
	go func() {
		w, err := Create(path, true)
		if err != nil {
			t.Errorf("Create(writeOnly): %v", err)
			return
		}
		readyW <- w
	}()

	r, err := Create(path, false)
	if err != nil {
		t.Fatalf("Create(readOnly): %v", err)
	}
	w := <-readyW
	defer w.Close()
	defer r.Close()

	if err := w.WriteFrame([]byte("xy\n")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	_, _, err = r.ReadAck()
	if err == nil {
		t.Fatal("ReadAck() err = nil, want protocol violation error")
	}
}

func TestReopenRecoversAfterWriterCloses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ack")

	readyW := make(chan *FIFO, 1)
	go func() {
		w, err := Create(path, true)
		if err != nil {
			t.Errorf("Create(writeOnly): %v", err)
			return
		}
		readyW <- w
	}()

	r, err := Create(path, false)
	if err != nil {
		t.Fatalf("Create(readOnly): %v", err)
	}
	defer r.Close()
	w := <-readyW

	if err := w.WriteFrame([]byte("OK\n")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if ok, eof, err := r.ReadAck(); err != nil || eof || !ok {
		t.Fatalf("first ReadAck() = (%v, %v, %v)", ok, eof, err)
	}

	w.Close() // triggers EOF on the read side

	readyW2 := make(chan *FIFO, 1)
	go func() {
		w2, err := Open(path, true)
		if err != nil {
			t.Errorf("Open(writeOnly) after close: %v", err)
			return
		}
		readyW2 <- w2
	}()

	// Give the reader a moment to observe EOF before reopening.
	time.Sleep(10 * time.Millisecond)
	if err := r.Reopen(); err != nil {
		t.Fatalf("Reopen: %v", err)
	}

	w2 := <-readyW2
	defer w2.Close()

	if err := w2.WriteFrame([]byte("FF\n")); err != nil {
		t.Fatalf("WriteFrame after reopen: %v", err)
	}
	ok, eof, err := r.ReadAck()
	if err != nil || eof || ok {
		t.Fatalf("ReadAck() after reopen = (%v, %v, %v), want (false, false, nil)", ok, eof, err)
	}
}

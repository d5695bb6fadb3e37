// Package dcp implements the DCP transport and transaction queue
// (spec.md §4.8/§6, component C9): two named pipes carrying XML display
// frames out and three-byte acks back, and the single-in-flight
// transaction queue that serializes frames over the outbound pipe.
package dcp

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
)

// FIFO wraps one direction of the named-pipe pair (spec.md §6 "Two
// named pipes, one in each direction"), a straight port of
// fifo_create_and_open/fifo_open/fifo_reopen's open/reopen-on-EOF
// behavior.
type FIFO struct {
	path      string
	writeOnly bool
	f         *os.File
}

// Create makes the FIFO special file at path if it doesn't already
// exist, then opens it.
func Create(path string, writeOnly bool) (*FIFO, error) {
	if err := syscall.Mkfifo(path, 0o660); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("dcp: create pipe %q: %w", path, err)
	}
	return Open(path, writeOnly)
}

// Open opens an existing FIFO special file at path.
func Open(path string, writeOnly bool) (*FIFO, error) {
	flag := os.O_RDONLY
	if writeOnly {
		flag = os.O_WRONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("dcp: open pipe %q: %w", path, err)
	}
	return &FIFO{path: path, writeOnly: writeOnly, f: f}, nil
}

// Close closes the underlying file descriptor.
func (p *FIFO) Close() error { return p.f.Close() }

// Reopen closes and reopens the pipe, the peer-EOF recovery spec.md §4.8
// requires ("On transport EOF, the pipe is reopened and the queue
// resumes").
func (p *FIFO) Reopen() error {
	_ = p.f.Close()
	f, err := os.OpenFile(p.path, flagFor(p.writeOnly), 0)
	if err != nil {
		return fmt.Errorf("dcp: reopen pipe %q: %w", p.path, err)
	}
	p.f = f
	return nil
}

func flagFor(writeOnly bool) int {
	if writeOnly {
		return os.O_WRONLY
	}
	return os.O_RDONLY
}

// WriteFrame writes data in full, looping over short writes — a direct
// port of fifo_write_from_buffer's retry loop.
func (p *FIFO) WriteFrame(data []byte) error {
	for len(data) > 0 {
		n, err := p.f.Write(data)
		if err != nil {
			return fmt.Errorf("dcp: write pipe %q: %w", p.path, err)
		}
		data = data[n:]
	}
	return nil
}

// ackSize is the fixed width of a DCP acknowledgement: "OK\n" or "FF\n"
// (spec.md §6).
const ackSize = 3

// ReadAck reads exactly one three-byte acknowledgement. eof is true if
// the peer closed its end (the caller should Reopen and keep reading);
// a non-nil err other than EOF is a protocol violation.
func (p *FIFO) ReadAck() (ok bool, eof bool, err error) {
	buf := make([]byte, ackSize)
	_, err = io.ReadFull(p.f, buf)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, true, nil
		}
		return false, false, fmt.Errorf("dcp: read pipe %q: %w", p.path, err)
	}
	switch string(buf) {
	case "OK\n":
		return true, false, nil
	case "FF\n":
		return false, false, nil
	default:
		return false, false, fmt.Errorf("dcp: protocol violation, got %q", buf)
	}
}

package dcp

import "github.com/rs/zerolog"

// AckReader drains acknowledgements off the inbound FIFO and feeds them
// to a Queue, reopening the pipe on peer EOF (spec.md §4.8 "On
// transport EOF, the pipe is reopened and the queue resumes"). It runs
// as its own dedicated goroutine — the bus-I/O-thread analogue of
// spec.md §5 — and never touches main-loop state directly, only the
// mutex-guarded Queue.
type AckReader struct {
	pipe  *FIFO
	queue *Queue
	log   zerolog.Logger
}

// NewAckReader builds an AckReader over an already-open inbound FIFO.
func NewAckReader(pipe *FIFO, queue *Queue, log zerolog.Logger) *AckReader {
	return &AckReader{pipe: pipe, queue: queue, log: log}
}

// Run reads acknowledgements until stop is closed or a reopen fails.
// A hard read error (protocol violation) is treated as a failed ack so
// the queue isn't left stuck waiting for one that will never arrive.
func (r *AckReader) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		ok, eof, err := r.pipe.ReadAck()
		switch {
		case eof:
			r.log.Debug().Msg("dcp: ack pipe EOF, reopening")
			if err := r.pipe.Reopen(); err != nil {
				r.log.Error().Err(err).Msg("dcp: ack pipe reopen failed, stopping reader")
				return
			}
		case err != nil:
			r.log.Error().Err(err).Msg("dcp: ack read failed, treating as FF")
			r.queue.HandleAck(false)
		default:
			r.queue.HandleAck(ok)
		}
	}
}

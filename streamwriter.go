// Copyright 2025 The Firedocs Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package firedocs

import (
	"context"
	"io"
	"sync"

	pb "cloud.google.com/go/firestore/apiv1/firestorepb"
	"firedocs.dev/internal/fdberr"
	"go.uber.org/zap"
)

// A BatchOutcome reports the completion of one batch submitted to a
// StreamingBatchWriter. Seq is the batch-local sequence number returned by
// Send; mapping it back to the submitted operations is the caller's
// responsibility.
type BatchOutcome struct {
	Seq      int
	Outcomes []WriteOutcome
	// Err is set when the batch failed as a whole (the stream broke
	// before it was acknowledged).
	Err error
}

// A StreamingBatchWriter submits batches over a long-lived bidirectional
// stream, decoupling submission rate from completion acknowledgment.
// Acks arrive asynchronously on the Outcomes channel, in submission order.
// Send and Finish must not be called concurrently with each other; the
// Outcomes channel may be consumed from any goroutine.
type StreamingBatchWriter struct {
	c        *Client
	stream   pb.Firestore_WriteClient
	cancel   context.CancelFunc
	log      *zap.Logger
	outcomes chan BatchOutcome

	mu       sync.Mutex
	cond     *sync.Cond
	token    []byte
	streamID string
	nextSeq  int
	pending  []pendingBatch // in-flight, FIFO
	finished bool
	broken   error
}

type pendingBatch struct {
	seq int
	n   int // number of writes
}

// StreamingBatchWriter opens a write stream. It performs the protocol
// handshake (an empty write request that yields the stream's identity and
// first token) before returning.
func (c *Client) StreamingBatchWriter(ctx context.Context) (*StreamingBatchWriter, error) {
	ctx, cancel := context.WithCancel(withResourceHeader(ctx, c.dbPath))
	stream, err := c.c.Write(ctx)
	if err != nil {
		cancel()
		return nil, fdberr.New(fdberr.Code(err), err, "firedocs: opening write stream")
	}
	if err := stream.Send(&pb.WriteRequest{Database: c.dbPath}); err != nil {
		cancel()
		return nil, fdberr.New(fdberr.Code(err), err, "firedocs: write stream handshake")
	}
	first, err := stream.Recv()
	if err != nil {
		cancel()
		return nil, fdberr.New(fdberr.Code(err), err, "firedocs: write stream handshake")
	}
	w := &StreamingBatchWriter{
		c:        c,
		stream:   stream,
		cancel:   cancel,
		log:      c.log.With(zap.String("component", "streaming_batch_writer")),
		outcomes: make(chan BatchOutcome, 16),
		token:    first.StreamToken,
		streamID: first.StreamId,
	}
	w.cond = sync.NewCond(&w.mu)
	w.log.Debug("write stream open", zap.String("stream_id", w.streamID))
	go w.receive()
	return w, nil
}

// Outcomes delivers one BatchOutcome per submitted batch. The channel is
// closed after Finish has drained all acknowledgments, or when the stream
// breaks.
func (w *StreamingBatchWriter) Outcomes() <-chan BatchOutcome {
	return w.outcomes
}

// Send submits a batch and returns its sequence number. It does not wait
// for the server's acknowledgment.
func (w *StreamingBatchWriter) Send(b *WriteBatch) (seq int, err error) {
	if b.err != nil {
		return 0, b.err
	}
	if len(b.writes) == 0 {
		return 0, fdberr.New(fdberr.InvalidArgument, nil, "empty batch")
	}
	w.mu.Lock()
	if w.finished {
		w.mu.Unlock()
		return 0, fdberr.New(fdberr.FailedPrecondition, nil, "writer is finished")
	}
	if w.broken != nil {
		err := w.broken
		w.mu.Unlock()
		return 0, err
	}
	seq = w.nextSeq
	w.nextSeq++
	req := &pb.WriteRequest{
		StreamId:    w.streamID,
		StreamToken: w.token,
		Writes:      b.writes,
	}
	w.pending = append(w.pending, pendingBatch{seq: seq, n: len(b.writes)})
	w.mu.Unlock()

	// The receive goroutine never sends, so one sender at a time is
	// guaranteed by the caller contract.
	if err := w.stream.Send(req); err != nil {
		// The server never saw this batch; take it back out so the
		// receive goroutine does not ack or fail it a second time.
		w.mu.Lock()
		for i, p := range w.pending {
			if p.seq == seq {
				w.pending = append(w.pending[:i], w.pending[i+1:]...)
				break
			}
		}
		w.cond.Broadcast()
		w.mu.Unlock()
		return 0, fdberr.New(fdberr.Code(err), err, "firedocs: sending batch")
	}
	return seq, nil
}

// Finish drains the stream and closes the Outcomes channel. On return,
// every batch submitted before the call has either been acknowledged or
// reported failed on the channel. The writer is unusable afterwards.
func (w *StreamingBatchWriter) Finish(ctx context.Context) error {
	w.mu.Lock()
	if w.finished {
		w.mu.Unlock()
		return fdberr.New(fdberr.FailedPrecondition, nil, "writer already finished")
	}
	w.finished = true
	// Wake up if the caller's context dies while we wait.
	stop := context.AfterFunc(ctx, func() {
		w.mu.Lock()
		w.cond.Broadcast()
		w.mu.Unlock()
	})
	defer stop()
	for len(w.pending) > 0 && w.broken == nil && ctx.Err() == nil {
		w.cond.Wait()
	}
	broken := w.broken
	w.mu.Unlock()

	if err := ctx.Err(); err != nil && broken == nil {
		w.cancel()
		return fdberr.New(fdberr.Canceled, err, "firedocs: finish interrupted")
	}
	if broken == nil {
		if err := w.stream.CloseSend(); err != nil {
			w.log.Warn("closing write stream", zap.Error(err))
		}
	}
	w.cancel()
	if broken != nil && broken != errStreamDone {
		return broken
	}
	return nil
}

var errStreamDone = fdberr.New(fdberr.OK, nil, "stream done")

// receive reads acknowledgments, which arrive one per request in request
// order, and routes them to the Outcomes channel.
func (w *StreamingBatchWriter) receive() {
	defer close(w.outcomes)
	for {
		res, err := w.stream.Recv()
		if err != nil {
			w.mu.Lock()
			dropped := w.pending
			w.pending = nil
			if err == io.EOF && len(dropped) == 0 {
				w.broken = errStreamDone
			} else {
				w.broken = fdberr.New(fdberr.Code(err), err, "firedocs: write stream broken")
			}
			broken := w.broken
			w.cond.Broadcast()
			w.mu.Unlock()
			if broken != errStreamDone {
				w.log.Warn("write stream broken", zap.Error(err), zap.Int("unacked_batches", len(dropped)))
			}
			for _, p := range dropped {
				w.outcomes <- BatchOutcome{Seq: p.seq, Err: broken}
			}
			return
		}
		w.mu.Lock()
		if len(w.pending) == 0 {
			w.mu.Unlock()
			// A token refresh without writes; nothing to ack.
			continue
		}
		p := w.pending[0]
		w.pending = w.pending[1:]
		w.token = res.StreamToken
		w.cond.Broadcast()
		w.mu.Unlock()

		out := BatchOutcome{Seq: p.seq, Outcomes: make([]WriteOutcome, p.n)}
		if len(res.WriteResults) != p.n {
			out.Outcomes = nil
			out.Err = fdberr.Newf(fdberr.Internal, nil,
				"firedocs: %d results acknowledged for %d writes", len(res.WriteResults), p.n)
		} else {
			for i, wr := range res.WriteResults {
				out.Outcomes[i] = WriteOutcome{UpdateTime: writeResultFromProto(wr).UpdateTime}
			}
		}
		w.outcomes <- out
	}
}

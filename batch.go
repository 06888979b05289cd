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
	"time"

	pb "cloud.google.com/go/firestore/apiv1/firestorepb"
	"firedocs.dev/internal/fdberr"
	"github.com/googleapis/gax-go/v2"
	statuspb "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/status"
)

// MaxBatchSize is the largest number of writes one batch may carry, the
// service's per-request limit.
const MaxBatchSize = 500

// A WriteBatch accumulates write operations to be flushed together. It is
// exclusively owned by the caller until flushed and is not safe for
// concurrent use. The first build error (bad path, codec failure) sticks
// and is reported at flush time with the index of the offending write.
type WriteBatch struct {
	c      *Client
	writes []*pb.Write
	err    error
}

// NewWriteBatch returns an empty batch bound to the client's database.
func (c *Client) NewWriteBatch() *WriteBatch {
	return &WriteBatch{c: c}
}

// Len reports the number of accumulated writes.
func (b *WriteBatch) Len() int { return len(b.writes) }

func (b *WriteBatch) add(w *pb.Write, err error) *WriteBatch {
	if b.err != nil {
		return b
	}
	if err != nil {
		b.err = fdberr.Newf(fdberr.Code(err), err, "write %d", len(b.writes))
		return b
	}
	if len(b.writes) >= MaxBatchSize {
		b.err = fdberr.Newf(fdberr.InvalidArgument, nil, "batch exceeds %d writes", MaxBatchSize)
		return b
	}
	b.writes = append(b.writes, w)
	return b
}

// Create appends a create of a new document. If id is empty, the
// document's ID field alias or a random ID supplies it.
func (b *WriteBatch) Create(collection, id string, doc interface{}) *WriteBatch {
	if b.err != nil {
		return b
	}
	_, w, err := b.c.createWrite(collection, id, doc)
	return b.add(w, err)
}

// Set appends an unconditional create-or-replace.
func (b *WriteBatch) Set(collection, id string, doc interface{}) *WriteBatch {
	if b.err != nil {
		return b
	}
	w, err := b.c.setWrite(collection, id, doc, nil)
	return b.add(w, err)
}

// Update appends a masked update; see Client.Update for the mask and
// precondition defaults.
func (b *WriteBatch) Update(collection, id string, doc interface{}, mask []string, pre *Precondition) *WriteBatch {
	if b.err != nil {
		return b
	}
	w, err := b.c.updateWrite(collection, id, doc, mask, pre)
	return b.add(w, err)
}

// Delete appends a delete.
func (b *WriteBatch) Delete(collection, id string, pre *Precondition) *WriteBatch {
	if b.err != nil {
		return b
	}
	w, err := b.c.deleteWrite(collection, id, pre)
	return b.add(w, err)
}

// Transform appends field-level atomic operations.
func (b *WriteBatch) Transform(collection, id string, pre *Precondition, transforms ...Transform) *WriteBatch {
	if b.err != nil {
		return b
	}
	w, err := b.c.transformWrite(collection, id, pre, transforms)
	return b.add(w, err)
}

// A WriteOutcome is the per-item result of a flushed batch, index-aligned
// with the order writes were appended. Err is nil on success; a
// FailedPrecondition error on one item does not affect its siblings.
type WriteOutcome struct {
	UpdateTime time.Time
	Err        error
}

// A SimpleBatchWriter flushes batches with one blocking RPC per batch.
// Items that fail transiently are retried individually with backoff up to
// the client's attempt bound; terminal per-item failures are reported in
// the outcome slice, never as a call-level error. It is safe for
// concurrent use on independent batches.
type SimpleBatchWriter struct {
	c *Client
}

// SimpleBatchWriter returns a writer that flushes over the non-atomic
// batch RPC. For all-or-nothing semantics use a Transaction instead.
func (c *Client) SimpleBatchWriter() *SimpleBatchWriter {
	return &SimpleBatchWriter{c: c}
}

// Write flushes the batch and returns one outcome per accumulated write.
// The returned error is non-nil only for whole-call failures (a build
// error in the batch, an exhausted transport); per-item failures live in
// the outcomes. The batch must not be reused after a flush.
func (w *SimpleBatchWriter) Write(ctx context.Context, b *WriteBatch) ([]WriteOutcome, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.writes) == 0 {
		return nil, fdberr.New(fdberr.InvalidArgument, nil, "empty batch")
	}
	outcomes := make([]WriteOutcome, len(b.writes))
	// pending maps positions in the next request back to batch indices.
	pending := make([]int, len(b.writes))
	for i := range pending {
		pending[i] = i
	}
	writes := b.writes
	bo := w.c.backoff

	for attempt := 1; ; attempt++ {
		res, err := w.batchWrite(ctx, writes)
		if err != nil {
			return nil, err
		}
		var retryIdx []int
		for pos, i := range pending {
			st := itemStatus(res.Status, pos)
			if st == nil || st.Code == 0 {
				outcomes[i] = WriteOutcome{UpdateTime: writeResultFromProto(res.WriteResults[pos]).UpdateTime}
				continue
			}
			code := fdberr.GRPCStatusCode(st.Code)
			itemErr := fdberr.Newf(code, status.ErrorProto(st), "write %d", i)
			if fdberr.IsTransient(itemErr) && attempt < w.c.maxAttempts {
				retryIdx = append(retryIdx, i)
				continue
			}
			outcomes[i] = WriteOutcome{Err: itemErr}
		}
		if len(retryIdx) == 0 {
			return outcomes, nil
		}
		if err := gax.Sleep(ctx, bo.Pause()); err != nil {
			// Context gone: report the still-pending items as canceled.
			for _, i := range retryIdx {
				outcomes[i] = WriteOutcome{Err: fdberr.New(fdberr.Canceled, err, "retry interrupted")}
			}
			return outcomes, nil
		}
		pending = retryIdx
		writes = make([]*pb.Write, len(retryIdx))
		for pos, i := range retryIdx {
			writes[pos] = b.writes[i]
		}
	}
}

func (w *SimpleBatchWriter) batchWrite(ctx context.Context, writes []*pb.Write) (*pb.BatchWriteResponse, error) {
	req := &pb.BatchWriteRequest{
		Database: w.c.dbPath,
		Writes:   writes,
	}
	var res *pb.BatchWriteResponse
	err := w.c.retryTransient(ctx, func() error {
		var err error
		res, err = w.c.c.BatchWrite(withResourceHeader(ctx, w.c.dbPath), req)
		return err
	})
	if err != nil {
		return nil, fdberr.New(fdberr.Code(err), err, "firedocs: batch write")
	}
	if len(res.WriteResults) != len(writes) {
		return nil, fdberr.Newf(fdberr.Internal, nil,
			"firedocs: batch write returned %d results for %d writes", len(res.WriteResults), len(writes))
	}
	return res, nil
}

func itemStatus(sts []*statuspb.Status, pos int) *statuspb.Status {
	if pos < len(sts) {
		return sts[pos]
	}
	return nil
}

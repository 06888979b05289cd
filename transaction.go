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

	pb "cloud.google.com/go/firestore/apiv1/firestorepb"
	"firedocs.dev/codec"
	"firedocs.dev/internal/fdberr"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
)

// TransactionMode selects the consistency contract of a transaction.
type TransactionMode int

const (
	// ReadWrite transactions may read and write; a conflicting concurrent
	// write causes Commit to fail with an Aborted error.
	ReadWrite TransactionMode = iota
	// ReadOnly transactions see a consistent snapshot and reject writes.
	ReadOnly
)

// A Transaction accumulates reads and writes committed as a single atomic
// unit. Reads observe a consistent snapshot; writes are buffered locally
// and applied all-or-nothing at Commit. A Transaction is not safe for
// concurrent use.
type Transaction struct {
	c      *Client
	id     []byte
	mode   TransactionMode
	writes []*pb.Write
	err    error
	ended  bool
}

// BeginTransaction starts a transaction. The caller must end it with
// Commit or Rollback.
func (c *Client) BeginTransaction(ctx context.Context, mode TransactionMode) (*Transaction, error) {
	return c.beginTransaction(ctx, mode, nil)
}

func (c *Client) beginTransaction(ctx context.Context, mode TransactionMode, retryID []byte) (*Transaction, error) {
	req := &pb.BeginTransactionRequest{Database: c.dbPath}
	if mode == ReadOnly {
		req.Options = &pb.TransactionOptions{
			Mode: &pb.TransactionOptions_ReadOnly_{ReadOnly: &pb.TransactionOptions_ReadOnly{}},
		}
	} else if retryID != nil {
		req.Options = &pb.TransactionOptions{
			Mode: &pb.TransactionOptions_ReadWrite_{ReadWrite: &pb.TransactionOptions_ReadWrite{
				RetryTransaction: retryID,
			}},
		}
	}
	var res *pb.BeginTransactionResponse
	err := c.retryTransient(ctx, func() error {
		var err error
		res, err = c.c.BeginTransaction(withResourceHeader(ctx, c.dbPath), req)
		return err
	})
	if err != nil {
		return nil, fdberr.New(fdberr.Code(err), err, "firedocs: begin transaction")
	}
	return &Transaction{c: c, id: res.Transaction, mode: mode}, nil
}

// Get reads one document within the transaction's snapshot.
func (t *Transaction) Get(ctx context.Context, collection, id string, dst interface{}) error {
	if err := t.usable(); err != nil {
		return err
	}
	name, err := t.c.DocumentPath(collection, id)
	if err != nil {
		return err
	}
	docs, err := t.c.getDocuments(ctx, []string{name}, nil, t.id)
	if err != nil {
		return err
	}
	if docs[0] == nil {
		return fdberr.Newf(fdberr.NotFound, nil, "document %q not found", name)
	}
	return codec.DecodeDocument(docs[0], dst, t.c.conv)
}

// Exists reports whether the document exists in the transaction's
// snapshot.
func (t *Transaction) Exists(ctx context.Context, collection, id string) (bool, error) {
	if err := t.usable(); err != nil {
		return false, err
	}
	name, err := t.c.DocumentPath(collection, id)
	if err != nil {
		return false, err
	}
	docs, err := t.c.getDocuments(ctx, []string{name}, nil, t.id)
	if err != nil {
		return false, err
	}
	return docs[0] != nil, nil
}

func (t *Transaction) usable() error {
	if t.ended {
		return fdberr.New(fdberr.FailedPrecondition, nil, "transaction has ended")
	}
	return t.err
}

func (t *Transaction) addWrite(w *pb.Write, err error) {
	if t.err != nil || t.ended {
		return
	}
	if t.mode == ReadOnly {
		t.err = fdberr.New(fdberr.FailedPrecondition, nil, "write in a read-only transaction")
		return
	}
	if err != nil {
		t.err = fdberr.Newf(fdberr.Code(err), err, "write %d", len(t.writes))
		return
	}
	t.writes = append(t.writes, w)
}

// Create buffers a create of a new document; see Client.Create.
func (t *Transaction) Create(collection, id string, doc interface{}) {
	_, w, err := t.c.createWrite(collection, id, doc)
	t.addWrite(w, err)
}

// Set buffers an unconditional create-or-replace.
func (t *Transaction) Set(collection, id string, doc interface{}) {
	w, err := t.c.setWrite(collection, id, doc, nil)
	t.addWrite(w, err)
}

// Update buffers a masked update; see Client.Update.
func (t *Transaction) Update(collection, id string, doc interface{}, mask []string, pre *Precondition) {
	w, err := t.c.updateWrite(collection, id, doc, mask, pre)
	t.addWrite(w, err)
}

// Delete buffers a delete.
func (t *Transaction) Delete(collection, id string, pre *Precondition) {
	w, err := t.c.deleteWrite(collection, id, pre)
	t.addWrite(w, err)
}

// Transform buffers field-level atomic operations.
func (t *Transaction) Transform(collection, id string, pre *Precondition, transforms ...Transform) {
	w, err := t.c.transformWrite(collection, id, pre, transforms)
	t.addWrite(w, err)
}

// Commit applies all buffered writes atomically. Either every write is
// applied or none is. An Aborted error reports a conflicting concurrent
// write; the whole transaction body may be retried, which RunTransaction
// automates.
func (t *Transaction) Commit(ctx context.Context) ([]WriteResult, error) {
	if err := t.usable(); err != nil {
		return nil, err
	}
	t.ended = true
	req := &pb.CommitRequest{
		Database:    t.c.dbPath,
		Writes:      t.writes,
		Transaction: t.id,
	}
	// Commit is not blanket-retried: an Aborted conflict must surface so
	// the caller can rerun the whole body against a fresh snapshot.
	res, err := t.c.c.Commit(withResourceHeader(ctx, t.c.dbPath), req)
	if err != nil {
		return nil, fdberr.New(fdberr.Code(err), err, "firedocs: transaction commit")
	}
	wrs := make([]WriteResult, len(res.WriteResults))
	for i, wr := range res.WriteResults {
		wrs[i] = writeResultFromProto(wr)
	}
	return wrs, nil
}

// Rollback abandons the transaction.
func (t *Transaction) Rollback(ctx context.Context) error {
	if t.ended {
		return nil
	}
	t.ended = true
	err := t.c.c.Rollback(withResourceHeader(ctx, t.c.dbPath), &pb.RollbackRequest{
		Database:    t.c.dbPath,
		Transaction: t.id,
	})
	if err != nil {
		return fdberr.New(fdberr.Code(err), err, "firedocs: rollback")
	}
	return nil
}

// RunTransaction runs f in a read-write transaction and commits it. If the
// commit fails with a conflict (Aborted), the body is rerun against a
// fresh snapshot, with backoff, up to the client's attempt bound. f must
// use the provided Transaction for all reads and writes and must be safe
// to call multiple times.
func (c *Client) RunTransaction(ctx context.Context, f func(ctx context.Context, t *Transaction) error) error {
	bo := c.backoff
	var lastID []byte
	for attempt := 1; ; attempt++ {
		t, err := c.beginTransaction(ctx, ReadWrite, lastID)
		if err != nil {
			return err
		}
		if err := f(ctx, t); err != nil {
			if rerr := t.Rollback(ctx); rerr != nil {
				c.log.Warn("rollback after transaction body failure", zap.Error(rerr))
			}
			return err
		}
		_, err = t.Commit(ctx)
		if err == nil {
			return nil
		}
		if fdberr.Code(err) != fdberr.Aborted || attempt >= c.maxAttempts {
			return err
		}
		lastID = t.id
		if serr := gax.Sleep(ctx, bo.Pause()); serr != nil {
			return fdberr.New(fdberr.Canceled, serr, "firedocs: transaction retry interrupted")
		}
	}
}

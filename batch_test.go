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
	"strings"
	"testing"
	"time"

	pb "cloud.google.com/go/firestore/apiv1/firestorepb"
	"firedocs.dev/fdberrors"
	"github.com/google/go-cmp/cmp"
	statuspb "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/testing/protocmp"
	"google.golang.org/protobuf/types/known/timestamppb"
)

func TestWriteBatchAccumulates(t *testing.T) {
	c := testClient()
	b := c.NewWriteBatch().
		Create("books", "b1", novel{Title: "Moby Dick"}).
		Set("books", "b2", novel{Title: "Emma"}).
		Update("books", "b1", novel{Pages: 635}, []string{"Pages"}, nil).
		Delete("books", "b2", nil).
		Transform("books", "b1", nil, Increment("Pages", 1))
	if b.err != nil {
		t.Fatal(b.err)
	}
	if got := b.Len(); got != 5 {
		t.Errorf("Len = %d, want 5", got)
	}
}

func TestWriteBatchStickyError(t *testing.T) {
	c := testClient()
	b := c.NewWriteBatch().
		Set("books", "b1", novel{}).
		Delete("books/bad", "x", nil). // write 1 is malformed
		Set("books", "b2", novel{})
	if b.err == nil {
		t.Fatal("got nil error")
	}
	// The error names the offending write's index and later appends do
	// not grow the batch.
	if !strings.Contains(b.err.Error(), "write 1") {
		t.Errorf("error %q does not name write 1", b.err)
	}
	if got := b.Len(); got != 1 {
		t.Errorf("Len = %d, want 1", got)
	}
	if got := fdberrors.Code(b.err); got != fdberrors.InvalidArgument {
		t.Errorf("code = %v, want InvalidArgument", got)
	}
}

func TestWriteBatchSizeLimit(t *testing.T) {
	c := testClient()
	b := c.NewWriteBatch()
	for i := 0; i < MaxBatchSize; i++ {
		b.Delete("books", "b1", nil)
	}
	if b.err != nil {
		t.Fatalf("batch at the size limit errored: %v", b.err)
	}
	b.Delete("books", "b1", nil)
	if b.err == nil {
		t.Fatal("got nil error past the size limit")
	}
	if got := b.Len(); got != MaxBatchSize {
		t.Errorf("Len = %d, want %d", got, MaxBatchSize)
	}
}

func TestSimpleBatchWriterPerItemOutcomes(t *testing.T) {
	ctx := context.Background()
	srv, c := newServerClient(t)
	srv.addBatchResponse(&pb.BatchWriteResponse{
		Status: []*statuspb.Status{
			{Code: int32(codes.OK)},
			{Code: int32(codes.FailedPrecondition), Message: "document already exists"},
			{Code: int32(codes.OK)},
		},
		WriteResults: []*pb.WriteResult{
			{UpdateTime: timestamppb.New(ackTime)},
			{},
			{UpdateTime: timestamppb.New(ackTime.Add(time.Second))},
		},
	})

	b := c.NewWriteBatch().
		Set("books", "b1", novel{Title: "Moby Dick"}).
		Create("books", "b2", novel{Title: "Emma"}).
		Delete("books", "b3", nil)
	outs, err := c.SimpleBatchWriter().Write(ctx, b)
	if err != nil {
		t.Fatal(err)
	}
	if len(outs) != 3 {
		t.Fatalf("got %d outcomes, want 3", len(outs))
	}
	if outs[0].Err != nil || !outs[0].UpdateTime.Equal(ackTime) {
		t.Errorf("outcome 0 = %+v, want success at %v", outs[0], ackTime)
	}
	// A precondition failure on one item leaves its siblings untouched.
	if got := fdberrors.Code(outs[1].Err); got != fdberrors.FailedPrecondition {
		t.Errorf("outcome 1 code = %v, want FailedPrecondition", got)
	}
	if outs[2].Err != nil || !outs[2].UpdateTime.Equal(ackTime.Add(time.Second)) {
		t.Errorf("outcome 2 = %+v, want success at %v", outs[2], ackTime.Add(time.Second))
	}

	reqs := srv.batchRequests()
	if len(reqs) != 1 {
		t.Fatalf("server saw %d BatchWrite calls, want 1", len(reqs))
	}
	if got, want := reqs[0].Database, "projects/p/databases/d"; got != want {
		t.Errorf("request database = %q, want %q", got, want)
	}
	if got := len(reqs[0].Writes); got != 3 {
		t.Errorf("request carried %d writes, want 3", got)
	}
}

func TestSimpleBatchWriterRetriesTransientItem(t *testing.T) {
	ctx := context.Background()
	srv, c := newServerClient(t)
	srv.addBatchResponse(&pb.BatchWriteResponse{
		Status: []*statuspb.Status{
			{Code: int32(codes.OK)},
			{Code: int32(codes.Unavailable), Message: "please retry"},
		},
		WriteResults: []*pb.WriteResult{{UpdateTime: timestamppb.New(ackTime)}, {}},
	})
	srv.addBatchResponse(&pb.BatchWriteResponse{
		Status:       []*statuspb.Status{{Code: int32(codes.OK)}},
		WriteResults: []*pb.WriteResult{{UpdateTime: timestamppb.New(ackTime.Add(time.Second))}},
	})

	b := c.NewWriteBatch().
		Set("books", "b1", novel{Title: "Moby Dick"}).
		Set("books", "b2", novel{Title: "Emma"})
	outs, err := c.SimpleBatchWriter().Write(ctx, b)
	if err != nil {
		t.Fatal(err)
	}
	if outs[0].Err != nil || !outs[0].UpdateTime.Equal(ackTime) {
		t.Errorf("outcome 0 = %+v, want success at %v", outs[0], ackTime)
	}
	if outs[1].Err != nil || !outs[1].UpdateTime.Equal(ackTime.Add(time.Second)) {
		t.Errorf("outcome 1 = %+v, want success from the retry", outs[1])
	}

	reqs := srv.batchRequests()
	if len(reqs) != 2 {
		t.Fatalf("server saw %d BatchWrite calls, want 2", len(reqs))
	}
	if got := len(reqs[1].Writes); got != 1 {
		t.Fatalf("retry carried %d writes, want 1", got)
	}
	if diff := cmp.Diff(reqs[0].Writes[1], reqs[1].Writes[0], protocmp.Transform()); diff != "" {
		t.Errorf("retried write differs from the failed one (-first, +retry):\n%s", diff)
	}
}

func TestSimpleBatchWriterRetryExhaustion(t *testing.T) {
	ctx := context.Background()
	srv, c := newServerClient(t)
	c.maxAttempts = 2
	for i := 0; i < 2; i++ {
		srv.addBatchResponse(&pb.BatchWriteResponse{
			Status:       []*statuspb.Status{{Code: int32(codes.Unavailable), Message: "still overloaded"}},
			WriteResults: []*pb.WriteResult{{}},
		})
	}

	b := c.NewWriteBatch().Set("books", "b1", novel{Title: "Moby Dick"})
	outs, err := c.SimpleBatchWriter().Write(ctx, b)
	if err != nil {
		t.Fatal(err)
	}
	if got := fdberrors.Code(outs[0].Err); got != fdberrors.Unavailable {
		t.Errorf("outcome 0 code = %v, want Unavailable", got)
	}
	if reqs := srv.batchRequests(); len(reqs) != 2 {
		t.Errorf("server saw %d BatchWrite calls, want 2", len(reqs))
	}
}

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

package cache

import (
	"context"
	"errors"

	pb "cloud.google.com/go/firestore/apiv1/firestorepb"
)

// ErrScanDone stops a ScanCollection early. Backends treat it as a
// successful end of the scan, not a failure.
var ErrScanDone = errors.New("cache: scan done")

// A Backend stores cached document snapshots keyed by absolute document
// path, plus one resume-token record per subscription target. The
// synchronizer is the only writer; implementations must let concurrent
// readers interleave with its writes, observing each entry either before
// or after an update, never mid-update.
//
// A Backend satisfies firedocs.TokenStorage, so the same store that
// holds the documents also persists the stream position that produced
// them.
type Backend interface {
	// GetDocument returns the cached document at the absolute path, or
	// nil if nothing is cached there.
	GetDocument(ctx context.Context, path string) (*pb.Document, error)

	// PutDocument stores a snapshot, keyed by doc.Name, replacing any
	// previous snapshot at that path.
	PutDocument(ctx context.Context, doc *pb.Document) error

	// RemoveDocument drops the snapshot at the absolute path. Removing
	// an absent path is not an error.
	RemoveDocument(ctx context.Context, path string) error

	// ScanCollection calls f for every cached document directly under
	// the absolute collection path, in path order. If f returns
	// ErrScanDone the scan stops and ScanCollection returns nil; any
	// other error stops the scan and is returned.
	ScanCollection(ctx context.Context, collectionPath string, f func(*pb.Document) error) error

	// ClearCollection drops every cached document directly under the
	// absolute collection path.
	ClearCollection(ctx context.Context, collectionPath string) error

	// LoadToken returns the stored resume token for the target, or nil
	// if none is stored.
	LoadToken(ctx context.Context, targetID int32) ([]byte, error)

	// StoreToken records the target's latest resume token, replacing
	// any previous one.
	StoreToken(ctx context.Context, targetID int32, token []byte) error

	// ClearToken removes the target's resume token.
	ClearToken(ctx context.Context, targetID int32) error

	// Close releases any resources held by the backend.
	Close() error
}

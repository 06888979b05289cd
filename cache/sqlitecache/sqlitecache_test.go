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

package sqlitecache

import (
	"context"
	"path/filepath"
	"testing"

	pb "cloud.google.com/go/firestore/apiv1/firestorepb"
	"firedocs.dev/cache"
	"github.com/google/go-cmp/cmp"
	"google.golang.org/protobuf/testing/protocmp"
)

const coll = "projects/p/databases/d/documents/books"

func doc(path string, n int64) *pb.Document {
	return &pb.Document{
		Name: path,
		Fields: map[string]*pb.Value{
			"n": {ValueType: &pb.Value_IntegerValue{IntegerValue: n}},
		},
	}
}

func open(t *testing.T, filename string) *Store {
	t.Helper()
	s, err := Open(context.Background(), filename)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestPutGetRemove(t *testing.T) {
	ctx := context.Background()
	s := open(t, filepath.Join(t.TempDir(), "cache.db"))
	defer s.Close()
	path := coll + "/b1"

	if got, err := s.GetDocument(ctx, path); err != nil || got != nil {
		t.Fatalf("GetDocument on empty store = %v, %v", got, err)
	}
	if err := s.PutDocument(ctx, doc(path, 1)); err != nil {
		t.Fatal(err)
	}
	// Putting again replaces the snapshot.
	if err := s.PutDocument(ctx, doc(path, 2)); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetDocument(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(doc(path, 2), got, protocmp.Transform()); diff != "" {
		t.Errorf("mismatch (-want, +got):\n%s", diff)
	}

	if err := s.RemoveDocument(ctx, path); err != nil {
		t.Fatal(err)
	}
	if got, err := s.GetDocument(ctx, path); err != nil || got != nil {
		t.Fatalf("GetDocument after remove = %v, %v", got, err)
	}
}

func TestScanAndClearCollection(t *testing.T) {
	ctx := context.Background()
	s := open(t, filepath.Join(t.TempDir(), "cache.db"))
	defer s.Close()

	nested := doc(coll+"/b1/reviews/r1", 9)
	other := doc("projects/p/databases/d/documents/users/u1", 5)
	for _, d := range []*pb.Document{doc(coll+"/b2", 2), doc(coll+"/b1", 1), nested, other} {
		if err := s.PutDocument(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	var got []*pb.Document
	if err := s.ScanCollection(ctx, coll, func(d *pb.Document) error {
		got = append(got, d)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	want := []*pb.Document{doc(coll+"/b1", 1), doc(coll+"/b2", 2)}
	if diff := cmp.Diff(want, got, protocmp.Transform()); diff != "" {
		t.Errorf("mismatch (-want, +got):\n%s", diff)
	}

	n := 0
	if err := s.ScanCollection(ctx, coll, func(*pb.Document) error {
		n++
		return cache.ErrScanDone
	}); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("scan visited %d documents after ErrScanDone, want 1", n)
	}

	if err := s.ClearCollection(ctx, coll); err != nil {
		t.Fatal(err)
	}
	for _, path := range []string{coll + "/b1", coll + "/b2"} {
		if d, _ := s.GetDocument(ctx, path); d != nil {
			t.Errorf("%s survived ClearCollection", path)
		}
	}
	for _, path := range []string{nested.Name, other.Name} {
		if d, _ := s.GetDocument(ctx, path); d == nil {
			t.Errorf("%s was cleared by an unrelated ClearCollection", path)
		}
	}
}

func TestTokens(t *testing.T) {
	ctx := context.Background()
	s := open(t, filepath.Join(t.TempDir(), "cache.db"))
	defer s.Close()

	if tok, err := s.LoadToken(ctx, 1); err != nil || tok != nil {
		t.Fatalf("LoadToken on empty store = %v, %v", tok, err)
	}
	if err := s.StoreToken(ctx, 1, []byte("tok1")); err != nil {
		t.Fatal(err)
	}
	if err := s.StoreToken(ctx, 1, []byte("tok2")); err != nil {
		t.Fatal(err)
	}
	tok, err := s.LoadToken(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if string(tok) != "tok2" {
		t.Errorf("LoadToken = %q, want %q", tok, "tok2")
	}
	if err := s.ClearToken(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if tok, err := s.LoadToken(ctx, 1); err != nil || tok != nil {
		t.Fatalf("LoadToken after clear = %v, %v", tok, err)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	filename := filepath.Join(t.TempDir(), "cache.db")
	path := coll + "/b1"

	s := open(t, filename)
	if err := s.PutDocument(ctx, doc(path, 1)); err != nil {
		t.Fatal(err)
	}
	if err := s.StoreToken(ctx, 1, []byte("tok")); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s = open(t, filename)
	defer s.Close()
	got, err := s.GetDocument(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(doc(path, 1), got, protocmp.Transform()); diff != "" {
		t.Errorf("document lost across reopen (-want, +got):\n%s", diff)
	}
	tok, err := s.LoadToken(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if string(tok) != "tok" {
		t.Errorf("token lost across reopen: got %q", tok)
	}
}

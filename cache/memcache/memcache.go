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

// Package memcache provides an in-memory cache backend. Its contents
// are lost on restart, which costs a resync but never correctness.
package memcache

import (
	"context"
	"sort"
	"strings"
	"sync"

	pb "cloud.google.com/go/firestore/apiv1/firestorepb"
	"firedocs.dev/cache"
	"google.golang.org/protobuf/proto"
)

// A Store keeps document snapshots and resume tokens in process memory.
// It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	docs   map[string]*pb.Document
	tokens map[int32][]byte
}

var _ cache.Backend = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		docs:   map[string]*pb.Document{},
		tokens: map[int32][]byte{},
	}
}

func (s *Store) GetDocument(_ context.Context, path string) (*pb.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[path]
	if !ok {
		return nil, nil
	}
	return proto.Clone(doc).(*pb.Document), nil
}

func (s *Store) PutDocument(_ context.Context, doc *pb.Document) error {
	clone := proto.Clone(doc).(*pb.Document)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[clone.Name] = clone
	return nil
}

func (s *Store) RemoveDocument(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, path)
	return nil
}

func (s *Store) ScanCollection(_ context.Context, collectionPath string, f func(*pb.Document) error) error {
	s.mu.RLock()
	paths := s.childPaths(collectionPath)
	docs := make([]*pb.Document, len(paths))
	for i, p := range paths {
		docs[i] = proto.Clone(s.docs[p]).(*pb.Document)
	}
	s.mu.RUnlock()
	for _, doc := range docs {
		if err := f(doc); err != nil {
			if err == cache.ErrScanDone {
				return nil
			}
			return err
		}
	}
	return nil
}

func (s *Store) ClearCollection(_ context.Context, collectionPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.childPaths(collectionPath) {
		delete(s.docs, p)
	}
	return nil
}

// childPaths returns the sorted paths of documents directly under the
// collection, excluding documents of nested subcollections. Callers
// must hold at least a read lock.
func (s *Store) childPaths(collectionPath string) []string {
	prefix := collectionPath + "/"
	var paths []string
	for p := range s.docs {
		rest, ok := strings.CutPrefix(p, prefix)
		if !ok || strings.Contains(rest, "/") {
			continue
		}
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (s *Store) LoadToken(_ context.Context, targetID int32) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens[targetID], nil
}

func (s *Store) StoreToken(_ context.Context, targetID int32, token []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[targetID] = append([]byte(nil), token...)
	return nil
}

func (s *Store) ClearToken(_ context.Context, targetID int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, targetID)
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

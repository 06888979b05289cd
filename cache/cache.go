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

// Package cache keeps a local store of documents synchronized with the
// server through the change feed.
//
// A Cache watches one or more collections. For each it optionally
// preloads the current contents, then applies the stream of document
// changes to a pluggable Backend strictly in delivery order. Resume
// tokens are persisted in the same backend, so a durable backend
// resumes after a restart without replaying what it already holds.
package cache

import (
	"context"
	"sync"

	pb "cloud.google.com/go/firestore/apiv1/firestorepb"
	"firedocs.dev"
	"firedocs.dev/codec"
	"firedocs.dev/internal/fdberr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"
)

// PreloadMode says whether a collection's current contents are read in
// full before its subscription starts.
type PreloadMode int

const (
	// PreloadAlways reads the whole collection on every Start.
	PreloadAlways PreloadMode = iota
	// PreloadIfEmpty reads the collection only when the backend holds
	// no documents for it, as after a first run or a wipe.
	PreloadIfEmpty
	// PreloadNever skips the initial read. The cache warms up from the
	// change feed alone.
	PreloadNever
)

// State is where a collection target stands in the synchronization
// lifecycle.
type State int

const (
	Uninitialized State = iota
	Preloading
	Listening
	Reconnecting
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Preloading:
		return "Preloading"
	case Listening:
		return "Listening"
	case Reconnecting:
		return "Reconnecting"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// preloadConcurrency bounds how many collections preload at once.
const preloadConcurrency = 4

// A CollectionConfig names one collection to keep synchronized.
type CollectionConfig struct {
	// Collection is the collection path relative to the documents root,
	// e.g. "users" or "users/u1/books".
	Collection string

	// TargetID identifies this collection's subscription on the change
	// feed. Must be non-zero and unique within a Cache.
	TargetID int32

	// Preload selects the initial-read policy. The zero value is
	// PreloadAlways.
	Preload PreloadMode
}

// A Cache synchronizes a Backend with a set of collections. Create one
// with New, call Start, and read through Get, Documents or Scan while
// the change feed keeps the backend current.
type Cache struct {
	client  *firedocs.Client
	backend Backend
	configs []CollectionConfig
	byID    map[int32]CollectionConfig
	// collPaths maps each target ID to its absolute collection path.
	collPaths map[int32]string
	log       *zap.Logger

	listener *firedocs.Listener

	mu      sync.Mutex
	states  map[int32]State
	started bool
	closed  bool
}

// New validates the configuration and returns an unstarted Cache. The
// backend is owned by the caller; Shutdown does not close it.
func New(client *firedocs.Client, backend Backend, configs []CollectionConfig) (*Cache, error) {
	if backend == nil {
		return nil, fdberr.New(fdberr.InvalidArgument, nil, "cache: backend is required")
	}
	if len(configs) == 0 {
		return nil, fdberr.New(fdberr.InvalidArgument, nil, "cache: at least one collection is required")
	}
	byID := make(map[int32]CollectionConfig, len(configs))
	collPaths := make(map[int32]string, len(configs))
	states := make(map[int32]State, len(configs))
	for _, cfg := range configs {
		if cfg.TargetID == 0 {
			return nil, fdberr.Newf(fdberr.InvalidArgument, nil, "cache: collection %q needs a non-zero target ID", cfg.Collection)
		}
		if _, ok := byID[cfg.TargetID]; ok {
			return nil, fdberr.Newf(fdberr.InvalidArgument, nil, "cache: duplicate target ID %d", cfg.TargetID)
		}
		collPath, err := client.CollectionPath(cfg.Collection)
		if err != nil {
			return nil, err
		}
		byID[cfg.TargetID] = cfg
		collPaths[cfg.TargetID] = collPath
		states[cfg.TargetID] = Uninitialized
	}
	return &Cache{
		client:    client,
		backend:   backend,
		configs:   configs,
		byID:      byID,
		collPaths: collPaths,
		log:       client.Logger().With(zap.String("component", "cache")),
		states:    states,
	}, nil
}

// State reports the lifecycle state of the collection subscribed under
// targetID.
func (c *Cache) State(targetID int32) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[targetID]
}

func (c *Cache) setState(targetID int32, s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.states[targetID] == Closed {
		return
	}
	c.states[targetID] = s
}

func (c *Cache) setAllStates(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.states {
		if c.states[id] == Closed && s != Closed {
			continue
		}
		c.states[id] = s
	}
}

// Start preloads each collection per its policy, then opens the change
// feed and begins applying changes to the backend. A preload failure is
// logged and leaves that collection cold; it does not prevent
// listening. Start returns once the feed is running.
func (c *Cache) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fdberr.New(fdberr.FailedPrecondition, nil, "cache: already shut down")
	}
	if c.started {
		c.mu.Unlock()
		return fdberr.New(fdberr.FailedPrecondition, nil, "cache: already started")
	}
	c.started = true
	c.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(preloadConcurrency)
	for _, cfg := range c.configs {
		cfg := cfg
		g.Go(func() error {
			c.setState(cfg.TargetID, Preloading)
			if err := c.preload(gctx, cfg); err != nil {
				// A cold cache still warms up from the feed.
				c.log.Warn("preload failed",
					zap.String("collection", cfg.Collection),
					zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fdberr.New(fdberr.Canceled, err, "cache: starting")
	}

	targets := make([]firedocs.ListenTarget, len(c.configs))
	for i, cfg := range c.configs {
		targets[i] = firedocs.ListenTarget{
			ID:    cfg.TargetID,
			Query: c.client.Collection(cfg.Collection),
		}
	}
	l, err := c.client.NewListener(targets, c.backend)
	if err != nil {
		return err
	}
	l.OnStateChange(func(s firedocs.StreamState) {
		switch s {
		case firedocs.StreamConnecting, firedocs.StreamListening:
			c.setAllStates(Listening)
		case firedocs.StreamReconnecting:
			c.setAllStates(Reconnecting)
		case firedocs.StreamStopped:
			c.setAllStates(Closed)
		}
	})
	if err := l.Start(ctx, c.apply); err != nil {
		return err
	}
	c.mu.Lock()
	c.listener = l
	c.mu.Unlock()
	return nil
}

// preload reads the collection's current contents into the backend.
func (c *Cache) preload(ctx context.Context, cfg CollectionConfig) error {
	switch cfg.Preload {
	case PreloadNever:
		return nil
	case PreloadIfEmpty:
		empty := true
		err := c.backend.ScanCollection(ctx, c.collPaths[cfg.TargetID], func(*pb.Document) error {
			empty = false
			return ErrScanDone
		})
		if err != nil {
			return err
		}
		if !empty {
			return nil
		}
	}
	it := c.client.Collection(cfg.Collection).Documents(ctx)
	defer it.Stop()
	n := 0
	for {
		doc, err := it.NextDocument()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return err
		}
		if err := c.backend.PutDocument(ctx, doc); err != nil {
			return err
		}
		n++
	}
	c.log.Info("preloaded collection",
		zap.String("collection", cfg.Collection),
		zap.Int("documents", n))
	return nil
}

// apply folds one change-feed response into the backend. The listener
// calls it sequentially, so arrival order is apply order.
func (c *Cache) apply(ctx context.Context, res *pb.ListenResponse) error {
	switch r := res.ResponseType.(type) {
	case *pb.ListenResponse_DocumentChange:
		return c.backend.PutDocument(ctx, r.DocumentChange.Document)
	case *pb.ListenResponse_DocumentDelete:
		return c.backend.RemoveDocument(ctx, r.DocumentDelete.Document)
	case *pb.ListenResponse_DocumentRemove:
		return c.backend.RemoveDocument(ctx, r.DocumentRemove.Document)
	case *pb.ListenResponse_TargetChange:
		if r.TargetChange.TargetChangeType == pb.TargetChange_RESET {
			return c.reset(ctx, r.TargetChange.TargetIds)
		}
		return nil
	default:
		return nil
	}
}

// reset invalidates every cached document for the named targets. An
// empty list addresses all targets. The listener clears the resume
// tokens, so the next subscription starts from scratch and resyncs.
func (c *Cache) reset(ctx context.Context, targetIDs []int32) error {
	if len(targetIDs) == 0 {
		for id := range c.byID {
			targetIDs = append(targetIDs, id)
		}
	}
	for _, id := range targetIDs {
		collPath, ok := c.collPaths[id]
		if !ok {
			continue
		}
		c.log.Info("target reset, invalidating collection",
			zap.String("collection", collPath),
			zap.Int32("target", id))
		if err := c.backend.ClearCollection(ctx, collPath); err != nil {
			return err
		}
	}
	return nil
}

// Get reads the cached document collection/id into dst. It returns a
// NotFound error when the document is not cached, which after a warm
// sync means it does not exist.
func (c *Cache) Get(ctx context.Context, collection, id string, dst interface{}) error {
	doc, err := c.GetDocument(ctx, collection, id)
	if err != nil {
		return err
	}
	return codec.DecodeDocument(doc, dst, c.client.Convention())
}

// GetDocument reads the cached snapshot of collection/id.
func (c *Cache) GetDocument(ctx context.Context, collection, id string) (*pb.Document, error) {
	path, err := c.client.DocumentPath(collection, id)
	if err != nil {
		return nil, err
	}
	doc, err := c.backend.GetDocument(ctx, path)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fdberr.Newf(fdberr.NotFound, nil, "cache: document %q not cached", path)
	}
	return doc, nil
}

// Documents returns every cached snapshot in the collection, in path
// order.
func (c *Cache) Documents(ctx context.Context, collection string) ([]*pb.Document, error) {
	var docs []*pb.Document
	err := c.Scan(ctx, collection, func(doc *pb.Document) error {
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// Scan calls f for every cached snapshot in the collection, in path
// order. Returning ErrScanDone from f stops the scan without error.
func (c *Cache) Scan(ctx context.Context, collection string, f func(*pb.Document) error) error {
	collPath, err := c.client.CollectionPath(collection)
	if err != nil {
		return err
	}
	return c.backend.ScanCollection(ctx, collPath, f)
}

// Shutdown stops the change feed and marks every target Closed. The
// backend is left open and readable, holding its last synchronized
// state.
func (c *Cache) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	l := c.listener
	c.mu.Unlock()
	defer c.setAllStates(Closed)
	if l == nil {
		return nil
	}
	return l.Shutdown(ctx)
}

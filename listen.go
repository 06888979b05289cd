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
	"sync"

	pb "cloud.google.com/go/firestore/apiv1/firestorepb"
	"firedocs.dev/internal/fdberr"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
)

// A ListenTarget names one change-feed subscription: the documents
// matching Query, identified on the stream by ID. IDs must be non-zero
// and unique within a listener.
type ListenTarget struct {
	ID    int32
	Query Query
}

// TokenStorage persists change-feed resume tokens per target, so a
// listener can resume after a disconnect or restart without replay or
// loss. Implementations must be safe for concurrent use.
type TokenStorage interface {
	// LoadToken returns the last stored token for the target, or nil if
	// none is stored.
	LoadToken(ctx context.Context, targetID int32) ([]byte, error)
	// StoreToken records the target's latest token, replacing any
	// previous one.
	StoreToken(ctx context.Context, targetID int32, token []byte) error
	// ClearToken removes the target's token, forcing the next
	// subscription to start from scratch.
	ClearToken(ctx context.Context, targetID int32) error
}

// MemoryTokenStorage keeps resume tokens in process memory. Tokens are
// lost on restart, which costs a resync but never correctness.
type MemoryTokenStorage struct {
	mu     sync.Mutex
	tokens map[int32][]byte
}

// NewMemoryTokenStorage returns an empty in-memory token store.
func NewMemoryTokenStorage() *MemoryTokenStorage {
	return &MemoryTokenStorage{tokens: map[int32][]byte{}}
}

func (s *MemoryTokenStorage) LoadToken(_ context.Context, targetID int32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[targetID], nil
}

func (s *MemoryTokenStorage) StoreToken(_ context.Context, targetID int32, token []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[targetID] = token
	return nil
}

func (s *MemoryTokenStorage) ClearToken(_ context.Context, targetID int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, targetID)
	return nil
}

// A ListenHandler receives change-feed responses in delivery order. A
// non-nil error is logged and does not stop the listener.
type ListenHandler func(ctx context.Context, res *pb.ListenResponse) error

// StreamState describes where a Listener is in its connection lifecycle.
type StreamState int

const (
	// StreamConnecting: a stream is being opened for the first time.
	StreamConnecting StreamState = iota
	// StreamListening: the stream is open and delivering responses.
	StreamListening
	// StreamReconnecting: the stream broke and will be reopened with the
	// last stored resume tokens.
	StreamReconnecting
	// StreamStopped: the listener has stopped, by shutdown or terminal
	// error.
	StreamStopped
)

// A Listener maintains a change-feed stream over a set of targets,
// dispatching every response to a handler strictly in arrival order.
// When the stream breaks it reconnects with the last stored resume
// tokens, with backoff; a non-transient stream error stops it.
type Listener struct {
	c       *Client
	targets []ListenTarget
	storage TokenStorage
	log     *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	started bool
	err     error
	stateFn func(StreamState)
}

// OnStateChange registers fn to be called, from the dispatch goroutine,
// whenever the listener's connection state changes. It must be called
// before Start.
func (l *Listener) OnStateChange(fn func(StreamState)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stateFn = fn
}

func (l *Listener) setState(s StreamState) {
	l.mu.Lock()
	fn := l.stateFn
	l.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// NewListener validates the targets and returns an unstarted listener.
// If storage is nil, tokens are kept in memory.
func (c *Client) NewListener(targets []ListenTarget, storage TokenStorage) (*Listener, error) {
	if len(targets) == 0 {
		return nil, fdberr.New(fdberr.InvalidArgument, nil, "listener needs at least one target")
	}
	seen := make(map[int32]bool, len(targets))
	for _, t := range targets {
		if t.ID == 0 {
			return nil, fdberr.New(fdberr.InvalidArgument, nil, "listen target ID must be non-zero")
		}
		if seen[t.ID] {
			return nil, fdberr.Newf(fdberr.InvalidArgument, nil, "duplicate listen target ID %d", t.ID)
		}
		seen[t.ID] = true
		if _, err := t.Query.proto(); err != nil {
			return nil, err
		}
	}
	if storage == nil {
		storage = NewMemoryTokenStorage()
	}
	return &Listener{
		c:       c,
		targets: targets,
		storage: storage,
		log:     c.log.With(zap.String("component", "listener")),
		done:    make(chan struct{}),
	}, nil
}

// Start opens the stream and dispatches responses to h from a background
// goroutine until Shutdown or a terminal error.
func (l *Listener) Start(ctx context.Context, h ListenHandler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return fdberr.New(fdberr.FailedPrecondition, nil, "listener already started")
	}
	l.started = true
	ctx, l.cancel = context.WithCancel(context.WithoutCancel(ctx))
	go l.run(ctx, h)
	return nil
}

// Shutdown stops the listener and waits for the dispatch goroutine to
// exit. It returns the listener's terminal error, if any.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return nil
	}
	cancel := l.cancel
	l.mu.Unlock()
	cancel()
	select {
	case <-l.done:
	case <-ctx.Done():
		return fdberr.New(fdberr.Canceled, ctx.Err(), "firedocs: waiting for listener shutdown")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Err returns the listener's terminal error, if it has stopped on one.
func (l *Listener) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *Listener) fail(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

func (l *Listener) run(ctx context.Context, h ListenHandler) {
	defer close(l.done)
	defer l.setState(StreamStopped)
	bo := l.c.backoff
	l.setState(StreamConnecting)
	for {
		progressed, err := l.listenOnce(ctx, h)
		if ctx.Err() != nil {
			return
		}
		if progressed {
			// A healthy connection resets the backoff schedule.
			bo = l.c.backoff
		}
		if err != nil && !fdberr.IsTransient(err) && fdberr.Code(err) != fdberr.Unknown {
			l.log.Error("listen stream failed terminally", zap.Error(err))
			l.fail(err)
			return
		}
		l.log.Info("listen stream broken, reconnecting", zap.Error(err))
		l.setState(StreamReconnecting)
		if serr := gax.Sleep(ctx, bo.Pause()); serr != nil {
			return
		}
	}
}

// listenOnce opens one stream, subscribes every target with its stored
// resume token, and dispatches until the stream ends.
func (l *Listener) listenOnce(ctx context.Context, h ListenHandler) (progressed bool, err error) {
	sctx, cancel := context.WithCancel(withResourceHeader(ctx, l.c.dbPath))
	defer cancel()
	stream, err := l.c.c.Listen(sctx)
	if err != nil {
		return false, fdberr.New(fdberr.Code(err), err, "firedocs: opening listen stream")
	}
	for _, t := range l.targets {
		token, err := l.storage.LoadToken(ctx, t.ID)
		if err != nil {
			l.log.Warn("loading resume token", zap.Int32("target", t.ID), zap.Error(err))
			token = nil
		}
		req, err := l.addTargetRequest(t, token)
		if err != nil {
			return false, err
		}
		if err := stream.Send(req); err != nil {
			return false, fdberr.New(fdberr.Code(err), err, "firedocs: subscribing target")
		}
	}
	for {
		res, err := stream.Recv()
		if err != nil {
			return progressed, fdberr.New(fdberr.Code(err), err, "firedocs: listen stream")
		}
		if !progressed {
			l.setState(StreamListening)
		}
		progressed = true
		l.observe(ctx, res)
		if err := h(ctx, res); err != nil {
			l.log.Warn("listen handler error", zap.Error(err))
		}
	}
}

// observe records resume tokens as the server advances them.
func (l *Listener) observe(ctx context.Context, res *pb.ListenResponse) {
	tc := res.GetTargetChange()
	if tc == nil {
		return
	}
	if tc.TargetChangeType == pb.TargetChange_RESET {
		for _, id := range l.targetIDs(tc) {
			if err := l.storage.ClearToken(ctx, id); err != nil {
				l.log.Warn("clearing resume token", zap.Int32("target", id), zap.Error(err))
			}
		}
		return
	}
	if len(tc.ResumeToken) == 0 {
		return
	}
	for _, id := range l.targetIDs(tc) {
		if err := l.storage.StoreToken(ctx, id, tc.ResumeToken); err != nil {
			l.log.Warn("storing resume token", zap.Int32("target", id), zap.Error(err))
		}
	}
}

// targetIDs resolves a target change's ID list; an empty list addresses
// every target on the stream.
func (l *Listener) targetIDs(tc *pb.TargetChange) []int32 {
	if len(tc.TargetIds) > 0 {
		return tc.TargetIds
	}
	ids := make([]int32, len(l.targets))
	for i, t := range l.targets {
		ids[i] = t.ID
	}
	return ids
}

func (l *Listener) addTargetRequest(t ListenTarget, token []byte) (*pb.ListenRequest, error) {
	sq, err := t.Query.proto()
	if err != nil {
		return nil, err
	}
	target := &pb.Target{
		TargetId: t.ID,
		TargetType: &pb.Target_Query{
			Query: &pb.Target_QueryTarget{
				Parent:    t.Query.parentPath,
				QueryType: &pb.Target_QueryTarget_StructuredQuery{StructuredQuery: sq},
			},
		},
	}
	if len(token) > 0 {
		target.ResumeType = &pb.Target_ResumeToken{ResumeToken: token}
	}
	return &pb.ListenRequest{
		Database:     l.c.dbPath,
		TargetChange: &pb.ListenRequest_AddTarget{AddTarget: target},
	}, nil
}

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
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	vkit "cloud.google.com/go/firestore/apiv1"
	pb "cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// ackTime anchors the update times the fake server stamps on
// acknowledged writes.
var ackTime = time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

// fakeServer is an in-process Firestore backend serving canned responses,
// so stream and batch protocol logic can be exercised without credentials
// or a live service.
//
// BatchWrite pops one canned response per call. Write by default performs
// the handshake and acknowledges every batch with fresh tokens; set
// writeFn to script a session instead. Listen pops one scripted session
// per stream; with none left it blocks until the client hangs up.
type fakeServer struct {
	pb.UnimplementedFirestoreServer

	mu             sync.Mutex
	batchReqs      []*pb.BatchWriteRequest
	batchResponses []*pb.BatchWriteResponse
	writeReqs      []*pb.WriteRequest
	writeFn        func(pb.Firestore_WriteServer) error
	listenSessions []func(pb.Firestore_ListenServer) error
}

// newServerClient starts a fake server on an in-memory transport and
// returns a Client dialed at it, with single-millisecond backoff so
// retry and reconnect paths run quickly.
func newServerClient(t *testing.T) (*fakeServer, *Client) {
	t.Helper()
	srv := &fakeServer{}
	gs := grpc.NewServer()
	pb.RegisterFirestoreServer(gs, srv)
	lis := bufconn.Listen(1 << 20)
	go gs.Serve(lis)
	conn, err := grpc.NewClient("passthrough:///bufconn",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	vc, err := vkit.NewClient(context.Background(), option.WithGRPCConn(conn))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		vc.Close()
		gs.Stop()
	})
	c := &Client{
		c:           vc,
		dbPath:      "projects/p/databases/d",
		log:         zap.NewNop(),
		maxAttempts: 3,
		backoff:     gax.Backoff{Initial: time.Millisecond, Max: time.Millisecond, Multiplier: 1},
	}
	return srv, c
}

func (s *fakeServer) addBatchResponse(res *pb.BatchWriteResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchResponses = append(s.batchResponses, res)
}

func (s *fakeServer) batchRequests() []*pb.BatchWriteRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*pb.BatchWriteRequest(nil), s.batchReqs...)
}

func (s *fakeServer) writeRequests() []*pb.WriteRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*pb.WriteRequest(nil), s.writeReqs...)
}

func (s *fakeServer) BatchWrite(_ context.Context, req *pb.BatchWriteRequest) (*pb.BatchWriteResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchReqs = append(s.batchReqs, req)
	if len(s.batchResponses) == 0 {
		return nil, status.Error(codes.Internal, "no canned BatchWrite response")
	}
	res := s.batchResponses[0]
	s.batchResponses = s.batchResponses[1:]
	return res, nil
}

func (s *fakeServer) Write(stream pb.Firestore_WriteServer) error {
	s.mu.Lock()
	fn := s.writeFn
	s.mu.Unlock()
	if fn != nil {
		return fn(stream)
	}
	if _, err := stream.Recv(); err != nil {
		return err
	}
	if err := stream.Send(&pb.WriteResponse{StreamId: "stream1", StreamToken: []byte("tok-0")}); err != nil {
		return err
	}
	for n := 1; ; n++ {
		req, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.writeReqs = append(s.writeReqs, req)
		s.mu.Unlock()
		res := &pb.WriteResponse{
			StreamToken:  []byte(fmt.Sprintf("tok-%d", n)),
			WriteResults: make([]*pb.WriteResult, len(req.Writes)),
		}
		for i := range res.WriteResults {
			res.WriteResults[i] = &pb.WriteResult{
				UpdateTime: timestamppb.New(ackTime.Add(time.Duration(n) * time.Second)),
			}
		}
		if err := stream.Send(res); err != nil {
			return err
		}
	}
}

func (s *fakeServer) Listen(stream pb.Firestore_ListenServer) error {
	s.mu.Lock()
	var fn func(pb.Firestore_ListenServer) error
	if len(s.listenSessions) > 0 {
		fn = s.listenSessions[0]
		s.listenSessions = s.listenSessions[1:]
	}
	s.mu.Unlock()
	if fn == nil {
		<-stream.Context().Done()
		return stream.Context().Err()
	}
	return fn(stream)
}

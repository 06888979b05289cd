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

	pb "cloud.google.com/go/firestore/apiv1/firestorepb"
	"firedocs.dev/codec"
	"firedocs.dev/internal/fdberr"
)

// Get reads one document into dst. It returns a NotFound error if the
// document does not exist. If fieldPaths is non-empty, only those fields
// are returned.
func (c *Client) Get(ctx context.Context, collection, id string, dst interface{}, fieldPaths ...string) error {
	pdoc, err := c.GetDocument(ctx, collection, id, fieldPaths...)
	if err != nil {
		return err
	}
	return codec.DecodeDocument(pdoc, dst, c.conv)
}

// GetDocument reads one document in its wire form.
func (c *Client) GetDocument(ctx context.Context, collection, id string, fieldPaths ...string) (*pb.Document, error) {
	name, err := c.DocumentPath(collection, id)
	if err != nil {
		return nil, err
	}
	docs, err := c.getDocuments(ctx, []string{name}, fieldPaths, nil)
	if err != nil {
		return nil, err
	}
	if docs[0] == nil {
		return nil, fdberr.Newf(fdberr.NotFound, nil, "document %q not found", name)
	}
	return docs[0], nil
}

// GetMulti reads several documents from one collection in a single RPC and
// decodes them into the parallel dsts slice. found[i] reports whether
// ids[i] exists; dsts[i] is untouched when it does not. A missing document
// is not an error.
func (c *Client) GetMulti(ctx context.Context, collection string, ids []string, dsts []interface{}) (found []bool, err error) {
	if len(ids) != len(dsts) {
		return nil, fdberr.Newf(fdberr.InvalidArgument, nil, "got %d ids and %d destinations", len(ids), len(dsts))
	}
	names := make([]string, len(ids))
	for i, id := range ids {
		if names[i], err = c.DocumentPath(collection, id); err != nil {
			return nil, err
		}
	}
	docs, err := c.getDocuments(ctx, names, nil, nil)
	if err != nil {
		return nil, err
	}
	found = make([]bool, len(ids))
	for i, pdoc := range docs {
		if pdoc == nil {
			continue
		}
		if err := codec.DecodeDocument(pdoc, dsts[i], c.conv); err != nil {
			return nil, err
		}
		found[i] = true
	}
	return found, nil
}

// getDocuments fetches the named documents via BatchGetDocuments. The
// result is index-aligned with names; missing documents are nil. Responses
// arrive in arbitrary order, so they are correlated by name.
func (c *Client) getDocuments(ctx context.Context, names []string, fieldPaths []string, txID []byte) ([]*pb.Document, error) {
	req := &pb.BatchGetDocumentsRequest{
		Database:  c.dbPath,
		Documents: names,
	}
	if len(fieldPaths) > 0 {
		mask := make([]string, len(fieldPaths))
		for i, p := range fieldPaths {
			fp, err := codec.ParseFieldPath(p)
			if err != nil {
				return nil, err
			}
			mask[i] = fp.ToServicePath()
		}
		req.Mask = &pb.DocumentMask{FieldPaths: mask}
	}
	if txID != nil {
		req.ConsistencySelector = &pb.BatchGetDocumentsRequest_Transaction{Transaction: txID}
	}

	byName := make(map[string]*pb.Document, len(names))
	err := c.retryTransient(ctx, func() error {
		for k := range byName {
			delete(byName, k)
		}
		stream, err := c.c.BatchGetDocuments(withResourceHeader(ctx, c.dbPath), req)
		if err != nil {
			return err
		}
		for {
			resp, err := stream.Recv()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			if found := resp.GetFound(); found != nil {
				byName[found.Name] = found
			}
		}
	})
	if err != nil {
		return nil, fdberr.New(fdberr.Code(err), err, "firedocs: batch get")
	}
	docs := make([]*pb.Document, len(names))
	for i, n := range names {
		docs[i] = byName[n]
	}
	return docs, nil
}

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

	pb "cloud.google.com/go/firestore/apiv1/firestorepb"
	"firedocs.dev/internal/fdberr"
	"google.golang.org/api/iterator"
)

// DefaultPageSize is the page size used by the listing operations when the
// caller does not set one.
const DefaultPageSize = 100

// ListPage is one page of a paginated listing. NextPageToken is opaque;
// an empty token means the listing is exhausted.
type ListPage struct {
	Documents     []*pb.Document
	NextPageToken string
}

// ListDocuments returns one page of the documents in a collection, in
// document-name order. Pass an empty pageToken to start from the
// beginning and the returned NextPageToken to continue; pageSize <= 0
// selects DefaultPageSize.
//
// Unlike a query, listing does not filter: every document in the
// collection is eventually returned.
func (c *Client) ListDocuments(ctx context.Context, collection string, pageSize int, pageToken string) (*ListPage, error) {
	parent, collID, err := c.splitCollection(collection)
	if err != nil {
		return nil, err
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	req := &pb.ListDocumentsRequest{
		Parent:       parent,
		CollectionId: collID,
	}
	it := c.c.ListDocuments(withResourceHeader(ctx, c.dbPath), req)
	page := &ListPage{}
	pager := iterator.NewPager(it, pageSize, pageToken)
	next, err := pager.NextPage(&page.Documents)
	if err != nil {
		return nil, fdberr.New(fdberr.Code(err), err, "firedocs: list documents")
	}
	page.NextPageToken = next
	return page, nil
}

// ListCollectionIDs returns one page of the IDs of the collections nested
// directly under a document, or under the database root if parentDoc is
// empty. The token contract matches ListDocuments.
func (c *Client) ListCollectionIDs(ctx context.Context, parentDoc string, pageSize int, pageToken string) (ids []string, nextPageToken string, err error) {
	parent := c.DocumentsRoot()
	if parentDoc != "" {
		segs, err := splitPath(parentDoc)
		if err != nil {
			return nil, "", err
		}
		if len(segs)%2 != 0 {
			return nil, "", fdberr.Newf(fdberr.InvalidArgument, nil, "%q is not a document path: odd number of segments", parentDoc)
		}
		parent += "/" + parentDoc
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	req := &pb.ListCollectionIdsRequest{Parent: parent}
	it := c.c.ListCollectionIds(withResourceHeader(ctx, c.dbPath), req)
	pager := iterator.NewPager(it, pageSize, pageToken)
	next, err := pager.NextPage(&ids)
	if err != nil {
		return nil, "", fdberr.New(fdberr.Code(err), err, "firedocs: list collection IDs")
	}
	return ids, next, nil
}

// splitCollection resolves a collection-relative path into the absolute
// parent document path and the collection ID.
func (c *Client) splitCollection(collection string) (parent, collID string, err error) {
	segs, err := splitPath(collection)
	if err != nil {
		return "", "", err
	}
	if len(segs)%2 != 1 {
		return "", "", fdberr.Newf(fdberr.InvalidArgument, nil, "%q is not a collection path: even number of segments", collection)
	}
	parent = c.DocumentsRoot()
	if len(segs) > 1 {
		parent += "/" + strings.Join(segs[:len(segs)-1], "/")
	}
	return parent, segs[len(segs)-1], nil
}

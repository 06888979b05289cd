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
	"strings"

	pb "cloud.google.com/go/firestore/apiv1/firestorepb"
	"firedocs.dev/codec"
	"firedocs.dev/internal/fdberr"
	"google.golang.org/api/iterator"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Direction is a sort direction.
type Direction int32

const (
	Ascending  Direction = Direction(pb.StructuredQuery_ASCENDING)
	Descending Direction = Direction(pb.StructuredQuery_DESCENDING)
)

// DocumentIDKey orders or addresses documents by their resource name.
const DocumentIDKey = "__name__"

// DistanceMeasure is the metric of a nearest-neighbor search.
type DistanceMeasure int32

const (
	Euclidean  DistanceMeasure = DistanceMeasure(pb.StructuredQuery_FindNearest_EUCLIDEAN)
	Cosine     DistanceMeasure = DistanceMeasure(pb.StructuredQuery_FindNearest_COSINE)
	DotProduct DistanceMeasure = DistanceMeasure(pb.StructuredQuery_FindNearest_DOT_PRODUCT)
)

type order struct {
	path string
	dir  Direction
}

type cursor struct {
	vals   []interface{}
	pbc    *pb.Cursor // pre-encoded, from partitioning
	before bool
}

type findNearest struct {
	path    string
	vector  codec.Vector
	limit   int
	measure DistanceMeasure
}

// A Query describes a filtered, ordered read over one collection, or over
// all collections with a given ID when built with CollectionGroup. Query
// values are immutable: every builder method returns a derived Query and
// leaves the receiver unchanged, so partially built queries can be shared
// and extended independently.
type Query struct {
	c            *Client
	parentPath   string // absolute path of the parent document, or the documents root
	collectionID string
	allDesc      bool

	filter     Filter
	orders     []order
	limit      *int32
	offset     int32
	startAt    *cursor
	endAt      *cursor
	projection []string
	nearest    *findNearest

	err error
}

// Collection returns a query over the collection at the given path
// relative to the documents root, e.g. "cities" or "cities/SF/landmarks".
func (c *Client) Collection(collection string) Query {
	q := Query{c: c}
	q.parentPath, q.collectionID, q.err = c.splitCollection(collection)
	return q
}

// CollectionGroup returns a query over every collection with the given ID,
// regardless of nesting depth.
func (c *Client) CollectionGroup(collectionID string) Query {
	q := Query{c: c, allDesc: true}
	if collectionID == "" || strings.Contains(collectionID, "/") {
		q.err = fdberr.Newf(fdberr.InvalidArgument, nil, "invalid collection group ID %q", collectionID)
		return q
	}
	q.collectionID = collectionID
	q.parentPath = c.DocumentsRoot()
	return q
}

// Where returns a derived query that additionally requires f; successive
// Where calls combine conjunctively.
func (q Query) Where(f Filter) Query {
	if q.filter == nil {
		q.filter = f
	} else {
		q.filter = And(q.filter, f)
	}
	return q
}

// OrderBy appends a sort key. Results are delivered exactly in the order
// of the accumulated keys; without any, the order is server-defined and
// not stable across calls.
func (q Query) OrderBy(fieldPath string, dir Direction) Query {
	q.orders = append(q.orders[:len(q.orders):len(q.orders)], order{fieldPath, dir})
	return q
}

// Limit caps the number of results.
func (q Query) Limit(n int) Query {
	v := int32(n)
	q.limit = &v
	return q
}

// Offset skips the first n results.
func (q Query) Offset(n int) Query {
	q.offset = int32(n)
	return q
}

// Select restricts returned documents to the given field paths. With no
// arguments only the document name is returned.
func (q Query) Select(fieldPaths ...string) Query {
	if fieldPaths == nil {
		fieldPaths = []string{DocumentIDKey}
	}
	q.projection = fieldPaths
	return q
}

// StartAt positions the result set at the first document whose order-key
// tuple equals or follows vals, which align positionally with the order-by
// keys.
func (q Query) StartAt(vals ...interface{}) Query {
	q.startAt = &cursor{vals: vals, before: true}
	return q
}

// StartAfter positions the result set strictly after vals.
func (q Query) StartAfter(vals ...interface{}) Query {
	q.startAt = &cursor{vals: vals, before: false}
	return q
}

// EndAt ends the result set at the last document whose order-key tuple
// equals or precedes vals.
func (q Query) EndAt(vals ...interface{}) Query {
	q.endAt = &cursor{vals: vals, before: false}
	return q
}

// EndBefore ends the result set strictly before vals.
func (q Query) EndBefore(vals ...interface{}) Query {
	q.endAt = &cursor{vals: vals, before: true}
	return q
}

// FindNearest orders results by vector distance between the field at
// fieldPath and the query vector, returning at most limit documents.
func (q Query) FindNearest(fieldPath string, vector codec.Vector, limit int, measure DistanceMeasure) Query {
	q.nearest = &findNearest{path: fieldPath, vector: vector, limit: limit, measure: measure}
	return q
}

func (q Query) proto() (*pb.StructuredQuery, error) {
	if q.err != nil {
		return nil, q.err
	}
	if q.c == nil {
		return nil, fdberr.New(fdberr.InvalidArgument, nil, "query not built from a Client")
	}
	p := &pb.StructuredQuery{
		From: []*pb.StructuredQuery_CollectionSelector{{
			CollectionId:   q.collectionID,
			AllDescendants: q.allDesc,
		}},
	}
	if q.filter != nil {
		w, err := q.filter.toProto(q.c.conv)
		if err != nil {
			return nil, err
		}
		p.Where = w
	}
	for _, o := range q.orders {
		fp, err := codec.ParseFieldPath(o.path)
		if err != nil {
			return nil, err
		}
		p.OrderBy = append(p.OrderBy, &pb.StructuredQuery_Order{
			Field:     fieldRef(fp),
			Direction: pb.StructuredQuery_Direction(o.dir),
		})
	}
	var err error
	if p.StartAt, err = q.cursorProto(q.startAt); err != nil {
		return nil, err
	}
	if p.EndAt, err = q.cursorProto(q.endAt); err != nil {
		return nil, err
	}
	if q.limit != nil {
		if *q.limit <= 0 {
			return nil, fdberr.Newf(fdberr.InvalidArgument, nil, "limit must be positive, got %d", *q.limit)
		}
		p.Limit = &wrapperspb.Int32Value{Value: *q.limit}
	}
	if q.offset < 0 {
		return nil, fdberr.Newf(fdberr.InvalidArgument, nil, "offset must be non-negative, got %d", q.offset)
	}
	p.Offset = q.offset
	if len(q.projection) > 0 {
		p.Select = &pb.StructuredQuery_Projection{}
		for _, fps := range q.projection {
			fp, err := codec.ParseFieldPath(fps)
			if err != nil {
				return nil, err
			}
			p.Select.Fields = append(p.Select.Fields, fieldRef(fp))
		}
	}
	if q.nearest != nil {
		fp, err := codec.ParseFieldPath(q.nearest.path)
		if err != nil {
			return nil, err
		}
		if q.nearest.limit <= 0 {
			return nil, fdberr.New(fdberr.InvalidArgument, nil, "nearest-neighbor search needs a positive limit")
		}
		qv, err := codec.EncodeValue(q.nearest.vector, q.c.conv)
		if err != nil {
			return nil, err
		}
		p.FindNearest = &pb.StructuredQuery_FindNearest{
			VectorField:     fieldRef(fp),
			QueryVector:     qv,
			DistanceMeasure: pb.StructuredQuery_FindNearest_DistanceMeasure(q.nearest.measure),
			Limit:           &wrapperspb.Int32Value{Value: int32(q.nearest.limit)},
		}
	}
	return p, nil
}

func (q Query) cursorProto(c *cursor) (*pb.Cursor, error) {
	if c == nil {
		return nil, nil
	}
	if c.pbc != nil {
		return c.pbc, nil
	}
	if len(c.vals) == 0 {
		return nil, fdberr.New(fdberr.InvalidArgument, nil, "cursor has no values")
	}
	if len(c.vals) > len(q.orders) {
		return nil, fdberr.Newf(fdberr.InvalidArgument, nil,
			"cursor has %d values but the query has %d order-by keys", len(c.vals), len(q.orders))
	}
	pc := &pb.Cursor{Before: c.before}
	for _, v := range c.vals {
		pv, err := codec.EncodeValue(v, q.c.conv)
		if err != nil {
			return nil, err
		}
		pc.Values = append(pc.Values, pv)
	}
	return pc, nil
}

// Documents executes the query and returns a stream of results. The
// iterator must be stopped when abandoned before exhaustion.
func (q Query) Documents(ctx context.Context) *DocumentIterator {
	it := &DocumentIterator{}
	sq, err := q.proto()
	if err != nil {
		it.err = err
		return it
	}
	it.conv = q.c.conv
	req := &pb.RunQueryRequest{
		Parent:    q.parentPath,
		QueryType: &pb.RunQueryRequest_StructuredQuery{StructuredQuery: sq},
	}
	ctx, cancel := context.WithCancel(withResourceHeader(ctx, q.c.dbPath))
	it.cancel = cancel
	sc, err := q.c.c.RunQuery(ctx, req)
	if err != nil {
		cancel()
		it.err = fdberr.New(fdberr.Code(err), err, "firedocs: run query")
		return it
	}
	it.stream = sc
	return it
}

// Fetch executes the query and buffers the entire result set.
func (q Query) Fetch(ctx context.Context) ([]*pb.Document, error) {
	it := q.Documents(ctx)
	defer it.Stop()
	var docs []*pb.Document
	for {
		pdoc, err := it.NextDocument()
		if err == iterator.Done {
			return docs, nil
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, pdoc)
	}
}

// A DocumentIterator streams the results of a query. It is not
// restartable, and an error mid-stream terminates it with that error.
type DocumentIterator struct {
	stream pb.Firestore_RunQueryClient
	conv   *codec.Convention
	// cancel releases the stream's resources when the caller abandons
	// the iterator before exhausting it.
	cancel func()
	err    error
}

// Next advances to the next result and decodes it into dst. It returns
// iterator.Done when the stream is exhausted; after any non-nil error all
// subsequent calls return the same error.
func (it *DocumentIterator) Next(dst interface{}) error {
	pdoc, err := it.NextDocument()
	if err != nil {
		return err
	}
	return codec.DecodeDocument(pdoc, dst, it.conv)
}

// NextDocument advances to the next result in its wire form.
func (it *DocumentIterator) NextDocument() (*pb.Document, error) {
	if it.err != nil {
		return nil, it.err
	}
	for {
		res, err := it.stream.Recv()
		if err == io.EOF {
			it.err = iterator.Done
			return nil, it.err
		}
		if err != nil {
			it.err = fdberr.New(fdberr.Code(err), err, "firedocs: query stream")
			return nil, it.err
		}
		// A response without a document reports partial progress; keep
		// receiving.
		if res.Document == nil {
			continue
		}
		return res.Document, nil
	}
}

// Stop releases the iterator's stream. It may be called multiple times.
func (it *DocumentIterator) Stop() {
	if it.cancel != nil {
		it.cancel()
	}
}

// Partitions splits the query into at most n disjoint sub-queries whose
// results together cover the full result set exactly once, enabling
// parallel consumption. The query must have been built with
// CollectionGroup and carry no filters, cursors or limits; results are
// partitioned and returned in document-name order.
func (q Query) Partitions(ctx context.Context, n int) ([]Query, error) {
	if q.err != nil {
		return nil, q.err
	}
	if n < 1 {
		return nil, fdberr.Newf(fdberr.InvalidArgument, nil, "partition count must be positive, got %d", n)
	}
	if !q.allDesc {
		return nil, fdberr.New(fdberr.InvalidArgument, nil, "partitioning requires a collection group query")
	}
	if q.filter != nil || q.startAt != nil || q.endAt != nil || q.limit != nil || q.offset != 0 {
		return nil, fdberr.New(fdberr.InvalidArgument, nil, "partitioning requires a bare query: no filters, cursors, limit or offset")
	}
	base := q
	base.orders = []order{{DocumentIDKey, Ascending}}
	sq, err := base.proto()
	if err != nil {
		return nil, err
	}
	req := &pb.PartitionQueryRequest{
		Parent:         q.parentPath,
		QueryType:      &pb.PartitionQueryRequest_StructuredQuery{StructuredQuery: sq},
		PartitionCount: int64(n - 1),
	}
	cit := q.c.c.PartitionQuery(withResourceHeader(ctx, q.c.dbPath), req)
	var cursors []*pb.Cursor
	for {
		cur, err := cit.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fdberr.New(fdberr.Code(err), err, "firedocs: partition query")
		}
		cursors = append(cursors, cur)
	}
	// k split points yield k+1 partitions. The service returns the split
	// points in order.
	parts := make([]Query, 0, len(cursors)+1)
	var prev *pb.Cursor
	for _, cur := range cursors {
		parts = append(parts, base.withCursorRange(prev, cur))
		prev = cur
	}
	parts = append(parts, base.withCursorRange(prev, nil))
	return parts, nil
}

func (q Query) withCursorRange(start, end *pb.Cursor) Query {
	if start != nil {
		q.startAt = &cursor{pbc: &pb.Cursor{Values: start.Values, Before: true}}
	}
	if end != nil {
		q.endAt = &cursor{pbc: &pb.Cursor{Values: end.Values, Before: true}}
	}
	return q
}

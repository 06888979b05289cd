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
	"time"

	pb "cloud.google.com/go/firestore/apiv1/firestorepb"
	"firedocs.dev/codec"
	"firedocs.dev/internal/fdberr"
	"github.com/google/uuid"
	tspb "google.golang.org/protobuf/types/known/timestamppb"
)

// A Precondition gates a write on the server-side state of the document.
type Precondition struct {
	// Exists, if non-nil, requires the document to exist (true) or to not
	// exist (false).
	Exists *bool
	// UpdateTime, if non-nil, requires the document's last update time to
	// match exactly.
	UpdateTime *time.Time
}

// MustExist is a Precondition requiring the document to exist.
func MustExist() *Precondition {
	t := true
	return &Precondition{Exists: &t}
}

// MustNotExist is a Precondition requiring the document to not exist.
func MustNotExist() *Precondition {
	f := false
	return &Precondition{Exists: &f}
}

// LastUpdateTime is a Precondition requiring the document's update time to
// equal t.
func LastUpdateTime(t time.Time) *Precondition {
	return &Precondition{UpdateTime: &t}
}

func (p *Precondition) toProto() (*pb.Precondition, error) {
	if p == nil {
		return nil, nil
	}
	if p.Exists != nil && p.UpdateTime != nil {
		return nil, fdberr.New(fdberr.InvalidArgument, nil, "precondition cannot set both Exists and UpdateTime")
	}
	switch {
	case p.Exists != nil:
		return &pb.Precondition{ConditionType: &pb.Precondition_Exists{Exists: *p.Exists}}, nil
	case p.UpdateTime != nil:
		return &pb.Precondition{ConditionType: &pb.Precondition_UpdateTime{UpdateTime: tspb.New(*p.UpdateTime)}}, nil
	default:
		return nil, nil
	}
}

// A WriteResult reports the server's acknowledgment of one write.
type WriteResult struct {
	// UpdateTime is the document's update time after the write. Zero for
	// deletes of nonexistent documents.
	UpdateTime time.Time
}

func writeResultFromProto(wr *pb.WriteResult) WriteResult {
	var res WriteResult
	if wr.GetUpdateTime() != nil {
		res.UpdateTime = wr.GetUpdateTime().AsTime()
	}
	return res
}

// A Transform is a field-level atomic operation applied server-side.
type Transform struct {
	path codec.FieldPath
	set  func(*pb.DocumentTransform_FieldTransform)
	vals []interface{} // operand values to encode, if any
	mode transformMode
}

type transformMode int

const (
	tmServerTime transformMode = iota
	tmIncrement
	tmMaximum
	tmMinimum
	tmAppendMissing
	tmRemoveAll
)

// ServerTimestamp sets the field to the server's commit time.
func ServerTimestamp(fieldPath string) Transform {
	return Transform{path: mustPath(fieldPath), mode: tmServerTime}
}

// Increment atomically adds n (an integer or floating-point value) to the
// field.
func Increment(fieldPath string, n interface{}) Transform {
	return Transform{path: mustPath(fieldPath), mode: tmIncrement, vals: []interface{}{n}}
}

// Maximum sets the field to the larger of its current value and n.
func Maximum(fieldPath string, n interface{}) Transform {
	return Transform{path: mustPath(fieldPath), mode: tmMaximum, vals: []interface{}{n}}
}

// Minimum sets the field to the smaller of its current value and n.
func Minimum(fieldPath string, n interface{}) Transform {
	return Transform{path: mustPath(fieldPath), mode: tmMinimum, vals: []interface{}{n}}
}

// AppendMissingElements appends each element not already present to the
// array field.
func AppendMissingElements(fieldPath string, elems ...interface{}) Transform {
	return Transform{path: mustPath(fieldPath), mode: tmAppendMissing, vals: elems}
}

// RemoveAllElements removes every occurrence of each element from the
// array field.
func RemoveAllElements(fieldPath string, elems ...interface{}) Transform {
	return Transform{path: mustPath(fieldPath), mode: tmRemoveAll, vals: elems}
}

// mustPath defers parse errors to proto construction time rather than
// panicking in a constructor.
func mustPath(s string) codec.FieldPath {
	fp, err := codec.ParseFieldPath(s)
	if err != nil {
		return nil
	}
	return fp
}

func (t Transform) toProto(conv *codec.Convention) (*pb.DocumentTransform_FieldTransform, error) {
	if t.path == nil {
		return nil, fdberr.New(fdberr.InvalidArgument, nil, "transform has an invalid field path")
	}
	ft := &pb.DocumentTransform_FieldTransform{FieldPath: t.path.ToServicePath()}
	one := func() (*pb.Value, error) {
		return codec.EncodeValue(t.vals[0], conv)
	}
	many := func() (*pb.ArrayValue, error) {
		vals := make([]*pb.Value, len(t.vals))
		for i, x := range t.vals {
			pv, err := codec.EncodeValue(x, conv)
			if err != nil {
				return nil, err
			}
			vals[i] = pv
		}
		return &pb.ArrayValue{Values: vals}, nil
	}
	switch t.mode {
	case tmServerTime:
		ft.TransformType = &pb.DocumentTransform_FieldTransform_SetToServerValue{
			SetToServerValue: pb.DocumentTransform_FieldTransform_REQUEST_TIME,
		}
	case tmIncrement:
		pv, err := one()
		if err != nil {
			return nil, err
		}
		ft.TransformType = &pb.DocumentTransform_FieldTransform_Increment{Increment: pv}
	case tmMaximum:
		pv, err := one()
		if err != nil {
			return nil, err
		}
		ft.TransformType = &pb.DocumentTransform_FieldTransform_Maximum{Maximum: pv}
	case tmMinimum:
		pv, err := one()
		if err != nil {
			return nil, err
		}
		ft.TransformType = &pb.DocumentTransform_FieldTransform_Minimum{Minimum: pv}
	case tmAppendMissing:
		av, err := many()
		if err != nil {
			return nil, err
		}
		ft.TransformType = &pb.DocumentTransform_FieldTransform_AppendMissingElements{AppendMissingElements: av}
	case tmRemoveAll:
		av, err := many()
		if err != nil {
			return nil, err
		}
		ft.TransformType = &pb.DocumentTransform_FieldTransform_RemoveAllFromArray{RemoveAllFromArray: av}
	}
	return ft, nil
}

// Proto write construction shared by single ops, batches and transactions.

func (c *Client) createWrite(collection, id string, doc interface{}) (string, *pb.Write, error) {
	if id == "" {
		if did, ok := codec.DocumentID(doc, c.conv); ok {
			id = did
		} else {
			id = uuid.New().String()
		}
	}
	name, err := c.DocumentPath(collection, id)
	if err != nil {
		return "", nil, err
	}
	pdoc, err := codec.EncodeDocument(doc, c.conv)
	if err != nil {
		return "", nil, err
	}
	pdoc.Name = name
	return id, &pb.Write{
		Operation:       &pb.Write_Update{Update: pdoc},
		CurrentDocument: &pb.Precondition{ConditionType: &pb.Precondition_Exists{Exists: false}},
	}, nil
}

func (c *Client) setWrite(collection, id string, doc interface{}, pre *Precondition) (*pb.Write, error) {
	name, err := c.DocumentPath(collection, id)
	if err != nil {
		return nil, err
	}
	pdoc, err := codec.EncodeDocument(doc, c.conv)
	if err != nil {
		return nil, err
	}
	pdoc.Name = name
	w := &pb.Write{Operation: &pb.Write_Update{Update: pdoc}}
	if w.CurrentDocument, err = pre.toProto(); err != nil {
		return nil, err
	}
	return w, nil
}

func (c *Client) updateWrite(collection, id string, doc interface{}, mask []string, pre *Precondition) (*pb.Write, error) {
	name, err := c.DocumentPath(collection, id)
	if err != nil {
		return nil, err
	}
	pdoc, err := codec.EncodeDocument(doc, c.conv)
	if err != nil {
		return nil, err
	}
	pdoc.Name = name
	var paths []string
	if mask != nil {
		paths = make([]string, len(mask))
		for i, m := range mask {
			fp, err := codec.ParseFieldPath(m)
			if err != nil {
				return nil, err
			}
			paths[i] = fp.ToServicePath()
		}
	} else {
		// No mask: touch exactly the encoded top-level fields, leaving
		// others intact.
		for k := range pdoc.Fields {
			paths = append(paths, codec.FieldPath{k}.ToServicePath())
		}
	}
	w := &pb.Write{
		Operation:  &pb.Write_Update{Update: pdoc},
		UpdateMask: &pb.DocumentMask{FieldPaths: paths},
	}
	if pre == nil {
		pre = MustExist()
	}
	if w.CurrentDocument, err = pre.toProto(); err != nil {
		return nil, err
	}
	return w, nil
}

func (c *Client) deleteWrite(collection, id string, pre *Precondition) (*pb.Write, error) {
	name, err := c.DocumentPath(collection, id)
	if err != nil {
		return nil, err
	}
	w := &pb.Write{Operation: &pb.Write_Delete{Delete: name}}
	if w.CurrentDocument, err = pre.toProto(); err != nil {
		return nil, err
	}
	return w, nil
}

func (c *Client) transformWrite(collection, id string, pre *Precondition, transforms []Transform) (*pb.Write, error) {
	if len(transforms) == 0 {
		return nil, fdberr.New(fdberr.InvalidArgument, nil, "at least one transform is required")
	}
	name, err := c.DocumentPath(collection, id)
	if err != nil {
		return nil, err
	}
	fts := make([]*pb.DocumentTransform_FieldTransform, len(transforms))
	for i, t := range transforms {
		if fts[i], err = t.toProto(c.conv); err != nil {
			return nil, err
		}
	}
	w := &pb.Write{
		Operation: &pb.Write_Transform{Transform: &pb.DocumentTransform{
			Document:        name,
			FieldTransforms: fts,
		}},
	}
	if w.CurrentDocument, err = pre.toProto(); err != nil {
		return nil, err
	}
	return w, nil
}

// commit sends writes in one atomic Commit RPC, retrying transient
// failures.
func (c *Client) commit(ctx context.Context, ws []*pb.Write, txID []byte) ([]WriteResult, error) {
	req := &pb.CommitRequest{
		Database:    c.dbPath,
		Writes:      ws,
		Transaction: txID,
	}
	var res *pb.CommitResponse
	err := c.retryTransient(ctx, func() error {
		var err error
		res, err = c.c.Commit(withResourceHeader(ctx, c.dbPath), req)
		return err
	})
	if err != nil {
		return nil, fdberr.New(fdberr.Code(err), err, "firedocs: commit")
	}
	wrs := make([]WriteResult, len(res.WriteResults))
	for i, wr := range res.WriteResults {
		wrs[i] = writeResultFromProto(wr)
	}
	return wrs, nil
}

// Create writes a new document, failing with AlreadyExists if it is
// already present. If id is empty, the document's ID field alias supplies
// it, or a random ID is generated; the ID used is returned.
func (c *Client) Create(ctx context.Context, collection, id string, doc interface{}) (string, WriteResult, error) {
	id, w, err := c.createWrite(collection, id, doc)
	if err != nil {
		return "", WriteResult{}, err
	}
	wrs, err := c.commit(ctx, []*pb.Write{w}, nil)
	if err != nil {
		return "", WriteResult{}, err
	}
	return id, wrs[0], nil
}

// Set writes the document unconditionally, creating or fully replacing it.
func (c *Client) Set(ctx context.Context, collection, id string, doc interface{}) (WriteResult, error) {
	w, err := c.setWrite(collection, id, doc, nil)
	if err != nil {
		return WriteResult{}, err
	}
	wrs, err := c.commit(ctx, []*pb.Write{w}, nil)
	if err != nil {
		return WriteResult{}, err
	}
	return wrs[0], nil
}

// Update modifies an existing document. If mask is non-nil it names the
// field paths to touch; otherwise the document's encoded top-level fields
// are touched and all others left intact. The default precondition
// requires the document to exist.
func (c *Client) Update(ctx context.Context, collection, id string, doc interface{}, mask []string, pre *Precondition) (WriteResult, error) {
	w, err := c.updateWrite(collection, id, doc, mask, pre)
	if err != nil {
		return WriteResult{}, err
	}
	wrs, err := c.commit(ctx, []*pb.Write{w}, nil)
	if err != nil {
		return WriteResult{}, err
	}
	return wrs[0], nil
}

// Delete removes the document. Deleting a nonexistent document succeeds
// unless a precondition says otherwise.
func (c *Client) Delete(ctx context.Context, collection, id string, pre *Precondition) error {
	w, err := c.deleteWrite(collection, id, pre)
	if err != nil {
		return err
	}
	_, err = c.commit(ctx, []*pb.Write{w}, nil)
	return err
}

// ApplyTransforms applies field-level atomic operations to the document.
func (c *Client) ApplyTransforms(ctx context.Context, collection, id string, pre *Precondition, transforms ...Transform) (WriteResult, error) {
	w, err := c.transformWrite(collection, id, pre, transforms)
	if err != nil {
		return WriteResult{}, err
	}
	wrs, err := c.commit(ctx, []*pb.Write{w}, nil)
	if err != nil {
		return WriteResult{}, err
	}
	return wrs[0], nil
}

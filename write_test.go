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
	"sort"
	"testing"
	"time"

	pb "cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"google.golang.org/protobuf/testing/protocmp"
	tspb "google.golang.org/protobuf/types/known/timestamppb"
)

type novel struct {
	Title string
	Pages int
}

type keyedNovel struct {
	ID    string `firedocs:"id,alias=_firestore_id"`
	Title string
}

func TestPreconditionProto(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for _, test := range []struct {
		name string
		pre  *Precondition
		want *pb.Precondition
	}{
		{"nil", nil, nil},
		{"zero value", &Precondition{}, nil},
		{"must exist", MustExist(), &pb.Precondition{ConditionType: &pb.Precondition_Exists{Exists: true}}},
		{"must not exist", MustNotExist(), &pb.Precondition{ConditionType: &pb.Precondition_Exists{Exists: false}}},
		{"last update time", LastUpdateTime(now), &pb.Precondition{ConditionType: &pb.Precondition_UpdateTime{UpdateTime: tspb.New(now)}}},
	} {
		t.Run(test.name, func(t *testing.T) {
			got, err := test.pre.toProto()
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(test.want, got, protocmp.Transform()); diff != "" {
				t.Errorf("mismatch (-want, +got):\n%s", diff)
			}
		})
	}

	conflicted := MustExist()
	now2 := now
	conflicted.UpdateTime = &now2
	if _, err := conflicted.toProto(); err == nil {
		t.Error("got nil error for precondition with both Exists and UpdateTime")
	}
}

func TestCreateWrite(t *testing.T) {
	c := testClient()

	id, w, err := c.createWrite("books", "b1", novel{Title: "Moby Dick", Pages: 635})
	if err != nil {
		t.Fatal(err)
	}
	if id != "b1" {
		t.Errorf("id = %q, want %q", id, "b1")
	}
	want := &pb.Write{
		Operation: &pb.Write_Update{Update: &pb.Document{
			Name: "projects/p/databases/d/documents/books/b1",
			Fields: map[string]*pb.Value{
				"Title": strv("Moby Dick"),
				"Pages": intv(635),
			},
		}},
		CurrentDocument: &pb.Precondition{ConditionType: &pb.Precondition_Exists{Exists: false}},
	}
	if diff := cmp.Diff(want, w, protocmp.Transform()); diff != "" {
		t.Errorf("mismatch (-want, +got):\n%s", diff)
	}
}

func TestCreateWriteIDFromAlias(t *testing.T) {
	c := testClient()
	id, w, err := c.createWrite("books", "", keyedNovel{ID: "b7", Title: "Emma"})
	if err != nil {
		t.Fatal(err)
	}
	if id != "b7" {
		t.Errorf("id = %q, want %q", id, "b7")
	}
	doc := w.GetUpdate()
	if got := doc.Name; got != "projects/p/databases/d/documents/books/b7" {
		t.Errorf("document name = %q", got)
	}
	// The aliased ID field lives in the resource name, not in the stored
	// fields.
	if _, ok := doc.Fields["id"]; ok {
		t.Error("aliased ID field was stored")
	}
}

func TestCreateWriteGeneratesID(t *testing.T) {
	c := testClient()
	id, _, err := c.createWrite("books", "", novel{Title: "Emma"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("generated id %q is not a UUID: %v", id, err)
	}
}

func TestSetWrite(t *testing.T) {
	c := testClient()
	w, err := c.setWrite("books", "b1", novel{Title: "Moby Dick"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if w.CurrentDocument != nil {
		t.Errorf("unconditional set has precondition %v", w.CurrentDocument)
	}
	if w.UpdateMask != nil {
		t.Errorf("set has update mask %v", w.UpdateMask)
	}

	w, err = c.setWrite("books", "b1", novel{}, MustExist())
	if err != nil {
		t.Fatal(err)
	}
	if !w.CurrentDocument.GetExists() {
		t.Error("precondition not applied")
	}
}

func TestUpdateWrite(t *testing.T) {
	c := testClient()

	// A nil mask touches exactly the encoded top-level fields.
	w, err := c.updateWrite("books", "b1", novel{Title: "Moby Dick", Pages: 635}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	got := append([]string(nil), w.UpdateMask.FieldPaths...)
	sort.Strings(got)
	if diff := cmp.Diff([]string{"Pages", "Title"}, got); diff != "" {
		t.Errorf("mask mismatch (-want, +got):\n%s", diff)
	}
	// The default precondition requires existence.
	if !w.CurrentDocument.GetExists() {
		t.Errorf("default precondition = %v, want exists", w.CurrentDocument)
	}

	// An explicit mask is parsed as field paths.
	w, err = c.updateWrite("books", "b1", map[string]interface{}{"a": map[string]interface{}{"b.c": 1}},
		[]string{"a.`b.c`"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a.`b.c`"}, w.UpdateMask.FieldPaths); diff != "" {
		t.Errorf("mask mismatch (-want, +got):\n%s", diff)
	}

	if _, err := c.updateWrite("books", "b1", novel{}, []string{"a..b"}, nil); err == nil {
		t.Error("got nil error for malformed mask path")
	}
}

func TestDeleteWrite(t *testing.T) {
	c := testClient()
	w, err := c.deleteWrite("books", "b1", nil)
	if err != nil {
		t.Fatal(err)
	}
	want := &pb.Write{Operation: &pb.Write_Delete{Delete: "projects/p/databases/d/documents/books/b1"}}
	if diff := cmp.Diff(want, w, protocmp.Transform()); diff != "" {
		t.Errorf("mismatch (-want, +got):\n%s", diff)
	}
}

func TestTransformProto(t *testing.T) {
	for _, test := range []struct {
		name string
		tr   Transform
		want *pb.DocumentTransform_FieldTransform
	}{
		{
			name: "server timestamp",
			tr:   ServerTimestamp("modified"),
			want: &pb.DocumentTransform_FieldTransform{
				FieldPath: "modified",
				TransformType: &pb.DocumentTransform_FieldTransform_SetToServerValue{
					SetToServerValue: pb.DocumentTransform_FieldTransform_REQUEST_TIME,
				},
			},
		},
		{
			name: "increment",
			tr:   Increment("count", 1),
			want: &pb.DocumentTransform_FieldTransform{
				FieldPath:     "count",
				TransformType: &pb.DocumentTransform_FieldTransform_Increment{Increment: intv(1)},
			},
		},
		{
			name: "maximum",
			tr:   Maximum("high", 10),
			want: &pb.DocumentTransform_FieldTransform{
				FieldPath:     "high",
				TransformType: &pb.DocumentTransform_FieldTransform_Maximum{Maximum: intv(10)},
			},
		},
		{
			name: "minimum",
			tr:   Minimum("low", 2),
			want: &pb.DocumentTransform_FieldTransform{
				FieldPath:     "low",
				TransformType: &pb.DocumentTransform_FieldTransform_Minimum{Minimum: intv(2)},
			},
		},
		{
			name: "append missing",
			tr:   AppendMissingElements("tags", "a", "b"),
			want: &pb.DocumentTransform_FieldTransform{
				FieldPath: "tags",
				TransformType: &pb.DocumentTransform_FieldTransform_AppendMissingElements{
					AppendMissingElements: &pb.ArrayValue{Values: []*pb.Value{strv("a"), strv("b")}},
				},
			},
		},
		{
			name: "remove all",
			tr:   RemoveAllElements("tags", "a"),
			want: &pb.DocumentTransform_FieldTransform{
				FieldPath: "tags",
				TransformType: &pb.DocumentTransform_FieldTransform_RemoveAllFromArray{
					RemoveAllFromArray: &pb.ArrayValue{Values: []*pb.Value{strv("a")}},
				},
			},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			got, err := test.tr.toProto(nil)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(test.want, got, protocmp.Transform()); diff != "" {
				t.Errorf("mismatch (-want, +got):\n%s", diff)
			}
		})
	}

	if _, err := Increment("a..b", 1).toProto(nil); err == nil {
		t.Error("got nil error for malformed transform path")
	}
}

func TestTransformWrite(t *testing.T) {
	c := testClient()
	w, err := c.transformWrite("books", "b1", MustExist(), []Transform{
		Increment("count", 1),
		ServerTimestamp("modified"),
	})
	if err != nil {
		t.Fatal(err)
	}
	tf := w.GetTransform()
	if tf == nil {
		t.Fatal("not a transform write")
	}
	if got := tf.Document; got != "projects/p/databases/d/documents/books/b1" {
		t.Errorf("document = %q", got)
	}
	if got := len(tf.FieldTransforms); got != 2 {
		t.Errorf("got %d field transforms, want 2", got)
	}
	if !w.CurrentDocument.GetExists() {
		t.Error("precondition not applied")
	}

	if _, err := c.transformWrite("books", "b1", nil, nil); err == nil {
		t.Error("got nil error for empty transform list")
	}
}

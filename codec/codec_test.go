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

package codec

import (
	"reflect"
	"strings"
	"testing"
	"time"

	pb "cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/google/go-cmp/cmp"
	"google.golang.org/genproto/googleapis/type/latlng"
	"google.golang.org/protobuf/testing/protocmp"
	tspb "google.golang.org/protobuf/types/known/timestamppb"
)

type item struct {
	Title    string
	Count    int
	Score    float64
	Ready    bool
	Raw      []byte
	Tags     []string
	Attrs    map[string]int
	Posted   time.Time
	Where    *latlng.LatLng
	Embed    Vector
	Parent   Reference
	Hidden   string `firedocs:"-"`
	Renamed  string `firedocs:"other"`
	Optional *int   `firedocs:",omitempty"`
}

func TestRoundTrip(t *testing.T) {
	posted := time.Date(2024, 11, 5, 8, 30, 0, 0, time.UTC)
	want := item{
		Title:   "thing",
		Count:   7,
		Score:   1.5,
		Ready:   true,
		Raw:     []byte{1, 2, 3},
		Tags:    []string{"a", "b"},
		Attrs:   map[string]int{"x": 1},
		Posted:  posted,
		Where:   &latlng.LatLng{Latitude: 1, Longitude: 2},
		Embed:   Vector{0.1, 0.2, 0.3},
		Parent:  Reference("projects/p/databases/d/documents/c/doc"),
		Renamed: "r",
	}
	pv, err := EncodeValue(want, nil)
	if err != nil {
		t.Fatal(err)
	}
	var got item
	if err := DecodeValue(pv, &got, nil); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got, protocmp.Transform()); diff != "" {
		t.Errorf("mismatch (-want, +got):\n%s", diff)
	}
}

func TestEncodeSpecialValues(t *testing.T) {
	posted := time.Date(2024, 11, 5, 8, 30, 0, 0, time.UTC)
	for _, test := range []struct {
		in   interface{}
		want *pb.Value
	}{
		{nil, &pb.Value{ValueType: &pb.Value_NullValue{}}},
		{posted, &pb.Value{ValueType: &pb.Value_TimestampValue{TimestampValue: tspb.New(posted)}}},
		{
			Vector{1, 2},
			&pb.Value{ValueType: &pb.Value_MapValue{MapValue: &pb.MapValue{Fields: map[string]*pb.Value{
				"__type__": {ValueType: &pb.Value_StringValue{StringValue: "__vector__"}},
				"value": {ValueType: &pb.Value_ArrayValue{ArrayValue: &pb.ArrayValue{Values: []*pb.Value{
					{ValueType: &pb.Value_DoubleValue{DoubleValue: 1}},
					{ValueType: &pb.Value_DoubleValue{DoubleValue: 2}},
				}}}},
			}}}},
		},
		{
			Reference("projects/p/databases/d/documents/c/x"),
			&pb.Value{ValueType: &pb.Value_ReferenceValue{ReferenceValue: "projects/p/databases/d/documents/c/x"}},
		},
	} {
		got, err := EncodeValue(test.in, nil)
		if err != nil {
			t.Fatalf("%v: %v", test.in, err)
		}
		if diff := cmp.Diff(test.want, got, protocmp.Transform()); diff != "" {
			t.Errorf("%v: mismatch (-want, +got):\n%s", test.in, diff)
		}
	}
}

func TestDecodeVectorFromPlainArray(t *testing.T) {
	pv := &pb.Value{ValueType: &pb.Value_ArrayValue{ArrayValue: &pb.ArrayValue{Values: []*pb.Value{
		{ValueType: &pb.Value_IntegerValue{IntegerValue: 1}},
		{ValueType: &pb.Value_DoubleValue{DoubleValue: 2.5}},
	}}}}
	var got Vector
	if err := DecodeValue(pv, &got, nil); err != nil {
		t.Fatal(err)
	}
	if want := (Vector{1, 2.5}); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

type metaItem struct {
	ID      string    `firedocs:"id,alias=_firestore_id"`
	Created time.Time `firedocs:"created,alias=_firestore_created"`
	Count   int
}

func TestDecodeDocumentMetadata(t *testing.T) {
	created := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	pdoc := &pb.Document{
		Name:       "projects/p/databases/d/documents/items/abc",
		CreateTime: tspb.New(created),
		Fields: map[string]*pb.Value{
			"Count": {ValueType: &pb.Value_IntegerValue{IntegerValue: 5}},
		},
	}
	var got metaItem
	if err := DecodeDocument(pdoc, &got, nil); err != nil {
		t.Fatal(err)
	}
	want := metaItem{ID: "abc", Created: created, Count: 5}
	if !cmp.Equal(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestEncodeDocumentSkipsMetadata(t *testing.T) {
	in := metaItem{ID: "abc", Count: 5}
	pdoc, err := EncodeDocument(in, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := pdoc.Fields["id"]; ok {
		t.Error("ID field was stored")
	}
	if _, ok := pdoc.Fields["created"]; ok {
		t.Error("created field was stored")
	}
	if got := pdoc.Fields["Count"].GetIntegerValue(); got != 5 {
		t.Errorf("Count = %d, want 5", got)
	}
}

func TestDocumentID(t *testing.T) {
	if id, ok := DocumentID(metaItem{ID: "xyz"}, nil); !ok || id != "xyz" {
		t.Errorf("got (%q, %t), want (xyz, true)", id, ok)
	}
	if _, ok := DocumentID(metaItem{}, nil); ok {
		t.Error("empty ID reported as present")
	}
	if _, ok := DocumentID(item{Title: "t"}, nil); ok {
		t.Error("struct without ID alias reported as present")
	}
}

type conventional struct {
	UserName string
	PetCount *int
}

func TestConvention(t *testing.T) {
	cv := &Convention{FieldName: CamelCase, OmitNils: true}
	pdoc, err := EncodeDocument(conventional{UserName: "ann"}, cv)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := pdoc.Fields["userName"]; !ok {
		t.Errorf("fields = %v, want key userName", pdoc.Fields)
	}
	if _, ok := pdoc.Fields["petCount"]; ok {
		t.Error("nil petCount was encoded")
	}
	var got conventional
	if err := DecodeDocument(pdoc, &got, cv); err != nil {
		t.Fatal(err)
	}
	if got.UserName != "ann" || got.PetCount != nil {
		t.Errorf("got %+v", got)
	}
}

func TestCamelCase(t *testing.T) {
	for _, test := range []struct{ in, want string }{
		{"UserName", "userName"},
		{"ID", "id"},
		{"IDToken", "idToken"},
		{"x", "x"},
		{"", ""},
	} {
		if got := CamelCase(test.in); got != test.want {
			t.Errorf("CamelCase(%q) = %q, want %q", test.in, got, test.want)
		}
	}
}

func TestDecodeErrorPath(t *testing.T) {
	pv := &pb.Value{ValueType: &pb.Value_MapValue{MapValue: &pb.MapValue{Fields: map[string]*pb.Value{
		"Attrs": {ValueType: &pb.Value_MapValue{MapValue: &pb.MapValue{Fields: map[string]*pb.Value{
			"x": {ValueType: &pb.Value_StringValue{StringValue: "not a number"}},
		}}}},
	}}}}
	var got item
	err := DecodeValue(pv, &got, nil)
	if err == nil {
		t.Fatal("got nil, want error")
	}
	if !strings.Contains(err.Error(), `"Attrs.x"`) {
		t.Errorf("error %q does not name the failing field path", err)
	}
}

func TestFieldPath(t *testing.T) {
	for _, test := range []struct {
		in   string
		want FieldPath
	}{
		{"a", FieldPath{"a"}},
		{"a.b.c", FieldPath{"a", "b", "c"}},
		{"a.`b.c`", FieldPath{"a", "b.c"}},
		{"`a\\`b`", FieldPath{"a`b"}},
	} {
		got, err := ParseFieldPath(test.in)
		if err != nil {
			t.Fatalf("%q: %v", test.in, err)
		}
		if !reflect.DeepEqual(got, test.want) {
			t.Errorf("ParseFieldPath(%q) = %v, want %v", test.in, got, test.want)
		}
	}
	for _, bad := range []string{"", "a..b", "a.", "`unclosed"} {
		if _, err := ParseFieldPath(bad); err == nil {
			t.Errorf("ParseFieldPath(%q): got nil, want error", bad)
		}
	}
	if got := (FieldPath{"a", "odd.name"}).ToServicePath(); got != "a.`odd.name`" {
		t.Errorf("ToServicePath = %q", got)
	}
}

func TestValueAtPath(t *testing.T) {
	fields := map[string]*pb.Value{
		"a": {ValueType: &pb.Value_MapValue{MapValue: &pb.MapValue{Fields: map[string]*pb.Value{
			"b": {ValueType: &pb.Value_IntegerValue{IntegerValue: 3}},
		}}}},
	}
	pv, ok := ValueAtPath(fields, FieldPath{"a", "b"})
	if !ok || pv.GetIntegerValue() != 3 {
		t.Errorf("got (%v, %t)", pv, ok)
	}
	if _, ok := ValueAtPath(fields, FieldPath{"a", "z"}); ok {
		t.Error("missing path reported present")
	}
}

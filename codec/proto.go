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

// Encoding and decoding between Go values and Firestore protos.

import (
	"fmt"
	"path"
	"reflect"
	"time"

	pb "cloud.google.com/go/firestore/apiv1/firestorepb"
	"firedocs.dev/internal/fdberr"
	"google.golang.org/genproto/googleapis/type/latlng"
	tspb "google.golang.org/protobuf/types/known/timestamppb"
)

// Reserved field names a document's metadata is surfaced under when
// decoding. A struct opts in with an alias tag, for example
//
//	ID string `firedocs:"id,alias=_firestore_id"`
//
// Fields aliased this way are populated from the document's resource name
// and server timestamps rather than from its stored fields.
const (
	IDField      = "_firestore_id"
	CreatedField = "_firestore_created"
	UpdatedField = "_firestore_updated"
)

// A Vector is an embedding, stored in Firestore's dedicated vector
// representation so it can be indexed for nearest-neighbor search.
type Vector []float64

// A Reference is a full document resource name stored as a Firestore
// reference value.
type Reference string

// Marker fields of the map representation Firestore uses for vectors.
const (
	typeMarkerField   = "__type__"
	vectorTypeMarker  = "__vector__"
	vectorValuesField = "value"
)

// EncodeDocument encodes a struct or map into Firestore's document
// representation, a map from field names to *pb.Values. Fields aliased to
// the reserved metadata names are not stored.
func EncodeDocument(v interface{}, cv *Convention) (*pb.Document, error) {
	var e encoder
	if err := EncodeWith(reflect.ValueOf(v), &e, cv); err != nil {
		return nil, err
	}
	mv := e.pv.GetMapValue()
	if mv == nil {
		return nil, fdberr.Newf(fdberr.InvalidArgument, nil, "cannot encode %T as a document: not a struct or map", v)
	}
	flds := mv.Fields
	for _, meta := range []string{IDField, CreatedField, UpdatedField} {
		if name, ok := aliasedFieldName(v, meta, cv); ok {
			delete(flds, name)
		}
	}
	return &pb.Document{Fields: flds}, nil
}

// EncodeValue encodes a single Go value as a Firestore Value.
func EncodeValue(x interface{}, cv *Convention) (*pb.Value, error) {
	var e encoder
	if err := EncodeWith(reflect.ValueOf(x), &e, cv); err != nil {
		return nil, err
	}
	return e.pv, nil
}

// DecodeDocument decodes a Firestore document into dst, which must be a
// non-nil pointer to a struct or map. If dst is a struct with fields
// aliased to the reserved metadata names, those fields receive the
// document's ID and server timestamps.
func DecodeDocument(pdoc *pb.Document, dst interface{}, cv *Convention) error {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return fdberr.Newf(fdberr.InvalidArgument, nil, "decode target must be a non-nil pointer, got %T", dst)
	}
	flds := pdoc.Fields
	if flds == nil {
		flds = map[string]*pb.Value{}
	}
	if extra := metadataFields(pdoc, dst, cv); len(extra) > 0 {
		merged := make(map[string]*pb.Value, len(flds)+len(extra))
		for k, pv := range flds {
			merged[k] = pv
		}
		for k, pv := range extra {
			merged[k] = pv
		}
		flds = merged
	}
	mv := &pb.Value{ValueType: &pb.Value_MapValue{MapValue: &pb.MapValue{Fields: flds}}}
	return DecodeWith(v.Elem(), decoder{mv}, cv)
}

// DecodeValue decodes a single Firestore Value into dst, a non-nil pointer.
func DecodeValue(pv *pb.Value, dst interface{}, cv *Convention) error {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return fdberr.Newf(fdberr.InvalidArgument, nil, "decode target must be a non-nil pointer, got %T", dst)
	}
	return DecodeWith(v.Elem(), decoder{pv}, cv)
}

// DocumentID returns the value of dst's field aliased to the document ID,
// if it has one and the field is a non-empty string.
func DocumentID(src interface{}, cv *Convention) (string, bool) {
	v := reflect.ValueOf(src)
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return "", false
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return "", false
	}
	fs, err := fieldCache.Fields(v.Type())
	if err != nil {
		return "", false
	}
	f := fs.MatchAlias(IDField)
	if f == nil {
		return "", false
	}
	fv, ok := fieldByIndex(v, f.Index)
	if !ok {
		return "", false
	}
	for fv.Kind() == reflect.Ptr {
		if fv.IsNil() {
			return "", false
		}
		fv = fv.Elem()
	}
	if fv.Kind() != reflect.String || fv.String() == "" {
		return "", false
	}
	return fv.String(), true
}

// metadataFields builds the synthetic fields for a struct destination that
// declares aliases for document metadata. They are keyed by the reserved
// names, which the regular decode path resolves through the alias table.
func metadataFields(pdoc *pb.Document, dst interface{}, cv *Convention) map[string]*pb.Value {
	var extra map[string]*pb.Value
	add := func(meta string, pv *pb.Value) {
		if _, ok := aliasedFieldName(dst, meta, cv); ok {
			if extra == nil {
				extra = map[string]*pb.Value{}
			}
			extra[meta] = pv
		}
	}
	if pdoc.Name != "" {
		add(IDField, &pb.Value{ValueType: &pb.Value_StringValue{StringValue: path.Base(pdoc.Name)}})
	}
	if pdoc.CreateTime != nil {
		add(CreatedField, &pb.Value{ValueType: &pb.Value_TimestampValue{TimestampValue: pdoc.CreateTime}})
	}
	if pdoc.UpdateTime != nil {
		add(UpdatedField, &pb.Value{ValueType: &pb.Value_TimestampValue{TimestampValue: pdoc.UpdateTime}})
	}
	return extra
}

// aliasedFieldName reports whether v is a struct with a field aliased to
// meta, and if so returns that field's effective encoded name.
func aliasedFieldName(v interface{}, meta string, cv *Convention) (string, bool) {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return "", false
	}
	fs, err := fieldCache.Fields(t)
	if err != nil {
		return "", false
	}
	f := fs.MatchAlias(meta)
	if f == nil {
		return "", false
	}
	return cv.fieldName(f), true
}

// encoder implements Encoder. Its job is to encode a single Firestore value.
type encoder struct {
	pv *pb.Value
}

var nullValue = &pb.Value{ValueType: &pb.Value_NullValue{}}

func (e *encoder) EncodeNil()            { e.pv = nullValue }
func (e *encoder) EncodeBool(x bool)     { e.pv = &pb.Value{ValueType: &pb.Value_BooleanValue{BooleanValue: x}} }
func (e *encoder) EncodeInt(x int64)     { e.pv = &pb.Value{ValueType: &pb.Value_IntegerValue{IntegerValue: x}} }
func (e *encoder) EncodeUint(x uint64)   { e.pv = &pb.Value{ValueType: &pb.Value_IntegerValue{IntegerValue: int64(x)}} }
func (e *encoder) EncodeBytes(x []byte)  { e.pv = &pb.Value{ValueType: &pb.Value_BytesValue{BytesValue: x}} }
func (e *encoder) EncodeFloat(x float64) { e.pv = floatval(x) }
func (e *encoder) EncodeString(x string) { e.pv = &pb.Value{ValueType: &pb.Value_StringValue{StringValue: x}} }

func (e *encoder) ListIndex(int) { panic("impossible") }
func (e *encoder) MapKey(string) { panic("impossible") }

func (e *encoder) EncodeList(n int) Encoder {
	s := make([]*pb.Value, n)
	e.pv = &pb.Value{ValueType: &pb.Value_ArrayValue{ArrayValue: &pb.ArrayValue{Values: s}}}
	return &listEncoder{s: s}
}

func (e *encoder) EncodeMap(n int) Encoder {
	m := make(map[string]*pb.Value, n)
	e.pv = &pb.Value{ValueType: &pb.Value_MapValue{MapValue: &pb.MapValue{Fields: m}}}
	return &mapEncoder{m: m}
}

var (
	typeOfGoTime         = reflect.TypeOf(time.Time{})
	typeOfProtoTimestamp = reflect.TypeOf((*tspb.Timestamp)(nil))
	typeOfLatLng         = reflect.TypeOf((*latlng.LatLng)(nil))
	typeOfVector         = reflect.TypeOf(Vector(nil))
	typeOfReference      = reflect.TypeOf(Reference(""))
)

// Encode time.Time, *tspb.Timestamp and *latlng.LatLng specially, because
// Firestore has dedicated value types for them, and Vector and Reference
// because they have dedicated wire representations.
func (e *encoder) EncodeSpecial(v reflect.Value) (bool, error) {
	switch v.Type() {
	case typeOfGoTime:
		e.pv = &pb.Value{ValueType: &pb.Value_TimestampValue{TimestampValue: tspb.New(v.Interface().(time.Time))}}
		return true, nil
	case typeOfProtoTimestamp:
		if v.IsNil() {
			e.pv = nullValue
		} else {
			e.pv = &pb.Value{ValueType: &pb.Value_TimestampValue{TimestampValue: v.Interface().(*tspb.Timestamp)}}
		}
		return true, nil
	case typeOfLatLng:
		if v.IsNil() {
			e.pv = nullValue
		} else {
			e.pv = &pb.Value{ValueType: &pb.Value_GeoPointValue{GeoPointValue: v.Interface().(*latlng.LatLng)}}
		}
		return true, nil
	case typeOfVector:
		if v.IsNil() {
			e.pv = nullValue
			return true, nil
		}
		e.pv = encodeVector(v.Interface().(Vector))
		return true, nil
	case typeOfReference:
		e.pv = &pb.Value{ValueType: &pb.Value_ReferenceValue{ReferenceValue: string(v.Interface().(Reference))}}
		return true, nil
	default:
		return false, nil
	}
}

func encodeVector(vec Vector) *pb.Value {
	vals := make([]*pb.Value, len(vec))
	for i, f := range vec {
		vals[i] = floatval(f)
	}
	return &pb.Value{ValueType: &pb.Value_MapValue{MapValue: &pb.MapValue{Fields: map[string]*pb.Value{
		typeMarkerField:   {ValueType: &pb.Value_StringValue{StringValue: vectorTypeMarker}},
		vectorValuesField: {ValueType: &pb.Value_ArrayValue{ArrayValue: &pb.ArrayValue{Values: vals}}},
	}}}}
}

// asVector reports whether pv carries the vector marker map, and if so
// returns the embedding.
func asVector(pv *pb.Value) (Vector, bool) {
	m := pv.GetMapValue()
	if m == nil {
		return nil, false
	}
	tv := m.Fields[typeMarkerField]
	if tv.GetStringValue() != vectorTypeMarker {
		return nil, false
	}
	av := m.Fields[vectorValuesField].GetArrayValue()
	if av == nil {
		return nil, false
	}
	vec := make(Vector, len(av.Values))
	for i, v := range av.Values {
		switch vt := v.ValueType.(type) {
		case *pb.Value_DoubleValue:
			vec[i] = vt.DoubleValue
		case *pb.Value_IntegerValue:
			vec[i] = float64(vt.IntegerValue)
		default:
			return nil, false
		}
	}
	return vec, true
}

type listEncoder struct {
	s []*pb.Value
	encoder
}

func (e *listEncoder) ListIndex(i int) { e.s[i] = e.pv }

type mapEncoder struct {
	m map[string]*pb.Value
	encoder
}

func (e *mapEncoder) MapKey(k string) { e.m[k] = e.pv }

func floatval(x float64) *pb.Value { return &pb.Value{ValueType: &pb.Value_DoubleValue{DoubleValue: x}} }

////////////////////////////////////////////////////////////////

type decoder struct {
	pv *pb.Value
}

func (d decoder) String() string { // for error messages
	return fmt.Sprint(d.pv)
}

func (d decoder) AsNull() bool {
	_, ok := d.pv.ValueType.(*pb.Value_NullValue)
	return ok
}

func (d decoder) AsBool() (bool, bool) {
	if b, ok := d.pv.ValueType.(*pb.Value_BooleanValue); ok {
		return b.BooleanValue, true
	}
	return false, false
}

func (d decoder) AsString() (string, bool) {
	switch v := d.pv.ValueType.(type) {
	case *pb.Value_StringValue:
		return v.StringValue, true
	case *pb.Value_ReferenceValue:
		return v.ReferenceValue, true
	}
	return "", false
}

func (d decoder) AsInt() (int64, bool) {
	if i, ok := d.pv.ValueType.(*pb.Value_IntegerValue); ok {
		return i.IntegerValue, true
	}
	return 0, false
}

func (d decoder) AsUint() (uint64, bool) {
	if i, ok := d.pv.ValueType.(*pb.Value_IntegerValue); ok {
		return uint64(i.IntegerValue), true
	}
	return 0, false
}

func (d decoder) AsFloat() (float64, bool) {
	if f, ok := d.pv.ValueType.(*pb.Value_DoubleValue); ok {
		return f.DoubleValue, true
	}
	return 0, false
}

func (d decoder) AsBytes() ([]byte, bool) {
	if bs, ok := d.pv.ValueType.(*pb.Value_BytesValue); ok {
		return bs.BytesValue, true
	}
	return nil, false
}

// AsInterface decodes the value in d into the most appropriate Go type.
func (d decoder) AsInterface() (interface{}, error) {
	return decodeValue(d.pv)
}

func decodeValue(v *pb.Value) (interface{}, error) {
	switch v := v.ValueType.(type) {
	case *pb.Value_NullValue:
		return nil, nil
	case *pb.Value_BooleanValue:
		return v.BooleanValue, nil
	case *pb.Value_IntegerValue:
		return v.IntegerValue, nil
	case *pb.Value_DoubleValue:
		return v.DoubleValue, nil
	case *pb.Value_StringValue:
		return v.StringValue, nil
	case *pb.Value_BytesValue:
		return v.BytesValue, nil
	case *pb.Value_TimestampValue:
		return v.TimestampValue.AsTime(), nil
	case *pb.Value_ReferenceValue:
		return Reference(v.ReferenceValue), nil
	case *pb.Value_GeoPointValue:
		return v.GeoPointValue, nil
	case *pb.Value_ArrayValue:
		s := make([]interface{}, len(v.ArrayValue.Values))
		for i, pv := range v.ArrayValue.Values {
			e, err := decodeValue(pv)
			if err != nil {
				return nil, err
			}
			s[i] = e
		}
		return s, nil
	case *pb.Value_MapValue:
		if vec, ok := asVector(&pb.Value{ValueType: v}); ok {
			return vec, nil
		}
		m := make(map[string]interface{}, len(v.MapValue.Fields))
		for k, pv := range v.MapValue.Fields {
			e, err := decodeValue(pv)
			if err != nil {
				return nil, err
			}
			m[k] = e
		}
		return m, nil
	}
	return nil, fdberr.Newf(fdberr.InvalidArgument, nil, "unknown value type %T", v)
}

func (d decoder) ListLen() (int, bool) {
	a := d.pv.GetArrayValue()
	if a == nil {
		return 0, false
	}
	return len(a.Values), true
}

func (d decoder) DecodeList(f func(int, Decoder) bool) {
	for i, e := range d.pv.GetArrayValue().Values {
		if !f(i, decoder{e}) {
			return
		}
	}
}

func (d decoder) MapLen() (int, bool) {
	m := d.pv.GetMapValue()
	if m == nil {
		return 0, false
	}
	return len(m.Fields), true
}

func (d decoder) DecodeMap(f func(string, Decoder, bool) bool) {
	for k, v := range d.pv.GetMapValue().Fields {
		if !f(k, decoder{v}, true) {
			return
		}
	}
}

func (d decoder) AsSpecial(v reflect.Value) (bool, interface{}, error) {
	switch v.Type() {
	case typeOfGoTime:
		if ts, ok := d.pv.ValueType.(*pb.Value_TimestampValue); ok {
			if ts.TimestampValue == nil {
				return true, time.Time{}, nil
			}
			return true, ts.TimestampValue.AsTime(), nil
		}
		return true, nil, fdberr.Newf(fdberr.InvalidArgument, nil, "expected TimestampValue for time.Time, got %+v", d.pv.ValueType)
	case typeOfProtoTimestamp:
		if ts, ok := d.pv.ValueType.(*pb.Value_TimestampValue); ok {
			return true, ts.TimestampValue, nil
		}
		return true, nil, fdberr.Newf(fdberr.InvalidArgument, nil, "expected TimestampValue for *tspb.Timestamp, got %+v", d.pv.ValueType)
	case typeOfLatLng:
		if ll, ok := d.pv.ValueType.(*pb.Value_GeoPointValue); ok {
			return true, ll.GeoPointValue, nil
		}
		return true, nil, fdberr.Newf(fdberr.InvalidArgument, nil, "expected GeoPointValue for *latlng.LatLng, got %+v", d.pv.ValueType)
	case typeOfVector:
		if d.AsNull() {
			return true, Vector(nil), nil
		}
		if vec, ok := asVector(d.pv); ok {
			return true, vec, nil
		}
		// Accept a plain array of numbers as well.
		if av := d.pv.GetArrayValue(); av != nil {
			vec := make(Vector, len(av.Values))
			for i, e := range av.Values {
				switch vt := e.ValueType.(type) {
				case *pb.Value_DoubleValue:
					vec[i] = vt.DoubleValue
				case *pb.Value_IntegerValue:
					vec[i] = float64(vt.IntegerValue)
				default:
					return true, nil, fdberr.Newf(fdberr.InvalidArgument, nil, "non-numeric element in vector: %+v", e.ValueType)
				}
			}
			return true, vec, nil
		}
		return true, nil, fdberr.Newf(fdberr.InvalidArgument, nil, "expected vector value, got %+v", d.pv.ValueType)
	case typeOfReference:
		if r, ok := d.pv.ValueType.(*pb.Value_ReferenceValue); ok {
			return true, Reference(r.ReferenceValue), nil
		}
		return true, nil, fdberr.Newf(fdberr.InvalidArgument, nil, "expected ReferenceValue, got %+v", d.pv.ValueType)
	default:
		return false, nil, nil
	}
}

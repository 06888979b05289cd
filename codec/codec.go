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

// Package codec converts between native Go values and the Firestore typed
// value model.
//
// The conversion is data-driven: for every struct type a field descriptor
// table (name, alias list, tag options) is built once via reflection, and
// the same table drives both directions. The encoding protocol is a pair of
// small interfaces, Encoder and Decoder, so the reflection walk is
// independent of the wire representation; proto.go implements them for
// Firestore protos.
package codec

import (
	"encoding"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"firedocs.dev/internal/fdberr"
	"firedocs.dev/internal/fields"
	"google.golang.org/protobuf/proto"
)

var (
	binaryMarshalerType   = reflect.TypeOf((*encoding.BinaryMarshaler)(nil)).Elem()
	binaryUnmarshalerType = reflect.TypeOf((*encoding.BinaryUnmarshaler)(nil)).Elem()
	textMarshalerType     = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	textUnmarshalerType   = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
	protoMessageType      = reflect.TypeOf((*proto.Message)(nil)).Elem()
)

// A Convention adjusts how struct fields cross the encode/decode boundary.
// The zero value means: keep Go field names as they are, and encode nil
// values as explicit Nulls.
type Convention struct {
	// FieldName, if non-nil, is applied to field names that do not come
	// from a struct tag. CamelCase is a common choice.
	FieldName func(string) string

	// OmitNils omits fields holding a nil pointer, interface, map or
	// slice instead of encoding an explicit Null. Decoding accepts both
	// representations regardless of this setting.
	OmitNils bool
}

func (cv *Convention) fieldName(f *fields.Field) string {
	if f.NameFromTag || cv == nil || cv.FieldName == nil {
		return f.Name
	}
	return cv.FieldName(f.Name)
}

// CamelCase lower-cases the leading run-in of upper-case letters of a Go
// field name, so "UserName" becomes "userName" and "ID" becomes "id".
func CamelCase(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	n := 0
	for n < len(r) && r[n] >= 'A' && r[n] <= 'Z' {
		n++
	}
	// For a name like "IDToken", leave the last capital for the next word.
	if n > 1 && n < len(r) {
		n--
	}
	return strings.ToLower(string(r[:n])) + string(r[n:])
}

// An Encoder encodes Go values in some other form (here, Firestore proto
// values). The encoding protocol is designed to avoid losing type
// information by passing values using interface{}. An Encoder is
// responsible for storing the value it is encoding.
type Encoder interface {
	EncodeNil()
	EncodeBool(bool)
	EncodeString(string)
	EncodeInt(int64)
	EncodeUint(uint64)
	EncodeFloat(float64)
	EncodeBytes([]byte)

	// EncodeList is called when a slice or array is encountered (except
	// for a []byte, which is handled by EncodeBytes). Its argument is the
	// length of the slice or array. The encoding algorithm calls the
	// returned Encoder that many times to encode the successive values of
	// the list. After each such call, ListIndex is called with the index
	// of the element just encoded.
	EncodeList(n int) Encoder
	ListIndex(i int)

	// EncodeMap is called when a map or struct is encountered. Its
	// argument is the number of fields. After each element is encoded,
	// MapKey is called with its key.
	EncodeMap(n int) Encoder
	MapKey(string)

	// If the encoder wants to encode a value in a special way it should
	// do so here and return true along with any error from the encoding.
	// Otherwise, it should return false.
	EncodeSpecial(v reflect.Value) (bool, error)
}

// Encode encodes the value using the given Encoder. It traverses the value,
// iterating over arrays, slices, maps and the exported fields of structs.
// If it encounters a non-nil pointer, it encodes the value that it points
// to. Values implementing encoding.BinaryMarshaler, encoding.TextMarshaler
// or proto.Message are encoded via those interfaces.
//
// Only strings, integers, and types that implement encoding.TextMarshaler
// are permitted as map keys, matching encoding/json.
func Encode(v reflect.Value, e Encoder) error {
	return EncodeWith(v, e, nil)
}

// EncodeWith is Encode with an explicit field-name convention.
func EncodeWith(v reflect.Value, e Encoder, cv *Convention) error {
	return wrap(encode(v, e, cv))
}

func encode(v reflect.Value, enc Encoder, cv *Convention) error {
	if !v.IsValid() {
		enc.EncodeNil()
		return nil
	}
	done, err := enc.EncodeSpecial(v)
	if done {
		return err
	}
	if v.Type().Implements(binaryMarshalerType) {
		bytes, err := v.Interface().(encoding.BinaryMarshaler).MarshalBinary()
		if err != nil {
			return err
		}
		enc.EncodeBytes(bytes)
		return nil
	}
	if v.Type().Implements(protoMessageType) {
		if v.IsNil() {
			enc.EncodeNil()
		} else {
			bytes, err := proto.Marshal(v.Interface().(proto.Message))
			if err != nil {
				return err
			}
			enc.EncodeBytes(bytes)
		}
		return nil
	}
	if v.Type().Implements(textMarshalerType) {
		bytes, err := v.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return err
		}
		enc.EncodeString(string(bytes))
		return nil
	}
	switch v.Kind() {
	case reflect.Bool:
		enc.EncodeBool(v.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		enc.EncodeInt(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		enc.EncodeUint(v.Uint())
	case reflect.Float32, reflect.Float64:
		enc.EncodeFloat(v.Float())
	case reflect.String:
		enc.EncodeString(v.String())
	case reflect.Slice:
		if v.IsNil() {
			enc.EncodeNil()
			return nil
		}
		fallthrough
	case reflect.Array:
		return encodeList(v, enc, cv)
	case reflect.Map:
		return encodeMap(v, enc, cv)
	case reflect.Ptr:
		if v.IsNil() {
			enc.EncodeNil()
			return nil
		}
		return encode(v.Elem(), enc, cv)
	case reflect.Interface:
		if v.IsNil() {
			enc.EncodeNil()
			return nil
		}
		return encode(v.Elem(), enc, cv)

	case reflect.Struct:
		flds, err := fieldCache.Fields(v.Type())
		if err != nil {
			return err
		}
		return encodeStructWithFields(v, flds, enc, cv)

	default:
		return fdberr.Newf(fdberr.InvalidArgument, nil, "cannot encode type %s", v.Type())
	}
	return nil
}

// Encode an array or non-nil slice.
func encodeList(v reflect.Value, enc Encoder, cv *Convention) error {
	// Byte slices encode specially.
	if v.Type().Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8 {
		enc.EncodeBytes(v.Bytes())
		return nil
	}
	n := v.Len()
	enc2 := enc.EncodeList(n)
	for i := 0; i < n; i++ {
		if err := encode(v.Index(i), enc2, cv); err != nil {
			return qualify(err, strconv.Itoa(i))
		}
		enc2.ListIndex(i)
	}
	return nil
}

func encodeMap(v reflect.Value, enc Encoder, cv *Convention) error {
	if v.IsNil() {
		enc.EncodeNil()
		return nil
	}
	keys := v.MapKeys()
	enc2 := enc.EncodeMap(len(keys))
	for _, k := range keys {
		sk, err := stringifyMapKey(k)
		if err != nil {
			return err
		}
		if err := encode(v.MapIndex(k), enc2, cv); err != nil {
			return qualify(err, sk)
		}
		enc2.MapKey(sk)
	}
	return nil
}

// k is the key of a map. Encode it as a string.
// Only strings, integers (signed or unsigned), and types that implement
// encoding.TextMarshaler are supported.
func stringifyMapKey(k reflect.Value) (string, error) {
	// This is basically reflectWithString.resolve, from encoding/json/encode.go.
	if k.Kind() == reflect.String {
		return k.String(), nil
	}
	if tm, ok := k.Interface().(encoding.TextMarshaler); ok {
		b, err := tm.MarshalText()
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	switch k.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(k.Uint(), 10), nil
	default:
		return "", fdberr.Newf(fdberr.InvalidArgument, nil, "cannot encode key %v of type %s", k, k.Type())
	}
}

func encodeStructWithFields(v reflect.Value, flds fields.List, e Encoder, cv *Convention) error {
	e2 := e.EncodeMap(len(flds))
	for i := range flds {
		f := &flds[i]
		fv, ok := fieldByIndex(v, f.Index)
		if !ok {
			// f is a field in a nil embedded pointer: the field exists in
			// the struct type but not this particular value, so skip it.
			continue
		}
		opts, _ := f.ParsedTag.(tagOptions)
		if opts.omitEmpty && IsEmptyValue(fv) {
			continue
		}
		if cv != nil && cv.OmitNils && isNilValue(fv) {
			continue
		}
		if err := encode(fv, e2, cv); err != nil {
			return qualify(err, f.Name)
		}
		e2.MapKey(cv.fieldName(f))
	}
	return nil
}

// fieldByIndex retrieves the field of v at the given index if present.
// The second return value is false if there is a nil embedded pointer
// along the path denoted by index.
func fieldByIndex(v reflect.Value, index []int) (reflect.Value, bool) {
	for _, i := range index {
		if v.Kind() == reflect.Ptr {
			if v.IsNil() {
				return reflect.Value{}, false
			}
			v = v.Elem()
		}
		v = v.Field(i)
	}
	return v, true
}

////////////////////////////////////////////////////////////////

// A Decoder decodes data that was produced by Encode back into Go values.
// Each Decoder instance is responsible for decoding one value.
type Decoder interface {
	// The AsXXX methods each report whether the value being decoded can
	// be represented as a particular Go type. If so, the method returns
	// the value as that type and true; otherwise the zero value and false.
	AsString() (string, bool)
	AsInt() (int64, bool)
	AsUint() (uint64, bool)
	AsFloat() (float64, bool)
	AsBytes() ([]byte, bool)
	AsBool() (bool, bool)
	AsNull() bool

	// ListLen returns the length of the value being decoded and true, if
	// the value can be decoded into a slice or array.
	ListLen() (int, bool)

	// If ListLen returned true, DecodeList iterates over the value from
	// index 0, invoking the callback for each element. A false return
	// from the callback stops the iteration.
	DecodeList(func(int, Decoder) bool)

	// MapLen returns the number of fields of the value being decoded and
	// true, if the value can be decoded into a map or struct.
	MapLen() (int, bool)

	// DecodeMap iterates over the fields of the value being decoded,
	// invoking the callback with the field name, a Decoder for the field
	// value, and whether field names must match exactly (as opposed to
	// case-insensitively). A false return stops the iteration.
	DecodeMap(func(string, Decoder, bool) bool)

	// AsInterface decodes the value into the Go value that best
	// represents it.
	AsInterface() (interface{}, error)

	// If the decoder wants to decode a value in a special way it should
	// do so here and return true, the decoded value, and any error from
	// the decoding. Otherwise, it should return false.
	AsSpecial(reflect.Value) (bool, interface{}, error)

	// String returns a human-readable representation of the Decoder, for
	// error messages.
	String() string
}

// Decode decodes the value held in the Decoder d into v.
// Decode creates slices, maps and pointer elements as needed.
// It treats values that implement encoding.BinaryUnmarshaler,
// encoding.TextUnmarshaler and proto.Message specially; see Encode.
func Decode(v reflect.Value, d Decoder) error {
	return DecodeWith(v, d, nil)
}

// DecodeWith is Decode with an explicit field-name convention.
func DecodeWith(v reflect.Value, d Decoder, cv *Convention) error {
	return wrap(decode(v, d, cv))
}

func decode(v reflect.Value, d Decoder, cv *Convention) error {
	if !v.CanSet() {
		return fmt.Errorf("while decoding: cannot set %+v", v)
	}
	// A Null value sets anything nullable to nil.
	// If the value isn't nullable, we keep going.
	if d.AsNull() {
		switch v.Kind() {
		case reflect.Interface, reflect.Ptr, reflect.Map, reflect.Slice:
			v.Set(reflect.Zero(v.Type()))
			return nil
		}
	}

	if done, val, err := d.AsSpecial(v); done {
		if err != nil {
			return err
		}
		if reflect.TypeOf(val).AssignableTo(v.Type()) {
			v.Set(reflect.ValueOf(val))
			return nil
		}
		return decodingError(v, d)
	}

	// Handle implemented interfaces first.
	if reflect.PtrTo(v.Type()).Implements(binaryUnmarshalerType) {
		if b, ok := d.AsBytes(); ok {
			return v.Addr().Interface().(encoding.BinaryUnmarshaler).UnmarshalBinary(b)
		}
		return decodingError(v, d)
	}
	if reflect.PtrTo(v.Type()).Implements(protoMessageType) {
		if b, ok := d.AsBytes(); ok {
			return proto.Unmarshal(b, v.Addr().Interface().(proto.Message))
		}
		return decodingError(v, d)
	}
	if reflect.PtrTo(v.Type()).Implements(textUnmarshalerType) {
		if s, ok := d.AsString(); ok {
			return v.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s))
		}
		return decodingError(v, d)
	}

	switch v.Kind() {
	case reflect.Bool:
		if b, ok := d.AsBool(); ok {
			v.SetBool(b)
			return nil
		}

	case reflect.String:
		if s, ok := d.AsString(); ok {
			v.SetString(s)
			return nil
		}

	case reflect.Float32, reflect.Float64:
		if f, ok := d.AsFloat(); ok {
			v.SetFloat(f)
			return nil
		}
		// Accept an integer: aggregation sums come back as integers
		// when all inputs are integral.
		if i, ok := d.AsInt(); ok {
			v.SetFloat(float64(i))
			return nil
		}

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, ok := d.AsInt()
		if !ok {
			// Accept a floating-point number with integral value.
			f, ok := d.AsFloat()
			if !ok {
				return decodingError(v, d)
			}
			i = int64(f)
			if float64(i) != f {
				return fdberr.Newf(fdberr.InvalidArgument, nil, "float %f does not fit into %s", f, v.Type())
			}
		}
		if v.OverflowInt(i) {
			return overflowError(i, v.Type())
		}
		v.SetInt(i)
		return nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u, ok := d.AsUint()
		if !ok {
			f, ok := d.AsFloat()
			if !ok {
				return decodingError(v, d)
			}
			u = uint64(f)
			if float64(u) != f {
				return fdberr.Newf(fdberr.InvalidArgument, nil, "float %f does not fit into %s", f, v.Type())
			}
		}
		if v.OverflowUint(u) {
			return overflowError(u, v.Type())
		}
		v.SetUint(u)
		return nil

	case reflect.Slice, reflect.Array:
		return decodeList(v, d, cv)

	case reflect.Map:
		return decodeMap(v, d, cv)

	case reflect.Ptr:
		// If the pointer is nil, set it to a zero value.
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		return decode(v.Elem(), d, cv)

	case reflect.Struct:
		return decodeStruct(v, d, cv)

	case reflect.Interface:
		if v.NumMethod() == 0 { // empty interface
			// If v holds a pointer, set the pointer.
			if !v.IsNil() && v.Elem().Kind() == reflect.Ptr {
				return decode(v.Elem(), d, cv)
			}
			// Otherwise, create a fresh value.
			x, err := d.AsInterface()
			if err != nil {
				return err
			}
			v.Set(reflect.ValueOf(x))
			return nil
		}
	}

	return decodingError(v, d)
}

func decodeList(v reflect.Value, d Decoder, cv *Convention) error {
	// If we're decoding into a byte slice or array, and the decoded value
	// supports that, then do the decoding.
	if v.Type().Elem().Kind() == reflect.Uint8 {
		if b, ok := d.AsBytes(); ok {
			if v.Kind() == reflect.Slice {
				v.SetBytes(b)
				return nil
			}
			// It's an array; copy the data in.
			err := prepareLength(v, len(b))
			if err != nil {
				return err
			}
			reflect.Copy(v, reflect.ValueOf(b))
			return nil
		}
		// Fall through to decode the []byte as an ordinary slice.
	}
	dlen, ok := d.ListLen()
	if !ok {
		return decodingError(v, d)
	}
	err := prepareLength(v, dlen)
	if err != nil {
		return err
	}
	d.DecodeList(func(i int, vd Decoder) bool {
		if err != nil || i >= dlen {
			return false
		}
		if e := decode(v.Index(i), vd, cv); e != nil {
			err = qualify(e, strconv.Itoa(i))
		}
		return err == nil
	})
	return err
}

// v must be a slice or array. We want it to be of length wantLen. Prepare
// it as necessary, and return an error if an array is too short: silently
// dropping elements the way encoding/json does can lose data.
func prepareLength(v reflect.Value, wantLen int) error {
	vLen := v.Len()
	if v.Kind() == reflect.Slice {
		// Construct a slice of the right size, avoiding allocation if possible.
		switch {
		case vLen < wantLen: // v too short
			if v.Cap() >= wantLen { // extend its length if there's room
				v.SetLen(wantLen)
			} else { // else make a new one
				v.Set(reflect.MakeSlice(v.Type(), wantLen, wantLen))
			}
		case vLen > wantLen: // v too long; truncate it
			v.SetLen(wantLen)
		}
	} else { // array
		switch {
		case vLen < wantLen: // v too short
			return fdberr.Newf(fdberr.InvalidArgument, nil, "array length %d is too short for incoming list of length %d",
				vLen, wantLen)
		case vLen > wantLen: // v too long; set extra elements to zero
			z := reflect.Zero(v.Type().Elem())
			for i := wantLen; i < vLen; i++ {
				v.Index(i).Set(z)
			}
		}
	}
	return nil
}

// Since a map value is not settable via reflection, this function always
// creates a new element for each corresponding map key, overwriting
// existing values of v, matching encoding/json.
func decodeMap(v reflect.Value, d Decoder, cv *Convention) error {
	mapLen, ok := d.MapLen()
	if !ok {
		return decodingError(v, d)
	}
	t := v.Type()
	if v.IsNil() {
		v.Set(reflect.MakeMapWithSize(t, mapLen))
	}
	et := t.Elem()
	var err error
	kt := v.Type().Key()
	d.DecodeMap(func(key string, vd Decoder, _ bool) bool {
		if err != nil {
			return false
		}
		el := reflect.New(et).Elem()
		if e := decode(el, vd, cv); e != nil {
			err = qualify(e, key)
			return false
		}
		vk, e := unstringifyMapKey(key, kt)
		if e != nil {
			err = e
			return false
		}
		v.SetMapIndex(vk, el)
		return err == nil
	})
	return err
}

// Given a map key encoded as a string, and the type of the map key, convert
// the key into the type.
func unstringifyMapKey(key string, keyType reflect.Type) (reflect.Value, error) {
	switch {
	case keyType.Kind() == reflect.String:
		return reflect.ValueOf(key).Convert(keyType), nil
	case reflect.PtrTo(keyType).Implements(textUnmarshalerType):
		tu := reflect.New(keyType)
		if err := tu.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(key)); err != nil {
			return reflect.Value{}, err
		}
		return tu.Elem(), nil
	case keyType.Kind() == reflect.Interface && keyType.NumMethod() == 0:
		return reflect.ValueOf(key), nil
	default:
		switch keyType.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			n, err := strconv.ParseInt(key, 10, 64)
			if err != nil {
				return reflect.Value{}, err
			}
			if reflect.Zero(keyType).OverflowInt(n) {
				return reflect.Value{}, overflowError(n, keyType)
			}
			return reflect.ValueOf(n).Convert(keyType), nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			n, err := strconv.ParseUint(key, 10, 64)
			if err != nil {
				return reflect.Value{}, err
			}
			if reflect.Zero(keyType).OverflowUint(n) {
				return reflect.Value{}, overflowError(n, keyType)
			}
			return reflect.ValueOf(n).Convert(keyType), nil
		default:
			return reflect.Value{}, fdberr.Newf(fdberr.InvalidArgument, nil, "invalid key type %s", keyType)
		}
	}
}

func decodeStruct(v reflect.Value, d Decoder, cv *Convention) error {
	fs, err := fieldCache.Fields(v.Type())
	if err != nil {
		return err
	}
	d.DecodeMap(func(key string, d2 Decoder, exactMatch bool) bool {
		if err != nil {
			return false
		}
		f := matchField(fs, key, cv, exactMatch)
		if f == nil {
			err = fdberr.Newf(fdberr.InvalidArgument, nil, "no field matching %q in %s", key, v.Type())
			return false
		}
		fv, ok := fieldByIndexCreate(v, f.Index)
		if !ok {
			err = fdberr.Newf(fdberr.InvalidArgument, nil,
				"setting field %q in %s: cannot create embedded pointer field of unexported type",
				key, v.Type())
			return false
		}
		if e := decode(fv, d2, cv); e != nil {
			err = qualify(e, key)
		}
		return err == nil
	})
	return err
}

// matchField resolves an incoming field name against the descriptor table:
// first by effective name (with the convention's transform applied), then
// by declared aliases in order, then case-insensitively if allowed.
func matchField(fs fields.List, key string, cv *Convention, exactMatch bool) *fields.Field {
	for i := range fs {
		if cv.fieldName(&fs[i]) == key {
			return &fs[i]
		}
	}
	if f := fs.MatchAlias(key); f != nil {
		return f
	}
	if !exactMatch {
		for i := range fs {
			if strings.EqualFold(cv.fieldName(&fs[i]), key) {
				return &fs[i]
			}
		}
	}
	return nil
}

// fieldByIndexCreate retrieves the field of v at the given index if
// present, creating embedded struct pointers where necessary. The second
// return value is false if there is a nil embedded pointer of unexported
// type along the path denoted by index.
func fieldByIndexCreate(v reflect.Value, index []int) (reflect.Value, bool) {
	for _, i := range index {
		if v.Kind() == reflect.Ptr {
			if v.IsNil() {
				if !v.CanSet() {
					return reflect.Value{}, false
				}
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(i)
	}
	return v, true
}

func decodingError(v reflect.Value, d Decoder) error {
	return fdberr.Newf(fdberr.InvalidArgument, nil, "cannot set type %s to %v", v.Type(), d)
}

func overflowError(x interface{}, t reflect.Type) error {
	return fdberr.Newf(fdberr.InvalidArgument, nil, "value %v overflows type %s", x, t)
}

// qualify prefixes err with a path segment so a nested failure reports the
// field it occurred at.
func qualify(err error, segment string) error {
	if e, ok := err.(*pathError); ok {
		e.path = append([]string{segment}, e.path...)
		return e
	}
	return &pathError{path: []string{segment}, err: err}
}

// A pathError qualifies a codec error with the field path at which it
// occurred.
type pathError struct {
	path []string
	err  error
}

func (e *pathError) Error() string {
	return fmt.Sprintf("at field %q: %v", strings.Join(e.path, "."), e.err)
}

func (e *pathError) Unwrap() error { return e.err }

// wrap ensures a codec error carries an error code, preserving the code of
// a nested coded error.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*fdberr.Error); ok {
		return err
	}
	code := fdberr.InvalidArgument
	var fe *fdberr.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return fdberr.New(code, err, err.Error())
}

var fieldCache = fields.NewCache(parseTag)

// IsEmptyValue reports whether v is a zero value of its type.
// Copied from encoding/json.
func IsEmptyValue(v reflect.Value) bool {
	switch k := v.Kind(); k {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Ptr:
		return v.IsNil()
	}
	return false
}

func isNilValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Map, reflect.Slice:
		return v.IsNil()
	}
	return false
}

// Options for struct tags.
type tagOptions struct {
	omitEmpty bool // do not encode value if empty
}

// parseTag interprets firedocs struct field tags: the name, optional
// "omitempty", and any number of "alias=<name>" options used as alternate
// source names during decoding.
func parseTag(t reflect.StructTag) (name string, keep bool, aliases []string, other interface{}, err error) {
	var opts []string
	name, keep, opts = fields.ParseStandardTag("firedocs", t)
	tagOpts := tagOptions{}
	for _, opt := range opts {
		switch {
		case opt == "omitempty":
			tagOpts.omitEmpty = true
		case strings.HasPrefix(opt, "alias="):
			aliases = append(aliases, strings.TrimPrefix(opt, "alias="))
		default:
			return "", false, nil, nil, fdberr.Newf(fdberr.InvalidArgument, nil, "unknown tag option: %q", opt)
		}
	}
	return name, keep, aliases, tagOpts, nil
}

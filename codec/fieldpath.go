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
	"bytes"
	"regexp"
	"strings"

	pb "cloud.google.com/go/firestore/apiv1/firestorepb"
	"firedocs.dev/internal/fdberr"
)

// A FieldPath addresses a field in a document, each element naming one
// level of map nesting.
type FieldPath []string

// ParseFieldPath converts a dot-separated path like "a.b.c" into a
// FieldPath. Components containing dots or other special characters must
// be quoted with backticks; inside quotes, backslash escapes the next
// character.
func ParseFieldPath(s string) (FieldPath, error) {
	if s == "" {
		return nil, fdberr.New(fdberr.InvalidArgument, nil, "empty field path")
	}
	var fp FieldPath
	var buf bytes.Buffer
	quoted := false
	escaped := false
	for _, r := range s {
		switch {
		case escaped:
			buf.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == '`':
			quoted = !quoted
		case r == '.' && !quoted:
			if buf.Len() == 0 {
				return nil, fdberr.Newf(fdberr.InvalidArgument, nil, "empty component in field path %q", s)
			}
			fp = append(fp, buf.String())
			buf.Reset()
		default:
			buf.WriteRune(r)
		}
	}
	if quoted || escaped {
		return nil, fdberr.Newf(fdberr.InvalidArgument, nil, "unterminated quote in field path %q", s)
	}
	if buf.Len() == 0 {
		return nil, fdberr.Newf(fdberr.InvalidArgument, nil, "empty component in field path %q", s)
	}
	return append(fp, buf.String()), nil
}

// ToServicePath renders the path in the dot-separated form the Firestore
// service expects, quoting components with backticks where necessary.
func (fp FieldPath) ToServicePath() string {
	cs := make([]string, len(fp))
	for i, c := range fp {
		cs[i] = toServicePathComponent(c)
	}
	return strings.Join(cs, ".")
}

func (fp FieldPath) String() string { return fp.ToServicePath() }

// Google SQL syntax for an unquoted field.
var unquotedFieldRE = regexp.MustCompile("^[A-Za-z_][A-Za-z_0-9]*$")

// toServicePathComponent returns a string that represents key and is a
// valid Firestore field path component. Components are quoted with
// backticks if they don't match the above regexp.
func toServicePathComponent(key string) string {
	if unquotedFieldRE.MatchString(key) {
		return key
	}
	var buf bytes.Buffer
	buf.WriteRune('`')
	for _, r := range key {
		if r == '\\' || r == '`' {
			buf.WriteRune('\\')
		}
		buf.WriteRune(r)
	}
	buf.WriteRune('`')
	return buf.String()
}

// ValueAtPath returns the value at fp within a document's fields,
// descending through nested maps. The second return value reports whether
// the full path was present.
func ValueAtPath(fields map[string]*pb.Value, fp FieldPath) (*pb.Value, bool) {
	if len(fp) == 0 {
		return nil, false
	}
	var pv *pb.Value
	for i, c := range fp {
		var ok bool
		pv, ok = fields[c]
		if !ok {
			return nil, false
		}
		if i < len(fp)-1 {
			m := pv.GetMapValue()
			if m == nil {
				return nil, false
			}
			fields = m.Fields
		}
	}
	return pv, true
}

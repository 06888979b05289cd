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

package fields

import (
	"reflect"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func parse(t reflect.StructTag) (string, bool, []string, interface{}, error) {
	name, keep, opts := ParseStandardTag("firedocs", t)
	var aliases []string
	for _, o := range opts {
		if a, ok := strings.CutPrefix(o, "alias="); ok {
			aliases = append(aliases, a)
		}
	}
	return name, keep, aliases, nil, nil
}

type embedded struct {
	C int
}

type tagged struct {
	A  string `firedocs:"aye"`
	B  int    `firedocs:"-"`
	ID string `firedocs:"id,alias=_firestore_id"`
	D  int
	embedded
	unexported int
}

func TestFields(t *testing.T) {
	c := NewCache(parse)
	got, err := c.Fields(reflect.TypeOf(tagged{}))
	if err != nil {
		t.Fatal(err)
	}
	want := List{
		{Name: "aye", NameFromTag: true, Index: []int{0}},
		{Name: "id", NameFromTag: true, Aliases: []string{"_firestore_id"}, Index: []int{2}},
		{Name: "D", Index: []int{3}},
		{Name: "C", Index: []int{4, 0}},
	}
	diff := cmp.Diff(want, got, cmpopts.IgnoreFields(Field{}, "Type", "ParsedTag"))
	if diff != "" {
		t.Errorf("mismatch (-want, +got):\n%s", diff)
	}
}

func TestMatch(t *testing.T) {
	c := NewCache(parse)
	l, err := c.Fields(reflect.TypeOf(tagged{}))
	if err != nil {
		t.Fatal(err)
	}
	if f := l.MatchExact("aye"); f == nil || f.Name != "aye" {
		t.Errorf("MatchExact(aye) = %v", f)
	}
	if f := l.MatchExact("A"); f != nil {
		t.Errorf("MatchExact(A) = %v, want nil", f)
	}
	if f := l.MatchAlias("_firestore_id"); f == nil || f.Name != "id" {
		t.Errorf("MatchAlias(_firestore_id) = %v", f)
	}
	if f := l.MatchFold("d"); f == nil || f.Name != "D" {
		t.Errorf("MatchFold(d) = %v", f)
	}
	if f := l.MatchExact("B"); f != nil {
		t.Errorf("MatchExact(B) = %v, want nil for omitted field", f)
	}
}

type shadowOuter struct {
	X int
	shadowInner
}

type shadowInner struct {
	X int
	Y int
}

func TestShadowing(t *testing.T) {
	c := NewCache(nil)
	l, err := c.Fields(reflect.TypeOf(shadowOuter{}))
	if err != nil {
		t.Fatal(err)
	}
	fx := l.MatchExact("X")
	if fx == nil || len(fx.Index) != 1 {
		t.Errorf("X: got %+v, want outer field", fx)
	}
	fy := l.MatchExact("Y")
	if fy == nil || len(fy.Index) != 2 {
		t.Errorf("Y: got %+v, want embedded field", fy)
	}
}

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

// Package fields provides a view of the fields of a struct type suitable
// for data-driven encoding and decoding: for every struct type it builds,
// once, a descriptor table of (name, alias list, index path, tag options),
// resolving embedded structs and tag conflicts the way encoding/json does.
package fields

import (
	"reflect"
	"sort"
	"strings"
	"sync"
)

// A Field records information about a single field of a struct type.
type Field struct {
	Name        string   // effective field name
	NameFromTag bool     // whether Name came from a tag
	Aliases     []string // alternate decode-time source names, in declared order
	Type        reflect.Type
	Index       []int       // index sequence for reflect.Value.FieldByIndex
	ParsedTag   interface{} // third return value of the parseTag function
}

// A ParseTagFunc is a function that accepts a struct tag and returns the
// name of the field encoded in it, whether the field should be kept,
// decode-time aliases, and any other tag information the caller wants to
// carry on the Field.
type ParseTagFunc func(reflect.StructTag) (name string, keep bool, aliases []string, other interface{}, err error)

// A Cache records information about the fields of struct types.
//
// A Cache is safe for use by multiple goroutines.
type Cache struct {
	parseTag ParseTagFunc
	cache    sync.Map // from reflect.Type to cacheValue
}

type cacheValue struct {
	fields List
	err    error
}

// NewCache constructs a Cache. The parseTag argument may be nil, in which
// case the field name is always the Go field name and no field is dropped.
func NewCache(parseTag ParseTagFunc) *Cache {
	if parseTag == nil {
		parseTag = func(reflect.StructTag) (string, bool, []string, interface{}, error) {
			return "", true, nil, nil, nil
		}
	}
	return &Cache{parseTag: parseTag}
}

// A List is a list of Fields.
type List []Field

// MatchExact returns the field in the list with the given name, or nil if
// there is none.
func (l List) MatchExact(name string) *Field {
	for i := range l {
		if l[i].Name == name {
			return &l[i]
		}
	}
	return nil
}

// MatchAlias returns the field whose alias list contains name, or nil.
// Aliases are tried in the order the fields declare them.
func (l List) MatchAlias(name string) *Field {
	for i := range l {
		for _, a := range l[i].Aliases {
			if a == name {
				return &l[i]
			}
		}
	}
	return nil
}

// MatchFold returns the field whose name matches case-insensitively, or nil.
// An exact match is preferred over a fold match.
func (l List) MatchFold(name string) *Field {
	if f := l.MatchExact(name); f != nil {
		return f
	}
	for i := range l {
		if strings.EqualFold(l[i].Name, name) {
			return &l[i]
		}
	}
	return nil
}

// Fields returns the fields of t, which must be a struct type.
func (c *Cache) Fields(t reflect.Type) (List, error) {
	if t.Kind() != reflect.Struct {
		panic("fields: Fields of non-struct type")
	}
	if cv, ok := c.cache.Load(t); ok {
		v := cv.(cacheValue)
		return v.fields, v.err
	}
	fields, err := c.typeFields(t)
	cv, _ := c.cache.LoadOrStore(t, cacheValue{fields, err})
	v := cv.(cacheValue)
	return v.fields, v.err
}

// typeFields returns the list of fields of t, resolving embedded structs
// breadth-first the way encoding/json does: a field at a shallower depth
// shadows one at a deeper depth, and among same-depth conflicts a tagged
// field wins; an unresolvable conflict drops the name.
func (c *Cache) typeFields(t reflect.Type) (List, error) {
	type node struct {
		typ   reflect.Type
		index []int
	}
	var fields []Field
	visited := map[reflect.Type]bool{}
	current := []node{{typ: t}}
	for len(current) > 0 {
		var next []node
		for _, n := range current {
			if visited[n.typ] {
				continue
			}
			visited[n.typ] = true
			for i := 0; i < n.typ.NumField(); i++ {
				sf := n.typ.Field(i)
				if sf.PkgPath != "" && !sf.Anonymous { // unexported
					continue
				}
				name, keep, aliases, other, err := c.parseTag(sf.Tag)
				if err != nil {
					return nil, err
				}
				if !keep {
					continue
				}
				index := make([]int, len(n.index)+1)
				copy(index, n.index)
				index[len(n.index)] = i

				ft := sf.Type
				if ft.Kind() == reflect.Ptr {
					ft = ft.Elem()
				}
				// Recurse into an untagged embedded struct.
				if sf.Anonymous && name == "" && ft.Kind() == reflect.Struct {
					next = append(next, node{typ: ft, index: index})
					continue
				}
				if sf.PkgPath != "" { // unexported embedded non-struct
					continue
				}
				tagged := name != ""
				if name == "" {
					name = sf.Name
				}
				fields = append(fields, Field{
					Name:        name,
					NameFromTag: tagged,
					Aliases:     aliases,
					Type:        sf.Type,
					Index:       index,
					ParsedTag:   other,
				})
			}
		}
		current = next
	}
	return resolveConflicts(fields), nil
}

func resolveConflicts(fields []Field) List {
	sort.SliceStable(fields, func(i, j int) bool {
		if fields[i].Name != fields[j].Name {
			return fields[i].Name < fields[j].Name
		}
		if len(fields[i].Index) != len(fields[j].Index) {
			return len(fields[i].Index) < len(fields[j].Index)
		}
		return fields[i].NameFromTag && !fields[j].NameFromTag
	})
	var out List
	for i := 0; i < len(fields); {
		j := i + 1
		for j < len(fields) && fields[j].Name == fields[i].Name {
			j++
		}
		group := fields[i:j]
		if f, ok := dominantField(group); ok {
			out = append(out, f)
		}
		i = j
	}
	// Restore declaration order within the struct.
	sort.Slice(out, func(i, j int) bool { return lessIndex(out[i].Index, out[j].Index) })
	return out
}

// dominantField picks the winner among fields with the same name, following
// encoding/json's rules.
func dominantField(fs []Field) (Field, bool) {
	if len(fs) == 1 {
		return fs[0], true
	}
	if len(fs[0].Index) == len(fs[1].Index) {
		// Same depth: the single tagged field wins; two tagged or two
		// untagged fields at the same depth cancel each other out.
		if fs[0].NameFromTag && !fs[1].NameFromTag {
			return fs[0], true
		}
		return Field{}, false
	}
	return fs[0], true
}

func lessIndex(a, b []int) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// ParseStandardTag parses the tag under key as a comma-separated list, the
// way encoding/json does: the first element is the name (or an empty
// string), and the rest are options. A name of "-" with no options means
// the field should be omitted.
func ParseStandardTag(key string, t reflect.StructTag) (name string, keep bool, options []string) {
	s := t.Get(key)
	parts := strings.Split(s, ",")
	if parts[0] == "-" && len(parts) == 1 {
		return "", false, nil
	}
	if len(parts) > 1 {
		options = parts[1:]
	}
	return parts[0], true, options
}

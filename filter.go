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
	pb "cloud.google.com/go/firestore/apiv1/firestorepb"
	"firedocs.dev/codec"
	"firedocs.dev/internal/fdberr"
)

// A Filter is a predicate over document fields. Filters are built with the
// comparison constructors and composed with And and Or; a Filter value is
// immutable and may be reused across queries.
type Filter interface {
	toProto(conv *codec.Convention) (*pb.StructuredQuery_Filter, error)
}

type fieldFilter struct {
	path  string
	op    pb.StructuredQuery_FieldFilter_Operator
	value interface{}
}

func (f fieldFilter) toProto(conv *codec.Convention) (*pb.StructuredQuery_Filter, error) {
	fp, err := codec.ParseFieldPath(f.path)
	if err != nil {
		return nil, err
	}
	pv, err := codec.EncodeValue(f.value, conv)
	if err != nil {
		return nil, err
	}
	return &pb.StructuredQuery_Filter{
		FilterType: &pb.StructuredQuery_Filter_FieldFilter{
			FieldFilter: &pb.StructuredQuery_FieldFilter{
				Field: fieldRef(fp),
				Op:    f.op,
				Value: pv,
			},
		},
	}, nil
}

type unaryFilter struct {
	path string
	op   pb.StructuredQuery_UnaryFilter_Operator
}

func (f unaryFilter) toProto(*codec.Convention) (*pb.StructuredQuery_Filter, error) {
	fp, err := codec.ParseFieldPath(f.path)
	if err != nil {
		return nil, err
	}
	return &pb.StructuredQuery_Filter{
		FilterType: &pb.StructuredQuery_Filter_UnaryFilter{
			UnaryFilter: &pb.StructuredQuery_UnaryFilter{
				OperandType: &pb.StructuredQuery_UnaryFilter_Field{Field: fieldRef(fp)},
				Op:          f.op,
			},
		},
	}, nil
}

type compositeFilter struct {
	op      pb.StructuredQuery_CompositeFilter_Operator
	filters []Filter
}

func (f compositeFilter) toProto(conv *codec.Convention) (*pb.StructuredQuery_Filter, error) {
	if len(f.filters) == 0 {
		return nil, fdberr.New(fdberr.InvalidArgument, nil, "composite filter has no operands")
	}
	if len(f.filters) == 1 {
		return f.filters[0].toProto(conv)
	}
	sub := make([]*pb.StructuredQuery_Filter, len(f.filters))
	for i, sf := range f.filters {
		var err error
		if sub[i], err = sf.toProto(conv); err != nil {
			return nil, err
		}
	}
	return &pb.StructuredQuery_Filter{
		FilterType: &pb.StructuredQuery_Filter_CompositeFilter{
			CompositeFilter: &pb.StructuredQuery_CompositeFilter{
				Op:      f.op,
				Filters: sub,
			},
		},
	}, nil
}

func fieldRef(fp codec.FieldPath) *pb.StructuredQuery_FieldReference {
	return &pb.StructuredQuery_FieldReference{FieldPath: fp.ToServicePath()}
}

// Equal matches documents whose field equals value.
func Equal(fieldPath string, value interface{}) Filter {
	return fieldFilter{fieldPath, pb.StructuredQuery_FieldFilter_EQUAL, value}
}

// NotEqual matches documents whose field is present and differs from value.
func NotEqual(fieldPath string, value interface{}) Filter {
	return fieldFilter{fieldPath, pb.StructuredQuery_FieldFilter_NOT_EQUAL, value}
}

// LessThan matches documents whose field is less than value.
func LessThan(fieldPath string, value interface{}) Filter {
	return fieldFilter{fieldPath, pb.StructuredQuery_FieldFilter_LESS_THAN, value}
}

// LessOrEqual matches documents whose field is at most value.
func LessOrEqual(fieldPath string, value interface{}) Filter {
	return fieldFilter{fieldPath, pb.StructuredQuery_FieldFilter_LESS_THAN_OR_EQUAL, value}
}

// GreaterThan matches documents whose field is greater than value.
func GreaterThan(fieldPath string, value interface{}) Filter {
	return fieldFilter{fieldPath, pb.StructuredQuery_FieldFilter_GREATER_THAN, value}
}

// GreaterOrEqual matches documents whose field is at least value.
func GreaterOrEqual(fieldPath string, value interface{}) Filter {
	return fieldFilter{fieldPath, pb.StructuredQuery_FieldFilter_GREATER_THAN_OR_EQUAL, value}
}

// ArrayContains matches documents whose array field contains value.
func ArrayContains(fieldPath string, value interface{}) Filter {
	return fieldFilter{fieldPath, pb.StructuredQuery_FieldFilter_ARRAY_CONTAINS, value}
}

// ArrayContainsAny matches documents whose array field contains any of
// values.
func ArrayContainsAny(fieldPath string, values ...interface{}) Filter {
	return fieldFilter{fieldPath, pb.StructuredQuery_FieldFilter_ARRAY_CONTAINS_ANY, values}
}

// In matches documents whose field equals any of values.
func In(fieldPath string, values ...interface{}) Filter {
	return fieldFilter{fieldPath, pb.StructuredQuery_FieldFilter_IN, values}
}

// NotIn matches documents whose field is present and equals none of
// values.
func NotIn(fieldPath string, values ...interface{}) Filter {
	return fieldFilter{fieldPath, pb.StructuredQuery_FieldFilter_NOT_IN, values}
}

// IsNull matches documents whose field is Null.
func IsNull(fieldPath string) Filter {
	return unaryFilter{fieldPath, pb.StructuredQuery_UnaryFilter_IS_NULL}
}

// IsNaN matches documents whose field is the floating-point NaN.
func IsNaN(fieldPath string) Filter {
	return unaryFilter{fieldPath, pb.StructuredQuery_UnaryFilter_IS_NAN}
}

// And matches documents satisfying every operand.
func And(filters ...Filter) Filter {
	return compositeFilter{pb.StructuredQuery_CompositeFilter_AND, filters}
}

// Or matches documents satisfying at least one operand.
func Or(filters ...Filter) Filter {
	return compositeFilter{pb.StructuredQuery_CompositeFilter_OR, filters}
}

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

	pb "cloud.google.com/go/firestore/apiv1/firestorepb"
	"firedocs.dev/codec"
	"firedocs.dev/internal/fdberr"
)

type aggKind int

const (
	aggCount aggKind = iota
	aggSum
	aggAvg
)

// An Aggregation names one server-computed value over a query's result
// set.
type Aggregation struct {
	alias string
	kind  aggKind
	field string
}

// Count counts the matching documents, reported under alias.
func Count(alias string) Aggregation {
	return Aggregation{alias: alias, kind: aggCount}
}

// Sum sums the numeric field over the matching documents. The result is an
// integer when every input is integral, a double otherwise.
func Sum(alias, fieldPath string) Aggregation {
	return Aggregation{alias: alias, kind: aggSum, field: fieldPath}
}

// Avg averages the numeric field over the matching documents.
func Avg(alias, fieldPath string) Aggregation {
	return Aggregation{alias: alias, kind: aggAvg, field: fieldPath}
}

func (a Aggregation) toProto() (*pb.StructuredAggregationQuery_Aggregation, error) {
	if a.alias == "" {
		return nil, fdberr.New(fdberr.InvalidArgument, nil, "aggregation needs an alias")
	}
	pa := &pb.StructuredAggregationQuery_Aggregation{Alias: a.alias}
	if a.kind == aggCount {
		pa.Operator = &pb.StructuredAggregationQuery_Aggregation_Count_{
			Count: &pb.StructuredAggregationQuery_Aggregation_Count{},
		}
		return pa, nil
	}
	fp, err := codec.ParseFieldPath(a.field)
	if err != nil {
		return nil, err
	}
	switch a.kind {
	case aggSum:
		pa.Operator = &pb.StructuredAggregationQuery_Aggregation_Sum_{
			Sum: &pb.StructuredAggregationQuery_Aggregation_Sum{Field: fieldRef(fp)},
		}
	case aggAvg:
		pa.Operator = &pb.StructuredAggregationQuery_Aggregation_Avg_{
			Avg: &pb.StructuredAggregationQuery_Aggregation_Avg{Field: fieldRef(fp)},
		}
	}
	return pa, nil
}

// AggregationResult maps aggregation aliases to their computed values:
// int64 for counts and integral sums, float64 for averages and
// floating-point sums.
type AggregationResult map[string]interface{}

// Int returns the alias's value as an integer.
func (r AggregationResult) Int(alias string) (int64, bool) {
	switch v := r[alias].(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// Float returns the alias's value as a float.
func (r AggregationResult) Float(alias string) (float64, bool) {
	switch v := r[alias].(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

// Aggregate executes only the given aggregations over the query's result
// set; no document payloads are transferred.
func (q Query) Aggregate(ctx context.Context, aggs ...Aggregation) (AggregationResult, error) {
	if len(aggs) == 0 {
		return nil, fdberr.New(fdberr.InvalidArgument, nil, "at least one aggregation is required")
	}
	sq, err := q.proto()
	if err != nil {
		return nil, err
	}
	saq := &pb.StructuredAggregationQuery{
		QueryType: &pb.StructuredAggregationQuery_StructuredQuery{StructuredQuery: sq},
	}
	for _, a := range aggs {
		pa, err := a.toProto()
		if err != nil {
			return nil, err
		}
		saq.Aggregations = append(saq.Aggregations, pa)
	}
	req := &pb.RunAggregationQueryRequest{
		Parent:    q.parentPath,
		QueryType: &pb.RunAggregationQueryRequest_StructuredAggregationQuery{StructuredAggregationQuery: saq},
	}
	var result AggregationResult
	err = q.c.retryTransient(ctx, func() error {
		ctx, cancel := context.WithCancel(withResourceHeader(ctx, q.c.dbPath))
		defer cancel()
		stream, err := q.c.c.RunAggregationQuery(ctx, req)
		if err != nil {
			return err
		}
		result = nil
		for {
			resp, err := stream.Recv()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			fields := resp.GetResult().GetAggregateFields()
			if fields == nil {
				continue
			}
			if result == nil {
				result = make(AggregationResult, len(fields))
			}
			for alias, pv := range fields {
				var x interface{}
				if err := codec.DecodeValue(pv, &x, nil); err != nil {
					return err
				}
				result[alias] = x
			}
		}
	})
	if err != nil {
		return nil, fdberr.New(fdberr.Code(err), err, "firedocs: aggregation query")
	}
	if result == nil {
		return nil, fdberr.New(fdberr.Internal, nil, "aggregation query returned no result")
	}
	return result, nil
}

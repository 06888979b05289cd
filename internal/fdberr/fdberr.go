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

// Package fdberr provides the error type used throughout firedocs.
package fdberr

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// An ErrorCode describes the error's category.
type ErrorCode int

const (
	// Returned by the Code function on a nil error. It is not a valid
	// code for an error.
	OK ErrorCode = 0

	// The error could not be categorized.
	Unknown ErrorCode = 1

	// The document or resource was not found.
	NotFound ErrorCode = 2

	// The document exists, but it should not.
	AlreadyExists ErrorCode = 3

	// A value given to a firedocs API is incorrect: a malformed field
	// path, conflicting query options, a shape mismatch in the codec.
	InvalidArgument ErrorCode = 4

	// Something unexpected happened. Internal errors always indicate
	// bugs in firedocs (or possibly the service).
	Internal ErrorCode = 5

	// The feature is not implemented.
	Unimplemented ErrorCode = 6

	// The caller does not have permission for the operation.
	PermissionDenied ErrorCode = 7

	// A server-checked write precondition (existence, update time)
	// did not hold.
	FailedPrecondition ErrorCode = 8

	// The operation was aborted by the service, typically because of a
	// transaction conflict. Retrying the whole transaction may succeed.
	Aborted ErrorCode = 9

	// The service is temporarily unavailable.
	Unavailable ErrorCode = 10

	// The operation ran over its deadline.
	DeadlineExceeded ErrorCode = 11

	// A per-caller quota or service capacity was exhausted.
	ResourceExhausted ErrorCode = 12

	// The operation was canceled by the caller.
	Canceled ErrorCode = 13
)

//go:generate stringer -type=ErrorCode

// An Error describes a firedocs error.
type Error struct {
	Code ErrorCode
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.msg == "" {
		return fmt.Sprintf("code=%v", e.Code)
	}
	return fmt.Sprintf("%s (code=%v)", e.msg, e.Code)
}

// Unwrap returns the error underlying the receiver, which may be nil.
func (e *Error) Unwrap() error {
	return e.err
}

// New returns a new error with the given code, underlying error and message.
func New(c ErrorCode, err error, msg string) *Error {
	return &Error{
		Code: c,
		msg:  msg,
		err:  err,
	}
}

// Newf uses format and args to format a message, then calls New.
func Newf(c ErrorCode, err error, format string, args ...interface{}) *Error {
	return New(c, err, fmt.Sprintf(format, args...))
}

// Code returns the ErrorCode of err. A nil error reports OK; an error that
// is not an *Error reports the code derived from its gRPC status, if any.
func Code(err error) ErrorCode {
	if err == nil {
		return OK
	}
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return GRPCCode(err)
}

// GRPCCode extracts the gRPC status code and converts it into an ErrorCode.
// It returns Unknown if the error isn't from gRPC.
func GRPCCode(err error) ErrorCode {
	switch status.Code(err) {
	case codes.NotFound:
		return NotFound
	case codes.AlreadyExists:
		return AlreadyExists
	case codes.InvalidArgument:
		return InvalidArgument
	case codes.Internal:
		return Internal
	case codes.Unimplemented:
		return Unimplemented
	case codes.PermissionDenied:
		return PermissionDenied
	case codes.FailedPrecondition:
		return FailedPrecondition
	case codes.Aborted:
		return Aborted
	case codes.Unavailable:
		return Unavailable
	case codes.DeadlineExceeded:
		return DeadlineExceeded
	case codes.ResourceExhausted:
		return ResourceExhausted
	case codes.Canceled:
		return Canceled
	default:
		return Unknown
	}
}

// IsTransient reports whether an operation that failed with err is safe to
// retry with backoff. Validation, codec and precondition failures are never
// transient; Aborted is transient only at the level of a whole transaction,
// which is why it is included here and the transaction runner relies on it.
func IsTransient(err error) bool {
	switch Code(err) {
	case Unavailable, DeadlineExceeded, ResourceExhausted, Aborted:
		return true
	default:
		return false
	}
}

// GRPCStatusCode converts a google.rpc code integer, as carried in per-item
// write statuses, into an ErrorCode. The numbering is the grpc codes package's.
func GRPCStatusCode(c int32) ErrorCode {
	return GRPCCode(status.Error(codes.Code(c), ""))
}

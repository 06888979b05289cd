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

// Package fdberrors provides support for getting error codes from
// errors returned by firedocs APIs.
package fdberrors

import (
	"errors"

	"firedocs.dev/internal/fdberr"
)

// An ErrorCode describes the error's category. Programs should act upon an
// error's code, not its message.
type ErrorCode = fdberr.ErrorCode

const (
	// Returned by the Code function on a nil error. It is not a valid
	// code for an error.
	OK ErrorCode = fdberr.OK

	// The error could not be categorized.
	Unknown ErrorCode = fdberr.Unknown

	// The document or resource was not found.
	NotFound ErrorCode = fdberr.NotFound

	// The document exists, but it should not.
	AlreadyExists ErrorCode = fdberr.AlreadyExists

	// A value given to a firedocs API is incorrect.
	InvalidArgument ErrorCode = fdberr.InvalidArgument

	// Something unexpected happened. Internal errors always indicate
	// bugs in firedocs (or possibly the service).
	Internal ErrorCode = fdberr.Internal

	// The feature is not implemented.
	Unimplemented ErrorCode = fdberr.Unimplemented

	// The caller does not have permission for the operation.
	PermissionDenied ErrorCode = fdberr.PermissionDenied

	// A server-checked write precondition did not hold.
	FailedPrecondition ErrorCode = fdberr.FailedPrecondition

	// The operation was aborted because of a transaction conflict.
	Aborted ErrorCode = fdberr.Aborted

	// The service is temporarily unavailable.
	Unavailable ErrorCode = fdberr.Unavailable

	// The operation ran over its deadline.
	DeadlineExceeded ErrorCode = fdberr.DeadlineExceeded

	// A quota or service capacity was exhausted.
	ResourceExhausted ErrorCode = fdberr.ResourceExhausted

	// The operation was canceled by the caller.
	Canceled ErrorCode = fdberr.Canceled
)

// Code returns the ErrorCode of err if it is or wraps an *fdberr.Error.
// It falls back to the code of the underlying gRPC status, if any, and
// returns Unknown for any other non-nil error. If err is nil, it returns
// the special code OK.
func Code(err error) ErrorCode {
	if err == nil {
		return OK
	}
	var e *fdberr.Error
	if errors.As(err, &e) {
		return e.Code
	}
	return fdberr.GRPCCode(err)
}

// IsTransient reports whether err is classified as a transient failure that
// is safe to retry with backoff.
func IsTransient(err error) bool {
	return fdberr.IsTransient(err)
}

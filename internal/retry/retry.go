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

// Package retry provides retries with exponential backoff for transient
// failures of idempotent RPCs.
package retry

import (
	"context"
	"fmt"
	"time"

	gax "github.com/googleapis/gax-go/v2"
)

// Call calls f repeatedly with the given backoff until f returns nil, a
// non-retryable error as determined by isRetryable, the bounded attempt
// count is exhausted, or ctx is done. The number of attempts is bounded by
// MaxAttempts when it is positive, otherwise only by the context.
func Call(ctx context.Context, bo gax.Backoff, maxAttempts int, isRetryable func(error) bool, f func() error) error {
	return call(ctx, bo, maxAttempts, isRetryable, f, gax.Sleep)
}

// Split out for testing.
func call(ctx context.Context, bo gax.Backoff, maxAttempts int, isRetryable func(error) bool, f func() error,
	sleep func(context.Context, time.Duration) error) error {
	// Do nothing if the context is done on entry.
	if err := ctx.Err(); err != nil {
		return &ContextError{CtxErr: err}
	}
	for attempt := 1; ; attempt++ {
		err := f()
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		if maxAttempts > 0 && attempt >= maxAttempts {
			return err
		}
		if cerr := sleep(ctx, bo.Pause()); cerr != nil {
			return &ContextError{CtxErr: cerr, FuncErr: err}
		}
	}
}

// A ContextError pairs a context error with the last error returned by the
// function being retried. Both are significant to the caller.
type ContextError struct {
	CtxErr  error // from ctx.Done()
	FuncErr error // from the function being retried
}

func (e *ContextError) Error() string {
	return fmt.Sprintf("%v; last error: %v", e.CtxErr, e.FuncErr)
}

// Is reports whether target matches either of the wrapped errors, so that
// errors.Is works with both the context error and the function error.
func (e *ContextError) Is(target error) bool {
	return e.CtxErr == target || e.FuncErr == target
}

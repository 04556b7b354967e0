// Copyright 2024
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

var (
	errTimeout = errors.New("timeout")

	// ErrProviderPanic wraps a panic recovered from a provider call
	ErrProviderPanic = errors.New("provider panicked")
)

type callOutcome[T any] struct {
	value T
	err   error
}

// delivered returns an outcome already waiting on done without blocking
func delivered[T any](done <-chan callOutcome[T]) (callOutcome[T], bool) {
	select {
	case out := <-done:
		return out, true
	default:
		return callOutcome[T]{}, false
	}
}

// execute runs call on its own goroutine and waits at most timeout for it.
// When the deadline passes first the goroutine is abandoned: it keeps its
// pool slot until the call returns and its result is discarded. Waiting
// for a pool slot counts against the same deadline.
func execute[T any](ctx context.Context, pool *semaphore.Weighted, timeout time.Duration, call func(context.Context) T) (T, error) {
	var zero T

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := pool.Acquire(callCtx, 1); err != nil {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, errTimeout
	}

	done := make(chan callOutcome[T], 1)

	go func() {
		defer pool.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- callOutcome[T]{err: fmt.Errorf("%w: %v", ErrProviderPanic, r)}
			}
		}()

		done <- callOutcome[T]{value: call(callCtx)}
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-callCtx.Done():
		// a call that finished as the deadline fired still counts
		if out, ok := delivered[T](done); ok {
			return out.value, out.err
		}

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, errTimeout
	}
}

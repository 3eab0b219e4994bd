// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package concurrency

import (
	"context"
	"sync"
)

// FutureState describes the terminal (or pending) state of a Future.
type FutureState uint8

const (
	FuturePending FutureState = iota
	FutureCompleted
	FutureFailed
	FutureCanceled
)

func (s FutureState) String() string {
	switch s {
	case FuturePending:
		return "pending"
	case FutureCompleted:
		return "completed"
	case FutureFailed:
		return "failed"
	case FutureCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Future is a write-once completion handle for a unit of work executed on
// another goroutine. Exactly one of Complete, Fail or Cancel latches the
// terminal state; later attempts are no-ops. Cancellation is a first-class
// state rather than a special error so that callers can distinguish
// "the work was abandoned" from "the work ran and failed".
type Future[T any] struct {
	lock   sync.Mutex
	done   chan struct{}
	state  FutureState
	result T
	err    error
}

func NewFuture[T any]() *Future[T] {
	return &Future[T]{
		done: make(chan struct{}),
	}
}

// Complete latches a successful result.
// Returns false if the future was already in a terminal state.
func (f *Future[T]) Complete(result T) bool {
	return f.latch(FutureCompleted, result, nil)
}

// Fail latches a failure.
func (f *Future[T]) Fail(err error) bool {
	var zero T
	return f.latch(FutureFailed, zero, err)
}

// Cancel latches the canceled state. A nil cause defaults to context.Canceled.
func (f *Future[T]) Cancel(cause error) bool {
	if cause == nil {
		cause = context.Canceled
	}
	var zero T
	return f.latch(FutureCanceled, zero, cause)
}

func (f *Future[T]) latch(state FutureState, result T, err error) bool {
	f.lock.Lock()
	defer f.lock.Unlock()

	if f.state != FuturePending {
		return false
	}

	f.state = state
	f.result = result
	f.err = err
	close(f.done)
	return true
}

// Done returns a channel that is closed when the future reaches a terminal state.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// State returns the current state of the future.
func (f *Future[T]) State() FutureState {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.state
}

// Result returns the latched result and error. It must only be called after
// the Done channel is closed; the channel read establishes the happens-before
// relationship for the result fields.
func (f *Future[T]) Result() (T, error) {
	return f.result, f.err
}

// Wait blocks until the future is terminal or ctx is done. A ctx expiry
// abandons the wait, not the underlying work.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

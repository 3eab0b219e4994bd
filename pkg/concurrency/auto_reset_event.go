// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package concurrency provides the synchronization primitives used by the
// execution engine and the message dispatcher.
package concurrency

// AutoResetEvent is a signal that wakes up at most one waiter per Set() call.
// Setting an already-set event is a no-op, so a burst of producers results in
// a single wake-up; the consumer is expected to drain whatever state the
// event guards before waiting again.
type AutoResetEvent struct {
	ch chan struct{}
}

func NewAutoResetEvent(initiallySet bool) *AutoResetEvent {
	e := &AutoResetEvent{
		ch: make(chan struct{}, 1),
	}
	if initiallySet {
		e.Set()
	}
	return e
}

// WaitChannel returns the channel a consumer selects on to wait for the event.
// ONLY ONE CONSUMING GOROUTINE should use this channel.
func (e *AutoResetEvent) WaitChannel() <-chan struct{} {
	return e.ch
}

// Set signals the event. Never blocks the caller.
func (e *AutoResetEvent) Set() {
	select {
	case e.ch <- struct{}{}:
	default:
	}
}

// Clear resets the event to unsignaled. Never blocks the caller.
func (e *AutoResetEvent) Clear() {
	select {
	case <-e.ch:
	default:
	}
}

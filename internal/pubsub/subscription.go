// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package pubsub implements the observer registries used for debugger and
// host events: explicit subscriptions with explicit cancellation, instead of
// ad-hoc callback lists.
package pubsub

import (
	"sync"
	"sync/atomic"
)

type Handle uint32

const InvalidHandle Handle = 0

var nextHandle atomic.Uint32

// Subscription delivers notifications from a SubscriptionSet to a sink
// channel until canceled. Cancel closes the sink and detaches the
// subscription from its owner; it is safe to call more than once.
type Subscription[T any] struct {
	handle Handle
	sink   chan<- T
	owner  *SubscriptionSet[T]
	lock   sync.Mutex
}

func newSubscription[T any](owner *SubscriptionSet[T], sink chan<- T) *Subscription[T] {
	return &Subscription[T]{
		handle: Handle(nextHandle.Add(1)),
		sink:   sink,
		owner:  owner,
	}
}

func (s *Subscription[T]) Cancel() {
	s.lock.Lock()

	handle := s.handle
	if handle != InvalidHandle {
		// Detach from the owner after the subscription lock is released.
		defer s.owner.onCancelled(handle)
	}
	defer s.lock.Unlock()

	if handle != InvalidHandle {
		s.handle = InvalidHandle
		close(s.sink)
		s.sink = nil
	}
}

func (s *Subscription[T]) notify(n T) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.sink == nil {
		return // Canceled; drop the notification.
	}

	// Subscribers must keep their sinks drained; delivery blocks until the
	// sink accepts the notification.
	s.sink <- n
}

func (s *Subscription[T]) Cancelled() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.handle == InvalidHandle
}

// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package pubsub

import "sync"

// SubscriptionSet manages the subscriptions that share one source of
// notifications. Notify fans a value out to every live subscription.
type SubscriptionSet[T any] struct {
	lock          sync.Mutex
	subscriptions map[Handle]*Subscription[T]
}

func NewSubscriptionSet[T any]() *SubscriptionSet[T] {
	return &SubscriptionSet[T]{
		subscriptions: make(map[Handle]*Subscription[T]),
	}
}

// Subscribe attaches a sink channel and returns its subscription token.
func (ss *SubscriptionSet[T]) Subscribe(sink chan<- T) *Subscription[T] {
	sub := newSubscription(ss, sink)

	ss.lock.Lock()
	defer ss.lock.Unlock()
	ss.subscriptions[sub.handle] = sub

	return sub
}

// Notify delivers n to every current subscription.
func (ss *SubscriptionSet[T]) Notify(n T) {
	ss.lock.Lock()
	current := make([]*Subscription[T], 0, len(ss.subscriptions))
	for _, sub := range ss.subscriptions {
		current = append(current, sub)
	}
	ss.lock.Unlock()

	for _, sub := range current {
		sub.notify(n)
	}
}

// CancelAll cancels every current subscription.
func (ss *SubscriptionSet[T]) CancelAll() {
	ss.lock.Lock()
	current := make([]*Subscription[T], 0, len(ss.subscriptions))
	for _, sub := range ss.subscriptions {
		current = append(current, sub)
	}
	clear(ss.subscriptions)
	ss.lock.Unlock()

	for _, sub := range current {
		sub.Cancel()
	}
}

// Len reports the number of live subscriptions.
func (ss *SubscriptionSet[T]) Len() int {
	ss.lock.Lock()
	defer ss.lock.Unlock()
	return len(ss.subscriptions)
}

func (ss *SubscriptionSet[T]) onCancelled(handle Handle) {
	ss.lock.Lock()
	defer ss.lock.Unlock()
	delete(ss.subscriptions, handle)
}

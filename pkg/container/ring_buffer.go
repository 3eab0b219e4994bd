// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package container holds basic data structures shared by the host.
package container

const (
	initialSize  = 8 // must be a power of 2
	growthFactor = 2
	shrinkFactor = 4
)

// RingBuffer is a growable FIFO buffer backed by a circular slice.
// Unlike a bounded buffer it never discards items: queued work must be
// either executed or explicitly failed, so the buffer grows as needed.
// It is not goroutine-safe; callers provide their own locking.
type RingBuffer[T any] struct {
	items []T
	head  int // read index
	count int
}

func NewRingBuffer[T any]() *RingBuffer[T] {
	return &RingBuffer[T]{
		items: make([]T, initialSize),
	}
}

// Push appends an item at the tail, growing the buffer if it is full.
func (rb *RingBuffer[T]) Push(v T) {
	if rb.count == len(rb.items) {
		rb.resize(len(rb.items) * growthFactor)
	}
	rb.items[(rb.head+rb.count)%len(rb.items)] = v
	rb.count++
}

// PushFront prepends an item at the head, ahead of everything already queued.
func (rb *RingBuffer[T]) PushFront(v T) {
	if rb.count == len(rb.items) {
		rb.resize(len(rb.items) * growthFactor)
	}
	rb.head = (rb.head - 1 + len(rb.items)) % len(rb.items)
	rb.items[rb.head] = v
	rb.count++
}

// Pop removes and returns the oldest item.
// The second value is false if the buffer was empty.
func (rb *RingBuffer[T]) Pop() (T, bool) {
	var zero T
	if rb.count == 0 {
		return zero, false
	}

	v := rb.items[rb.head]
	rb.items[rb.head] = zero
	rb.head = (rb.head + 1) % len(rb.items)
	rb.count--

	if size := len(rb.items); rb.count <= size/shrinkFactor && size/growthFactor >= initialSize {
		rb.resize(size / growthFactor)
	}

	return v, true
}

// Peek returns the oldest item without removing it.
func (rb *RingBuffer[T]) Peek() (T, bool) {
	var zero T
	if rb.count == 0 {
		return zero, false
	}
	return rb.items[rb.head], true
}

func (rb *RingBuffer[T]) Len() int {
	return rb.count
}

func (rb *RingBuffer[T]) Empty() bool {
	return rb.count == 0
}

func (rb *RingBuffer[T]) resize(newSize int) {
	newItems := make([]T, newSize)
	for i := 0; i < rb.count; i++ {
		newItems[i] = rb.items[(rb.head+i)%len(rb.items)]
	}
	rb.items = newItems
	rb.head = 0
}

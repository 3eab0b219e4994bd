// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package concurrency

import (
	"context"

	"github.com/PowerShell/PowerShellEditorServices-sub012/pkg/container"
)

// UnboundedChan is a channel with an elastic buffer between its In and Out
// ends. Writers block only for the short time it takes the pump goroutine to
// move data into the buffer, which lets the pipeline thread emit protocol
// messages without ever waiting on a slow transport.
//
// The pump goroutine exits when the associated context is canceled. Closing
// the In channel signals that no more data will be written; buffered data is
// still delivered to Out before Out is closed.
//
// Multiple writers and readers are supported.
type UnboundedChan[T any] struct {
	In  chan<- T // channel for writing data
	Out <-chan T // channel for reading data
	buf *container.RingBuffer[T]
}

// NewUnboundedChan creates an unbounded channel with unbuffered In and Out ends.
func NewUnboundedChan[T any](ctx context.Context) *UnboundedChan[T] {
	in := make(chan T)
	out := make(chan T)

	ch := UnboundedChan[T]{
		In:  in,
		Out: out,
		buf: container.NewRingBuffer[T](),
	}

	go ch.pump(ctx, in, out)

	return &ch
}

func (ch *UnboundedChan[T]) pump(ctx context.Context, in <-chan T, out chan<- T) {
	defer close(out)

	for {
		if ch.buf.Empty() {
			if in == nil {
				return // Input closed and buffer drained.
			}
			select {
			case <-ctx.Done():
				return
			case v, isOpen := <-in:
				if !isOpen {
					return
				}
				ch.buf.Push(v)
			}
			continue
		}

		next, _ := ch.buf.Peek()
		select {
		case <-ctx.Done():
			return
		case v, isOpen := <-in:
			if !isOpen {
				// Keep draining the buffer, but stop reading input.
				in = nil
			} else {
				ch.buf.Push(v)
			}
		case out <- next:
			_, _ = ch.buf.Pop()
		}
	}
}

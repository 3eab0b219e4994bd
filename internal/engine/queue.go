// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package engine

import (
	"context"
	"sync"

	"github.com/PowerShell/PowerShellEditorServices-sub012/pkg/concurrency"
	"github.com/PowerShell/PowerShellEditorServices-sub012/pkg/container"
)

// TaskQueue is the blocking FIFO of pending pipeline work. Producers run on
// arbitrary goroutines; the single consumer is the pipeline goroutine.
//
// Ordering is strict FIFO within each priority class. EnqueueFront is the
// dedicated high-priority path, reserved for interrupt-class work that must
// run before the queued backlog.
type TaskQueue struct {
	lock    sync.Mutex
	buf     *container.RingBuffer[task]
	newData *concurrency.AutoResetEvent
	closed  bool
}

func NewTaskQueue() *TaskQueue {
	return &TaskQueue{
		buf:     container.NewRingBuffer[task](),
		newData: concurrency.NewAutoResetEvent(false),
	}
}

// Enqueue appends a task in FIFO order.
func (q *TaskQueue) Enqueue(t task) error {
	return q.enqueue(t, false)
}

// EnqueueFront queues a task ahead of everything already pending.
func (q *TaskQueue) EnqueueFront(t task) error {
	return q.enqueue(t, true)
}

func (q *TaskQueue) enqueue(t task, front bool) error {
	q.lock.Lock()
	if q.closed {
		q.lock.Unlock()
		return ErrQueueClosed
	}
	if front {
		q.buf.PushFront(t)
	} else {
		q.buf.Push(t)
	}
	q.lock.Unlock()

	q.newData.Set()
	return nil
}

// Dequeue blocks until a task is available, ctx is canceled, or the queue is
// closed. An already-canceled ctx fails immediately without consuming a task.
func (q *TaskQueue) Dequeue(ctx context.Context) (task, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	for {
		t, ok, closed := q.tryDequeue()
		if ok {
			return t, nil
		}
		if closed {
			return nil, ErrQueueClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.newData.WaitChannel():
		}
	}
}

func (q *TaskQueue) tryDequeue() (task, bool, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()

	t, ok := q.buf.Pop()
	if !ok {
		return nil, false, q.closed
	}
	if !q.buf.Empty() {
		// More work pending; keep the event set so the consumer comes back
		// without waiting.
		q.newData.Set()
	}
	return t, true, false
}

// Close rejects further enqueues and abandons everything still queued.
func (q *TaskQueue) Close(cause error) {
	q.lock.Lock()
	if q.closed {
		q.lock.Unlock()
		return
	}
	q.closed = true
	var abandoned []task
	for {
		t, ok := q.buf.Pop()
		if !ok {
			break
		}
		abandoned = append(abandoned, t)
	}
	q.lock.Unlock()

	// Wake the consumer so a blocked Dequeue observes the closed state.
	q.newData.Set()

	for _, t := range abandoned {
		t.abandon(cause)
	}
}

// Len reports the number of queued tasks.
func (q *TaskQueue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.buf.Len()
}

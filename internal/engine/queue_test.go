// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/PowerShell/PowerShellEditorServices-sub012/pkg/concurrency"

	"github.com/PowerShell/PowerShellEditorServices-sub012/internal/shell"
)

func newTestTask(name string) *delegateTask[int] {
	return &delegateTask[int]{
		name:   name,
		caller: context.Background(),
		fn: func(ctx context.Context, rt shell.Runtime) (int, error) {
			return 0, nil
		},
		future: concurrency.NewFuture[int](),
	}
}

func TestQueueFIFO(t *testing.T) {
	t.Parallel()

	q := NewTaskQueue()
	names := []string{"first", "second", "third", "fourth"}
	for _, name := range names {
		require.NoError(t, q.Enqueue(newTestTask(name)))
	}

	ctx := context.Background()
	for _, want := range names {
		got, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.Equal(t, want, got.label())
	}
}

func TestQueueEnqueueFrontRunsFirst(t *testing.T) {
	t.Parallel()

	q := NewTaskQueue()
	require.NoError(t, q.Enqueue(newTestTask("normal1")))
	require.NoError(t, q.Enqueue(newTestTask("normal2")))
	require.NoError(t, q.EnqueueFront(newTestTask("urgent")))

	ctx := context.Background()
	for _, want := range []string{"urgent", "normal1", "normal2"} {
		got, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.Equal(t, want, got.label())
	}
}

func TestQueueDequeueBlocksUntilEnqueue(t *testing.T) {
	t.Parallel()

	q := NewTaskQueue()
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = q.Enqueue(newTestTask("late"))
	}()

	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "late", got.label())
}

func TestQueueDequeueFailsImmediatelyOnCanceledContext(t *testing.T) {
	t.Parallel()

	q := NewTaskQueue()
	require.NoError(t, q.Enqueue(newTestTask("pending")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)
	// The queued task was not consumed.
	require.Equal(t, 1, q.Len())
}

func TestQueueCloseRejectsEnqueueAndAbandonsQueued(t *testing.T) {
	t.Parallel()

	q := NewTaskQueue()
	queued := newTestTask("doomed")
	require.NoError(t, q.Enqueue(queued))

	q.Close(ErrEngineStopped)

	require.ErrorIs(t, q.Enqueue(newTestTask("rejected")), ErrQueueClosed)

	<-queued.future.Done()
	require.Equal(t, concurrency.FutureCanceled, queued.future.State())
	_, err := queued.future.Result()
	require.ErrorIs(t, err, ErrEngineStopped)

	_, dequeueErr := q.Dequeue(context.Background())
	require.ErrorIs(t, dequeueErr, ErrQueueClosed)
}

func TestQueueCloseWakesBlockedDequeue(t *testing.T) {
	t.Parallel()

	q := NewTaskQueue()
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close(ErrEngineStopped)

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(time.Second):
		require.Fail(t, "Dequeue did not observe queue closure")
	}
}

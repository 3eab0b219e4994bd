// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package concurrency_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/PowerShell/PowerShellEditorServices-sub012/pkg/concurrency"
)

func TestUnboundedChanPreservesOrder(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := concurrency.NewUnboundedChan[int](ctx)
	const n = 1000

	// Write everything before reading anything; a plain channel would block.
	for i := 0; i < n; i++ {
		ch.In <- i
	}

	for i := 0; i < n; i++ {
		require.Equal(t, i, <-ch.Out)
	}
}

func TestUnboundedChanDrainsAfterInputClose(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := concurrency.NewUnboundedChan[string](ctx)
	ch.In <- "a"
	ch.In <- "b"
	close(ch.In)

	require.Equal(t, "a", <-ch.Out)
	require.Equal(t, "b", <-ch.Out)

	_, isOpen := <-ch.Out
	require.False(t, isOpen)
}

func TestUnboundedChanStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	ch := concurrency.NewUnboundedChan[int](ctx)
	ch.In <- 1
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, isOpen := <-ch.Out:
			if !isOpen {
				return // Out closed, pump exited.
			}
		case <-deadline:
			require.Fail(t, "pump did not exit after context cancellation")
		}
	}
}

func TestAutoResetEventCoalescesSets(t *testing.T) {
	t.Parallel()

	e := concurrency.NewAutoResetEvent(false)
	e.Set()
	e.Set()
	e.Set()

	<-e.WaitChannel()
	select {
	case <-e.WaitChannel():
		require.Fail(t, "multiple Set() calls must coalesce into one wake-up")
	default:
	}
}

func TestAutoResetEventInitiallySet(t *testing.T) {
	t.Parallel()

	e := concurrency.NewAutoResetEvent(true)
	select {
	case <-e.WaitChannel():
	default:
		require.Fail(t, "event should start signaled")
	}
}

func TestContextAwareLockTryLock(t *testing.T) {
	t.Parallel()

	l := concurrency.NewContextAwareLock()
	require.True(t, l.TryLock())
	require.False(t, l.TryLock())
	l.Unlock()
	require.True(t, l.TryLock())
	l.Unlock()
}

func TestContextAwareLockRespectsContext(t *testing.T) {
	t.Parallel()

	l := concurrency.NewContextAwareLock()
	require.NoError(t, l.Lock(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, l.Lock(ctx), context.DeadlineExceeded)

	l.Unlock()
	require.NoError(t, l.Lock(context.Background()))
	l.Unlock()
}

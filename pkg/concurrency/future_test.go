// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package concurrency_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/PowerShell/PowerShellEditorServices-sub012/pkg/concurrency"
)

func TestFutureCompleteLatches(t *testing.T) {
	t.Parallel()

	f := concurrency.NewFuture[int]()
	require.Equal(t, concurrency.FuturePending, f.State())

	require.True(t, f.Complete(42))
	require.False(t, f.Fail(errors.New("too late")))
	require.False(t, f.Cancel(nil))

	<-f.Done()
	v, err := f.Result()
	require.NoError(t, err)
	require.Equal(t, 42, v)
	require.Equal(t, concurrency.FutureCompleted, f.State())
}

func TestFutureCancelState(t *testing.T) {
	t.Parallel()

	f := concurrency.NewFuture[string]()
	require.True(t, f.Cancel(nil))

	_, err := f.Result()
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, concurrency.FutureCanceled, f.State())
}

func TestFutureWaitAbandonedByContext(t *testing.T) {
	t.Parallel()

	f := concurrency.NewFuture[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The future itself is untouched by the abandoned wait.
	require.Equal(t, concurrency.FuturePending, f.State())
}

func TestFutureWaitDeliversResultAcrossGoroutines(t *testing.T) {
	t.Parallel()

	f := concurrency.NewFuture[int]()
	go func() {
		time.Sleep(10 * time.Millisecond)
		f.Complete(7)
	}()

	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, 7, v)
}

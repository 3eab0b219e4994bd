// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func requireCanceled(t *testing.T, ctx context.Context) {
	t.Helper()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		require.Fail(t, "context was not canceled in time")
	}
}

func TestScopeStackPushPopLIFO(t *testing.T) {
	t.Parallel()

	st := newScopeStack(context.Background())
	outer := st.Push(ScopeTopLevel)
	inner := st.Push(ScopeDebuggerStop)

	require.Equal(t, 2, st.Depth())
	require.Same(t, inner, st.Current())
	require.Equal(t, 2, inner.Depth())

	st.Pop(inner)
	require.Same(t, outer, st.Current())
	st.Pop(outer)
	require.Nil(t, st.Current())
}

func TestScopePopOutOfOrderPanics(t *testing.T) {
	t.Parallel()

	st := newScopeStack(context.Background())
	outer := st.Push(ScopeTopLevel)
	st.Push(ScopeNestedPrompt)

	require.Panics(t, func() { st.Pop(outer) })
}

func TestScopePopEmptyPanics(t *testing.T) {
	t.Parallel()

	st := newScopeStack(context.Background())
	scope := st.Push(ScopeTopLevel)
	st.Pop(scope)

	require.Panics(t, func() { st.Pop(scope) })
}

// Cancelling an outer scope must cancel everything nested under it, while
// cancelling a child leaves its parent running.
func TestScopeCancellationIsHierarchical(t *testing.T) {
	t.Parallel()

	st := newScopeStack(context.Background())
	outer := st.Push(ScopeTopLevel)
	middle := st.Push(ScopeDebuggerStop)
	inner := st.Push(ScopeDebuggerStop)

	inner.Cancel()
	requireCanceled(t, inner.Ctx())
	require.NoError(t, middle.Ctx().Err())
	require.NoError(t, outer.Ctx().Err())

	outer.Cancel()
	requireCanceled(t, middle.Ctx())
}

// A scope linked to an extra parent (a debugger stop's resume token) is
// canceled when that parent fires, even though the enclosing scope is not.
func TestScopeExtraParentCancellation(t *testing.T) {
	t.Parallel()

	st := newScopeStack(context.Background())
	outer := st.Push(ScopeTopLevel)

	resumeToken, resume := context.WithCancel(context.Background())
	stopScope := st.Push(ScopeDebuggerStop, resumeToken)

	resume()
	requireCanceled(t, stopScope.Ctx())
	require.NoError(t, outer.Ctx().Err())
}

func TestScopeRootCancellationReachesAllScopes(t *testing.T) {
	t.Parallel()

	root, cancelRoot := context.WithCancel(context.Background())
	st := newScopeStack(root)
	outer := st.Push(ScopeTopLevel)
	inner := st.Push(ScopeNestedPrompt)

	cancelRoot()
	requireCanceled(t, outer.Ctx())
	requireCanceled(t, inner.Ctx())
}

func TestCancelStackTargetsTop(t *testing.T) {
	t.Parallel()

	cs := &cancelStack{}
	require.False(t, cs.cancelTop())

	outerCtx, outerCancel := context.WithCancel(context.Background())
	innerCtx, innerCancel := context.WithCancel(context.Background())
	cs.push(outerCancel)
	cs.push(innerCancel)

	require.True(t, cs.cancelTop())
	requireCanceled(t, innerCtx)
	require.NoError(t, outerCtx.Err())

	cs.pop()
	cs.pop()
	require.Panics(t, func() { cs.pop() })
}

// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package engine

import (
	"context"
	"sync"

	"github.com/PowerShell/PowerShellEditorServices-sub012/pkg/concurrency"
)

// ScopeReason tags what kind of nesting level a cancellation scope represents.
type ScopeReason int

const (
	ScopeTopLevel ScopeReason = iota
	ScopeNestedPrompt
	ScopeDebuggerStop
)

func (r ScopeReason) String() string {
	switch r {
	case ScopeTopLevel:
		return "topLevel"
	case ScopeNestedPrompt:
		return "nestedPrompt"
	case ScopeDebuggerStop:
		return "debuggerStop"
	default:
		return "unknown"
	}
}

// CancellationScope is one nesting level of execution. Its context is linked
// to the enclosing scope and to any extra parents supplied at push time, so
// cancellation of any ancestor, of global shutdown, or of the scope-specific
// token (e.g. a debugger stop's resume token) all propagate to work started
// under this scope.
type CancellationScope struct {
	reason ScopeReason
	depth  int
	ctx    context.Context
	cancel context.CancelFunc
}

func (s *CancellationScope) Reason() ScopeReason  { return s.reason }
func (s *CancellationScope) Depth() int           { return s.depth }
func (s *CancellationScope) Ctx() context.Context { return s.ctx }

// Cancel cancels this scope and, through linking, everything nested under it.
func (s *CancellationScope) Cancel() { s.cancel() }

// scopeStack maintains the strict LIFO discipline of cancellation scopes.
// Push/Pop happen on the pipeline goroutine; Current and Depth may be read
// from other goroutines, hence the lock.
type scopeStack struct {
	lock   sync.Mutex
	root   context.Context
	scopes []*CancellationScope
}

func newScopeStack(root context.Context) *scopeStack {
	return &scopeStack{root: root}
}

// Push creates a scope linked to the enclosing scope (or the root context for
// the first scope) plus any extra parents, and makes it the current scope.
func (st *scopeStack) Push(reason ScopeReason, extraParents ...context.Context) *CancellationScope {
	st.lock.Lock()
	defer st.lock.Unlock()

	parent := st.root
	if n := len(st.scopes); n > 0 {
		parent = st.scopes[n-1].ctx
	}

	parents := make([]context.Context, 0, len(extraParents)+1)
	parents = append(parents, parent)
	parents = append(parents, extraParents...)
	ctx, cancel := concurrency.LinkedContext(parents...)

	scope := &CancellationScope{
		reason: reason,
		depth:  len(st.scopes) + 1,
		ctx:    ctx,
		cancel: cancel,
	}
	st.scopes = append(st.scopes, scope)
	return scope
}

// Pop removes the given scope, which must be the current top. Popping out of
// order or from an empty stack is a loop-reentry bug and panics.
func (st *scopeStack) Pop(s *CancellationScope) {
	st.lock.Lock()
	n := len(st.scopes)
	if n == 0 {
		st.lock.Unlock()
		panic("engine: Pop on empty cancellation scope stack")
	}
	if st.scopes[n-1] != s {
		st.lock.Unlock()
		panic("engine: cancellation scope popped out of order")
	}
	st.scopes = st.scopes[:n-1]
	st.lock.Unlock()

	s.cancel()
}

// Current returns the topmost scope, or nil when the stack is empty.
func (st *scopeStack) Current() *CancellationScope {
	st.lock.Lock()
	defer st.lock.Unlock()
	if n := len(st.scopes); n > 0 {
		return st.scopes[n-1]
	}
	return nil
}

// Depth reports the number of scopes on the stack.
func (st *scopeStack) Depth() int {
	st.lock.Lock()
	defer st.lock.Unlock()
	return len(st.scopes)
}

// cancelStack tracks the cancel function of the in-flight task at each
// nesting level, so that "cancel current command" can target only the
// innermost running task without touching the loop scopes.
type cancelStack struct {
	lock  sync.Mutex
	stack []context.CancelFunc
}

func (cs *cancelStack) push(cancel context.CancelFunc) {
	cs.lock.Lock()
	defer cs.lock.Unlock()
	cs.stack = append(cs.stack, cancel)
}

func (cs *cancelStack) pop() {
	cs.lock.Lock()
	defer cs.lock.Unlock()
	if len(cs.stack) == 0 {
		panic("engine: pop on empty command cancellation stack")
	}
	cs.stack = cs.stack[:len(cs.stack)-1]
}

// cancelTop cancels the innermost in-flight task, if any.
// Returns false when no task is running.
func (cs *cancelStack) cancelTop() bool {
	cs.lock.Lock()
	defer cs.lock.Unlock()
	if n := len(cs.stack); n > 0 {
		cs.stack[n-1]()
		return true
	}
	return false
}

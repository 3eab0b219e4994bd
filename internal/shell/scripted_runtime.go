// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package shell

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// CommandFunc implements one command of a ScriptedRuntime. It receives the
// runtime so it can enter debugger stops, and must observe ctx cancellation.
type CommandFunc func(ctx context.Context, rt *ScriptedRuntime, args []string) ([]any, error)

// ScriptedRuntime is an in-process Runtime backed by registered Go functions.
// It serves the host's standalone mode and the test suites, and it enforces
// the single-writer rule with a concurrency guard that counts overlapping
// Execute calls.
type ScriptedRuntime struct {
	lock      sync.Mutex
	commands  map[string]CommandFunc
	stop      DebuggerStopHandler
	bpUpdated BreakpointUpdateHandler
	editor    LineEditor

	breakpoints map[int]Breakpoint
	nextBpID    int

	breakRequested atomic.Bool

	// Concurrency guard: must never observe more than one in-flight Execute.
	inFlight       atomic.Int32
	maxObserved    atomic.Int32
	executionCount atomic.Int64
}

func NewScriptedRuntime() *ScriptedRuntime {
	return &ScriptedRuntime{
		commands:    make(map[string]CommandFunc),
		breakpoints: make(map[int]Breakpoint),
		nextBpID:    1,
	}
}

// RegisterCommand adds or replaces a command implementation.
func (rt *ScriptedRuntime) RegisterCommand(name string, fn CommandFunc) {
	rt.lock.Lock()
	defer rt.lock.Unlock()
	rt.commands[name] = fn
}

// SetLineEditor installs the optional line-editing capability.
func (rt *ScriptedRuntime) SetLineEditor(editor LineEditor) {
	rt.lock.Lock()
	defer rt.lock.Unlock()
	rt.editor = editor
}

func (rt *ScriptedRuntime) Execute(ctx context.Context, cmd Command, opts ExecutionOptions) ([]any, error) {
	depth := rt.inFlight.Add(1)
	defer rt.inFlight.Add(-1)
	for {
		observed := rt.maxObserved.Load()
		if depth <= observed || rt.maxObserved.CompareAndSwap(observed, depth) {
			break
		}
	}
	rt.executionCount.Add(1)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	if rt.breakRequested.CompareAndSwap(true, false) {
		action := rt.EnterDebuggerStop(DebuggerStopEvent{
			Reason: StopReasonPause,
			Script: cmd.Text,
		})
		if action == ResumeActionAbort {
			return nil, ErrExecutionAborted
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
	}

	rt.lock.Lock()
	fn, found := rt.commands[cmd.Text]
	rt.lock.Unlock()
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrCommandNotFound, cmd.Text)
	}

	return fn(ctx, rt, cmd.Arguments)
}

func (rt *ScriptedRuntime) SetDebuggerStopHandler(h DebuggerStopHandler) {
	rt.lock.Lock()
	defer rt.lock.Unlock()
	rt.stop = h
}

func (rt *ScriptedRuntime) SetBreakpointUpdateHandler(h BreakpointUpdateHandler) {
	rt.lock.Lock()
	defer rt.lock.Unlock()
	rt.bpUpdated = h
}

func (rt *ScriptedRuntime) RequestBreak() {
	rt.breakRequested.Store(true)
}

func (rt *ScriptedRuntime) LineEditor() LineEditor {
	rt.lock.Lock()
	defer rt.lock.Unlock()
	return rt.editor
}

// EnterDebuggerStop invokes the installed stop handler on the calling
// goroutine, blocking until a resume action is chosen. Command functions call
// this to simulate hitting a breakpoint. Without a handler the stop is a
// no-op that continues.
func (rt *ScriptedRuntime) EnterDebuggerStop(ev DebuggerStopEvent) ResumeAction {
	rt.lock.Lock()
	handler := rt.stop
	rt.lock.Unlock()

	if handler == nil {
		return ResumeActionContinue
	}
	return handler(ev)
}

// SetBreakpoint records a breakpoint and notifies the update handler.
func (rt *ScriptedRuntime) SetBreakpoint(script string, line int) Breakpoint {
	rt.lock.Lock()
	bp := Breakpoint{ID: rt.nextBpID, Script: script, Line: line}
	rt.nextBpID++
	rt.breakpoints[bp.ID] = bp
	handler := rt.bpUpdated
	rt.lock.Unlock()

	if handler != nil {
		handler(BreakpointUpdate{Kind: BreakpointSet, Breakpoint: bp})
	}
	return bp
}

// RemoveBreakpoint removes a breakpoint and notifies the update handler.
func (rt *ScriptedRuntime) RemoveBreakpoint(id int) bool {
	rt.lock.Lock()
	bp, found := rt.breakpoints[id]
	if found {
		delete(rt.breakpoints, id)
	}
	handler := rt.bpUpdated
	rt.lock.Unlock()

	if !found {
		return false
	}
	if handler != nil {
		handler(BreakpointUpdate{Kind: BreakpointRemoved, Breakpoint: bp})
	}
	return true
}

// ClearBreakpoints removes every breakpoint in the given script, notifying
// the update handler for each. DAP setBreakpoints replaces a script's whole
// breakpoint set, so the old set has to go first.
func (rt *ScriptedRuntime) ClearBreakpoints(script string) {
	rt.lock.Lock()
	var removed []Breakpoint
	for id, bp := range rt.breakpoints {
		if bp.Script == script {
			removed = append(removed, bp)
			delete(rt.breakpoints, id)
		}
	}
	handler := rt.bpUpdated
	rt.lock.Unlock()

	if handler == nil {
		return
	}
	for _, bp := range removed {
		handler(BreakpointUpdate{Kind: BreakpointRemoved, Breakpoint: bp})
	}
}

// MaxObservedConcurrency reports the highest number of overlapping Execute
// calls seen so far. Anything above 1 is a single-writer violation.
func (rt *ScriptedRuntime) MaxObservedConcurrency() int {
	return int(rt.maxObserved.Load())
}

// ExecutionCount reports how many Execute calls have started.
func (rt *ScriptedRuntime) ExecutionCount() int64 {
	return rt.executionCount.Load()
}

var _ Runtime = (*ScriptedRuntime)(nil)

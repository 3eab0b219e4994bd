// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package shell defines the boundary between the host and the interpreter
// runtime. The runtime is stateful and non-reentrant: exactly one goroutine
// (the engine's pipeline goroutine) is permitted to call Execute, and the
// debugger stop handler is invoked synchronously on that same goroutine.
package shell

import "context"

// Command is one interpreter invocation: a command or script text plus
// positional arguments.
type Command struct {
	Text      string
	Arguments []string
}

// ExecutionOptions control how a command runs on the pipeline.
type ExecutionOptions struct {
	// WriteOutputToHost mirrors command output to the host's output stream
	// in addition to returning it to the caller.
	WriteOutputToHost bool

	// AddToHistory records the command in the interactive history.
	AddToHistory bool
}

// ResumeAction is the debugger command chosen to end a stop.
type ResumeAction int

const (
	ResumeActionNone ResumeAction = iota
	ResumeActionContinue
	ResumeActionStepOver
	ResumeActionStepInto
	ResumeActionStepOut
	ResumeActionAbort
)

func (a ResumeAction) String() string {
	switch a {
	case ResumeActionNone:
		return "none"
	case ResumeActionContinue:
		return "continue"
	case ResumeActionStepOver:
		return "stepOver"
	case ResumeActionStepInto:
		return "stepInto"
	case ResumeActionStepOut:
		return "stepOut"
	case ResumeActionAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// StopReason describes why the debugger stopped.
type StopReason int

const (
	StopReasonBreakpoint StopReason = iota
	StopReasonStep
	StopReasonPause
	StopReasonException
)

func (r StopReason) String() string {
	switch r {
	case StopReasonBreakpoint:
		return "breakpoint"
	case StopReasonStep:
		return "step"
	case StopReasonPause:
		return "pause"
	case StopReasonException:
		return "exception"
	default:
		return "unknown"
	}
}

// Breakpoint identifies a source location the debugger can stop at.
type Breakpoint struct {
	ID     int
	Script string
	Line   int
	Column int
}

// DebuggerStopEvent carries the metadata of one debugger stop.
type DebuggerStopEvent struct {
	Reason         StopReason
	Script         string
	Line           int
	Column         int
	BreakpointsHit []Breakpoint
	Message        string
}

// BreakpointUpdateKind describes what happened to a breakpoint.
type BreakpointUpdateKind int

const (
	BreakpointSet BreakpointUpdateKind = iota
	BreakpointRemoved
	BreakpointEnabled
	BreakpointDisabled
)

// BreakpointUpdate is raised when the runtime's breakpoint table changes.
type BreakpointUpdate struct {
	Kind       BreakpointUpdateKind
	Breakpoint Breakpoint
}

// DebuggerStopHandler is invoked synchronously on the pipeline goroutine when
// the runtime stops. The runtime remains stopped until the handler returns;
// the returned action tells it how to resume.
type DebuggerStopHandler func(stop DebuggerStopEvent) ResumeAction

// BreakpointUpdateHandler is invoked when the runtime's breakpoints change.
type BreakpointUpdateHandler func(update BreakpointUpdate)

// LineEditor is the optional interactive line-editing capability. Runtimes
// without one return nil from LineEditor; callers must handle the absent case.
type LineEditor interface {
	ReadLine(ctx context.Context) (string, error)
}

// Runtime is the interpreter collaborator. Implementations are not required
// to be goroutine-safe: all calls except RequestBreak happen on the pipeline
// goroutine.
type Runtime interface {
	// Execute runs one command and returns its output objects. It must
	// observe ctx cancellation between pipeline steps; the host never
	// forcibly kills the executing goroutine.
	Execute(ctx context.Context, cmd Command, opts ExecutionOptions) ([]any, error)

	// SetDebuggerStopHandler installs the handler invoked on debugger stops.
	SetDebuggerStopHandler(h DebuggerStopHandler)

	// SetBreakpointUpdateHandler installs the handler invoked on breakpoint changes.
	SetBreakpointUpdateHandler(h BreakpointUpdateHandler)

	// RequestBreak asks the runtime to break into the debugger at the next
	// sequence point. Safe to call from any goroutine; does not wait for the
	// stop to happen.
	RequestBreak()

	// LineEditor returns the optional line-editing capability, or nil.
	LineEditor() LineEditor
}

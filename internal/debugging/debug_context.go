// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package debugging

import (
	"errors"
	"sync"

	"github.com/go-logr/logr"

	"github.com/PowerShell/PowerShellEditorServices-sub012/internal/pubsub"
	"github.com/PowerShell/PowerShellEditorServices-sub012/internal/shell"
)

var (
	// ErrNotStopped is returned when a resume action is requested while the
	// debugger is not stopped.
	ErrNotStopped = errors.New("debugger is not stopped")
)

// DebugContext mediates between the execution engine, the runtime's debugger
// and the protocol layer. The engine calls BeginStop/EndStop on the pipeline
// goroutine; protocol handlers call the resume methods from arbitrary
// goroutines.
type DebugContext struct {
	log logr.Logger
	rt  shell.Runtime

	lock  sync.Mutex
	stops []*StopState // nested stops, innermost last

	stopped   *pubsub.SubscriptionSet[shell.DebuggerStopEvent]
	resuming  *pubsub.SubscriptionSet[shell.ResumeAction]
	bpUpdated *pubsub.SubscriptionSet[shell.BreakpointUpdate]
}

func NewDebugContext(log logr.Logger, rt shell.Runtime) *DebugContext {
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &DebugContext{
		log:       log,
		rt:        rt,
		stopped:   pubsub.NewSubscriptionSet[shell.DebuggerStopEvent](),
		resuming:  pubsub.NewSubscriptionSet[shell.ResumeAction](),
		bpUpdated: pubsub.NewSubscriptionSet[shell.BreakpointUpdate](),
	}
}

// BeginStop records a new (possibly nested) debugger stop and notifies
// DebuggerStopped subscribers. Called on the pipeline goroutine.
func (d *DebugContext) BeginStop(ev shell.DebuggerStopEvent) *StopState {
	s := newStopState(ev)

	d.lock.Lock()
	d.stops = append(d.stops, s)
	depth := len(d.stops)
	d.lock.Unlock()

	d.log.V(1).Info("debugger stopped", "reason", ev.Reason.String(), "script", ev.Script, "line", ev.Line, "depth", depth)
	d.stopped.Notify(ev)
	return s
}

// EndStop pops the given stop state, which must be the innermost one, and
// notifies DebuggerResuming subscribers. Popping out of order indicates a
// loop-reentry bug and panics.
func (d *DebugContext) EndStop(s *StopState) shell.ResumeAction {
	d.lock.Lock()
	if len(d.stops) == 0 || d.stops[len(d.stops)-1] != s {
		d.lock.Unlock()
		panic("debugging: EndStop does not match the innermost stop")
	}
	d.stops = d.stops[:len(d.stops)-1]
	d.lock.Unlock()

	action := s.ResumeAction()
	s.dispose()

	d.log.V(1).Info("debugger resuming", "action", action.String())
	d.resuming.Notify(action)
	return action
}

// CurrentStop returns the innermost stop state, or nil when running.
func (d *DebugContext) CurrentStop() *StopState {
	d.lock.Lock()
	defer d.lock.Unlock()
	if len(d.stops) == 0 {
		return nil
	}
	return d.stops[len(d.stops)-1]
}

// IsStopped reports whether the debugger is currently stopped.
func (d *DebugContext) IsStopped() bool {
	return d.CurrentStop() != nil
}

// Continue resumes normal execution.
func (d *DebugContext) Continue() error {
	return d.resume(shell.ResumeActionContinue)
}

// StepOver resumes for one statement, stepping over calls.
func (d *DebugContext) StepOver() error {
	return d.resume(shell.ResumeActionStepOver)
}

// StepInto resumes for one statement, stepping into calls.
func (d *DebugContext) StepInto() error {
	return d.resume(shell.ResumeActionStepInto)
}

// StepOut resumes until the current frame returns.
func (d *DebugContext) StepOut() error {
	return d.resume(shell.ResumeActionStepOut)
}

// Abort stops debugging and aborts the command that was stopped.
func (d *DebugContext) Abort() error {
	return d.resume(shell.ResumeActionAbort)
}

func (d *DebugContext) resume(action shell.ResumeAction) error {
	s := d.CurrentStop()
	if s == nil {
		return ErrNotStopped
	}
	if !s.SetResumeAction(action) {
		// A racing resume request got there first.
		d.log.V(2).Info("resume action already set, ignoring", "requested", action.String())
	}
	return nil
}

// BreakExecution asks the runtime to break into the debugger at the next
// sequence point. It does not wait for the stop to happen.
func (d *DebugContext) BreakExecution() {
	d.log.V(1).Info("async break requested")
	d.rt.RequestBreak()
}

// NotifyBreakpointUpdated fans a breakpoint change out to subscribers. The
// engine wires the runtime's breakpoint handler to this method.
func (d *DebugContext) NotifyBreakpointUpdated(update shell.BreakpointUpdate) {
	d.bpUpdated.Notify(update)
}

// OnDebuggerStopped subscribes to stop events.
func (d *DebugContext) OnDebuggerStopped(sink chan<- shell.DebuggerStopEvent) *pubsub.Subscription[shell.DebuggerStopEvent] {
	return d.stopped.Subscribe(sink)
}

// OnDebuggerResuming subscribes to resume events.
func (d *DebugContext) OnDebuggerResuming(sink chan<- shell.ResumeAction) *pubsub.Subscription[shell.ResumeAction] {
	return d.resuming.Subscribe(sink)
}

// OnBreakpointUpdated subscribes to breakpoint change events.
func (d *DebugContext) OnBreakpointUpdated(sink chan<- shell.BreakpointUpdate) *pubsub.Subscription[shell.BreakpointUpdate] {
	return d.bpUpdated.Subscribe(sink)
}

// Close cancels all subscriptions.
func (d *DebugContext) Close() {
	d.stopped.CancelAll()
	d.resuming.CancelAll()
	d.bpUpdated.CancelAll()
}

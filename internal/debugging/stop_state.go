// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package debugging tracks debugger stop/resume state for the execution
// engine and fans debugger events out to subscribers.
package debugging

import (
	"context"
	"sync"

	"github.com/PowerShell/PowerShellEditorServices-sub012/internal/shell"
)

// StopState represents one "stopped in the debugger" episode. Its token is
// canceled exactly when a resume action is latched, which is what unblocks
// the queue-consumption loop entered because of the stop.
type StopState struct {
	lock      sync.Mutex
	event     shell.DebuggerStopEvent
	action    shell.ResumeAction
	actionSet bool

	ctx    context.Context
	cancel context.CancelFunc
}

func newStopState(ev shell.DebuggerStopEvent) *StopState {
	ctx, cancel := context.WithCancel(context.Background())
	return &StopState{
		event:  ev,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Event returns the stop event that created this state.
func (s *StopState) Event() shell.DebuggerStopEvent {
	return s.event
}

// Token returns the context that is canceled when the stop resumes.
func (s *StopState) Token() context.Context {
	return s.ctx
}

// SetResumeAction latches the pending resume action and cancels the token.
// Only the first call wins; later calls report false and change nothing.
func (s *StopState) SetResumeAction(action shell.ResumeAction) bool {
	s.lock.Lock()
	if s.actionSet {
		s.lock.Unlock()
		return false
	}
	s.action = action
	s.actionSet = true
	s.lock.Unlock()

	s.cancel()
	return true
}

// ResumeAction returns the latched action, or ResumeActionNone if resume was
// never requested explicitly (e.g. the enclosing scope was canceled).
func (s *StopState) ResumeAction() shell.ResumeAction {
	s.lock.Lock()
	defer s.lock.Unlock()
	if !s.actionSet {
		return shell.ResumeActionNone
	}
	return s.action
}

// Resumed reports whether a resume action has been latched.
func (s *StopState) Resumed() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.actionSet
}

func (s *StopState) dispose() {
	s.cancel()
}

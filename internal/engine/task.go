// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/PowerShell/PowerShellEditorServices-sub012/pkg/concurrency"

	"github.com/PowerShell/PowerShellEditorServices-sub012/internal/shell"
)

// task is one unit of work for the pipeline goroutine. Implementations latch
// their outcome into a Future; run is called exactly once, and abandon is
// called instead of run when the task is skipped.
type task interface {
	// label is the human-readable task description used in diagnostics.
	label() string

	// callerContext is the enqueuing caller's context; its cancellation is
	// linked into the task's effective context.
	callerContext() context.Context

	// run executes the task on the pipeline goroutine. It must not panic:
	// failures, cancellation and panics are all captured into the future.
	run(ctx context.Context, rt shell.Runtime)

	// abandon latches the canceled state without running.
	abandon(cause error)
}

// latchOutcome routes a task result into its future, mapping context
// cancellation to the canceled state rather than a failure.
func latchOutcome[T any](f *concurrency.Future[T], result T, err error) {
	switch {
	case err == nil:
		f.Complete(result)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, shell.ErrExecutionAborted):
		f.Cancel(err)
	default:
		f.Fail(err)
	}
}

// delegateTask runs an arbitrary function against the runtime.
type delegateTask[T any] struct {
	name   string
	caller context.Context
	fn     func(ctx context.Context, rt shell.Runtime) (T, error)
	future *concurrency.Future[T]
}

func (t *delegateTask[T]) label() string                  { return t.name }
func (t *delegateTask[T]) callerContext() context.Context { return t.caller }

func (t *delegateTask[T]) run(ctx context.Context, rt shell.Runtime) {
	defer func() {
		if r := recover(); r != nil {
			t.future.Fail(fmt.Errorf("task '%s' panicked: %v", t.name, r))
		}
	}()

	result, err := t.fn(ctx, rt)
	latchOutcome(t.future, result, err)
}

func (t *delegateTask[T]) abandon(cause error) {
	t.future.Cancel(cause)
}

// commandTask runs one interpreter command.
type commandTask struct {
	name   string
	caller context.Context
	cmd    shell.Command
	opts   shell.ExecutionOptions
	future *concurrency.Future[[]any]
}

func (t *commandTask) label() string                  { return t.name }
func (t *commandTask) callerContext() context.Context { return t.caller }

func (t *commandTask) run(ctx context.Context, rt shell.Runtime) {
	defer func() {
		if r := recover(); r != nil {
			t.future.Fail(fmt.Errorf("command '%s' panicked: %v", t.name, r))
		}
	}()

	result, err := rt.Execute(ctx, t.cmd, t.opts)
	latchOutcome(t.future, result, err)
}

func (t *commandTask) abandon(cause error) {
	t.future.Cancel(cause)
}

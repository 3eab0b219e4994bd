// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package engine

import "errors"

var (
	// ErrQueueClosed is returned when enqueueing after the queue shut down.
	ErrQueueClosed = errors.New("task queue is closed")

	// ErrEngineStopped is returned when work is submitted to an engine that
	// is shutting down or stopped.
	ErrEngineStopped = errors.New("execution engine is stopped")

	// ErrAlreadyStarted is returned by Start when the engine is already running.
	ErrAlreadyStarted = errors.New("execution engine already started")

	// ErrNotOnPipelineGoroutine is returned when an operation that must run
	// inside a task is called from anywhere else.
	ErrNotOnPipelineGoroutine = errors.New("operation must be called from a task running on the pipeline goroutine")

	// ErrNoNestedPrompt is returned by ExitNestedPrompt when the innermost
	// loop is not a nested prompt.
	ErrNoNestedPrompt = errors.New("no nested prompt is active")
)

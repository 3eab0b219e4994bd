// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package shell

import "errors"

var (
	// ErrCommandNotFound is returned when a command name has no registered implementation.
	ErrCommandNotFound = errors.New("command not found")

	// ErrExecutionAborted is returned when the debugger aborts the command
	// that was stopped.
	ErrExecutionAborted = errors.New("execution aborted by debugger")
)

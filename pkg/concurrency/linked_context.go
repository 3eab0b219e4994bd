// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package concurrency

import "context"

// LinkedContext derives a context that is canceled as soon as any of the
// given parents is canceled, or when the returned CancelFunc is called.
// The first parent is the value-carrying parent; the others contribute only
// their cancellation. This is the multi-source linking used to make a task
// cancelable by its own caller, the current command-cancellation target, the
// enclosing loop scope and global shutdown all at once.
func LinkedContext(parents ...context.Context) (context.Context, context.CancelFunc) {
	if len(parents) == 0 {
		return context.WithCancel(context.Background())
	}

	ctx, cancel := context.WithCancel(parents[0])
	for _, extra := range parents[1:] {
		if extra == nil {
			continue
		}
		// Each watcher exits when the child itself is done, so linking
		// never leaks past the lifetime of the derived context.
		go func(p context.Context) {
			select {
			case <-ctx.Done():
			case <-p.Done():
				cancel()
			}
		}(extra)
	}

	return ctx, cancel
}

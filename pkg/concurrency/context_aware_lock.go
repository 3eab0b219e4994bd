// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package concurrency

import "context"

// ContextAwareLock is a mutex whose Lock() can be abandoned when the passed
// context is done. It also exposes TryLock() for callers that must not wait,
// such as the prompt guard that rejects a second concurrent prompt.
type ContextAwareLock struct {
	ch chan struct{}
}

func NewContextAwareLock() *ContextAwareLock {
	return &ContextAwareLock{
		ch: make(chan struct{}, 1),
	}
}

func (l *ContextAwareLock) Lock(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case l.ch <- struct{}{}:
	}

	// Guard against the race where the context expires and the lock is
	// acquired at the same time.
	if ctx.Err() != nil {
		l.Unlock()
		return ctx.Err()
	}

	return nil
}

func (l *ContextAwareLock) TryLock() bool {
	select {
	case l.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

func (l *ContextAwareLock) Unlock() {
	// Non-blocking for caller
	select {
	case <-l.ch:
	default:
	}
}

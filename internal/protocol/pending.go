// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package protocol

import (
	"encoding/json"
	"sync"

	"github.com/PowerShell/PowerShellEditorServices-sub012/pkg/concurrency"
)

// pendingRequestMap tracks outbound requests awaiting responses, keyed by
// correlation id. Entries are removed on first matching response.
type pendingRequestMap struct {
	mu       sync.Mutex
	requests map[int]*concurrency.Future[json.RawMessage]
}

func newPendingRequestMap() *pendingRequestMap {
	return &pendingRequestMap{
		requests: make(map[int]*concurrency.Future[json.RawMessage]),
	}
}

// Add registers a pending request.
func (m *pendingRequestMap) Add(id int, f *concurrency.Future[json.RawMessage]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[id] = f
}

// Get retrieves and removes the pending request for the given id.
// Returns nil if no request is waiting on that id.
func (m *pendingRequestMap) Get(id int) *concurrency.Future[json.RawMessage] {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.requests[id]
	if !ok {
		return nil
	}

	delete(m.requests, id)
	return f
}

// Remove discards the pending request for the given id, if any.
func (m *pendingRequestMap) Remove(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.requests, id)
}

// Len returns the number of pending requests.
func (m *pendingRequestMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// DrainWithError fails every pending request and clears the map. Used during
// shutdown so that callers blocked on a response are not leaked.
func (m *pendingRequestMap) DrainWithError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, f := range m.requests {
		f.Fail(err)
	}

	m.requests = make(map[int]*concurrency.Future[json.RawMessage])
}

// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package syncmap is a generic, type-safe wrapper over standard library sync.Map.
package syncmap

import "sync"

type Map[Key comparable, Value any] struct {
	m sync.Map
}

// Store sets the value for a key, replacing any previous value atomically.
func (m *Map[Key, Value]) Store(key Key, value Value) {
	m.m.Store(key, value)
}

// Load returns the value stored for the key, and whether it was present.
func (m *Map[Key, Value]) Load(key Key) (Value, bool) {
	v, found := m.m.Load(key)
	if !found {
		var zero Value
		return zero, false
	}
	return v.(Value), true
}

// Delete removes the value for the key, if any.
func (m *Map[Key, Value]) Delete(key Key) {
	m.m.Delete(key)
}

// LoadAndDelete atomically removes and returns the value for the key.
// The boolean is false if the key had no value.
func (m *Map[Key, Value]) LoadAndDelete(key Key) (Value, bool) {
	v, found := m.m.LoadAndDelete(key)
	if !found {
		var zero Value
		return zero, false
	}
	return v.(Value), true
}

// Range calls f for each key-value pair. Iteration stops if f returns false.
func (m *Map[Key, Value]) Range(f func(key Key, value Value) bool) {
	m.m.Range(func(key, value any) bool {
		return f(key.(Key), value.(Value))
	})
}

// Len counts the entries. The count is a snapshot and may be stale under
// concurrent mutation.
func (m *Map[Key, Value]) Len() int {
	n := 0
	m.m.Range(func(any, any) bool {
		n++
		return true
	})
	return n
}

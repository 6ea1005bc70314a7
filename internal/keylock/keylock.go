// Package keylock provides a mutex per string key, used to serialize
// orchestration turns that share a conversation id.
package keylock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Map hands out one mutex per key. Entries are reference counted and
// dropped once nobody holds or waits on them, so the map does not grow
// with the number of conversations ever seen.
type Map struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty Map.
func New() *Map {
	return &Map{entries: make(map[string]*entry)}
}

// Lock blocks until the key is free and returns the matching unlock func.
func (m *Map) Lock(key string) func() {
	e := m.acquire(key)
	e.mu.Lock()
	return func() { m.release(key, e) }
}

// TryLock acquires the key only if nobody else holds it.
func (m *Map) TryLock(key string) (func(), bool) {
	e := m.acquire(key)
	if !e.mu.TryLock() {
		m.drop(key, e)
		return nil, false
	}
	return func() { m.release(key, e) }, true
}

// Held reports whether any caller currently holds or waits on key.
func (m *Map) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	return ok
}

func (m *Map) acquire(key string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	e.refs++
	return e
}

func (m *Map) release(key string, e *entry) {
	e.mu.Unlock()
	m.drop(key, e)
}

func (m *Map) drop(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
}

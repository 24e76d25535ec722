package storage

import (
	"errors"
	"sync"
)

// memoryMedium keeps keys in a map. It is useful for tests and for runs
// that should leave nothing behind.
type memoryMedium struct {
	mu          sync.RWMutex
	items       map[string]string
	unavailable bool
}

func newMemoryMedium() *memoryMedium {
	return &memoryMedium{items: make(map[string]string)}
}

// NewMemoryStore creates a Store backed by an in-memory map.
func NewMemoryStore(prefix string, capacity int64) *Store {
	return newStore(newMemoryMedium(), prefix, capacity)
}

// setUnavailable simulates a medium that is disabled in the environment.
func (m *memoryMedium) setUnavailable(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = v
}

func (m *memoryMedium) Ping() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.unavailable {
		return errors.New("memory medium disabled")
	}
	return nil
}

func (m *memoryMedium) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	if !ok {
		return "", errMissing
	}
	return v, nil
}

func (m *memoryMedium) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
	return nil
}

func (m *memoryMedium) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *memoryMedium) Keys() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	return keys, nil
}

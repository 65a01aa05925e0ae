package storage

import (
	"context"
	"sync"
)

// MemoryMap is an in-process DurableMap. It keeps no state across restarts
// and is meant for tests and ephemeral development setups.
type MemoryMap struct {
	mu     sync.RWMutex
	values map[string][]byte
}

func NewMemoryMap() *MemoryMap {
	return &MemoryMap{values: make(map[string][]byte)}
}

func (m *MemoryMap) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, found := m.values[string(key)]
	if !found {
		return nil, false, nil
	}
	return append([]byte{}, value...), true, nil
}

func (m *MemoryMap) Insert(ctx context.Context, key []byte, value []byte) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	previous, found := m.values[string(key)]
	m.values[string(key)] = append([]byte{}, value...)
	return previous, found, nil
}

// Len returns the number of stored keys.
func (m *MemoryMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

func (m *MemoryMap) Available(ctx context.Context) bool { return true }

func (m *MemoryMap) Name() string { return "memory" }

func (m *MemoryMap) LocationURI() string { return "memory://" }

func (m *MemoryMap) Close() error { return nil }

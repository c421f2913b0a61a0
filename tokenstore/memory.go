package tokenstore

import (
	"context"
	"sync"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store. It does not survive a restart and is
// used by tests and `HMS_STORE=memory`.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[Key]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[Key]string),
	}
}

func (m *MemoryStore) Get(_ context.Context, key Key) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key Key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = value
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (m *MemoryStore) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, key)
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

package store

import (
	"context"
	"sync"
)

// MemoryBackend is an in-memory thread-safe backend.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string][]byte)}
}

func memoryKey(namespace, key string) string {
	return namespace + "\x00" + key
}

// Get returns a copy of the stored value.
func (m *MemoryBackend) Get(_ context.Context, namespace, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.records[memoryKey(namespace, key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Apply stores all writes under a single lock.
func (m *MemoryBackend) Apply(_ context.Context, writes []Write) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range writes {
		m.records[memoryKey(w.Namespace, w.Key)] = append([]byte(nil), w.Value...)
	}
	return nil
}

func (m *MemoryBackend) Close() error { return nil }

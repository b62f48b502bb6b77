package objectstore

import (
	"context"
	"sync"
)

// Memory is an in-process tier, used in development and tests.
type Memory struct {
	name string
	mu   sync.RWMutex
	objs map[string][]byte
}

// NewMemory creates an empty memory tier.
func NewMemory(name string) *Memory {
	if name == "" {
		name = "memory"
	}

	return &Memory{name: name, objs: make(map[string][]byte)}
}

// Name returns the tier name
func (m *Memory) Name() string { return m.name }

// Get returns a copy of the object at key.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objs[key]
	if !ok {
		return nil, ErrNotFound(key)
	}

	return append([]byte(nil), data...), nil
}

// GetRange returns a copy of part of the object at key.
func (m *Memory) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objs[key]
	if !ok {
		return nil, ErrNotFound(key)
	}
	if offset >= int64(len(data)) {
		return []byte{}, nil
	}
	end := offset + length
	if end > int64(len(data)) {
		end = int64(len(data))
	}

	return append([]byte(nil), data[offset:end]...), nil
}

// Put stores a copy of data.
func (m *Memory) Put(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objs[key] = append([]byte(nil), data...)

	return nil
}

// Exists reports whether key is stored.
func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objs[key]

	return ok, nil
}

// Len returns the number of stored objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.objs)
}

package store

import (
	"bytes"
	"context"
	"sync"
)

// Memory is a process-local KV. It survives "restarts" only as long as the
// same *Memory value is reused, which is exactly what tests need to simulate
// reloading the queue from storage.
type Memory struct {
	mu   sync.Mutex
	data map[string][]byte
}

var _ KV = (*Memory)(nil)

// NewMemory creates an empty in-memory KV.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Save stores a copy of value.
func (m *Memory) Save(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = bytes.Clone(value)
	return nil
}

// Load returns a copy of the stored value.
func (m *Memory) Load(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(v), true, nil
}

// Update applies fn to the current value under the Memory lock.
func (m *Memory) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, found := m.data[key]
	next, err := fn(bytes.Clone(current), found)
	if err != nil {
		return err
	}
	m.data[key] = bytes.Clone(next)
	return nil
}

package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/felixgeelhaar/taskhub/internal/errors"
)

// Memory is an in-memory KV for development and tests. Values round-trip
// through JSON so callers always get independent copies, the same
// guarantee a real storage engine would give.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Get decodes the value for key into out and reports whether it existed.
func (m *Memory) Get(ctx context.Context, key string, out any) (bool, error) {
	m.mu.RLock()
	raw, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, errors.Wrap(errors.ErrCodeStoreUnmarshal, "decode value for key "+key, err)
	}
	return true, nil
}

// Set stores value under key, replacing any previous value.
func (m *Memory) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreMarshal, "encode value for key "+key, err)
	}
	m.mu.Lock()
	m.data[key] = raw
	m.mu.Unlock()
	return nil
}

// Delete removes key.
func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// Has reports whether key exists.
func (m *Memory) Has(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	_, ok := m.data[key]
	m.mu.RUnlock()
	return ok, nil
}

// Keys returns all stored keys.
func (m *Memory) Keys(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys, nil
}

package store

import (
	"context"
	"sort"
	"sync"
)

// Memory keeps items in process memory. It is used for local runs and tests.
type Memory struct {
	data map[string]string
	mu   sync.RWMutex
}

func NewMemory() *Memory {
	return &Memory{
		data: map[string]string{},
	}
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *Memory) Keys(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Ping(context.Context) error {
	return nil
}

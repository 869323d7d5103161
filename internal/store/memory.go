package store

import (
	"bytes"
	"sort"
	"strconv"
	"sync"
)

// Memory is an in-process Store used in tests and for ephemeral collections.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(key []byte) ([]byte, Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.data[string(key)]
	if !ok {
		return nil, StatusNotFound, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, StatusFound, nil
}

func (m *Memory) Insert(key []byte, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	m.data[string(key)] = stored
	return nil
}

func (m *Memory) Remove(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

func (m *Memory) Increment(key []byte, delta uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var current uint64
	if raw, ok := m.data[string(key)]; ok {
		parsed, err := strconv.ParseUint(string(raw), 10, 32)
		if err != nil {
			return 0, err
		}
		current = parsed
	}
	next := uint32(current) + delta
	m.data[string(key)] = []byte(strconv.FormatUint(uint64(next), 10))
	return next, nil
}

func (m *Memory) Scan(prefix []byte, fn func(key []byte, value []byte) error) error {
	m.mu.RLock()
	keys := make([]string, 0)
	for k := range m.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	m.mu.RUnlock()
	sort.Strings(keys)
	for _, k := range keys {
		m.mu.RLock()
		value, ok := m.data[k]
		m.mu.RUnlock()
		if !ok {
			continue
		}
		if err := fn([]byte(k), value); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Close() error {
	return nil
}

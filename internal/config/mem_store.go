package config

import "sync"

// MemStore is an in-memory StateStore that never writes to disk.
type MemStore struct {
	mu    sync.Mutex
	state *RuntimeState
	saves int
}

func NewMemStore() *MemStore {
	return &MemStore{}
}

func (m *MemStore) Load() (*RuntimeState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return &RuntimeState{}, nil
	}
	cp := *m.state
	return &cp, nil
}

func (m *MemStore) Save(state *RuntimeState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *state
	m.state = &cp
	m.saves++
	return nil
}

// Saves counts Save calls.
func (m *MemStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *MemStore) Path() string { return ":memory:" }
func (m *MemStore) Flush() error { return nil }

var (
	_ StateStore = (*MemStore)(nil)
	_ StateStore = (*JSONStore)(nil)
)

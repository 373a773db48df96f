package config

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	stateFileName = "state.json"
	debounceDelay = 500 * time.Millisecond
)

// JSONStore is an atomic JSON file store with debounced writes.
type JSONStore struct {
	mu      sync.Mutex
	path    string
	timer   *time.Timer
	pending *RuntimeState
}

// NewJSONStore creates a store for state.json in dir.
func NewJSONStore(dir string) *JSONStore {
	return &JSONStore{path: filepath.Join(dir, stateFileName)}
}

func (s *JSONStore) Path() string { return s.path }

// Load reads the state from disk. A missing or corrupt file yields a zero
// state so the radio still starts.
func (s *JSONStore) Load() (*RuntimeState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &RuntimeState{}, nil
		}
		return nil, err
	}

	var st RuntimeState
	if err := json.Unmarshal(data, &st); err != nil {
		slog.Warn("config: corrupt state file, starting fresh", "path", s.path, "err", err)
		return &RuntimeState{}, nil
	}
	migrateState(&st)
	return &st, nil
}

// Save schedules a write after debounceDelay of no further Save calls.
func (s *JSONStore) Save(state *RuntimeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *state
	s.pending = &cp

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(debounceDelay, func() {
		s.mu.Lock()
		st := s.pending
		s.mu.Unlock()
		if st != nil {
			if err := s.writeAtomic(st); err != nil {
				slog.Error("config: failed to write state", "path", s.path, "err", err)
			}
		}
	})
	return nil
}

// Flush forces an immediate write of any pending state.
func (s *JSONStore) Flush() error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	st := s.pending
	s.pending = nil
	s.mu.Unlock()
	if st == nil {
		return nil
	}
	return s.writeAtomic(st)
}

func (s *JSONStore) writeAtomic(state *RuntimeState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	// Write to temp file, then rename (atomic on Linux)
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}

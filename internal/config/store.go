// Package config loads the daemon configuration file and persists the small
// amount of runtime state that must survive a restart.
package config

// RuntimeState is what the orchestrator persists: the source to restore on
// power on and whether the radio was on.
type RuntimeState struct {
	LastSource string `json:"last_source,omitempty"`
	Powered    bool   `json:"powered"`
}

// StateStore is the interface for persisting runtime state.
type StateStore interface {
	// Load returns the stored state, or a zero state if nothing was saved.
	Load() (*RuntimeState, error)

	// Save persists the state. Implementations may debounce rapid saves.
	Save(state *RuntimeState) error

	// Path returns the file path used by this store.
	Path() string

	// Flush forces an immediate write of any pending state.
	Flush() error
}

// Package backends implements the adapters that translate the unified
// control vocabulary into each music backend's native protocol.
//
// Every adapter owns its connection and its own lock: a failure in one
// adapter never affects another.
package backends

import (
	"context"
	"errors"
	"time"

	"github.com/kitchenradio/kitchenradio-go/internal/models"
)

// ErrNotConnected is returned by commands issued while the adapter has no
// live connection to its backend.
var ErrNotConnected = errors.New("backend not connected")

// Adapter is the capability set the orchestrator relies on.
type Adapter interface {
	Type() models.BackendType

	// Connect establishes the connection, retrying with backoff until it
	// succeeds or ctx is cancelled. It returns ctx.Err() on cancellation.
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool

	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error

	// Volume returns ok=false when the backend cannot report a volume.
	Volume(ctx context.Context) (v int, ok bool, err error)
	// SetVolume expects v already clamped to [0, 100].
	SetVolume(ctx context.Context, v int) error

	Status(ctx context.Context) (models.BackendStatus, error)
}

// Notifier is implemented by adapters that can push change notifications.
// A receive on Changes means the state should be re-sampled now.
type Notifier interface {
	Changes() <-chan struct{}
}

// Pairer is implemented by adapters that support a discoverable pairing mode.
type Pairer interface {
	// EnterPairing makes the device discoverable. timeout 0 means until
	// ExitPairing is called.
	EnterPairing(ctx context.Context, timeout time.Duration) error
	ExitPairing(ctx context.Context) error
	Pairing() bool
}

// Playlister is implemented by adapters with stored playlists.
type Playlister interface {
	Playlists(ctx context.Context) ([]string, error)
	LoadPlaylist(ctx context.Context, name string) error
}

// notify performs a non-blocking wake-up on a change channel.
func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Package api implements the HTTP REST API of the radio.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/kitchenradio/kitchenradio-go/internal/identity"
	"github.com/kitchenradio/kitchenradio-go/internal/models"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	radio  Radio
	events EventSource
	info   identity.Info
}

// Radio is the control and query surface the handlers drive.
type Radio interface {
	Status(ctx context.Context) models.Status
	CurrentSource() models.BackendType
	AvailableSources() []models.BackendType
	SetSource(ctx context.Context, b models.BackendType) error

	PowerOn(ctx context.Context) error
	PowerOff(ctx context.Context) error
	TogglePower(ctx context.Context) error

	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	PlayPause(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error

	Volume(ctx context.Context) (int, bool)
	SetVolume(ctx context.Context, v int) (int, error)
	VolumeUp(ctx context.Context, step int) (int, error)
	VolumeDown(ctx context.Context, step int) (int, error)

	Playlists(ctx context.Context) ([]string, error)
	LoadPlaylist(ctx context.Context, name string) error
}

// EventSource hands out channel subscriptions for the SSE stream.
type EventSource interface {
	SubscribeChan(kind models.EventKind, buffer int) (string, <-chan models.Event)
	Unsubscribe(id string) bool
}

// Result is the body of a successful control request.
type Result struct {
	OK     bool               `json:"ok"`
	Reason string             `json:"reason,omitempty"`
	Source models.BackendType `json:"source,omitempty"`
	Volume *int               `json:"volume,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes err as a JSON response, using the AppError status when
// err is or wraps one.
func writeError(w http.ResponseWriter, err error) {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		writeJSON(w, appErr.Status, appErr)
		return
	}
	writeJSON(w, http.StatusInternalServerError, models.ErrInternal(err.Error()))
}

// intQuery reads an optional integer query parameter.
func intQuery(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, models.ErrBadRequest("invalid " + name + " parameter")
	}
	return n, nil
}

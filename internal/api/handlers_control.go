package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kitchenradio/kitchenradio-go/internal/models"
)

func (h *Handlers) transport(w http.ResponseWriter, r *http.Request) {
	var fn func(context.Context) error
	switch cmd := chi.URLParam(r, "cmd"); cmd {
	case "play":
		fn = h.radio.Play
	case "pause":
		fn = h.radio.Pause
	case "stop":
		fn = h.radio.Stop
	case "play_pause":
		fn = h.radio.PlayPause
	case "next":
		fn = h.radio.Next
	case "previous", "prev":
		fn = h.radio.Previous
	default:
		writeError(w, models.ErrNotFound("unknown transport command "+cmd))
		return
	}
	if err := fn(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Result{OK: true})
}

type volumeRequest struct {
	Volume *int `json:"volume"`
}

func (h *Handlers) getVolume(w http.ResponseWriter, r *http.Request) {
	res := Result{OK: true}
	if v, ok := h.radio.Volume(r.Context()); ok {
		res.Volume = &v
	} else {
		res.Reason = "volume unavailable"
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) setVolume(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.ErrBadRequest("invalid JSON: "+err.Error()))
		return
	}
	if req.Volume == nil {
		writeError(w, &models.AppError{Code: models.CodeInvalidVolume, Message: "volume is required", Field: "volume", Status: http.StatusBadRequest})
		return
	}
	v, err := h.radio.SetVolume(r.Context(), *req.Volume)
	if err != nil {
		writeError(w, err)
		return
	}
	res := Result{OK: true, Volume: &v}
	if v != *req.Volume {
		res.Reason = "clamped"
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) stepVolume(w http.ResponseWriter, r *http.Request) {
	step, err := intQuery(r, "step", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	var v int
	switch dir := chi.URLParam(r, "dir"); dir {
	case "up":
		v, err = h.radio.VolumeUp(r.Context(), step)
	case "down":
		v, err = h.radio.VolumeDown(r.Context(), step)
	default:
		writeError(w, models.ErrNotFound("unknown volume direction "+dir))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Result{OK: true, Volume: &v})
}

func (h *Handlers) getPlaylists(w http.ResponseWriter, r *http.Request) {
	names, err := h.radio.Playlists(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"playlists": names})
}

func (h *Handlers) loadPlaylist(w http.ResponseWriter, r *http.Request) {
	if err := h.radio.LoadPlaylist(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Result{OK: true})
}

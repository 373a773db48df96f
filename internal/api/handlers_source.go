package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kitchenradio/kitchenradio-go/internal/models"
)

type sourceResponse struct {
	Source  models.BackendType `json:"source"`
	Label   string             `json:"label"`
	Powered bool               `json:"powered"`
}

type sourcesResponse struct {
	Active    models.BackendType   `json:"active"`
	Available []models.BackendType `json:"available"`
	All       []models.BackendType `json:"all"`
}

func (h *Handlers) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.radio.Status(r.Context()))
}

func (h *Handlers) getSource(w http.ResponseWriter, r *http.Request) {
	st := h.radio.Status(r.Context())
	writeJSON(w, http.StatusOK, sourceResponse{
		Source:  st.ActiveSource,
		Label:   st.ActiveSource.Label(),
		Powered: st.Powered,
	})
}

func (h *Handlers) getSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sourcesResponse{
		Active:    h.radio.CurrentSource(),
		Available: h.radio.AvailableSources(),
		All:       models.AllBackends(),
	})
}

func (h *Handlers) setSource(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "backend")
	b, err := models.ParseBackendType(name)
	if err != nil || !b.Valid() {
		writeError(w, models.ErrUnknownBackend(name))
		return
	}
	if err := h.radio.SetSource(r.Context(), b); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Result{OK: true, Source: h.radio.CurrentSource()})
}

func (h *Handlers) power(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var err error
	switch action := chi.URLParam(r, "action"); action {
	case "on":
		err = h.radio.PowerOn(ctx)
	case "off":
		err = h.radio.PowerOff(ctx)
	case "toggle":
		err = h.radio.TogglePower(ctx)
	default:
		writeError(w, models.ErrNotFound("unknown power action "+action))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Result{OK: true, Source: h.radio.CurrentSource()})
}

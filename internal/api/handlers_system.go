package api

import (
	"image/png"
	"log/slog"
	"net/http"

	"github.com/kitchenradio/kitchenradio-go/internal/display"
)

type infoResponse struct {
	Name      string   `json:"name"`
	Hostname  string   `json:"hostname"`
	Version   string   `json:"version"`
	Backends  []string `json:"backends"`
	UptimeSec int64    `json:"uptime_sec"`
}

func (h *Handlers) getInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, infoResponse{
		Name:      h.info.Name,
		Hostname:  h.info.Hostname,
		Version:   h.info.Version,
		Backends:  h.info.Backends,
		UptimeSec: int64(h.info.Uptime().Seconds()),
	})
}

// getDisplay renders what the front panel screen shows, for remote preview.
func (h *Handlers) getDisplay(w http.ResponseWriter, r *http.Request) {
	width, err := intQuery(r, "w", display.DefaultWidth)
	if err != nil {
		writeError(w, err)
		return
	}
	height, err := intQuery(r, "h", display.DefaultHeight)
	if err != nil {
		writeError(w, err)
		return
	}
	if width > 1024 || height > 1024 {
		width, height = display.DefaultWidth, display.DefaultHeight
	}
	img := display.Render(h.radio.Status(r.Context()), width, height)
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	if err := png.Encode(w, img); err != nil {
		slog.Debug("api: encode display png", "err", err)
	}
}

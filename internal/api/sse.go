package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kitchenradio/kitchenradio-go/internal/models"
)

const (
	sseBuffer    = 32
	sseKeepalive = 15 * time.Second
)

// sseEvents streams forwarded orchestrator events. Clients receive the
// current status immediately, then one SSE message per event, named by its
// kind. Events are dropped for clients that fall behind.
func (h *Handlers) sseEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	id, ch := h.events.SubscribeChan(models.EventAny, sseBuffer)
	defer h.events.Unsubscribe(id)

	sendSSE(w, flusher, "status", h.radio.Status(r.Context()))

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			sendSSE(w, flusher, string(ev.Kind), ev)
		case <-keepalive.C:
			_, _ = fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func sendSSE(w http.ResponseWriter, flusher http.Flusher, name string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	flusher.Flush()
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kitchenradio/kitchenradio-go/internal/identity"
)

// NewRouter creates and returns the main HTTP router.
func NewRouter(radio Radio, events EventSource, info identity.Info) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware)
	r.Use(middleware.CleanPath)

	h := &Handlers{radio: radio, events: events, info: info}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.getStatus)
		r.Get("/info", h.getInfo)
		r.Get("/display.png", h.getDisplay)
		r.Get("/events", h.sseEvents)

		// Sources
		r.Get("/source", h.getSource)
		r.Get("/sources", h.getSources)
		r.Put("/source/{backend}", h.setSource)

		// Power
		r.Post("/power/{action}", h.power)

		// Transport
		r.Post("/transport/{cmd}", h.transport)

		// Volume
		r.Get("/volume", h.getVolume)
		r.Put("/volume", h.setVolume)
		r.Post("/volume/{dir}", h.stepVolume)

		// Playlists
		r.Get("/playlists", h.getPlaylists)
		r.Post("/playlists/{name}/load", h.loadPlaylist)
	})

	return r
}

// corsMiddleware adds permissive CORS headers for local network access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

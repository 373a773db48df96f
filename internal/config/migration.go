package config

import (
	"log/slog"

	"github.com/kitchenradio/kitchenradio-go/internal/models"
)

// migrateState rewrites legacy source names ("mpd", "librespot", "spotify")
// to the current ones and drops names that no longer exist.
func migrateState(st *RuntimeState) {
	if st.LastSource == "" {
		return
	}
	b, err := models.ParseBackendType(st.LastSource)
	if err != nil || !b.Valid() {
		slog.Warn("config: dropping unknown last source", "last_source", st.LastSource)
		st.LastSource = ""
		return
	}
	if string(b) != st.LastSource {
		slog.Info("config: migrated last source", "from", st.LastSource, "to", b)
		st.LastSource = string(b)
	}
}

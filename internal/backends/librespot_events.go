package backends

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// librespotEvent is a message on go-librespot's /events websocket.
type librespotEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// eventLoop keeps the websocket subscription alive until ctx is cancelled.
// The delay between dials grows while dials fail and starts over after a
// dial succeeds.
func (l *Librespot) eventLoop(ctx context.Context) {
	b := Backoff{Initial: time.Second, Max: l.cfg.MaxBackoff}.withDefaults()
	delay := b.Initial
	for {
		dialed, err := l.readEvents(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Debug("librespot: events websocket", "err", err)
		}
		if dialed {
			delay = b.Initial
		}
		if !sleepCtx(ctx, delay) {
			return
		}
		if !dialed {
			delay = minDuration(delay*2, b.Max)
		}
	}
}

// readEvents reports whether the dial succeeded along with the error that
// ended the subscription.
func (l *Librespot) readEvents(ctx context.Context) (bool, error) {
	wsURL := strings.Replace(l.base, "http://", "ws://", 1) + "/events"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	// Unblock ReadMessage on cancellation.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		var ev librespotEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			continue
		}
		slog.Debug("librespot: event", "type", ev.Type)
		notify(l.changes)
	}
}

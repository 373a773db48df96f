package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kitchenradio/kitchenradio-go/internal/backends"
	"github.com/kitchenradio/kitchenradio-go/internal/display"
	"github.com/kitchenradio/kitchenradio-go/internal/models"
)

// run redraws the LCD whenever the daemon reports an event, on every
// refresh tick, and on every scroll step while a line is too long.
func run(ctx context.Context, cfg Config, out LineWriter) error {
	client := &http.Client{Timeout: 5 * time.Second}
	changed := make(chan struct{}, 1)
	go followEvents(ctx, cfg.APIURL, changed)

	refresh := time.NewTicker(cfg.Refresh)
	defer refresh.Stop()
	scroll := time.NewTicker(cfg.Scroll)
	defer scroll.Stop()

	var (
		st     models.Status
		offset int
		shown  [2]string
	)
	update := func() {
		s, err := fetchStatus(ctx, client, cfg.APIURL)
		if err != nil {
			slog.Warn("status fetch failed", "err", err)
			s = models.Status{}
		}
		st = s
	}
	draw := func() {
		lines := display.LinesWidth(st, cfg.Columns, offset)
		if lines == shown {
			return
		}
		if err := out.WriteLines(lines); err != nil {
			slog.Warn("display write failed", "err", err)
			return
		}
		shown = lines
	}

	update()
	draw()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
			update()
			offset = 0
		case <-refresh.C:
			update()
		case <-scroll.C:
			offset++
		}
		draw()
	}
}

// fetchStatus retrieves the aggregate status from the daemon.
func fetchStatus(ctx context.Context, client *http.Client, base string) (models.Status, error) {
	var st models.Status
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/status", nil)
	if err != nil {
		return st, fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return st, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return st, fmt.Errorf("API returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, fmt.Errorf("decode response: %w", err)
	}
	return st, nil
}

// followEvents keeps an SSE connection open and signals changed for every
// event, reconnecting with backoff until ctx is done.
func followEvents(ctx context.Context, base string, changed chan<- struct{}) {
	for ctx.Err() == nil {
		_ = backends.Reconnect(ctx, "events", backends.Backoff{Max: 30 * time.Second}, func(ctx context.Context) error {
			return streamEvents(ctx, base, changed)
		})
	}
}

func streamEvents(ctx context.Context, base string, changed chan<- struct{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/events", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("events: status %d", resp.StatusCode)
	}
	slog.Debug("event stream connected", "url", base)
	if err := scanEvents(resp.Body, changed); err != nil {
		return err
	}
	return fmt.Errorf("event stream closed")
}

// scanEvents signals changed once per named SSE event.
func scanEvents(r io.Reader, changed chan<- struct{}) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if name, ok := strings.CutPrefix(sc.Text(), "event: "); ok && name != "" {
			select {
			case changed <- struct{}{}:
			default:
			}
		}
	}
	return sc.Err()
}

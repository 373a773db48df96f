package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kitchenradio/kitchenradio-go/internal/models"
)

// LibrespotConfig describes the go-librespot HTTP API endpoint.
type LibrespotConfig struct {
	Host       string
	Port       int
	MaxBackoff time.Duration
	Timeout    time.Duration
}

func (c LibrespotConfig) baseURL() string {
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	port := c.Port
	if port == 0 {
		port = 4370
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// Librespot adapts the Spotify Connect streamer. Commands and status use the
// HTTP API; the /events websocket feeds Changes.
type Librespot struct {
	cfg    LibrespotConfig
	base   string
	client *http.Client

	connected atomic.Bool
	changes   chan struct{}

	mu       sync.Mutex
	wsCancel context.CancelFunc
	wsDone   chan struct{}
}

// NewLibrespot creates an unconnected streamer adapter.
func NewLibrespot(cfg LibrespotConfig) *Librespot {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Librespot{
		cfg:     cfg,
		base:    cfg.baseURL(),
		client:  &http.Client{Timeout: timeout},
		changes: make(chan struct{}, 1),
	}
}

func (l *Librespot) Type() models.BackendType { return models.BackendStreamer }

func (l *Librespot) Changes() <-chan struct{} { return l.changes }

func (l *Librespot) Connect(ctx context.Context) error {
	err := Reconnect(ctx, "librespot", Backoff{Max: l.cfg.MaxBackoff}, func(ctx context.Context) error {
		_, err := l.fetchStatus(ctx)
		return err
	})
	if err != nil {
		return err
	}
	l.connected.Store(true)
	l.startEvents(ctx)
	slog.Info("librespot: connected", "url", l.base)
	return nil
}

// startEvents runs the websocket subscription until the Connect context is
// cancelled or Disconnect is called, whichever comes first.
func (l *Librespot) startEvents(parent context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.wsCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	l.wsCancel, l.wsDone = cancel, done
	go func() {
		defer close(done)
		l.eventLoop(ctx)
		cancel()
		l.mu.Lock()
		if l.wsDone == done {
			l.wsCancel, l.wsDone = nil, nil
		}
		l.mu.Unlock()
	}()
}

func (l *Librespot) Disconnect() error {
	l.connected.Store(false)
	l.mu.Lock()
	cancel, done := l.wsCancel, l.wsDone
	l.wsCancel, l.wsDone = nil, nil
	l.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

func (l *Librespot) IsConnected() bool { return l.connected.Load() }

func (l *Librespot) Play(ctx context.Context) error {
	return l.post(ctx, "/player/resume", nil)
}

func (l *Librespot) Pause(ctx context.Context) error {
	return l.post(ctx, "/player/pause", nil)
}

// Stop pauses: go-librespot has no stop command.
func (l *Librespot) Stop(ctx context.Context) error {
	return l.post(ctx, "/player/pause", nil)
}

func (l *Librespot) Next(ctx context.Context) error {
	return l.post(ctx, "/player/next", map[string]any{})
}

func (l *Librespot) Previous(ctx context.Context) error {
	return l.post(ctx, "/player/prev", nil)
}

func (l *Librespot) Volume(ctx context.Context) (int, bool, error) {
	st, err := l.Status(ctx)
	if err != nil {
		return 0, false, err
	}
	if st.Volume == nil {
		return 0, false, nil
	}
	return *st.Volume, true, nil
}

// SetVolume converts the percentage into go-librespot volume steps.
func (l *Librespot) SetVolume(ctx context.Context, v int) error {
	st, err := l.fetchStatus(ctx)
	if err != nil {
		return err
	}
	steps := st.VolumeSteps
	if steps <= 0 {
		steps = 100
	}
	raw := int(math.Round(float64(v) * float64(steps) / 100))
	return l.post(ctx, "/player/volume", map[string]any{"volume": raw})
}

func (l *Librespot) Status(ctx context.Context) (models.BackendStatus, error) {
	st, err := l.fetchStatus(ctx)
	if err != nil {
		return models.BackendStatus{}, err
	}
	return st.toBackendStatus(), nil
}

// librespotStatus is the JSON response of go-librespot's /status endpoint.
type librespotStatus struct {
	Username    string `json:"username"`
	DeviceID    string `json:"device_id"`
	DeviceName  string `json:"device_name"`
	PlayOrigin  string `json:"play_origin"`
	Stopped     bool   `json:"stopped"`
	Paused      bool   `json:"paused"`
	Buffering   bool   `json:"buffering"`
	Volume      int    `json:"volume"`
	VolumeSteps int    `json:"volume_steps"`
	Track       *struct {
		URI         string   `json:"uri"`
		Name        string   `json:"name"`
		ArtistNames []string `json:"artist_names"`
		AlbumName   string   `json:"album_name"`
		Duration    int64    `json:"duration"`
	} `json:"track"`
}

func (s librespotStatus) toBackendStatus() models.BackendStatus {
	out := models.BackendStatus{
		State: models.StatePlaying,
		Source: models.SourceInfo{
			Source:     models.BackendStreamer,
			DeviceName: s.DeviceName,
		},
	}
	switch {
	case s.Track == nil || s.Stopped:
		out.State = models.StateStopped
	case s.Paused:
		out.State = models.StatePaused
	}
	// A logged-in Spotify Connect session is the attached device.
	if s.Username != "" {
		out.Source.DeviceName = s.Username
		out.Source.DeviceID = s.Username
		if s.DeviceID != "" {
			out.Source.DeviceID = s.DeviceID
		}
	}
	if s.Track != nil {
		out.Track = models.TrackInfo{
			Title:      s.Track.Name,
			Artist:     strings.Join(s.Track.ArtistNames, ", "),
			Album:      s.Track.AlbumName,
			DurationMS: s.Track.Duration,
		}
		out.Source.Path = s.Track.URI
	}
	if s.VolumeSteps > 0 {
		v := int(math.Round(float64(s.Volume) * 100 / float64(s.VolumeSteps)))
		out.Volume = models.IntPtr(models.ClampVolume(v))
	}
	return out
}

func (l *Librespot) fetchStatus(ctx context.Context) (librespotStatus, error) {
	var st librespotStatus
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.base+"/status", nil)
	if err != nil {
		return st, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		l.markLost(err)
		return st, fmt.Errorf("librespot status: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		// No session yet.
		return st, nil
	default:
		return st, fmt.Errorf("librespot status: HTTP %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil && !errors.Is(err, io.EOF) {
		return st, fmt.Errorf("librespot status: decode: %w", err)
	}
	return st, nil
}

func (l *Librespot) post(ctx context.Context, path string, body any) error {
	if !l.connected.Load() {
		return ErrNotConnected
	}
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.base+path, rd)
	if err != nil {
		return err
	}
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := l.client.Do(req)
	if err != nil {
		l.markLost(err)
		return fmt.Errorf("librespot %s: %w", path, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("librespot %s: HTTP %d", path, resp.StatusCode)
	}
	return nil
}

// markLost drops the connected flag on transport errors so the monitor
// reconnects. Context cancellation is not a lost connection.
func (l *Librespot) markLost(err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	if l.connected.Swap(false) {
		slog.Warn("librespot: connection lost", "err", err)
	}
}

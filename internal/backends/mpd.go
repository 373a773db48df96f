package backends

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fhs/gompd/v2/mpd"

	"github.com/kitchenradio/kitchenradio-go/internal/models"
)

// MPDConfig describes how to reach the media player daemon.
type MPDConfig struct {
	Host       string
	Port       int
	Password   string
	MaxBackoff time.Duration
}

func (c MPDConfig) addr() string {
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	port := c.Port
	if port == 0 {
		port = 6600
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// MPD adapts the local queue backend. Commands go through one client
// connection; an idle watcher on the player, mixer and playlist subsystems
// feeds Changes.
type MPD struct {
	cfg MPDConfig

	mu      sync.Mutex
	client  *mpd.Client
	watcher *mpd.Watcher
	changes chan struct{}
}

// NewMPD creates an unconnected MPD adapter.
func NewMPD(cfg MPDConfig) *MPD {
	return &MPD{cfg: cfg, changes: make(chan struct{}, 1)}
}

func (m *MPD) Type() models.BackendType { return models.BackendLocalQueue }

// Changes fires whenever the idle watcher reports a subsystem change.
func (m *MPD) Changes() <-chan struct{} { return m.changes }

func (m *MPD) Connect(ctx context.Context) error {
	return Reconnect(ctx, "mpd", Backoff{Max: m.cfg.MaxBackoff}, m.dial)
}

func (m *MPD) dial(context.Context) error {
	addr := m.cfg.addr()
	var (
		c   *mpd.Client
		err error
	)
	if m.cfg.Password != "" {
		c, err = mpd.DialAuthenticated("tcp", addr, m.cfg.Password)
	} else {
		c, err = mpd.Dial("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("mpd dial %s: %w", addr, err)
	}
	w, err := mpd.NewWatcher("tcp", addr, m.cfg.Password, "player", "mixer", "playlist", "options")
	if err != nil {
		c.Close()
		return fmt.Errorf("mpd watcher %s: %w", addr, err)
	}

	m.mu.Lock()
	m.closeLocked()
	m.client = c
	m.watcher = w
	m.mu.Unlock()

	go m.watch(w)
	slog.Info("mpd: connected", "addr", addr)
	return nil
}

// watch forwards idle events until the watcher is closed.
func (m *MPD) watch(w *mpd.Watcher) {
	for {
		select {
		case subsystem, ok := <-w.Event:
			if !ok {
				return
			}
			slog.Debug("mpd: idle event", "subsystem", subsystem)
			notify(m.changes)
		case err, ok := <-w.Error:
			if !ok {
				return
			}
			slog.Debug("mpd: watcher error", "err", err)
		}
	}
}

func (m *MPD) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked()
}

func (m *MPD) closeLocked() error {
	var err error
	if m.watcher != nil {
		err = m.watcher.Close()
		m.watcher = nil
	}
	if m.client != nil {
		if cerr := m.client.Close(); cerr != nil && err == nil {
			err = cerr
		}
		m.client = nil
	}
	return err
}

func (m *MPD) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client != nil
}

// do runs fn with the client. A failed command followed by a failed ping
// drops the connection so the monitor reconnects.
func (m *MPD) do(op string, fn func(c *mpd.Client) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return ErrNotConnected
	}
	err := fn(m.client)
	if err == nil {
		return nil
	}
	if perr := m.client.Ping(); perr != nil {
		slog.Warn("mpd: connection lost", "op", op, "err", perr)
		m.closeLocked()
	}
	return fmt.Errorf("mpd %s: %w", op, err)
}

func (m *MPD) Play(context.Context) error {
	return m.do("play", func(c *mpd.Client) error {
		st, err := c.Status()
		if err != nil {
			return err
		}
		if st["state"] == "pause" {
			return c.Pause(false)
		}
		return c.Play(-1)
	})
}

func (m *MPD) Pause(context.Context) error {
	return m.do("pause", func(c *mpd.Client) error { return c.Pause(true) })
}

func (m *MPD) Stop(context.Context) error {
	return m.do("stop", func(c *mpd.Client) error { return c.Stop() })
}

func (m *MPD) Next(context.Context) error {
	return m.do("next", func(c *mpd.Client) error { return c.Next() })
}

func (m *MPD) Previous(context.Context) error {
	return m.do("previous", func(c *mpd.Client) error { return c.Previous() })
}

func (m *MPD) Volume(context.Context) (int, bool, error) {
	var attrs mpd.Attrs
	err := m.do("status", func(c *mpd.Client) error {
		var err error
		attrs, err = c.Status()
		return err
	})
	if err != nil {
		return 0, false, err
	}
	v, ok := parseMPDVolume(attrs["volume"])
	return v, ok, nil
}

func (m *MPD) SetVolume(_ context.Context, v int) error {
	return m.do("setvol", func(c *mpd.Client) error { return c.SetVolume(v) })
}

func (m *MPD) Status(context.Context) (models.BackendStatus, error) {
	var st, song mpd.Attrs
	err := m.do("status", func(c *mpd.Client) error {
		var err error
		if st, err = c.Status(); err != nil {
			return err
		}
		song, err = c.CurrentSong()
		return err
	})
	if err != nil {
		return models.BackendStatus{}, err
	}
	return m.buildStatus(st, song), nil
}

func (m *MPD) buildStatus(st, song mpd.Attrs) models.BackendStatus {
	out := models.BackendStatus{
		State: models.ParsePlaybackState(st["state"]),
		Track: parseMPDSong(song, st),
		// The queue is always there; no device attaches to it, so a
		// reconnect never reads as device_connected.
		Source: models.SourceInfo{
			Source:     models.BackendLocalQueue,
			DeviceName: "MPD",
			Path:       song["file"],
		},
	}
	if v, ok := parseMPDVolume(st["volume"]); ok {
		out.Volume = models.IntPtr(v)
	}
	return out
}

// Playlists lists stored playlists by name.
func (m *MPD) Playlists(context.Context) ([]string, error) {
	var lists []mpd.Attrs
	err := m.do("listplaylists", func(c *mpd.Client) error {
		var err error
		lists, err = c.ListPlaylists()
		return err
	})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(lists))
	for _, l := range lists {
		if n := l["playlist"]; n != "" {
			names = append(names, n)
		}
	}
	return names, nil
}

// LoadPlaylist replaces the queue with the named playlist and starts it.
func (m *MPD) LoadPlaylist(_ context.Context, name string) error {
	return m.do("load", func(c *mpd.Client) error {
		if err := c.Clear(); err != nil {
			return err
		}
		if err := c.PlaylistLoad(name, -1, -1); err != nil {
			return err
		}
		return c.Play(0)
	})
}

// parseMPDVolume returns ok=false for MPD's "-1" (no mixer) or a missing field.
func parseMPDVolume(s string) (int, bool) {
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, false
	}
	return models.ClampVolume(v), true
}

func parseMPDSong(song, st mpd.Attrs) models.TrackInfo {
	t := models.TrackInfo{
		Title:  song["Title"],
		Artist: song["Artist"],
		Album:  song["Album"],
	}
	if t.Title == "" {
		// Radio streams report the station in Name; plain files only have a path.
		if n := song["Name"]; n != "" {
			t.Title = n
		} else if f := song["file"]; f != "" {
			t.Title = baseName(f)
		}
	}
	t.DurationMS = parseMPDDuration(song, st)
	return t
}

func parseMPDDuration(song, st mpd.Attrs) int64 {
	for _, s := range []string{st["duration"], song["duration"], song["Time"]} {
		if s == "" {
			continue
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f * 1000)
		}
	}
	// "time" is "elapsed:total" in whole seconds.
	if _, total, ok := strings.Cut(st["time"], ":"); ok {
		if n, err := strconv.Atoi(total); err == nil {
			return int64(n) * 1000
		}
	}
	return 0
}

func baseName(p string) string {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[i+1:]
	}
	if i := strings.LastIndex(p, "."); i > 0 {
		p = p[:i]
	}
	return p
}

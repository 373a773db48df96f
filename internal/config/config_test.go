package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kitchenradio/kitchenradio-go/internal/config"
	"github.com/kitchenradio/kitchenradio-go/internal/models"
)

func newTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "kitchenradio-config-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

// --- StateStore tests ---

func TestJSONStore_LoadMissingFile(t *testing.T) {
	store := config.NewJSONStore(newTempDir(t))
	st, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if st.LastSource != "" || st.Powered {
		t.Errorf("Load() = %+v, want zero state", st)
	}
}

func TestJSONStore_SaveFlushLoad(t *testing.T) {
	dir := newTempDir(t)
	store := config.NewJSONStore(dir)

	if err := store.Save(&config.RuntimeState{LastSource: "bluetooth", Powered: true}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "state.json")); err != nil {
		t.Fatalf("state file not written: %v", err)
	}

	st, err := config.NewJSONStore(dir).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st.LastSource != "bluetooth" || !st.Powered {
		t.Errorf("Load() = %+v", st)
	}
}

func TestJSONStore_DebouncedWrite(t *testing.T) {
	dir := newTempDir(t)
	store := config.NewJSONStore(dir)
	for _, src := range []string{"local_queue", "streamer", "bluetooth"} {
		_ = store.Save(&config.RuntimeState{LastSource: src})
	}
	time.Sleep(800 * time.Millisecond)

	st, err := config.NewJSONStore(dir).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st.LastSource != "bluetooth" {
		t.Errorf("LastSource = %q, want the last saved value", st.LastSource)
	}
}

func TestJSONStore_CorruptFileStartsFresh(t *testing.T) {
	dir := newTempDir(t)
	writeFile(t, filepath.Join(dir, "state.json"), "{not json")

	st, err := config.NewJSONStore(dir).Load()
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}
	if st.LastSource != "" {
		t.Errorf("LastSource = %q", st.LastSource)
	}
}

func TestJSONStore_MigratesLegacyNames(t *testing.T) {
	tests := map[string]string{
		"mpd":       "local_queue",
		"librespot": "streamer",
		"spotify":   "streamer",
		"cassette":  "",
		"bluetooth": "bluetooth",
	}
	for legacy, want := range tests {
		dir := newTempDir(t)
		writeFile(t, filepath.Join(dir, "state.json"), `{"last_source":"`+legacy+`","powered":true}`)
		st, err := config.NewJSONStore(dir).Load()
		if err != nil {
			t.Fatalf("Load(%s): %v", legacy, err)
		}
		if st.LastSource != want {
			t.Errorf("migrate %q = %q, want %q", legacy, st.LastSource, want)
		}
	}
}

func TestMemStore_CopiesState(t *testing.T) {
	m := config.NewMemStore()
	in := &config.RuntimeState{LastSource: "streamer"}
	_ = m.Save(in)
	in.LastSource = "bluetooth"

	st, _ := m.Load()
	if st.LastSource != "streamer" {
		t.Errorf("MemStore kept a reference to the caller's state")
	}
	if m.Saves() != 1 {
		t.Errorf("Saves() = %d", m.Saves())
	}
}

// --- Config tests ---

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(newTempDir(t), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MPD.Port != 6600 || cfg.Librespot.Port != 4370 {
		t.Errorf("ports = %d/%d", cfg.MPD.Port, cfg.Librespot.Port)
	}
	if cfg.Bluetooth.PairingTimeout != 60*time.Second {
		t.Errorf("PairingTimeout = %v", cfg.Bluetooth.PairingTimeout)
	}
	if cfg.System.StopTimeout != 5*time.Second {
		t.Errorf("StopTimeout = %v", cfg.System.StopTimeout)
	}
}

func TestLoad_YAMLOverridesAndNormalizes(t *testing.T) {
	dir := newTempDir(t)
	path := filepath.Join(dir, "kitchenradio.yaml")
	writeFile(t, path, `
mpd:
  host: music.local
  poll_interval: 2s
bluetooth:
  pairing_timeout: 0s
system:
  default_source: spotify
  fallback_source: mpd
  volume_step: 10
  auto_switch: [bt]
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MPD.Host != "music.local" || cfg.MPD.Port != 6600 {
		t.Errorf("MPD = %+v", cfg.MPD)
	}
	if cfg.MPD.PollInterval != 2*time.Second {
		t.Errorf("PollInterval = %v", cfg.MPD.PollInterval)
	}
	if cfg.Bluetooth.PairingTimeout != 0 {
		t.Errorf("PairingTimeout = %v, want 0", cfg.Bluetooth.PairingTimeout)
	}
	if cfg.System.DefaultSource != "streamer" || cfg.System.FallbackSource != "local_queue" {
		t.Errorf("sources = %q/%q", cfg.System.DefaultSource, cfg.System.FallbackSource)
	}
	got := cfg.AutoSwitchBackends()
	if len(got) != 1 || got[0] != models.BackendBluetooth {
		t.Errorf("AutoSwitchBackends() = %v", got)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("KITCHENRADIO_MPD_PORT", "6601")
	t.Setenv("KITCHENRADIO_BLUETOOTH_ENABLED", "false")
	t.Setenv("KITCHENRADIO_PAIRING_TIMEOUT", "90s")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MPD.Port != 6601 {
		t.Errorf("MPD.Port = %d", cfg.MPD.Port)
	}
	if cfg.Enabled(models.BackendBluetooth) {
		t.Error("bluetooth should be disabled by env")
	}
	if cfg.Bluetooth.PairingTimeout != 90*time.Second {
		t.Errorf("PairingTimeout = %v", cfg.Bluetooth.PairingTimeout)
	}
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("KITCHENRADIO_VOLUME_STEP", "loud")
	if _, err := config.Load(""); err == nil {
		t.Fatal("expected error for non-numeric volume step")
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := newTempDir(t)
	writeFile(t, filepath.Join(dir, ".env"), "KITCHENRADIO_MPD_HOST=from-dotenv\n")
	t.Setenv("KITCHENRADIO_MPD_HOST", "")
	os.Unsetenv("KITCHENRADIO_MPD_HOST")

	cfg, err := config.Load(filepath.Join(dir, "kitchenradio.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MPD.Host != "from-dotenv" {
		t.Errorf("MPD.Host = %q", cfg.MPD.Host)
	}
	os.Unsetenv("KITCHENRADIO_MPD_HOST")
}

func TestValidate(t *testing.T) {
	cfg := config.Default()
	cfg.MPD.Enabled, cfg.Librespot.Enabled, cfg.Bluetooth.Enabled = false, false, false
	if err := cfg.Validate(); err == nil {
		t.Error("expected error with no backend enabled")
	}

	cfg = config.Default()
	cfg.System.DefaultSource = "cassette"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown default source")
	}

	cfg = config.Default()
	cfg.System.VolumeStep = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero volume step")
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := newTempDir(t)
	path := filepath.Join(dir, "kitchenradio.yaml")
	writeFile(t, path, "system:\n  volume_step: 5\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan int, 4)
	go func() {
		_ = config.Watch(ctx, path, func(c *config.Config) { got <- c.System.VolumeStep })
	}()
	time.Sleep(100 * time.Millisecond)

	writeFile(t, path, "system:\n  volume_step: 12\n")

	select {
	case step := <-got:
		if step != 12 {
			t.Errorf("reloaded volume_step = %d, want 12", step)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("config was not reloaded")
	}
}

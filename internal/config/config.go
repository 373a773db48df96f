package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kitchenradio/kitchenradio-go/internal/models"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KITCHENRADIO_"

type Config struct {
	MPD       MPDConfig       `yaml:"mpd"`
	Librespot LibrespotConfig `yaml:"librespot"`
	Bluetooth BluetoothConfig `yaml:"bluetooth"`
	System    SystemConfig    `yaml:"system"`
	API       APIConfig       `yaml:"api"`
	Panel     PanelConfig     `yaml:"panel"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type MPDConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Password     string        `yaml:"password"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type LibrespotConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Command      string        `yaml:"command"` // spawn go-librespot when set
	Args         []string      `yaml:"args"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type BluetoothConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Adapter        string        `yaml:"adapter"`
	DeviceName     string        `yaml:"device_name"`
	PairingTimeout time.Duration `yaml:"pairing_timeout"` // 0 = until the next source switch
	AplayCommand   string        `yaml:"aplay_command"`   // spawn bluealsa-aplay when set
	AplayArgs      []string      `yaml:"aplay_args"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

type SystemConfig struct {
	DefaultSource       string        `yaml:"default_source"`
	FallbackSource      string        `yaml:"fallback_source"`
	PowerOnAtStartup    bool          `yaml:"power_on_at_startup"`
	StopTimeout         time.Duration `yaml:"stop_timeout"`
	StatusTimeout       time.Duration `yaml:"status_timeout"`
	VolumeStep          int           `yaml:"volume_step"`
	AutoSwitch          []string      `yaml:"auto_switch"`
	ReconnectMaxBackoff time.Duration `yaml:"reconnect_max_backoff"`
	StateDir            string        `yaml:"state_dir"`
}

type APIConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Zeroconf bool   `yaml:"zeroconf"`
	Name     string `yaml:"name"`
}

type PanelConfig struct {
	Enabled             bool              `yaml:"enabled"`
	Buttons             map[string]string `yaml:"buttons"` // action -> GPIO name
	AmplifierPin        string            `yaml:"amplifier_pin"`
	AmplifierActiveHigh bool              `yaml:"amplifier_active_high"`
	Debounce            time.Duration     `yaml:"debounce"`
	RepeatRate          float64           `yaml:"repeat_rate"` // volume repeats per second while held
	LCDPort             string            `yaml:"lcd_port"`
	LCDBaud             int               `yaml:"lcd_baud"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default mirrors the stock kitchen radio setup.
func Default() *Config {
	return &Config{
		MPD: MPDConfig{
			Enabled: true, Host: "localhost", Port: 6600,
			PollInterval: time.Second,
		},
		Librespot: LibrespotConfig{
			Enabled: true, Host: "localhost", Port: 4370,
			PollInterval: 500 * time.Millisecond,
		},
		Bluetooth: BluetoothConfig{
			Enabled: true, Adapter: "hci0", DeviceName: "Kitchen Radio",
			PairingTimeout: 60 * time.Second,
			PollInterval:   time.Second,
		},
		System: SystemConfig{
			DefaultSource:       string(models.BackendLocalQueue),
			FallbackSource:      string(models.BackendLocalQueue),
			PowerOnAtStartup:    true,
			StopTimeout:         5 * time.Second,
			StatusTimeout:       2 * time.Second,
			VolumeStep:          5,
			ReconnectMaxBackoff: 30 * time.Second,
			StateDir:            "/var/lib/kitchenradio",
		},
		API: APIConfig{Enabled: true, Addr: ":8080", Zeroconf: true, Name: "Kitchen Radio"},
		Panel: PanelConfig{
			Buttons: map[string]string{
				"source_local_queue": "GPIO5",
				"source_streamer":    "GPIO6",
				"source_bluetooth":   "GPIO13",
				"play_pause":         "GPIO19",
				"next":               "GPIO20",
				"previous":           "GPIO21",
				"volume_up":          "GPIO16",
				"volume_down":        "GPIO12",
				"power":              "GPIO25",
			},
			AmplifierPin:        "GPIO26",
			AmplifierActiveHigh: true,
			Debounce:            30 * time.Millisecond,
			RepeatRate:          8,
			LCDBaud:             9600,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads path over the defaults. A missing file is not an error. A .env
// file next to the config (or in the working directory) is loaded first, and
// KITCHENRADIO_* variables override file values.
func Load(path string) (*Config, error) {
	cfg := Default()

	for _, env := range envFiles(path) {
		if err := godotenv.Load(env); err == nil {
			slog.Debug("config: loaded env file", "path", env)
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			slog.Info("config: no config file, using defaults", "path", path)
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse yaml: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envFiles(path string) []string {
	files := []string{".env"}
	if path != "" {
		if p := filepath.Join(filepath.Dir(path), ".env"); p != ".env" {
			files = append([]string{p}, files...)
		}
	}
	return files
}

// applyEnv overrides fields from the environment.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = n
		}
		return nil
	}
	flag := func(name string, dst *bool) error {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = b
		}
		return nil
	}

	str("MPD_HOST", &c.MPD.Host)
	str("MPD_PASSWORD", &c.MPD.Password)
	str("LIBRESPOT_HOST", &c.Librespot.Host)
	str("BLUETOOTH_ADAPTER", &c.Bluetooth.Adapter)
	str("BLUETOOTH_NAME", &c.Bluetooth.DeviceName)
	str("DEFAULT_SOURCE", &c.System.DefaultSource)
	str("FALLBACK_SOURCE", &c.System.FallbackSource)
	str("STATE_DIR", &c.System.StateDir)
	str("API_ADDR", &c.API.Addr)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LCD_PORT", &c.Panel.LCDPort)
	if v, ok := lookup(EnvPrefix + "PAIRING_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sPAIRING_TIMEOUT: %w", EnvPrefix, err)
		}
		c.Bluetooth.PairingTimeout = d
	}
	return errors.Join(
		num("MPD_PORT", &c.MPD.Port),
		num("LIBRESPOT_PORT", &c.Librespot.Port),
		num("VOLUME_STEP", &c.System.VolumeStep),
		flag("MPD_ENABLED", &c.MPD.Enabled),
		flag("LIBRESPOT_ENABLED", &c.Librespot.Enabled),
		flag("BLUETOOTH_ENABLED", &c.Bluetooth.Enabled),
		flag("POWER_ON_AT_STARTUP", &c.System.PowerOnAtStartup),
		flag("PANEL_ENABLED", &c.Panel.Enabled),
	)
}

// Validate checks values and normalizes legacy source names.
func (c *Config) Validate() error {
	var errs []error
	if !c.MPD.Enabled && !c.Librespot.Enabled && !c.Bluetooth.Enabled {
		errs = append(errs, errors.New("no backend enabled"))
	}
	for name, port := range map[string]int{"mpd.port": c.MPD.Port, "librespot.port": c.Librespot.Port} {
		if port <= 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s: %d out of range", name, port))
		}
	}
	if c.System.VolumeStep < 1 || c.System.VolumeStep > 100 {
		errs = append(errs, fmt.Errorf("system.volume_step: %d out of range [1, 100]", c.System.VolumeStep))
	}
	if c.Bluetooth.PairingTimeout < 0 {
		errs = append(errs, errors.New("bluetooth.pairing_timeout must not be negative"))
	}
	for _, f := range []*string{&c.System.DefaultSource, &c.System.FallbackSource} {
		b, err := models.ParseBackendType(*f)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*f = string(b)
	}
	for i, s := range c.System.AutoSwitch {
		b, err := models.ParseBackendType(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("system.auto_switch[%d]: %w", i, err))
			continue
		}
		c.System.AutoSwitch[i] = string(b)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Enabled reports whether backend b is enabled.
func (c *Config) Enabled(b models.BackendType) bool {
	switch b {
	case models.BackendLocalQueue:
		return c.MPD.Enabled
	case models.BackendStreamer:
		return c.Librespot.Enabled
	case models.BackendBluetooth:
		return c.Bluetooth.Enabled
	}
	return false
}

// PollIntervals returns the per-backend monitor intervals.
func (c *Config) PollIntervals() map[models.BackendType]time.Duration {
	return map[models.BackendType]time.Duration{
		models.BackendLocalQueue: c.MPD.PollInterval,
		models.BackendStreamer:   c.Librespot.PollInterval,
		models.BackendBluetooth:  c.Bluetooth.PollInterval,
	}
}

// AutoSwitchBackends parses System.AutoSwitch. Validate has already
// normalized the names.
func (c *Config) AutoSwitchBackends() []models.BackendType {
	out := make([]models.BackendType, 0, len(c.System.AutoSwitch))
	for _, s := range c.System.AutoSwitch {
		out = append(out, models.BackendType(s))
	}
	return out
}

// SlogLevel maps Logging.Level to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Command kitchenradio is the kitchen radio daemon. It arbitrates between
// MPD, a Spotify Connect receiver and a Bluetooth sink so exactly one of
// them plays, and exposes control over HTTP and the front panel.
// Run with --mock to use in-memory backends (no MPD, librespot or BlueZ).
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/kitchenradio/kitchenradio-go/internal/api"
	"github.com/kitchenradio/kitchenradio-go/internal/config"
	"github.com/kitchenradio/kitchenradio-go/internal/identity"
	"github.com/kitchenradio/kitchenradio-go/internal/models"
	"github.com/kitchenradio/kitchenradio-go/internal/orchestrator"
	"github.com/kitchenradio/kitchenradio-go/internal/panel"
	"github.com/kitchenradio/kitchenradio-go/internal/zeroconf"
)

func main() {
	var (
		cfgPath  = flag.String("config", "/etc/kitchenradio/config.yaml", "config file")
		stateDir = flag.String("state-dir", "", "runtime state directory (overrides system.state_dir)")
		addr     = flag.String("addr", "", "HTTP listen address (overrides api.addr)")
		mock     = flag.Bool("mock", false, "use in-memory backends and no GPIO")
		debug    = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("config load failed", "path", *cfgPath, "err", err)
		os.Exit(1)
	}
	if *stateDir != "" {
		cfg.System.StateDir = *stateDir
	}
	if *addr != "" {
		cfg.API.Addr = *addr
	}

	level := cfg.SlogLevel()
	if *debug {
		level = slog.LevelDebug
	}
	setupLogging(level, cfg.Logging.JSON)

	if err := os.MkdirAll(cfg.System.StateDir, 0o755); err != nil {
		slog.Error("cannot create state directory", "path", cfg.System.StateDir, "err", err)
		os.Exit(1)
	}

	// Graceful shutdown context
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store := config.NewJSONStore(cfg.System.StateDir)

	adapters, sups := buildAdapters(cfg, *mock)
	for _, s := range sups {
		if err := s.Start(ctx); err != nil {
			slog.Warn("helper process failed to start", "err", err)
		}
	}

	var output orchestrator.Output
	if cfg.Panel.Enabled && !*mock && cfg.Panel.AmplifierPin != "" {
		relay, err := panel.OpenRelay(cfg.Panel.AmplifierPin, cfg.Panel.AmplifierActiveHigh)
		if err != nil {
			slog.Warn("amplifier relay unavailable", "err", err)
		} else {
			output = relay
		}
	}

	defaultSource, _ := models.ParseBackendType(cfg.System.DefaultSource)
	orch, err := orchestrator.New(adapters, orchestrator.Options{
		Store:            store,
		Output:           output,
		PollIntervals:    cfg.PollIntervals(),
		PollInterval:     time.Second,
		StopTimeout:      cfg.System.StopTimeout,
		StatusTimeout:    cfg.System.StatusTimeout,
		DefaultSource:    defaultSource,
		PowerOnAtStartup: cfg.System.PowerOnAtStartup,
		Tunables:         tunables(cfg),
	})
	if err != nil {
		slog.Error("orchestrator initialization failed", "err", err)
		os.Exit(1)
	}
	if err := orch.Start(ctx); err != nil {
		slog.Warn("orchestrator start", "err", err)
	}

	go func() {
		if err := config.Watch(ctx, *cfgPath, func(c *config.Config) { orch.Tune(tunables(c)) }); err != nil {
			slog.Warn("config watch disabled", "err", err)
		}
	}()

	if cfg.Panel.Enabled && !*mock {
		startPanel(ctx, cfg, orch)
	}

	var backends []models.BackendType
	for _, a := range adapters {
		backends = append(backends, a.Type())
	}
	info := identity.New(cfg.API.Name, cfg.System.StateDir, backends)

	var srv *http.Server
	if cfg.API.Enabled {
		srv = &http.Server{
			Addr:         cfg.API.Addr,
			Handler:      api.NewRouter(orch, orch.Bus(), info),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0, // 0 = no timeout (needed for SSE)
			IdleTimeout:  120 * time.Second,
		}
		go func() {
			slog.Info("kitchenradio listening", "addr", cfg.API.Addr, "mock", *mock, "state", cfg.System.StateDir)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("server error", "err", err)
			}
		}()

		if cfg.API.Zeroconf {
			zc := zeroconf.New(info.Name, listenPort(cfg.API.Addr), info.TXT())
			go func() {
				if err := zc.Start(ctx); err != nil {
					slog.Warn("zeroconf failed", "err", err)
				}
			}()
		}
	}

	<-ctx.Done()
	slog.Info("shutting down...")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()

	// The orchestrator closes the event bus, which ends open SSE streams
	// before the HTTP server waits for idle connections.
	if err := orch.Shutdown(shutCtx); err != nil {
		slog.Warn("orchestrator shutdown error", "err", err)
	}
	if srv != nil {
		if err := srv.Shutdown(shutCtx); err != nil {
			slog.Warn("server shutdown error", "err", err)
		}
	}
	for _, s := range sups {
		_ = s.Stop()
	}

	slog.Info("shutdown complete")
}

func setupLogging(level slog.Level, json bool) {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if json {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func tunables(c *config.Config) orchestrator.Tunables {
	fallback, _ := models.ParseBackendType(c.System.FallbackSource)
	return orchestrator.Tunables{
		VolumeStep:     c.System.VolumeStep,
		PairingTimeout: c.Bluetooth.PairingTimeout,
		Fallback:       fallback,
		AutoSwitch:     c.AutoSwitchBackends(),
	}
}

func startPanel(ctx context.Context, cfg *config.Config, orch *orchestrator.Orchestrator) {
	pins, err := panel.OpenPins(cfg.Panel.Buttons)
	if err != nil {
		slog.Warn("panel buttons unavailable", "err", err)
		return
	}
	buttons := panel.NewButtons(orch, pins, panel.ButtonOptions{
		Debounce:   cfg.Panel.Debounce,
		RepeatRate: cfg.Panel.RepeatRate,
	})
	go func() {
		if err := buttons.Run(ctx); err != nil {
			slog.Warn("panel buttons stopped", "err", err)
		}
	}()
}

func listenPort(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 80
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return 80
	}
	return port
}

// Command kitchenradio-display drives a 16x2 serial character LCD from the
// kitchen radio API. It follows the daemon's event stream and redraws the
// now-playing lines on every change.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/kitchenradio/kitchenradio-go/internal/zeroconf"
)

// Config holds the display driver configuration.
type Config struct {
	APIURL  string        // base URL of the daemon, e.g. http://localhost:8080
	Refresh time.Duration // status poll interval between events
	Scroll  time.Duration // marquee step for long lines
	Columns int
}

func main() {
	var (
		addr     = flag.String("addr", "", "kitchenradio API address (host:port); discovered via mDNS when empty")
		port     = flag.String("port", "", "serial port of the LCD (e.g. /dev/ttyUSB0); log-only when empty")
		baud     = flag.Int("baud", 9600, "serial baud rate")
		refresh  = flag.Duration("refresh", 5*time.Second, "status refresh interval")
		scroll   = flag.Duration("scroll", 400*time.Millisecond, "scroll step for long lines")
		columns  = flag.Int("columns", 16, "LCD columns")
		logLevel = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	)
	flag.Parse()

	level := slog.LevelInfo
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	host := *addr
	if host == "" {
		var err error
		if host, err = discover(ctx); err != nil {
			slog.Warn("no radio discovered, using localhost", "err", err)
			host = "localhost:8080"
		}
	}
	cfg := Config{
		APIURL:  "http://" + host,
		Refresh: *refresh,
		Scroll:  *scroll,
		Columns: *columns,
	}

	var out LineWriter = logWriter{}
	if *port != "" {
		lcd, err := OpenLCD(*port, *baud)
		if err != nil {
			slog.Error("open LCD failed", "port", *port, "err", err)
			os.Exit(1)
		}
		defer lcd.Close()
		out = lcd
	}

	slog.Info("kitchenradio-display starting", "api", cfg.APIURL, "port", *port)
	if err := run(ctx, cfg, out); err != nil {
		slog.Error("display driver failed", "err", err)
		os.Exit(1)
	}
	slog.Info("kitchenradio-display stopped")
}

func discover(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	entries, err := zeroconf.Browse(ctx)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if len(e.AddrIPv4) > 0 {
			host := net.JoinHostPort(e.AddrIPv4[0].String(), strconv.Itoa(e.Port))
			slog.Info("discovered radio", "instance", e.Instance, "addr", host)
			return host, nil
		}
	}
	return "", fmt.Errorf("no %s service found", zeroconf.ServiceType)
}

package main

import (
	"log/slog"

	"github.com/kitchenradio/kitchenradio-go/internal/backends"
	"github.com/kitchenradio/kitchenradio-go/internal/config"
	"github.com/kitchenradio/kitchenradio-go/internal/models"
)

// buildAdapters creates one adapter per enabled backend, plus supervisors
// for the helper processes the config asks the daemon to own.
func buildAdapters(cfg *config.Config, mock bool) ([]backends.Adapter, []*backends.Supervisor) {
	var (
		adapters []backends.Adapter
		sups     []*backends.Supervisor
	)
	maxBackoff := cfg.System.ReconnectMaxBackoff

	if cfg.MPD.Enabled {
		if mock {
			f := backends.NewConnectedFake(models.BackendLocalQueue)
			f.SetPlaylists("Morning", "Evening")
			adapters = append(adapters, f)
		} else {
			adapters = append(adapters, backends.NewMPD(backends.MPDConfig{
				Host:       cfg.MPD.Host,
				Port:       cfg.MPD.Port,
				Password:   cfg.MPD.Password,
				MaxBackoff: maxBackoff,
			}))
		}
	}

	if cfg.Librespot.Enabled {
		if mock {
			adapters = append(adapters, backends.NewConnectedFake(models.BackendStreamer))
		} else {
			adapters = append(adapters, backends.NewLibrespot(backends.LibrespotConfig{
				Host:       cfg.Librespot.Host,
				Port:       cfg.Librespot.Port,
				MaxBackoff: maxBackoff,
			}))
			if cfg.Librespot.Command != "" {
				sups = append(sups, backends.NewSupervisor("librespot", cfg.Librespot.Command, cfg.Librespot.Args...))
			}
		}
	}

	if cfg.Bluetooth.Enabled {
		if mock {
			bt := backends.NewFakePairer(models.BackendBluetooth)
			bt.SetConnected(true)
			adapters = append(adapters, bt)
		} else {
			adapters = append(adapters, backends.NewBlueZ(backends.BlueZConfig{
				Adapter:    cfg.Bluetooth.Adapter,
				Alias:      cfg.Bluetooth.DeviceName,
				MaxBackoff: maxBackoff,
			}))
			if cfg.Bluetooth.AplayCommand != "" {
				sups = append(sups, backends.NewSupervisor("bluealsa-aplay", cfg.Bluetooth.AplayCommand, cfg.Bluetooth.AplayArgs...))
			}
		}
	}

	for _, a := range adapters {
		slog.Info("backend configured", "backend", a.Type(), "mock", mock)
	}
	return adapters, sups
}

package models

import (
	"fmt"
	"strings"
)

// BackendType identifies one of the music backends.
type BackendType string

const (
	BackendNone       BackendType = "none"
	BackendLocalQueue BackendType = "local_queue"
	BackendStreamer   BackendType = "streamer"
	BackendBluetooth  BackendType = "bluetooth"
)

// AllBackends returns the real backends in display order.
func AllBackends() []BackendType {
	return []BackendType{BackendLocalQueue, BackendStreamer, BackendBluetooth}
}

// Valid reports whether b names a real backend.
func (b BackendType) Valid() bool {
	switch b {
	case BackendLocalQueue, BackendStreamer, BackendBluetooth:
		return true
	}
	return false
}

// Label is the short human name shown on the display.
func (b BackendType) Label() string {
	switch b {
	case BackendLocalQueue:
		return "MPD"
	case BackendStreamer:
		return "Spotify"
	case BackendBluetooth:
		return "Bluetooth"
	}
	return "Off"
}

// ParseBackendType accepts canonical names as well as the legacy aliases
// written by older state files ("mpd", "librespot", "spotify", "bt").
func ParseBackendType(s string) (BackendType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local_queue", "mpd", "local":
		return BackendLocalQueue, nil
	case "streamer", "librespot", "spotify":
		return BackendStreamer, nil
	case "bluetooth", "bt":
		return BackendBluetooth, nil
	case "none", "":
		return BackendNone, nil
	}
	return BackendNone, fmt.Errorf("unknown backend %q", s)
}

// Package models defines the data structures shared by the orchestrator,
// the backend adapters and the API layer.
package models

import "fmt"

// PlaybackState is the transport state reported by a backend.
type PlaybackState string

const (
	StatePlaying PlaybackState = "playing"
	StatePaused  PlaybackState = "paused"
	StateStopped PlaybackState = "stopped"
	StateUnknown PlaybackState = "unknown"
)

// ParsePlaybackState maps backend vocabulary onto PlaybackState.
func ParsePlaybackState(s string) PlaybackState {
	switch s {
	case "play", "playing":
		return StatePlaying
	case "pause", "paused":
		return StatePaused
	case "stop", "stopped":
		return StateStopped
	}
	return StateUnknown
}

// TrackInfo is replaced wholesale on every change.
type TrackInfo struct {
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	Album      string `json:"album"`
	DurationMS int64  `json:"duration_ms"`
}

// Empty reports whether no metadata is known.
func (t TrackInfo) Empty() bool {
	return t.Title == "" && t.Artist == "" && t.Album == ""
}

// Duration formats the track length as M:SS.
func (t TrackInfo) Duration() string {
	if t.DurationMS <= 0 {
		return "0:00"
	}
	s := t.DurationMS / 1000
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}

// SourceInfo describes the attached device of a backend.
type SourceInfo struct {
	Source      BackendType `json:"source"`
	DeviceName  string      `json:"device_name,omitempty"`
	DeviceID    string      `json:"device_id,omitempty"`
	Path        string      `json:"path,omitempty"`
	Powered     bool        `json:"powered"`
	PairingMode bool        `json:"pairing_mode,omitempty"`
}

// HasDevice reports whether a device is attached.
func (s SourceInfo) HasDevice() bool { return s.DeviceID != "" }

// BackendStatus is one sample of a backend's state. Volume is nil when the
// backend cannot report it.
type BackendStatus struct {
	State  PlaybackState `json:"state"`
	Track  TrackInfo     `json:"track"`
	Volume *int          `json:"volume"`
	Source SourceInfo    `json:"source"`
}

// BackendEntry is the per-backend section of Status.
type BackendEntry struct {
	Connected bool          `json:"connected"`
	State     PlaybackState `json:"state"`
	Track     TrackInfo     `json:"track"`
	Volume    *int          `json:"volume"`
	Source    SourceInfo    `json:"source"`
	Error     string        `json:"error,omitempty"`
}

// Status is the aggregate snapshot served by the query API.
type Status struct {
	Powered          bool                         `json:"powered"`
	ActiveSource     BackendType                  `json:"active_source"`
	LastSource       BackendType                  `json:"last_source"`
	PairingMode      bool                         `json:"pairing_mode"`
	AvailableSources []BackendType                `json:"available_sources"`
	Backends         map[BackendType]BackendEntry `json:"backends"`
}

// Active returns the entry of the active backend, if any.
func (s Status) Active() (BackendEntry, bool) {
	e, ok := s.Backends[s.ActiveSource]
	return e, ok && s.ActiveSource != BackendNone
}

// ClampVolume forces v into [0, 100].
func ClampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// Payload renders the source info as an event payload.
func (s SourceInfo) Payload() map[string]any {
	return map[string]any{
		"source":       string(s.Source),
		"device_name":  s.DeviceName,
		"device_id":    s.DeviceID,
		"path":         s.Path,
		"powered":      s.Powered,
		"pairing_mode": s.PairingMode,
	}
}

// Payload renders the track as an event payload.
func (t TrackInfo) Payload() map[string]any {
	return map[string]any{
		"title":       t.Title,
		"artist":      t.Artist,
		"album":       t.Album,
		"duration_ms": t.DurationMS,
	}
}

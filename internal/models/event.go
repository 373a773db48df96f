package models

import (
	"maps"
	"time"
)

// EventKind enumerates what changed.
type EventKind string

const (
	EventTrackChanged         EventKind = "track_changed"
	EventPlaybackStateChanged EventKind = "playback_state_changed"
	EventVolumeChanged        EventKind = "volume_changed"
	EventSourceInfoChanged    EventKind = "source_info_changed"
	EventDeviceConnected      EventKind = "device_connected"
	EventDeviceDisconnected   EventKind = "device_disconnected"

	// EventAny subscribes to every kind.
	EventAny EventKind = "any"
)

// EventKinds lists every concrete kind.
func EventKinds() []EventKind {
	return []EventKind{
		EventTrackChanged, EventPlaybackStateChanged, EventVolumeChanged,
		EventSourceInfoChanged, EventDeviceConnected, EventDeviceDisconnected,
	}
}

// IsLifecycle reports whether events of this kind are forwarded even when
// they come from an inactive backend.
func (k EventKind) IsLifecycle() bool {
	switch k {
	case EventDeviceConnected, EventDeviceDisconnected, EventSourceInfoChanged:
		return true
	}
	return false
}

// Event is immutable once published.
type Event struct {
	Kind    EventKind      `json:"kind"`
	Source  BackendType    `json:"source"`
	Payload map[string]any `json:"payload"`
	Time    time.Time      `json:"time"`
}

// Clone returns a copy with its own payload map. Payload values are scalars,
// so a shallow copy is enough.
func (e Event) Clone() Event {
	e.Payload = maps.Clone(e.Payload)
	return e
}

// NewEvent copies payload so later mutation by the caller is not observed.
func NewEvent(kind EventKind, source BackendType, payload map[string]any) Event {
	p := make(map[string]any, len(payload))
	maps.Copy(p, payload)
	return Event{Kind: kind, Source: source, Payload: p, Time: time.Now()}
}

package monitor

import "github.com/kitchenradio/kitchenradio-go/internal/models"

// Diff returns the events describing the change from prev to next, in the
// order device, source info, playback state, track, volume.
func Diff(b models.BackendType, prev, next models.BackendStatus) []models.Event {
	var out []models.Event

	ps, ns := prev.Source, next.Source
	if ps.DeviceID != ns.DeviceID {
		if ps.HasDevice() {
			out = append(out, models.NewEvent(models.EventDeviceDisconnected, b, ps.Payload()))
		}
		if ns.HasDevice() {
			out = append(out, models.NewEvent(models.EventDeviceConnected, b, ns.Payload()))
		}
	}
	if ps != ns {
		out = append(out, models.NewEvent(models.EventSourceInfoChanged, b, ns.Payload()))
	}
	if prev.State != next.State {
		out = append(out, models.NewEvent(models.EventPlaybackStateChanged, b, map[string]any{
			"state":    string(next.State),
			"previous": string(prev.State),
		}))
	}
	if prev.Track != next.Track {
		out = append(out, models.NewEvent(models.EventTrackChanged, b, next.Track.Payload()))
	}
	if !sameVolume(prev.Volume, next.Volume) {
		var v any
		if next.Volume != nil {
			v = *next.Volume
		}
		out = append(out, models.NewEvent(models.EventVolumeChanged, b, map[string]any{"volume": v}))
	}
	return out
}

func sameVolume(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

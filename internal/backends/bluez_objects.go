package backends

import (
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/kitchenradio/kitchenradio-go/internal/models"
)

const (
	bluezService     = "org.bluez"
	ifaceAdapter     = "org.bluez.Adapter1"
	ifaceDevice      = "org.bluez.Device1"
	ifacePlayer      = "org.bluez.MediaPlayer1"
	ifaceTransport   = "org.bluez.MediaTransport1"
	ifaceAgentMgr    = "org.bluez.AgentManager1"
	ifaceAgent       = "org.bluez.Agent1"
	ifaceObjectMgr   = "org.freedesktop.DBus.ObjectManager"
	ifaceProperties  = "org.freedesktop.DBus.Properties"
	uuidA2DPSource   = "0000110a-0000-1000-8000-00805f9b34fb"
	uuidA2DPSink     = "0000110b-0000-1000-8000-00805f9b34fb"
	bluezVolumeScale = 127
)

type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// bluezDevice is the connected audio device and its related objects.
type bluezDevice struct {
	Path      dbus.ObjectPath
	Name      string
	Address   string
	Player    dbus.ObjectPath
	Transport dbus.ObjectPath
	props     map[string]dbus.Variant
	player    map[string]dbus.Variant
	transport map[string]dbus.Variant
}

// findConnectedDevice returns the first connected A2DP device under adapter.
// Paths are visited in sorted order so the choice is stable.
func findConnectedDevice(objs managedObjects, adapter dbus.ObjectPath) (*bluezDevice, bool) {
	paths := make([]string, 0, len(objs))
	for p := range objs {
		paths = append(paths, string(p))
	}
	sort.Strings(paths)

	prefix := string(adapter) + "/"
	var dev *bluezDevice
	for _, p := range paths {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		props, ok := objs[dbus.ObjectPath(p)][ifaceDevice]
		if !ok || !variantBool(props["Connected"]) || !hasA2DP(props["UUIDs"]) {
			continue
		}
		dev = &bluezDevice{
			Path:    dbus.ObjectPath(p),
			Name:    variantString(props["Alias"]),
			Address: variantString(props["Address"]),
			props:   props,
		}
		if dev.Name == "" {
			dev.Name = variantString(props["Name"])
		}
		break
	}
	if dev == nil {
		return nil, false
	}

	devPrefix := string(dev.Path) + "/"
	for _, p := range paths {
		if !strings.HasPrefix(p, devPrefix) {
			continue
		}
		ifaces := objs[dbus.ObjectPath(p)]
		if pl, ok := ifaces[ifacePlayer]; ok && dev.Player == "" {
			dev.Player = dbus.ObjectPath(p)
			dev.player = pl
		}
		if tr, ok := ifaces[ifaceTransport]; ok && dev.Transport == "" {
			dev.Transport = dbus.ObjectPath(p)
			dev.transport = tr
		}
	}
	return dev, true
}

func (d *bluezDevice) status() models.BackendStatus {
	out := models.BackendStatus{
		State: models.StateStopped,
		Source: models.SourceInfo{
			Source:     models.BackendBluetooth,
			DeviceName: d.Name,
			DeviceID:   d.Address,
			Path:       string(d.Path),
		},
	}
	if d.player != nil {
		out.State = parseBluezStatus(variantString(d.player["Status"]))
		if tr, ok := d.player["Track"].Value().(map[string]dbus.Variant); ok {
			out.Track = parseBluezTrack(tr)
		}
	}
	if v, ok := d.transport["Volume"]; ok {
		if raw, ok := v.Value().(uint16); ok {
			out.Volume = models.IntPtr(fromBluezVolume(raw))
		}
	}
	return out
}

func parseBluezStatus(s string) models.PlaybackState {
	switch s {
	case "playing", "forward-seek", "reverse-seek":
		return models.StatePlaying
	case "paused":
		return models.StatePaused
	case "stopped":
		return models.StateStopped
	}
	return models.StateUnknown
}

func parseBluezTrack(m map[string]dbus.Variant) models.TrackInfo {
	t := models.TrackInfo{
		Title:  variantString(m["Title"]),
		Artist: variantString(m["Artist"]),
		Album:  variantString(m["Album"]),
	}
	if d, ok := m["Duration"].Value().(uint32); ok {
		t.DurationMS = int64(d)
	}
	return t
}

func hasA2DP(v dbus.Variant) bool {
	uuids, ok := v.Value().([]string)
	if !ok {
		return false
	}
	for _, u := range uuids {
		switch strings.ToLower(u) {
		case uuidA2DPSource, uuidA2DPSink:
			return true
		}
	}
	return false
}

func toBluezVolume(v int) uint16 {
	return uint16((models.ClampVolume(v)*bluezVolumeScale + 50) / 100)
}

func fromBluezVolume(raw uint16) int {
	return models.ClampVolume((int(raw)*100 + bluezVolumeScale/2) / bluezVolumeScale)
}

func variantString(v dbus.Variant) string {
	s, _ := v.Value().(string)
	return s
}

func variantBool(v dbus.Variant) bool {
	b, _ := v.Value().(bool)
	return b
}

package backends

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/kitchenradio/kitchenradio-go/internal/models"
)

// ErrNoDevice is returned for transport commands when no phone is attached.
var ErrNoDevice = errors.New("no bluetooth device connected")

const agentPath = dbus.ObjectPath("/org/kitchenradio/agent")

// BlueZConfig selects the local adapter and its advertised name.
type BlueZConfig struct {
	Adapter    string // e.g. "hci0"
	Alias      string
	MaxBackoff time.Duration
}

// BlueZ adapts the Bluetooth A2DP/AVRCP sink through the BlueZ D-Bus API.
type BlueZ struct {
	cfg     BlueZConfig
	adapter dbus.ObjectPath

	mu      sync.Mutex
	conn    *dbus.Conn
	signals chan *dbus.Signal
	pairing bool
	changes chan struct{}
}

// NewBlueZ creates an unconnected Bluetooth adapter.
func NewBlueZ(cfg BlueZConfig) *BlueZ {
	if cfg.Adapter == "" {
		cfg.Adapter = "hci0"
	}
	return &BlueZ{
		cfg:     cfg,
		adapter: dbus.ObjectPath("/org/bluez/" + cfg.Adapter),
		changes: make(chan struct{}, 1),
	}
}

func (b *BlueZ) Type() models.BackendType { return models.BackendBluetooth }

func (b *BlueZ) Changes() <-chan struct{} { return b.changes }

func (b *BlueZ) Connect(ctx context.Context) error {
	return Reconnect(ctx, "bluez", Backoff{Max: b.cfg.MaxBackoff}, b.dial)
}

func (b *BlueZ) dial(context.Context) error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("bluez: system bus: %w", err)
	}
	adapter := conn.Object(bluezService, b.adapter)
	powered, err := adapter.GetProperty(ifaceAdapter + ".Powered")
	if err != nil {
		conn.Close()
		return fmt.Errorf("bluez: adapter %s: %w", b.adapter, err)
	}
	if on, _ := powered.Value().(bool); !on {
		if err := adapter.SetProperty(ifaceAdapter+".Powered", dbus.MakeVariant(true)); err != nil {
			conn.Close()
			return fmt.Errorf("bluez: power on %s: %w", b.adapter, err)
		}
	}
	if b.cfg.Alias != "" {
		if err := adapter.SetProperty(ifaceAdapter+".Alias", dbus.MakeVariant(b.cfg.Alias)); err != nil {
			slog.Warn("bluez: set alias failed", "alias", b.cfg.Alias, "err", err)
		}
	}
	if err := registerAgent(conn); err != nil {
		slog.Warn("bluez: pairing agent unavailable", "err", err)
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(ifaceProperties),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchPathNamespace("/org/bluez"),
	); err != nil {
		conn.Close()
		return fmt.Errorf("bluez: add match: %w", err)
	}
	for _, member := range []string{"InterfacesAdded", "InterfacesRemoved"} {
		if err := conn.AddMatchSignal(
			dbus.WithMatchInterface(ifaceObjectMgr),
			dbus.WithMatchMember(member),
		); err != nil {
			conn.Close()
			return fmt.Errorf("bluez: add match %s: %w", member, err)
		}
	}
	signals := make(chan *dbus.Signal, 16)
	conn.Signal(signals)

	b.mu.Lock()
	b.closeLocked()
	b.conn = conn
	b.signals = signals
	b.mu.Unlock()

	go b.forwardSignals(signals)
	slog.Info("bluez: connected", "adapter", b.adapter)
	return nil
}

// forwardSignals turns D-Bus signals into wake-ups. A nil or closed channel
// means the bus connection went away.
func (b *BlueZ) forwardSignals(ch chan *dbus.Signal) {
	for sig := range ch {
		if sig == nil {
			break
		}
		notify(b.changes)
	}
	b.mu.Lock()
	if b.signals == ch {
		slog.Warn("bluez: system bus connection lost")
		b.conn = nil
		b.signals = nil
	}
	b.mu.Unlock()
	notify(b.changes)
}

func (b *BlueZ) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeLocked()
}

func (b *BlueZ) closeLocked() error {
	if b.conn == nil {
		return nil
	}
	conn := b.conn
	if b.signals != nil {
		conn.RemoveSignal(b.signals)
		close(b.signals)
	}
	b.conn = nil
	b.signals = nil
	return conn.Close()
}

func (b *BlueZ) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

func (b *BlueZ) bus() (*dbus.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil, ErrNotConnected
	}
	return b.conn, nil
}

func (b *BlueZ) device(ctx context.Context) (*dbus.Conn, *bluezDevice, error) {
	conn, err := b.bus()
	if err != nil {
		return nil, nil, err
	}
	var objs managedObjects
	call := conn.Object(bluezService, "/").CallWithContext(ctx, ifaceObjectMgr+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, nil, fmt.Errorf("bluez: GetManagedObjects: %w", call.Err)
	}
	if err := call.Store(&objs); err != nil {
		return nil, nil, fmt.Errorf("bluez: GetManagedObjects: %w", err)
	}
	dev, ok := findConnectedDevice(objs, b.adapter)
	if !ok {
		return conn, nil, nil
	}
	return conn, dev, nil
}

func (b *BlueZ) playerCall(ctx context.Context, method string) error {
	conn, dev, err := b.device(ctx)
	if err != nil {
		return err
	}
	if dev == nil || dev.Player == "" {
		return ErrNoDevice
	}
	call := conn.Object(bluezService, dev.Player).CallWithContext(ctx, ifacePlayer+"."+method, 0)
	if call.Err != nil {
		return fmt.Errorf("bluez %s: %w", method, call.Err)
	}
	return nil
}

func (b *BlueZ) Play(ctx context.Context) error     { return b.playerCall(ctx, "Play") }
func (b *BlueZ) Pause(ctx context.Context) error    { return b.playerCall(ctx, "Pause") }
func (b *BlueZ) Stop(ctx context.Context) error     { return b.playerCall(ctx, "Stop") }
func (b *BlueZ) Next(ctx context.Context) error     { return b.playerCall(ctx, "Next") }
func (b *BlueZ) Previous(ctx context.Context) error { return b.playerCall(ctx, "Previous") }

func (b *BlueZ) Volume(ctx context.Context) (int, bool, error) {
	_, dev, err := b.device(ctx)
	if err != nil {
		return 0, false, err
	}
	if dev == nil {
		return 0, false, nil
	}
	st := dev.status()
	if st.Volume == nil {
		return 0, false, nil
	}
	return *st.Volume, true, nil
}

// SetVolume writes the AVRCP absolute volume on the media transport.
func (b *BlueZ) SetVolume(ctx context.Context, v int) error {
	conn, dev, err := b.device(ctx)
	if err != nil {
		return err
	}
	if dev == nil || dev.Transport == "" {
		return ErrNoDevice
	}
	obj := conn.Object(bluezService, dev.Transport)
	if err := obj.SetProperty(ifaceTransport+".Volume", dbus.MakeVariant(toBluezVolume(v))); err != nil {
		return fmt.Errorf("bluez set volume: %w", err)
	}
	return nil
}

func (b *BlueZ) Status(ctx context.Context) (models.BackendStatus, error) {
	_, dev, err := b.device(ctx)
	if err != nil {
		return models.BackendStatus{}, err
	}
	var st models.BackendStatus
	if dev == nil {
		st = models.BackendStatus{
			State:  models.StateStopped,
			Source: models.SourceInfo{Source: models.BackendBluetooth, DeviceName: b.cfg.Alias},
		}
	} else {
		st = dev.status()
	}
	st.Source.PairingMode = b.Pairing()
	return st, nil
}

// EnterPairing makes the adapter discoverable and pairable. BlueZ enforces
// the timeout itself through DiscoverableTimeout.
func (b *BlueZ) EnterPairing(ctx context.Context, timeout time.Duration) error {
	conn, err := b.bus()
	if err != nil {
		return err
	}
	adapter := conn.Object(bluezService, b.adapter)
	props := []struct {
		name  string
		value any
	}{
		{"PairableTimeout", uint32(timeout / time.Second)},
		{"DiscoverableTimeout", uint32(timeout / time.Second)},
		{"Pairable", true},
		{"Discoverable", true},
	}
	for _, p := range props {
		if err := adapter.SetProperty(ifaceAdapter+"."+p.name, dbus.MakeVariant(p.value)); err != nil {
			return fmt.Errorf("bluez: set %s: %w", p.name, err)
		}
	}
	b.mu.Lock()
	b.pairing = true
	b.mu.Unlock()
	slog.Info("bluez: pairing mode on", "timeout", timeout)
	return nil
}

func (b *BlueZ) ExitPairing(ctx context.Context) error {
	b.mu.Lock()
	b.pairing = false
	b.mu.Unlock()
	conn, err := b.bus()
	if err != nil {
		return err
	}
	if err := conn.Object(bluezService, b.adapter).SetProperty(ifaceAdapter+".Discoverable", dbus.MakeVariant(false)); err != nil {
		return fmt.Errorf("bluez: set Discoverable: %w", err)
	}
	slog.Info("bluez: pairing mode off")
	return nil
}

func (b *BlueZ) Pairing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pairing
}

package backends

import (
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
)

// pairingAgent accepts every pairing request without user interaction, the
// way a headless speaker does.
type pairingAgent struct {
	conn *dbus.Conn
}

func registerAgent(conn *dbus.Conn) error {
	if err := conn.Export(&pairingAgent{conn: conn}, agentPath, ifaceAgent); err != nil {
		return fmt.Errorf("export agent: %w", err)
	}
	mgr := conn.Object(bluezService, "/org/bluez")
	if call := mgr.Call(ifaceAgentMgr+".RegisterAgent", 0, agentPath, "NoInputNoOutput"); call.Err != nil {
		return fmt.Errorf("RegisterAgent: %w", call.Err)
	}
	if call := mgr.Call(ifaceAgentMgr+".RequestDefaultAgent", 0, agentPath); call.Err != nil {
		return fmt.Errorf("RequestDefaultAgent: %w", call.Err)
	}
	return nil
}

func (a *pairingAgent) trust(device dbus.ObjectPath) {
	obj := a.conn.Object(bluezService, device)
	if err := obj.SetProperty(ifaceDevice+".Trusted", dbus.MakeVariant(true)); err != nil {
		slog.Warn("bluez agent: trust failed", "device", device, "err", err)
	}
}

func (a *pairingAgent) Release() *dbus.Error { return nil }

func (a *pairingAgent) RequestPinCode(device dbus.ObjectPath) (string, *dbus.Error) {
	a.trust(device)
	return "0000", nil
}

func (a *pairingAgent) DisplayPinCode(dbus.ObjectPath, string) *dbus.Error { return nil }

func (a *pairingAgent) RequestPasskey(device dbus.ObjectPath) (uint32, *dbus.Error) {
	a.trust(device)
	return 0, nil
}

func (a *pairingAgent) DisplayPasskey(dbus.ObjectPath, uint32, uint16) *dbus.Error { return nil }

func (a *pairingAgent) RequestConfirmation(device dbus.ObjectPath, passkey uint32) *dbus.Error {
	slog.Info("bluez agent: confirming pairing", "device", device, "passkey", passkey)
	a.trust(device)
	return nil
}

func (a *pairingAgent) RequestAuthorization(device dbus.ObjectPath) *dbus.Error {
	a.trust(device)
	return nil
}

func (a *pairingAgent) AuthorizeService(device dbus.ObjectPath, uuid string) *dbus.Error {
	slog.Debug("bluez agent: authorize service", "device", device, "uuid", uuid)
	return nil
}

func (a *pairingAgent) Cancel() *dbus.Error { return nil }

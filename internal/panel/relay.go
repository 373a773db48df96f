package panel

import (
	"fmt"
	"log/slog"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// OutputPin is the part of gpio.PinOut the relay drives.
type OutputPin interface {
	Name() string
	Out(l gpio.Level) error
}

// Relay switches the amplifier supply. It implements orchestrator.Output.
type Relay struct {
	pin        OutputPin
	activeHigh bool

	mu sync.Mutex
	on bool
}

// NewRelay wraps pin. The relay starts in the off state but the pin is not
// driven until the first SetPower.
func NewRelay(pin OutputPin, activeHigh bool) *Relay {
	return &Relay{pin: pin, activeHigh: activeHigh}
}

// OpenRelay initializes the GPIO host driver and opens the named pin
// (BCM naming, e.g. "GPIO26").
func OpenRelay(name string, activeHigh bool) (*Relay, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("gpio: host init failed: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio: failed to open %s (amplifier)", name)
	}
	r := NewRelay(p, activeHigh)
	if err := r.SetPower(false); err != nil {
		return nil, err
	}
	return r, nil
}

// SetPower drives the pin to the on or off level.
func (r *Relay) SetPower(on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	level := gpio.Level(on == r.activeHigh)
	if err := r.pin.Out(level); err != nil {
		return fmt.Errorf("gpio: drive %s: %w", r.pin.Name(), err)
	}
	r.on = on
	slog.Debug("panel: amplifier relay", "pin", r.pin.Name(), "on", on, "level", level)
	return nil
}

// On reports the last level set.
func (r *Relay) On() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.on
}

package orchestrator

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/kitchenradio/kitchenradio-go/internal/backends"
	"github.com/kitchenradio/kitchenradio-go/internal/config"
	"github.com/kitchenradio/kitchenradio-go/internal/models"
)

// SetSource makes b the active backend. Selecting the already active backend
// is a no-op, except that a connected pairing-capable backend with no device
// attached enters pairing mode.
func (o *Orchestrator) SetSource(ctx context.Context, b models.BackendType) error {
	return o.transition(func() ([]models.Event, error) {
		return o.setSourceLocked(ctx, b, "request")
	})
}

// transition runs fn under the state lock and publishes its events once the
// lock is released.
func (o *Orchestrator) transition(fn func() ([]models.Event, error)) error {
	evs, err := func() ([]models.Event, error) {
		o.mu.Lock()
		defer o.mu.Unlock()
		return fn()
	}()
	o.publish(evs)
	return err
}

func (o *Orchestrator) setSourceLocked(ctx context.Context, b models.BackendType, reason string) ([]models.Event, error) {
	if o.shuttingDown {
		return nil, models.ErrShuttingDown()
	}
	if !o.known(b) {
		return nil, models.ErrUnknownBackend(string(b))
	}

	if b == o.active {
		if o.pairing || !o.wantsPairingLocked(ctx, b) {
			return nil, nil
		}
		if err := o.enterPairingLocked(ctx, b); err != nil {
			slog.Warn("orchestrator: enter pairing failed", "backend", b, "err", err)
			return nil, models.ErrBackendCommandFailed(b, "pair", err)
		}
		return []models.Event{o.sourceEventLocked(b, b)}, nil
	}

	prev := o.active
	if o.pairing {
		o.exitPairingLocked(ctx)
	}
	if prev.Valid() {
		if a := o.adapters[prev]; a.IsConnected() {
			if err := guard(prev, "stop", func() error { return a.Stop(ctx) }); err != nil {
				slog.Warn("orchestrator: stop previous source failed", "backend", prev, "err", err)
			}
		}
	}
	if !o.powered {
		o.setPowerLocked(true)
	}
	o.active = b
	slog.Info("orchestrator: source switched", "from", prev, "to", b, "reason", reason)

	if a := o.adapters[b]; a.IsConnected() {
		if err := guard(b, "play", func() error { return a.Play(ctx) }); err != nil {
			slog.Warn("orchestrator: auto-resume failed", "backend", b, "err", err)
		}
	}
	return []models.Event{o.sourceEventLocked(b, prev)}, nil
}

// sourceEventLocked describes the orchestrator state after a transition.
func (o *Orchestrator) sourceEventLocked(src, prev models.BackendType) models.Event {
	return models.NewEvent(models.EventSourceInfoChanged, src, map[string]any{
		"source":       string(o.active),
		"previous":     string(prev),
		"active":       o.active.Valid(),
		"powered":      o.powered,
		"pairing_mode": o.pairing,
	})
}

// PowerOn restores the last source. Without one it falls back to the
// default source, then to the first connected backend.
func (o *Orchestrator) PowerOn(ctx context.Context) error {
	return o.transition(func() ([]models.Event, error) { return o.powerOnLocked(ctx) })
}

func (o *Orchestrator) powerOnLocked(ctx context.Context) ([]models.Event, error) {
	if o.shuttingDown {
		return nil, models.ErrShuttingDown()
	}
	if o.powered {
		return nil, nil
	}
	o.setPowerLocked(true)
	o.persistLocked()

	target := o.last
	if !o.known(target) && o.known(o.defaultSource) {
		target = o.defaultSource
	}
	if !o.known(target) {
		for _, b := range o.order {
			if o.adapters[b].IsConnected() {
				target = b
				break
			}
		}
	}
	if o.known(target) {
		return o.setSourceLocked(ctx, target, "power on")
	}
	slog.Info("orchestrator: powered on without an available source")
	return []models.Event{o.sourceEventLocked(models.BackendNone, models.BackendNone)}, nil
}

// PowerOff remembers the active source, stops it and deactivates.
func (o *Orchestrator) PowerOff(ctx context.Context) error {
	return o.transition(func() ([]models.Event, error) { return o.powerOffLocked(ctx) })
}

func (o *Orchestrator) powerOffLocked(ctx context.Context) ([]models.Event, error) {
	if o.shuttingDown {
		return nil, models.ErrShuttingDown()
	}
	if !o.powered {
		return nil, nil
	}
	prev := o.active
	if o.pairing {
		o.exitPairingLocked(ctx)
	}
	if prev.Valid() {
		o.last = prev
		if a := o.adapters[prev]; a.IsConnected() {
			if err := guard(prev, "stop", func() error { return a.Stop(ctx) }); err != nil {
				slog.Warn("orchestrator: stop on power off failed", "backend", prev, "err", err)
			}
		}
	}
	o.active = models.BackendNone
	o.setPowerLocked(false)
	o.persistLocked()
	slog.Info("orchestrator: powered off", "last_source", o.last)

	return []models.Event{o.sourceEventLocked(models.BackendNone, prev)}, nil
}

// TogglePower switches power on or off.
func (o *Orchestrator) TogglePower(ctx context.Context) error {
	if o.Powered() {
		return o.PowerOff(ctx)
	}
	return o.PowerOn(ctx)
}

func (o *Orchestrator) setPowerLocked(on bool) {
	o.powered = on
	if o.output == nil {
		return
	}
	if err := o.output.SetPower(on); err != nil {
		slog.Warn("orchestrator: power output failed", "on", on, "err", err)
	}
}

func (o *Orchestrator) persistLocked() {
	st := &config.RuntimeState{Powered: o.powered}
	if o.last.Valid() {
		st.LastSource = string(o.last)
	}
	if err := o.store.Save(st); err != nil {
		slog.Warn("orchestrator: save runtime state failed", "err", err)
	}
}

// wantsPairingLocked reports whether re-selecting b should start pairing:
// b can pair, is connected and has no device attached.
func (o *Orchestrator) wantsPairingLocked(ctx context.Context, b models.BackendType) bool {
	a := o.adapters[b]
	if _, ok := a.(backends.Pairer); !ok || !a.IsConnected() {
		return false
	}
	if snap, ok := o.monitors[b].Snapshot(); ok {
		return !snap.Source.HasDevice()
	}
	var st models.BackendStatus
	err := guard(b, "status", func() (err error) {
		st, err = a.Status(ctx)
		return err
	})
	return err == nil && !st.Source.HasDevice()
}

func (o *Orchestrator) enterPairingLocked(ctx context.Context, b models.BackendType) error {
	p := o.adapters[b].(backends.Pairer)
	timeout := o.tun.PairingTimeout
	if err := guard(b, "enter_pairing", func() error { return p.EnterPairing(ctx, timeout) }); err != nil {
		return err
	}
	o.pairing = true
	o.pairGen++
	if timeout > 0 {
		gen := o.pairGen
		o.pairTimer = time.AfterFunc(timeout, func() { o.pairingExpired(gen) })
	}
	slog.Info("orchestrator: pairing mode", "backend", b, "timeout", timeout)
	return nil
}

func (o *Orchestrator) exitPairingLocked(ctx context.Context) {
	o.stopPairTimerLocked()
	o.pairing = false
	if p, ok := o.adapters[o.active].(backends.Pairer); ok {
		if err := guard(o.active, "exit_pairing", func() error { return p.ExitPairing(ctx) }); err != nil {
			slog.Warn("orchestrator: exit pairing failed", "backend", o.active, "err", err)
		}
	}
}

func (o *Orchestrator) stopPairTimerLocked() {
	if o.pairTimer != nil {
		o.pairTimer.Stop()
		o.pairTimer = nil
	}
}

func (o *Orchestrator) pairingExpired(gen int) {
	_ = o.transition(func() ([]models.Event, error) {
		if gen != o.pairGen || !o.pairing || o.shuttingDown {
			return nil, nil
		}
		o.pairTimer = nil
		o.exitPairingLocked(o.baseCtx)
		slog.Info("orchestrator: pairing mode timed out", "backend", o.active)
		return []models.Event{o.sourceEventLocked(o.active, o.active)}, nil
	})
}

// route is the sink of every monitor. It applies the auto-switch rules and
// forwards events from the active backend, plus lifecycle events from any
// backend, to the bus.
func (o *Orchestrator) route(ev models.Event) {
	forward, pending, ok := o.routeLocked(ev)
	if !ok {
		return
	}
	if forward {
		o.bus.Publish(ev)
	} else {
		slog.Debug("orchestrator: dropped event from inactive backend", "backend", ev.Source, "kind", ev.Kind)
	}
	o.publish(pending)
}

// routeLocked applies the switch rules for ev. ok is false once shutdown has
// begun.
func (o *Orchestrator) routeLocked(ev models.Event) (forward bool, pending []models.Event, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.shuttingDown {
		return false, nil, false
	}
	ctx := o.baseCtx

	switch ev.Kind {
	case models.EventDeviceConnected:
		if ev.Source == o.active {
			if o.pairing {
				o.exitPairingLocked(ctx)
				pending = append(pending, o.sourceEventLocked(o.active, o.active))
			}
			break
		}
		if !o.autoSwitchAllowedLocked(ev.Source) {
			break
		}
		evs, err := o.setSourceLocked(ctx, ev.Source, "device connected")
		if err != nil {
			slog.Warn("orchestrator: auto-switch failed", "backend", ev.Source, "err", err)
		}
		pending = append(pending, evs...)
	case models.EventDeviceDisconnected:
		fb := o.tun.Fallback
		if ev.Source != o.active || ev.Source == fb || !o.known(fb) {
			break
		}
		evs, err := o.setSourceLocked(ctx, fb, "device disconnected")
		if err != nil {
			slog.Warn("orchestrator: fallback switch failed", "backend", fb, "err", err)
		}
		pending = append(pending, evs...)
	}

	return ev.Source == o.active || ev.Kind.IsLifecycle(), pending, true
}

func (o *Orchestrator) autoSwitchAllowedLocked(b models.BackendType) bool {
	if len(o.tun.AutoSwitch) == 0 {
		return true
	}
	return slices.Contains(o.tun.AutoSwitch, b)
}

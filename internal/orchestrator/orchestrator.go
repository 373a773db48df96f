// Package orchestrator implements the source state machine: which backend is
// active, what happens on switches and power changes, which backend events
// reach UI subscribers, and the ordered shutdown of monitors and adapters.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kitchenradio/kitchenradio-go/internal/backends"
	"github.com/kitchenradio/kitchenradio-go/internal/config"
	"github.com/kitchenradio/kitchenradio-go/internal/events"
	"github.com/kitchenradio/kitchenradio-go/internal/models"
	"github.com/kitchenradio/kitchenradio-go/internal/monitor"
)

const (
	defaultStopTimeout   = 5 * time.Second
	defaultStatusTimeout = 2 * time.Second
	defaultVolumeStep    = 5
)

// Output is the power stage switched on and off with the radio, typically
// the amplifier relay.
type Output interface {
	SetPower(on bool) error
}

// Tunables are the settings that may change while running.
type Tunables struct {
	VolumeStep     int
	PairingTimeout time.Duration // 0 keeps pairing mode until the next switch
	Fallback       models.BackendType
	AutoSwitch     []models.BackendType // empty allows every backend
}

// Options configures an Orchestrator.
type Options struct {
	Bus    *events.Bus
	Store  config.StateStore
	Output Output

	PollInterval  time.Duration
	PollIntervals map[models.BackendType]time.Duration
	StopTimeout   time.Duration
	StatusTimeout time.Duration

	DefaultSource    models.BackendType
	PowerOnAtStartup bool

	Tunables
}

// Orchestrator owns the active-source state. Every read and write of that
// state, and every transition, happens under mu. Monitors only feed route.
type Orchestrator struct {
	bus      *events.Bus
	store    config.StateStore
	output   Output
	order    []models.BackendType
	adapters map[models.BackendType]backends.Adapter
	monitors map[models.BackendType]*monitor.Monitor

	stopTimeout      time.Duration
	statusTimeout    time.Duration
	defaultSource    models.BackendType
	powerOnAtStartup bool

	mu           sync.Mutex
	tun          Tunables
	active       models.BackendType
	last         models.BackendType
	powered      bool
	pairing      bool
	pairTimer    *time.Timer
	pairGen      int
	started      bool
	shuttingDown bool
	baseCtx      context.Context
}

// New wires adapters to monitors. Adapters are kept in the canonical
// backend order regardless of argument order.
func New(adapters []backends.Adapter, opts Options) (*Orchestrator, error) {
	if opts.Bus == nil {
		opts.Bus = events.NewBus()
	}
	if opts.Store == nil {
		opts.Store = config.NewMemStore()
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaultStopTimeout
	}
	if opts.StatusTimeout <= 0 {
		opts.StatusTimeout = defaultStatusTimeout
	}
	if opts.VolumeStep <= 0 {
		opts.VolumeStep = defaultVolumeStep
	}
	if !opts.Fallback.Valid() {
		opts.Fallback = models.BackendLocalQueue
	}

	o := &Orchestrator{
		bus:              opts.Bus,
		store:            opts.Store,
		output:           opts.Output,
		adapters:         make(map[models.BackendType]backends.Adapter),
		monitors:         make(map[models.BackendType]*monitor.Monitor),
		stopTimeout:      opts.StopTimeout,
		statusTimeout:    opts.StatusTimeout,
		defaultSource:    opts.DefaultSource,
		powerOnAtStartup: opts.PowerOnAtStartup,
		tun:              opts.Tunables,
		active:           models.BackendNone,
		last:             models.BackendNone,
		baseCtx:          context.Background(),
	}
	for _, a := range adapters {
		b := a.Type()
		if !b.Valid() {
			return nil, fmt.Errorf("orchestrator: adapter has invalid type %q", b)
		}
		if _, dup := o.adapters[b]; dup {
			return nil, fmt.Errorf("orchestrator: duplicate adapter for %s", b)
		}
		o.adapters[b] = a
	}
	for _, b := range models.AllBackends() {
		a, ok := o.adapters[b]
		if !ok {
			continue
		}
		o.order = append(o.order, b)
		interval := opts.PollInterval
		if d, ok := opts.PollIntervals[b]; ok && d > 0 {
			interval = d
		}
		o.monitors[b] = monitor.New(a, monitor.Options{Interval: interval, Sink: o.route})
	}
	return o, nil
}

// Start restores the persisted state, starts one monitor per adapter and
// powers on if configured to or if the radio was on at the last shutdown.
// Adapters are connected by their monitors, not here.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started || o.shuttingDown {
		o.mu.Unlock()
		return nil
	}
	o.started = true
	o.baseCtx = ctx
	wasPowered := false
	if st, err := o.store.Load(); err != nil {
		slog.Warn("orchestrator: load runtime state failed", "err", err)
	} else if st != nil {
		if b, err := models.ParseBackendType(st.LastSource); err == nil && o.known(b) {
			o.last = b
		}
		wasPowered = st.Powered
	}
	o.mu.Unlock()

	for _, b := range o.order {
		o.monitors[b].Start(ctx)
	}
	slog.Info("orchestrator: started", "backends", o.order, "last_source", o.last)

	if o.powerOnAtStartup || wasPowered {
		return o.PowerOn(ctx)
	}
	return nil
}

// Shutdown stops every monitor, waits for each one with a bounded timeout
// and only then disconnects the adapters. It is idempotent.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.shuttingDown {
		o.mu.Unlock()
		return nil
	}
	o.shuttingDown = true
	o.stopPairTimerLocked()
	pairing := o.pairing && o.active.Valid()
	active := o.active
	o.mu.Unlock()

	slog.Info("orchestrator: shutting down")
	for _, b := range o.order {
		o.monitors[b].Signal()
	}
	var errs []error
	for _, b := range o.order {
		if err := o.monitors[b].Wait(o.stopTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	if pairing {
		if p, ok := o.adapters[active].(backends.Pairer); ok {
			if err := guard(active, "exit_pairing", func() error { return p.ExitPairing(ctx) }); err != nil {
				slog.Warn("orchestrator: exit pairing on shutdown", "err", err)
			}
		}
	}
	for _, b := range o.order {
		if err := guard(b, "disconnect", o.adapters[b].Disconnect); err != nil {
			slog.Warn("orchestrator: disconnect failed", "backend", b, "err", err)
		}
	}
	if err := o.store.Flush(); err != nil {
		slog.Warn("orchestrator: flush runtime state", "err", err)
	}
	o.bus.Close()

	if len(errs) > 0 {
		return fmt.Errorf("orchestrator shutdown: %w", errors.Join(errs...))
	}
	return nil
}

// Tune applies new runtime settings.
func (o *Orchestrator) Tune(t Tunables) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if t.VolumeStep > 0 {
		o.tun.VolumeStep = t.VolumeStep
	}
	if t.Fallback.Valid() {
		o.tun.Fallback = t.Fallback
	}
	o.tun.PairingTimeout = t.PairingTimeout
	o.tun.AutoSwitch = append([]models.BackendType(nil), t.AutoSwitch...)
	slog.Info("orchestrator: settings updated", "volume_step", o.tun.VolumeStep,
		"pairing_timeout", o.tun.PairingTimeout, "fallback", o.tun.Fallback)
}

// AddCallback subscribes cb to kind (models.EventAny for all kinds).
func (o *Orchestrator) AddCallback(kind models.EventKind, cb events.Callback) string {
	return o.bus.Subscribe(kind, cb)
}

// RemoveCallback removes a subscription made with AddCallback.
func (o *Orchestrator) RemoveCallback(id string) bool {
	return o.bus.Unsubscribe(id)
}

// Bus exposes the event bus for channel subscribers.
func (o *Orchestrator) Bus() *events.Bus { return o.bus }

// Monitor returns the monitor of backend b, if configured.
func (o *Orchestrator) Monitor(b models.BackendType) (*monitor.Monitor, bool) {
	m, ok := o.monitors[b]
	return m, ok
}

func (o *Orchestrator) known(b models.BackendType) bool {
	_, ok := o.adapters[b]
	return ok
}

func (o *Orchestrator) publish(evs []models.Event) {
	for _, ev := range evs {
		o.bus.Publish(ev)
	}
}

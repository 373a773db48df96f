package panel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

const (
	defaultDebounce    = 30 * time.Millisecond
	defaultRepeatDelay = 400 * time.Millisecond
	defaultRepeatRate  = 8
	edgePoll           = 200 * time.Millisecond
	actionTimeout      = 5 * time.Second
)

// InputPin is the part of gpio.PinIn a button needs. Buttons are wired
// to ground, so pressed reads Low with the internal pull-up enabled.
type InputPin interface {
	Name() string
	In(pull gpio.Pull, edge gpio.Edge) error
	Read() gpio.Level
	WaitForEdge(timeout time.Duration) bool
}

// ButtonOptions tune the button loops.
type ButtonOptions struct {
	Debounce    time.Duration
	RepeatDelay time.Duration // hold time before a volume button repeats
	RepeatRate  float64       // repeats per second while held
}

// Buttons watches one pin per action.
type Buttons struct {
	actions Actions
	pins    map[Action]InputPin
	opts    ButtonOptions
}

// NewButtons binds pins to actions.
func NewButtons(act Actions, pins map[Action]InputPin, opts ButtonOptions) *Buttons {
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.RepeatDelay <= 0 {
		opts.RepeatDelay = defaultRepeatDelay
	}
	if opts.RepeatRate <= 0 {
		opts.RepeatRate = defaultRepeatRate
	}
	return &Buttons{actions: act, pins: pins, opts: opts}
}

// OpenPins resolves a configured action -> GPIO name mapping.
func OpenPins(mapping map[string]string) (map[Action]InputPin, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("gpio: host init failed: %w", err)
	}
	pins := make(map[Action]InputPin, len(mapping))
	for name, pinName := range mapping {
		a, err := ParseAction(name)
		if err != nil {
			return nil, err
		}
		p := gpioreg.ByName(pinName)
		if p == nil {
			return nil, fmt.Errorf("gpio: failed to open %s (%s)", pinName, a)
		}
		pins[a] = p
	}
	return pins, nil
}

// Run watches every pin until ctx is cancelled.
func (b *Buttons) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for a, pin := range b.pins {
		a, pin := a, pin
		g.Go(func() error { return b.watch(ctx, a, pin) })
	}
	slog.Info("panel: buttons active", "count", len(b.pins))
	return g.Wait()
}

func (b *Buttons) watch(ctx context.Context, a Action, pin InputPin) error {
	if err := pin.In(gpio.PullUp, gpio.BothEdges); err != nil {
		return fmt.Errorf("gpio: configure %s for %s: %w", pin.Name(), a, err)
	}
	pressed := pin.Read() == gpio.Low
	for ctx.Err() == nil {
		if !pin.WaitForEdge(edgePoll) {
			continue
		}
		if !sleep(ctx, b.opts.Debounce) {
			break
		}
		now := pin.Read() == gpio.Low
		if now == pressed {
			continue
		}
		pressed = now
		if !pressed {
			continue
		}
		b.fire(ctx, a)
		if a.Repeats() {
			b.hold(ctx, a, pin)
			pressed = pin.Read() == gpio.Low
		}
	}
	return nil
}

// hold repeats a while the button stays down.
func (b *Buttons) hold(ctx context.Context, a Action, pin InputPin) {
	if !sleep(ctx, b.opts.RepeatDelay) {
		return
	}
	lim := rate.NewLimiter(rate.Limit(b.opts.RepeatRate), 1)
	for pin.Read() == gpio.Low {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		if pin.Read() != gpio.Low {
			return
		}
		b.fire(ctx, a)
	}
}

func (b *Buttons) fire(ctx context.Context, a Action) {
	ctx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()
	slog.Debug("panel: button", "action", a)
	if err := Dispatch(ctx, b.actions, a); err != nil {
		slog.Warn("panel: action failed", "action", a, "err", err)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

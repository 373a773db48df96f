// Package monitor runs one polling loop per backend adapter. A monitor
// samples its adapter, turns differences between samples into events and
// re-establishes lost connections. It never decides which backend is active.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kitchenradio/kitchenradio-go/internal/backends"
	"github.com/kitchenradio/kitchenradio-go/internal/models"
)

// ErrStopTimeout is returned by Wait when the loop did not exit in time.
var ErrStopTimeout = errors.New("monitor did not stop in time")

const defaultInterval = time.Second

// State is the lifecycle state of a monitor.
type State int32

const (
	StateStopped State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	}
	return "stopped"
}

// Sink receives the events a monitor emits, in emission order.
type Sink func(models.Event)

// Options configures a Monitor.
type Options struct {
	Interval time.Duration
	Sink     Sink
}

// Monitor watches one adapter.
type Monitor struct {
	adapter  backends.Adapter
	interval time.Duration
	sink     Sink

	mu     sync.Mutex
	state  State
	stopCh chan struct{}
	doneCh chan struct{}
	cancel context.CancelFunc

	snapMu  sync.RWMutex
	last    models.BackendStatus
	sampled bool

	// loop-owned
	wasConnected bool

	polls      atomic.Int64
	reconnects atomic.Int64
}

// New creates a stopped monitor for adapter.
func New(adapter backends.Adapter, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Sink == nil {
		opts.Sink = func(models.Event) {}
	}
	return &Monitor{
		adapter:  adapter,
		interval: opts.Interval,
		sink:     opts.Sink,
	}
}

// Backend returns the type of the watched adapter.
func (m *Monitor) Backend() models.BackendType { return m.adapter.Type() }

// State returns the current lifecycle state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start spawns the loop goroutine. It is a no-op unless the monitor is stopped.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateStopped {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.cancel = cancel
	m.state = StateRunning
	go m.run(loopCtx, cancel, m.stopCh, m.doneCh)
}

// Signal asks the loop to exit without waiting. It also cancels the context
// of any in-flight reconnect.
func (m *Monitor) Signal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateRunning {
		return
	}
	m.state = StateStopping
	close(m.stopCh)
	m.cancel()
}

// Wait blocks until the loop has exited or timeout elapses.
func (m *Monitor) Wait(timeout time.Duration) error {
	m.mu.Lock()
	done := m.doneCh
	m.mu.Unlock()
	if done == nil {
		return nil
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return nil
	case <-t.C:
		slog.Warn("monitor: did not stop in time", "backend", m.adapter.Type(), "timeout", timeout)
		return fmt.Errorf("%s: %w", m.adapter.Type(), ErrStopTimeout)
	}
}

// Stop is Signal followed by Wait.
func (m *Monitor) Stop(timeout time.Duration) error {
	m.Signal()
	return m.Wait(timeout)
}

// Snapshot returns the last sample and whether one was taken.
func (m *Monitor) Snapshot() (models.BackendStatus, bool) {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.last, m.sampled
}

// Polls counts successful status samples.
func (m *Monitor) Polls() int64 { return m.polls.Load() }

// Reconnects counts connect attempts made by the loop.
func (m *Monitor) Reconnects() int64 { return m.reconnects.Load() }

func (m *Monitor) run(ctx context.Context, cancel context.CancelFunc, stopCh, doneCh chan struct{}) {
	defer func() {
		cancel()
		m.mu.Lock()
		if m.doneCh == doneCh {
			m.state = StateStopped
		}
		m.mu.Unlock()
		close(doneCh)
	}()

	var wake <-chan struct{}
	if n, ok := m.adapter.(backends.Notifier); ok {
		wake = n.Changes()
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	slog.Debug("monitor: started", "backend", m.adapter.Type(), "interval", m.interval)
	for {
		if stopped(ctx, stopCh) {
			return
		}
		m.step(ctx, stopCh)

		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-wake:
		}
	}
}

func stopped(ctx context.Context, stopCh chan struct{}) bool {
	select {
	case <-stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// step performs one iteration: reconnect if needed, then sample and diff.
func (m *Monitor) step(ctx context.Context, stopCh chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("monitor: iteration panicked", "backend", m.adapter.Type(), "panic", fmt.Sprint(r))
		}
	}()

	if !m.adapter.IsConnected() {
		if m.wasConnected {
			m.connectionLost()
		}
		// A stop requested during the previous iteration must win over a
		// new connection attempt.
		if stopped(ctx, stopCh) {
			return
		}
		m.reconnects.Add(1)
		if err := m.adapter.Connect(ctx); err != nil {
			if ctx.Err() == nil {
				slog.Debug("monitor: connect failed", "backend", m.adapter.Type(), "err", err)
			}
			return
		}
	}
	m.wasConnected = true

	st, err := m.adapter.Status(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("monitor: status failed", "backend", m.adapter.Type(), "err", err)
		}
		return
	}
	m.observe(st)
	m.polls.Add(1)
}

// observe stores the sample and emits the differences. The very first sample
// is a silent baseline.
func (m *Monitor) observe(next models.BackendStatus) {
	next.Source.Source = m.adapter.Type()

	m.snapMu.Lock()
	prev, sampled := m.last, m.sampled
	m.last, m.sampled = next, true
	m.snapMu.Unlock()

	if !sampled {
		return
	}
	for _, ev := range Diff(m.adapter.Type(), prev, next) {
		m.emit(ev)
	}
}

// connectionLost resets the snapshot so the next successful sample is
// compared against an empty state; an attached device is reported gone.
func (m *Monitor) connectionLost() {
	m.wasConnected = false
	b := m.adapter.Type()
	slog.Warn("monitor: connection lost", "backend", b)

	empty := models.BackendStatus{
		State:  models.StateUnknown,
		Source: models.SourceInfo{Source: b},
	}
	m.snapMu.Lock()
	prev, sampled := m.last, m.sampled
	if sampled {
		m.last = empty
	}
	m.snapMu.Unlock()

	if sampled && prev.Source.HasDevice() {
		m.emit(models.NewEvent(models.EventDeviceDisconnected, b, prev.Source.Payload()))
	}
}

func (m *Monitor) emit(ev models.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("monitor: sink panicked", "backend", ev.Source, "kind", ev.Kind, "panic", fmt.Sprint(r))
		}
	}()
	m.sink(ev)
}

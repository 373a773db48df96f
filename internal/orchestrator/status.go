package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kitchenradio/kitchenradio-go/internal/backends"
	"github.com/kitchenradio/kitchenradio-go/internal/models"
)

// CurrentSource returns the active backend, or BackendNone.
func (o *Orchestrator) CurrentSource() models.BackendType {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// LastSource returns the source remembered at the last power off.
func (o *Orchestrator) LastSource() models.BackendType {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

// Powered reports whether the radio is on.
func (o *Orchestrator) Powered() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.powered
}

// Pairing reports whether the active backend is in pairing mode.
func (o *Orchestrator) Pairing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pairing
}

// AvailableSources lists the connected backends in canonical order.
func (o *Orchestrator) AvailableSources() []models.BackendType {
	out := make([]models.BackendType, 0, len(o.order))
	for _, b := range o.order {
		if o.adapters[b].IsConnected() {
			out = append(out, b)
		}
	}
	return out
}

// Status queries every backend concurrently. A backend that fails or hangs
// yields a degraded entry; the aggregate itself never fails.
func (o *Orchestrator) Status(ctx context.Context) models.Status {
	o.mu.Lock()
	st := models.Status{
		Powered:      o.powered,
		ActiveSource: o.active,
		LastSource:   o.last,
		PairingMode:  o.pairing,
	}
	o.mu.Unlock()

	entries := make([]models.BackendEntry, len(o.order))
	var g errgroup.Group
	for i, b := range o.order {
		i, b := i, b
		g.Go(func() error {
			entries[i] = o.queryBackend(ctx, o.adapters[b])
			return nil
		})
	}
	_ = g.Wait()

	st.Backends = make(map[models.BackendType]models.BackendEntry, len(o.order))
	st.AvailableSources = []models.BackendType{}
	for i, b := range o.order {
		st.Backends[b] = entries[i]
		if entries[i].Connected {
			st.AvailableSources = append(st.AvailableSources, b)
		}
	}
	return st
}

func (o *Orchestrator) queryBackend(ctx context.Context, a backends.Adapter) (entry models.BackendEntry) {
	b := a.Type()
	entry = models.BackendEntry{
		State:  models.StateUnknown,
		Source: models.SourceInfo{Source: b},
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("orchestrator: status query panicked", "backend", b, "panic", fmt.Sprint(r))
			entry.State = models.StateUnknown
			entry.Volume = nil
			entry.Error = fmt.Sprintf("panic: %v", r)
		}
	}()

	entry.Connected = a.IsConnected()
	if !entry.Connected {
		return entry
	}
	ctx, cancel := context.WithTimeout(ctx, o.statusTimeout)
	defer cancel()

	type result struct {
		st  models.BackendStatus
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		st, err := a.Status(ctx)
		ch <- result{st, err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-ctx.Done():
		res.err = ctx.Err()
	}
	if res.err != nil {
		slog.Debug("orchestrator: status degraded", "backend", b, "err", res.err)
		entry.Error = res.err.Error()
		return entry
	}
	entry.State = res.st.State
	entry.Track = res.st.Track
	entry.Volume = res.st.Volume
	entry.Source = res.st.Source
	entry.Source.Source = b
	return entry
}

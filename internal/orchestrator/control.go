package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kitchenradio/kitchenradio-go/internal/backends"
	"github.com/kitchenradio/kitchenradio-go/internal/models"
)

var errVolumeUnknown = errors.New("backend does not report a volume")

// activeLocked resolves the adapter commands go to.
func (o *Orchestrator) activeLocked() (backends.Adapter, error) {
	if o.shuttingDown {
		return nil, models.ErrShuttingDown()
	}
	if !o.active.Valid() {
		return nil, models.ErrNoActiveSource()
	}
	a := o.adapters[o.active]
	if !a.IsConnected() {
		return nil, models.ErrBackendNotConnected(o.active)
	}
	return a, nil
}

// command runs fn against the active adapter while holding the state lock,
// so no command can reach a backend that is being switched away from.
// Failures are reported, not retried.
func (o *Orchestrator) command(op string, fn func(a backends.Adapter) error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	a, err := o.activeLocked()
	if err != nil {
		return err
	}
	if err := guard(o.active, op, func() error { return fn(a) }); err != nil {
		return models.ErrBackendCommandFailed(o.active, op, err)
	}
	return nil
}

// guard runs one adapter call and turns a panic into an error, so a broken
// driver cannot take the state lock down with it.
func guard(b models.BackendType, op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("orchestrator: adapter panicked", "backend", b, "op", op, "panic", fmt.Sprint(r))
			err = fmt.Errorf("%s %s: panic: %v", b, op, r)
		}
	}()
	return fn()
}

// Play resumes the active source.
func (o *Orchestrator) Play(ctx context.Context) error {
	return o.command("play", func(a backends.Adapter) error { return a.Play(ctx) })
}

// Pause pauses the active source.
func (o *Orchestrator) Pause(ctx context.Context) error {
	return o.command("pause", func(a backends.Adapter) error { return a.Pause(ctx) })
}

// Stop stops the active source. The streamer treats it as pause.
func (o *Orchestrator) Stop(ctx context.Context) error {
	return o.command("stop", func(a backends.Adapter) error { return a.Stop(ctx) })
}

// Next skips to the next track.
func (o *Orchestrator) Next(ctx context.Context) error {
	return o.command("next", func(a backends.Adapter) error { return a.Next(ctx) })
}

// Previous goes back one track.
func (o *Orchestrator) Previous(ctx context.Context) error {
	return o.command("previous", func(a backends.Adapter) error { return a.Previous(ctx) })
}

// PlayPause reads the backend's current state and pauses when it is playing,
// otherwise plays.
func (o *Orchestrator) PlayPause(ctx context.Context) error {
	return o.command("play_pause", func(a backends.Adapter) error {
		st, err := a.Status(ctx)
		if err != nil {
			return err
		}
		if st.State == models.StatePlaying {
			return a.Pause(ctx)
		}
		return a.Play(ctx)
	})
}

// SetVolume clamps v to [0, 100] and returns the value sent.
func (o *Orchestrator) SetVolume(ctx context.Context, v int) (int, error) {
	v = models.ClampVolume(v)
	err := o.command("set_volume", func(a backends.Adapter) error { return a.SetVolume(ctx, v) })
	if err != nil {
		return 0, err
	}
	return v, nil
}

// VolumeUp raises the volume by step (the configured step when step <= 0).
func (o *Orchestrator) VolumeUp(ctx context.Context, step int) (int, error) {
	return o.adjustVolume(ctx, "volume_up", step, 1)
}

// VolumeDown lowers the volume by step (the configured step when step <= 0).
func (o *Orchestrator) VolumeDown(ctx context.Context, step int) (int, error) {
	return o.adjustVolume(ctx, "volume_down", step, -1)
}

func (o *Orchestrator) adjustVolume(ctx context.Context, op string, step, sign int) (int, error) {
	var next int
	err := o.command(op, func(a backends.Adapter) error {
		if step <= 0 {
			step = o.tun.VolumeStep
		}
		cur, ok, err := a.Volume(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return errVolumeUnknown
		}
		next = models.ClampVolume(cur + sign*step)
		return a.SetVolume(ctx, next)
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// Volume returns the active backend's volume; ok is false when there is no
// active source, it is disconnected or it reports no volume.
func (o *Orchestrator) Volume(ctx context.Context) (int, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	a, err := o.activeLocked()
	if err != nil {
		return 0, false
	}
	var (
		v  int
		ok bool
	)
	err = guard(o.active, "volume", func() (err error) {
		v, ok, err = a.Volume(ctx)
		return err
	})
	if err != nil {
		return 0, false
	}
	return v, ok
}

// Playlists lists the active backend's stored playlists.
func (o *Orchestrator) Playlists(ctx context.Context) ([]string, error) {
	var names []string
	err := o.command("playlists", func(a backends.Adapter) error {
		p, ok := a.(backends.Playlister)
		if !ok {
			return errUnsupported
		}
		var err error
		names, err = p.Playlists(ctx)
		return err
	})
	return names, unsupported(err, o.CurrentSource(), "playlists")
}

// LoadPlaylist replaces the active backend's queue with a stored playlist.
func (o *Orchestrator) LoadPlaylist(ctx context.Context, name string) error {
	err := o.command("load_playlist", func(a backends.Adapter) error {
		p, ok := a.(backends.Playlister)
		if !ok {
			return errUnsupported
		}
		return p.LoadPlaylist(ctx, name)
	})
	return unsupported(err, o.CurrentSource(), "playlists")
}

var errUnsupported = errors.New("unsupported")

func unsupported(err error, b models.BackendType, op string) error {
	if errors.Is(err, errUnsupported) {
		return models.ErrUnsupported(b, op)
	}
	return err
}

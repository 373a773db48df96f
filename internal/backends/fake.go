package backends

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kitchenradio/kitchenradio-go/internal/models"
)

// Fake is an in-memory Adapter for tests and for running the daemon without
// real backends. It records every call and supports failure injection.
type Fake struct {
	typ models.BackendType

	mu           sync.Mutex
	connected    bool
	autoConnect  bool
	state        models.PlaybackState
	track        models.TrackInfo
	volume       *int
	source       models.SourceInfo
	calls        []string
	failures     map[string]error
	connectCalls int
	disconnects  int
	playlists    []string
	changes      chan struct{}

	// OnCall, when set, observes every call name (including "connect" and
	// "disconnect") as it happens.
	OnCall func(backend models.BackendType, call string)
}

// NewFake creates a disconnected fake that connects on the first Connect.
func NewFake(t models.BackendType) *Fake {
	return &Fake{
		typ:         t,
		autoConnect: true,
		state:       models.StateStopped,
		volume:      models.IntPtr(50),
		source:      models.SourceInfo{Source: t, DeviceName: t.Label()},
		failures:    make(map[string]error),
		changes:     make(chan struct{}, 1),
	}
}

// NewConnectedFake returns a fake that is already connected.
func NewConnectedFake(t models.BackendType) *Fake {
	f := NewFake(t)
	f.connected = true
	return f
}

func (f *Fake) record(call string) {
	f.calls = append(f.calls, call)
	if f.OnCall != nil {
		f.OnCall(f.typ, call)
	}
}

func (f *Fake) Type() models.BackendType   { return f.typ }
func (f *Fake) Changes() <-chan struct{} { return f.changes }

// Poke wakes a monitor waiting on Changes.
func (f *Fake) Poke() { notify(f.changes) }

// Connect makes a single attempt; it fails when ctx is done, when a
// "connect" failure is injected, or when auto-connect is disabled.
func (f *Fake) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	f.record("connect")
	if err := f.failures["connect"]; err != nil {
		return err
	}
	if !f.autoConnect {
		return fmt.Errorf("%s: unreachable", f.typ)
	}
	f.connected = true
	return nil
}

func (f *Fake) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.record("disconnect")
	f.connected = false
	return nil
}

func (f *Fake) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *Fake) command(name string, apply func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(name)
	if !f.connected {
		return ErrNotConnected
	}
	if err := f.failures[name]; err != nil {
		return err
	}
	if apply != nil {
		apply()
	}
	return nil
}

func (f *Fake) Play(context.Context) error {
	return f.command("play", func() { f.state = models.StatePlaying })
}

func (f *Fake) Pause(context.Context) error {
	return f.command("pause", func() { f.state = models.StatePaused })
}

func (f *Fake) Stop(context.Context) error {
	return f.command("stop", func() { f.state = models.StateStopped })
}

func (f *Fake) Next(context.Context) error     { return f.command("next", nil) }
func (f *Fake) Previous(context.Context) error { return f.command("previous", nil) }

func (f *Fake) Volume(context.Context) (int, bool, error) {
	var (
		v  int
		ok bool
	)
	err := f.command("volume", func() {
		if f.volume != nil {
			v, ok = *f.volume, true
		}
	})
	return v, ok, err
}

func (f *Fake) SetVolume(_ context.Context, v int) error {
	return f.command(fmt.Sprintf("set_volume:%d", v), func() { f.volume = models.IntPtr(v) })
}

func (f *Fake) Status(context.Context) (models.BackendStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return models.BackendStatus{}, ErrNotConnected
	}
	if err := f.failures["status"]; err != nil {
		return models.BackendStatus{}, err
	}
	st := models.BackendStatus{State: f.state, Track: f.track, Source: f.source}
	if f.volume != nil {
		st.Volume = models.IntPtr(*f.volume)
	}
	return st, nil
}

func (f *Fake) Playlists(context.Context) ([]string, error) {
	var out []string
	err := f.command("playlists", func() { out = append(out, f.playlists...) })
	return out, err
}

func (f *Fake) LoadPlaylist(_ context.Context, name string) error {
	return f.command("load:"+name, func() { f.state = models.StatePlaying })
}

// SetConnected forces the connection state. Disconnecting does not record a
// "disconnect" call.
func (f *Fake) SetConnected(c bool) {
	f.mu.Lock()
	f.connected = c
	f.mu.Unlock()
}

// SetAutoConnect controls whether Connect succeeds.
func (f *Fake) SetAutoConnect(ok bool) {
	f.mu.Lock()
	f.autoConnect = ok
	f.mu.Unlock()
}

func (f *Fake) SetState(s models.PlaybackState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

func (f *Fake) SetTrack(t models.TrackInfo) {
	f.mu.Lock()
	f.track = t
	f.mu.Unlock()
}

// SetBackendVolume sets the volume the backend reports; nil means absent.
func (f *Fake) SetBackendVolume(v *int) {
	f.mu.Lock()
	f.volume = v
	f.mu.Unlock()
}

// SetDevice attaches (id != "") or detaches (id == "") a device.
func (f *Fake) SetDevice(name, id string) {
	f.mu.Lock()
	f.source.DeviceName = name
	f.source.DeviceID = id
	f.mu.Unlock()
}

func (f *Fake) SetPlaylists(names ...string) {
	f.mu.Lock()
	f.playlists = names
	f.mu.Unlock()
}

// Fail injects err for the named call; nil clears it.
func (f *Fake) Fail(call string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, call)
		return
	}
	f.failures[call] = err
}

// Calls returns a copy of the recorded call names.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallCount counts recorded calls with the given name.
func (f *Fake) CallCount(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

// ResetCalls clears the call log.
func (f *Fake) ResetCalls() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

func (f *Fake) ConnectCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

func (f *Fake) DisconnectCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

// FakePairer is a Fake with pairing support.
type FakePairer struct {
	*Fake
	pairing     bool
	lastTimeout time.Duration
}

// NewFakePairer wraps a new connected-on-demand Fake.
func NewFakePairer(t models.BackendType) *FakePairer {
	return &FakePairer{Fake: NewFake(t)}
}

func (p *FakePairer) EnterPairing(_ context.Context, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("enter_pairing")
	if err := p.failures["enter_pairing"]; err != nil {
		return err
	}
	p.pairing = true
	p.lastTimeout = timeout
	p.source.PairingMode = true
	return nil
}

func (p *FakePairer) ExitPairing(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("exit_pairing")
	p.pairing = false
	p.source.PairingMode = false
	return nil
}

func (p *FakePairer) Pairing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pairing
}

// LastPairingTimeout returns the timeout passed to the last EnterPairing.
func (p *FakePairer) LastPairingTimeout() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTimeout
}

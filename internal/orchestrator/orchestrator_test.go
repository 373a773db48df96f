package orchestrator_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kitchenradio/kitchenradio-go/internal/backends"
	"github.com/kitchenradio/kitchenradio-go/internal/config"
	"github.com/kitchenradio/kitchenradio-go/internal/models"
	"github.com/kitchenradio/kitchenradio-go/internal/monitor"
	"github.com/kitchenradio/kitchenradio-go/internal/orchestrator"
)

type rig struct {
	o     *orchestrator.Orchestrator
	mpd   *backends.Fake
	spot  *backends.Fake
	bt    *backends.FakePairer
	store *config.MemStore
	out   *fakeOutput

	mu     sync.Mutex
	events []models.Event
}

type fakeOutput struct {
	mu    sync.Mutex
	on    bool
	calls int
}

func (f *fakeOutput) SetPower(on bool) error {
	f.mu.Lock()
	f.on = on
	f.calls++
	f.mu.Unlock()
	return nil
}

func (f *fakeOutput) isOn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.on
}

func newRig(t *testing.T, mutate func(*orchestrator.Options)) *rig {
	t.Helper()
	r := &rig{
		mpd:   backends.NewConnectedFake(models.BackendLocalQueue),
		spot:  backends.NewConnectedFake(models.BackendStreamer),
		bt:    backends.NewFakePairer(models.BackendBluetooth),
		store: config.NewMemStore(),
		out:   &fakeOutput{},
	}
	r.bt.SetConnected(true)
	opts := orchestrator.Options{
		Store:        r.store,
		Output:       r.out,
		PollInterval: 5 * time.Millisecond,
		StopTimeout:  time.Second,
		Tunables: orchestrator.Tunables{
			VolumeStep: 5,
			Fallback:   models.BackendLocalQueue,
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	o, err := orchestrator.New([]backends.Adapter{r.bt, r.mpd, r.spot}, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.o = o
	o.AddCallback(models.EventAny, func(ev models.Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
	})
	return r
}

func (r *rig) start(t *testing.T) {
	t.Helper()
	if err := r.o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = r.o.Shutdown(context.Background()) })
	for _, b := range models.AllBackends() {
		m, _ := r.o.Monitor(b)
		waitFor(t, "baseline "+string(b), func() bool { return m.Polls() > 0 })
	}
}

func (r *rig) received(kind models.EventKind, src models.BackendType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Kind == kind && ev.Source == src {
			return true
		}
	}
	return false
}

func (r *rig) eventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew_RejectsDuplicateAdapters(t *testing.T) {
	_, err := orchestrator.New([]backends.Adapter{
		backends.NewFake(models.BackendLocalQueue),
		backends.NewFake(models.BackendLocalQueue),
	}, orchestrator.Options{})
	if err == nil {
		t.Fatal("expected error for duplicate adapters")
	}
}

func TestInitialState(t *testing.T) {
	r := newRig(t, nil)
	if got := r.o.CurrentSource(); got != models.BackendNone {
		t.Errorf("CurrentSource() = %s, want none", got)
	}
	if r.o.Powered() {
		t.Error("Powered() = true before power on")
	}
	err := r.o.Play(context.Background())
	if !models.HasCode(err, models.CodeNoActiveSource) {
		t.Errorf("Play() with no source = %v, want NO_ACTIVE_SOURCE", err)
	}
}

func TestSetSource_Exclusivity(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, nil)

	if err := r.o.SetSource(ctx, models.BackendStreamer); err != nil {
		t.Fatalf("SetSource: %v", err)
	}
	r.mpd.ResetCalls()
	r.spot.ResetCalls()
	r.bt.ResetCalls()

	for _, cmd := range []func(context.Context) error{r.o.Play, r.o.Pause, r.o.Stop, r.o.Next, r.o.Previous} {
		if err := cmd(ctx); err != nil {
			t.Fatalf("command: %v", err)
		}
	}
	if _, err := r.o.SetVolume(ctx, 40); err != nil {
		t.Fatalf("SetVolume: %v", err)
	}

	if n := len(r.spot.Calls()); n != 6 {
		t.Errorf("streamer received %d calls, want 6: %v", n, r.spot.Calls())
	}
	if calls := r.mpd.Calls(); len(calls) != 0 {
		t.Errorf("inactive local_queue received %v", calls)
	}
	if calls := r.bt.Calls(); len(calls) != 0 {
		t.Errorf("inactive bluetooth received %v", calls)
	}
}

func TestSetSource_Idempotent(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, nil)
	_ = r.o.SetSource(ctx, models.BackendLocalQueue)
	r.mpd.ResetCalls()
	before := r.eventCount()

	if err := r.o.SetSource(ctx, models.BackendLocalQueue); err != nil {
		t.Fatalf("SetSource: %v", err)
	}
	if calls := r.mpd.Calls(); len(calls) != 0 {
		t.Errorf("re-selecting the active source issued %v", calls)
	}
	if r.eventCount() != before {
		t.Error("re-selecting the active source published events")
	}
}

func TestSetSource_StopsPreviousAndResumesNew(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, nil)
	_ = r.o.SetSource(ctx, models.BackendLocalQueue)

	if err := r.o.SetSource(ctx, models.BackendStreamer); err != nil {
		t.Fatalf("SetSource: %v", err)
	}
	if r.mpd.CallCount("stop") != 1 {
		t.Errorf("previous source stop calls = %d, want 1", r.mpd.CallCount("stop"))
	}
	if r.spot.CallCount("play") != 1 {
		t.Errorf("new source play calls = %d, want 1", r.spot.CallCount("play"))
	}
	if !r.received(models.EventSourceInfoChanged, models.BackendStreamer) {
		t.Error("no source_info_changed for the new source")
	}
	if !r.o.Powered() || !r.out.isOn() {
		t.Error("switching source should power on")
	}
}

func TestSetSource_DisconnectedTargetStillActivates(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, nil)
	r.spot.SetConnected(false)

	if err := r.o.SetSource(ctx, models.BackendStreamer); err != nil {
		t.Fatalf("SetSource: %v", err)
	}
	if r.o.CurrentSource() != models.BackendStreamer {
		t.Errorf("CurrentSource() = %s", r.o.CurrentSource())
	}
	err := r.o.Play(ctx)
	if !models.HasCode(err, models.CodeBackendNotConnected) {
		t.Errorf("Play() = %v, want BACKEND_NOT_CONNECTED", err)
	}
	if _, ok := r.o.Volume(ctx); ok {
		t.Error("Volume() of a disconnected backend must be absent")
	}
}

func TestSetSource_UnknownBackend(t *testing.T) {
	o, err := orchestrator.New([]backends.Adapter{backends.NewConnectedFake(models.BackendLocalQueue)}, orchestrator.Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = o.SetSource(context.Background(), models.BackendBluetooth)
	if !models.HasCode(err, models.CodeUnknownBackend) {
		t.Errorf("SetSource(unconfigured) = %v", err)
	}
}

func TestSetVolume_Clamps(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, nil)
	_ = r.o.SetSource(ctx, models.BackendLocalQueue)

	cases := map[int]int{150: 100, -5: 0, 42: 42}
	for in, want := range cases {
		got, err := r.o.SetVolume(ctx, in)
		if err != nil {
			t.Fatalf("SetVolume(%d): %v", in, err)
		}
		if got != want {
			t.Errorf("SetVolume(%d) = %d, want %d", in, got, want)
		}
		if v, ok := r.o.Volume(ctx); !ok || v != want {
			t.Errorf("Volume() after SetVolume(%d) = %d,%v", in, v, ok)
		}
	}
}

func TestVolumeUpDown(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, nil)
	_ = r.o.SetSource(ctx, models.BackendLocalQueue)
	r.mpd.SetBackendVolume(models.IntPtr(98))

	if v, err := r.o.VolumeUp(ctx, 0); err != nil || v != 100 {
		t.Errorf("VolumeUp() = %d, %v; want 100", v, err)
	}
	if v, err := r.o.VolumeDown(ctx, 30); err != nil || v != 70 {
		t.Errorf("VolumeDown(30) = %d, %v; want 70", v, err)
	}

	r.mpd.SetBackendVolume(nil)
	_, err := r.o.VolumeUp(ctx, 0)
	if !models.HasCode(err, models.CodeBackendCommandFailed) {
		t.Errorf("VolumeUp with absent volume = %v", err)
	}
}

func TestPlayPause_ReadsBackendState(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, nil)
	_ = r.o.SetSource(ctx, models.BackendLocalQueue)

	// The backend was paused behind our back.
	r.mpd.SetState(models.StatePaused)
	r.mpd.ResetCalls()
	if err := r.o.PlayPause(ctx); err != nil {
		t.Fatalf("PlayPause: %v", err)
	}
	if r.mpd.CallCount("play") != 1 {
		t.Errorf("paused backend: calls = %v, want play", r.mpd.Calls())
	}

	r.mpd.ResetCalls()
	if err := r.o.PlayPause(ctx); err != nil {
		t.Fatalf("PlayPause: %v", err)
	}
	if r.mpd.CallCount("pause") != 1 {
		t.Errorf("playing backend: calls = %v, want pause", r.mpd.Calls())
	}
}

func TestCommandFailure_Wrapped(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, nil)
	_ = r.o.SetSource(ctx, models.BackendStreamer)
	boom := errors.New("http 500")
	r.spot.Fail("next", boom)

	err := r.o.Next(ctx)
	if !models.HasCode(err, models.CodeBackendCommandFailed) {
		t.Fatalf("Next() = %v, want BACKEND_COMMAND_FAILED", err)
	}
	if !errors.Is(err, boom) {
		t.Error("backend error not reachable through errors.Is")
	}
	if r.spot.CallCount("next") != 1 {
		t.Error("failed command must not be retried")
	}
}

func TestPower_RoundTripEveryBackend(t *testing.T) {
	ctx := context.Background()
	for _, b := range models.AllBackends() {
		t.Run(string(b), func(t *testing.T) {
			r := newRig(t, nil)
			if err := r.o.SetSource(ctx, b); err != nil {
				t.Fatalf("SetSource: %v", err)
			}
			if err := r.o.PowerOff(ctx); err != nil {
				t.Fatalf("PowerOff: %v", err)
			}
			if r.o.CurrentSource() != models.BackendNone || r.o.Powered() || r.out.isOn() {
				t.Fatalf("after PowerOff: source=%s powered=%v", r.o.CurrentSource(), r.o.Powered())
			}
			if r.o.LastSource() != b {
				t.Errorf("LastSource() = %s, want %s", r.o.LastSource(), b)
			}
			if err := r.o.PowerOn(ctx); err != nil {
				t.Fatalf("PowerOn: %v", err)
			}
			if r.o.CurrentSource() != b {
				t.Errorf("after PowerOn: source = %s, want %s", r.o.CurrentSource(), b)
			}
			if !r.out.isOn() {
				t.Error("amplifier output not switched on")
			}
		})
	}
}

func TestPowerOff_PublishesNone(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, nil)
	_ = r.o.SetSource(ctx, models.BackendStreamer)
	_ = r.o.PowerOff(ctx)

	if !r.received(models.EventSourceInfoChanged, models.BackendNone) {
		t.Error("PowerOff did not publish source_info_changed for none")
	}
	st, _ := r.store.Load()
	if st.LastSource != "streamer" || st.Powered {
		t.Errorf("persisted state = %+v", st)
	}
}

func TestPowerOn_Fallbacks(t *testing.T) {
	ctx := context.Background()

	r := newRig(t, func(o *orchestrator.Options) { o.DefaultSource = models.BackendStreamer })
	_ = r.o.PowerOn(ctx)
	if r.o.CurrentSource() != models.BackendStreamer {
		t.Errorf("no last source: got %s, want default streamer", r.o.CurrentSource())
	}

	r = newRig(t, nil)
	r.mpd.SetConnected(false)
	_ = r.o.PowerOn(ctx)
	if r.o.CurrentSource() != models.BackendStreamer {
		t.Errorf("no default: got %s, want first available streamer", r.o.CurrentSource())
	}
}

func TestTogglePower(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, func(o *orchestrator.Options) { o.DefaultSource = models.BackendLocalQueue })
	_ = r.o.TogglePower(ctx)
	if !r.o.Powered() {
		t.Fatal("TogglePower did not power on")
	}
	_ = r.o.TogglePower(ctx)
	if r.o.Powered() {
		t.Fatal("TogglePower did not power off")
	}
}

func TestStart_RestoresPersistedState(t *testing.T) {
	r := newRig(t, nil)
	_ = r.store.Save(&config.RuntimeState{LastSource: "bluetooth", Powered: true})
	r.start(t)

	if r.o.CurrentSource() != models.BackendBluetooth {
		t.Errorf("CurrentSource() = %s, want restored bluetooth", r.o.CurrentSource())
	}
}

func TestStart_StaysOffWhenConfigured(t *testing.T) {
	r := newRig(t, nil)
	r.start(t)
	if r.o.Powered() {
		t.Error("radio powered on without power_on_at_startup")
	}
}

func TestAvailableSources(t *testing.T) {
	r := newRig(t, nil)
	r.spot.SetConnected(false)
	got := r.o.AvailableSources()
	want := []models.BackendType{models.BackendLocalQueue, models.BackendBluetooth}
	if !slices.Equal(got, want) {
		t.Errorf("AvailableSources() = %v, want %v", got, want)
	}
}

func TestScenario_DeviceConnectAutoSwitch(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, nil)
	r.start(t)

	if err := r.o.SetSource(ctx, models.BackendLocalQueue); err != nil {
		t.Fatalf("SetSource: %v", err)
	}
	r.spot.ResetCalls()
	r.bt.ResetCalls()
	if err := r.o.Play(ctx); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if r.spot.CallCount("play") != 0 || r.bt.CallCount("play") != 0 {
		t.Fatal("play reached an inactive backend")
	}

	r.bt.SetDevice("Phone", "AA:BB:CC:DD:EE:FF")
	r.bt.Poke()

	waitFor(t, "auto-switch to bluetooth", func() bool { return r.o.CurrentSource() == models.BackendBluetooth })
	if r.mpd.CallCount("stop") != 1 {
		t.Errorf("local_queue stop calls = %d, want 1", r.mpd.CallCount("stop"))
	}
	waitFor(t, "device_connected forwarded", func() bool {
		return r.received(models.EventDeviceConnected, models.BackendBluetooth)
	})
}

func TestScenario_DeviceDisconnectFallsBack(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, nil)
	r.bt.SetDevice("Phone", "AA")
	r.start(t)

	_ = r.o.SetSource(ctx, models.BackendBluetooth)
	r.bt.SetDevice("", "")
	r.bt.Poke()

	waitFor(t, "fallback to local_queue", func() bool { return r.o.CurrentSource() == models.BackendLocalQueue })
}

// playPanics is an adapter whose driver blows up on Play.
type playPanics struct{ *backends.Fake }

func (p playPanics) Play(context.Context) error { panic("driver bug") }

func TestAutoSwitch_PanickingAdapterKeepsOrchestratorUsable(t *testing.T) {
	ctx := context.Background()
	mpd := backends.NewConnectedFake(models.BackendLocalQueue)
	bt := playPanics{backends.NewConnectedFake(models.BackendBluetooth)}
	o, err := orchestrator.New([]backends.Adapter{mpd, bt}, orchestrator.Options{
		PollInterval: 5 * time.Millisecond,
		StopTimeout:  time.Second,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = o.Shutdown(context.Background()) })
	m, _ := o.Monitor(models.BackendBluetooth)
	waitFor(t, "bluetooth baseline", func() bool { return m.Polls() > 0 })
	if err := o.SetSource(ctx, models.BackendLocalQueue); err != nil {
		t.Fatalf("SetSource: %v", err)
	}

	bt.SetDevice("Phone", "AA:BB")
	bt.Poke()

	current := make(chan models.BackendType, 1)
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if b := o.CurrentSource(); b == models.BackendBluetooth {
				current <- b
				return
			}
			time.Sleep(2 * time.Millisecond)
		}
		current <- o.CurrentSource()
	}()
	select {
	case b := <-current:
		if b != models.BackendBluetooth {
			t.Fatalf("active = %s, want bluetooth", b)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("state lock held after an adapter panic")
	}

	if err := o.Play(ctx); !models.HasCode(err, models.CodeBackendCommandFailed) {
		t.Errorf("Play on panicking adapter = %v, want BACKEND_COMMAND_FAILED", err)
	}
	if err := o.SetSource(ctx, models.BackendLocalQueue); err != nil {
		t.Errorf("SetSource after panic: %v", err)
	}
}

func TestMPDReconnect_DoesNotTakeOverActiveSource(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, nil)
	r.start(t)
	if err := r.o.SetSource(ctx, models.BackendStreamer); err != nil {
		t.Fatalf("SetSource: %v", err)
	}
	r.spot.ResetCalls()

	m, _ := r.o.Monitor(models.BackendLocalQueue)
	before := m.Reconnects()
	r.mpd.SetConnected(false)
	r.mpd.Poke()
	waitFor(t, "local_queue reconnect", func() bool { return m.Reconnects() > before && r.mpd.IsConnected() })
	polls := m.Polls()
	waitFor(t, "local_queue sampled after reconnect", func() bool { return m.Polls() > polls+1 })

	if got := r.o.CurrentSource(); got != models.BackendStreamer {
		t.Errorf("active after local_queue reconnect = %s, want streamer", got)
	}
	if n := r.spot.CallCount("stop"); n != 0 {
		t.Errorf("streamer stop calls = %d, want 0", n)
	}
	if r.received(models.EventDeviceConnected, models.BackendLocalQueue) {
		t.Error("local_queue reconnect reported as device_connected")
	}
}

func TestFilter_InactiveTrackChangesDropped(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, nil)
	r.start(t)
	_ = r.o.SetSource(ctx, models.BackendLocalQueue)

	r.spot.SetTrack(models.TrackInfo{Title: "Other"})
	r.spot.Poke()
	r.mpd.SetTrack(models.TrackInfo{Title: "Mine"})
	r.mpd.Poke()

	waitFor(t, "active track_changed", func() bool {
		return r.received(models.EventTrackChanged, models.BackendLocalQueue)
	})
	m, _ := r.o.Monitor(models.BackendStreamer)
	waitFor(t, "streamer sampled the change", func() bool {
		snap, _ := m.Snapshot()
		return snap.Track.Title == "Other"
	})
	if r.received(models.EventTrackChanged, models.BackendStreamer) {
		t.Error("track_changed from an inactive backend reached subscribers")
	}
}

func TestPairing_ReselectEntersAndSwitchExits(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, func(o *orchestrator.Options) { o.PairingTimeout = 0 })
	r.start(t)

	_ = r.o.SetSource(ctx, models.BackendBluetooth)
	if r.o.Pairing() {
		t.Fatal("first selection must not enter pairing")
	}
	if err := r.o.SetSource(ctx, models.BackendBluetooth); err != nil {
		t.Fatalf("re-select: %v", err)
	}
	if !r.o.Pairing() || !r.bt.Pairing() {
		t.Fatal("re-selecting bluetooth without a device should enter pairing")
	}
	if r.bt.LastPairingTimeout() != 0 {
		t.Errorf("pairing timeout = %v, want 0", r.bt.LastPairingTimeout())
	}

	_ = r.o.SetSource(ctx, models.BackendLocalQueue)
	if r.o.Pairing() || r.bt.Pairing() {
		t.Error("switching away must exit pairing")
	}
}

func TestPairing_Timeout(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, func(o *orchestrator.Options) { o.PairingTimeout = 30 * time.Millisecond })
	r.start(t)
	_ = r.o.SetSource(ctx, models.BackendBluetooth)
	_ = r.o.SetSource(ctx, models.BackendBluetooth)
	if !r.o.Pairing() {
		t.Fatal("not pairing")
	}
	waitFor(t, "pairing timeout", func() bool { return !r.o.Pairing() })
	if r.o.CurrentSource() != models.BackendBluetooth {
		t.Error("pairing timeout must not change the source")
	}
}

func TestPairing_NotWhenDeviceAttached(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, nil)
	r.bt.SetDevice("Phone", "AA")
	r.start(t)
	_ = r.o.SetSource(ctx, models.BackendBluetooth)
	_ = r.o.SetSource(ctx, models.BackendBluetooth)
	if r.o.Pairing() {
		t.Error("entered pairing with a device attached")
	}
}

func TestStatus_Aggregates(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, nil)
	_ = r.o.SetSource(ctx, models.BackendStreamer)
	r.spot.SetTrack(models.TrackInfo{Title: "Song"})
	r.bt.SetConnected(false)

	st := r.o.Status(ctx)
	if st.ActiveSource != models.BackendStreamer || !st.Powered {
		t.Errorf("status = %+v", st)
	}
	if e := st.Backends[models.BackendStreamer]; e.Track.Title != "Song" || !e.Connected {
		t.Errorf("streamer entry = %+v", e)
	}
	bt := st.Backends[models.BackendBluetooth]
	if bt.Connected || bt.Volume != nil || bt.State != models.StateUnknown {
		t.Errorf("disconnected entry = %+v", bt)
	}
	if len(st.AvailableSources) != 2 {
		t.Errorf("AvailableSources = %v", st.AvailableSources)
	}
}

type panicky struct{ *backends.Fake }

func (p panicky) Status(context.Context) (models.BackendStatus, error) { panic("driver bug") }

type hanging struct{ *backends.Fake }

func (h hanging) Status(ctx context.Context) (models.BackendStatus, error) {
	<-ctx.Done()
	time.Sleep(50 * time.Millisecond)
	return models.BackendStatus{}, ctx.Err()
}

func TestStatus_DegradedEntries(t *testing.T) {
	o, err := orchestrator.New([]backends.Adapter{
		panicky{backends.NewConnectedFake(models.BackendLocalQueue)},
		hanging{backends.NewConnectedFake(models.BackendStreamer)},
		backends.NewConnectedFake(models.BackendBluetooth),
	}, orchestrator.Options{StatusTimeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	st := o.Status(context.Background())
	if e := st.Backends[models.BackendLocalQueue]; e.Error == "" || e.State != models.StateUnknown {
		t.Errorf("panicking backend entry = %+v", e)
	}
	if e := st.Backends[models.BackendStreamer]; e.Error == "" {
		t.Errorf("hanging backend entry = %+v", e)
	}
	if e := st.Backends[models.BackendBluetooth]; e.Error != "" || e.State != models.StateStopped {
		t.Errorf("healthy backend entry = %+v", e)
	}
}

func TestCallbacks_AddRemove(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, nil)
	n := 0
	id := r.o.AddCallback(models.EventSourceInfoChanged, func(models.Event) { n++ })
	_ = r.o.SetSource(ctx, models.BackendLocalQueue)
	if !r.o.RemoveCallback(id) {
		t.Fatal("RemoveCallback returned false")
	}
	_ = r.o.SetSource(ctx, models.BackendStreamer)
	if n != 1 {
		t.Errorf("callback invoked %d times, want 1", n)
	}
}

func TestCallback_MayQueryOrchestrator(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, nil)
	var seen models.BackendType
	r.o.AddCallback(models.EventSourceInfoChanged, func(models.Event) { seen = r.o.CurrentSource() })

	done := make(chan struct{})
	go func() {
		_ = r.o.SetSource(ctx, models.BackendStreamer)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback calling back into the orchestrator deadlocked")
	}
	if seen != models.BackendStreamer {
		t.Errorf("callback saw %s", seen)
	}
}

func TestShutdown_OrderAndNoReconnect(t *testing.T) {
	var (
		logMu sync.Mutex
		log   []string
		o     *orchestrator.Orchestrator
	)
	// A connect is tagged when its monitor has already been told to stop.
	record := func(b models.BackendType, call string) {
		entry := string(b) + ":" + call
		if call == "connect" {
			if m, ok := o.Monitor(b); ok && m.State() != monitor.StateRunning {
				entry += "@stopped"
			}
		}
		logMu.Lock()
		log = append(log, entry)
		logMu.Unlock()
	}

	fakes := []*backends.Fake{
		backends.NewFake(models.BackendLocalQueue),
		backends.NewFake(models.BackendStreamer),
		backends.NewFake(models.BackendBluetooth),
	}
	adapters := make([]backends.Adapter, len(fakes))
	for i, f := range fakes {
		f.SetAutoConnect(false) // monitors keep retrying
		f.OnCall = record
		adapters[i] = f
	}
	var err error
	o, err = orchestrator.New(adapters, orchestrator.Options{PollInterval: time.Millisecond, StopTimeout: time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "reconnect attempts", func() bool { return fakes[2].ConnectCalls() >= 3 })

	if err := o.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	for _, b := range models.AllBackends() {
		m, _ := o.Monitor(b)
		if m.State() != monitor.StateStopped {
			t.Errorf("%s monitor state = %s", b, m.State())
		}
	}

	logMu.Lock()
	defer logMu.Unlock()
	first := -1
	for i, e := range log {
		if strings.HasSuffix(e, ":disconnect") {
			first = i
			break
		}
	}
	if first < 0 {
		t.Fatal("no adapter was disconnected")
	}
	for _, e := range log {
		if strings.HasSuffix(e, "@stopped") {
			t.Errorf("reconnect attempt %q between stop signal and disconnect", e)
		}
	}
	for _, e := range log[first:] {
		if strings.HasSuffix(e, ":connect") {
			t.Errorf("reconnect attempt %q after disconnect began", e)
		}
	}
	for _, f := range fakes {
		if f.DisconnectCalls() != 1 {
			t.Errorf("%s disconnect calls = %d", f.Type(), f.DisconnectCalls())
		}
	}
}

func TestShutdown_RejectsFurtherControl(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, nil)
	r.start(t)
	_ = r.o.SetSource(ctx, models.BackendLocalQueue)

	if err := r.o.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := r.o.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if err := r.o.SetSource(ctx, models.BackendStreamer); !models.HasCode(err, models.CodeShuttingDown) {
		t.Errorf("SetSource after shutdown = %v", err)
	}
	if err := r.o.Play(ctx); !models.HasCode(err, models.CodeShuttingDown) {
		t.Errorf("Play after shutdown = %v", err)
	}
}

func TestShutdown_UnresponsiveMonitor(t *testing.T) {
	stuck := &blockingFake{Fake: backends.NewConnectedFake(models.BackendStreamer), release: make(chan struct{})}
	mpd := backends.NewConnectedFake(models.BackendLocalQueue)
	o, err := orchestrator.New([]backends.Adapter{mpd, stuck}, orchestrator.Options{
		PollInterval: time.Millisecond,
		StopTimeout:  30 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_ = o.Start(context.Background())
	waitFor(t, "stuck in status", func() bool { return stuck.entered() })

	err = o.Shutdown(context.Background())
	if !errors.Is(err, monitor.ErrStopTimeout) {
		t.Errorf("Shutdown() = %v, want ErrStopTimeout", err)
	}
	if mpd.DisconnectCalls() != 1 || stuck.DisconnectCalls() != 1 {
		t.Error("adapters must still be disconnected after a monitor timeout")
	}
	close(stuck.release)
}

type blockingFake struct {
	*backends.Fake
	release chan struct{}
	mu      sync.Mutex
	in      bool
}

func (b *blockingFake) Status(ctx context.Context) (models.BackendStatus, error) {
	b.mu.Lock()
	b.in = true
	b.mu.Unlock()
	<-b.release
	return b.Fake.Status(ctx)
}

func (b *blockingFake) entered() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.in
}

package supervisor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/noalbs/noalbs/internal/config"
	"github.com/noalbs/noalbs/internal/noalbserr"
	"github.com/noalbs/noalbs/internal/state"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeConn struct {
	mu        sync.Mutex
	started   bool
	stopped   bool
	connected bool
	scenes    []string
	current   string
}

func newFakeConn() *fakeConn {
	return &fakeConn{connected: true, scenes: []string{"live", "low", "offline"}, current: "live"}
}

func (f *fakeConn) Start() { f.mu.Lock(); f.started = true; f.mu.Unlock() }
func (f *fakeConn) Stop()  { f.mu.Lock(); f.stopped = true; f.mu.Unlock() }

func (f *fakeConn) SceneList(ctx context.Context) ([]string, error) { return f.scenes, nil }
func (f *fakeConn) CurrentScene() string                            { return f.current }
func (f *fakeConn) SetScene(ctx context.Context, name string) error { f.current = name; return nil }
func (f *fakeConn) IsStreaming() bool                               { return true }
func (f *fakeConn) IsConnected() bool                               { return f.connected }
func (f *fakeConn) InitialConnectDone() bool                        { return true }
func (f *fakeConn) WaitConnected(ctx context.Context) error         { return nil }
func (f *fakeConn) StartStreaming(ctx context.Context) error        { return nil }
func (f *fakeConn) StopStreaming(ctx context.Context) error         { return nil }
func (f *fakeConn) StartRecording(ctx context.Context) error        { return nil }
func (f *fakeConn) StopRecording(ctx context.Context) error         { return nil }

type fakeStore struct {
	mu    sync.Mutex
	saved *config.Config
}

func (f *fakeStore) Load(ctx context.Context) (*config.Config, error) { return nil, nil }
func (f *fakeStore) Save(ctx context.Context, cfg *config.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = cfg
	return nil
}

func newTestSupervisor() (*Supervisor, *fakeConn, *fakeStore) {
	cfg := config.Default("alice")
	st := state.New()
	conn := newFakeConn()
	store := &fakeStore{}
	sup := New(cfg, store, st, conn, nil, nil, nil, testLogger())
	return sup, conn, store
}

func TestStartStopIsIdempotent(t *testing.T) {
	sup, conn, _ := newTestSupervisor()
	ctx := context.Background()

	sup.Start(ctx)
	sup.Start(ctx) // second call must be a no-op, not a double-spawn

	time.Sleep(10 * time.Millisecond)
	sup.Stop()
	sup.Stop() // second call must be a no-op

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if !conn.started || !conn.stopped {
		t.Fatalf("expected conn started and stopped, got started=%v stopped=%v", conn.started, conn.stopped)
	}
}

func TestSaveConfigPersistsSnapshot(t *testing.T) {
	sup, _, store := newTestSupervisor()
	sup.AddStreamServer(config.StreamServerEntry{Name: "primary", Enabled: true})

	if err := sup.SaveConfig(context.Background()); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.saved.Switcher.StreamServers) != 1 {
		t.Fatalf("expected 1 stream server in saved snapshot, got %d", len(store.saved.Switcher.StreamServers))
	}
}

func TestAliasLifecycle(t *testing.T) {
	sup, _, _ := newTestSupervisor()

	if err := sup.AddAlias("fx", "fix"); err != nil {
		t.Fatalf("AddAlias: %v", err)
	}
	ok, err := sup.ContainsAlias("fx")
	if err != nil || !ok {
		t.Fatalf("expected alias fx to exist, ok=%v err=%v", ok, err)
	}

	if err := sup.AddAlias("fx", "refresh"); err != noalbserr.ErrAliasExists {
		t.Fatalf("expected ErrAliasExists, got %v", err)
	}

	removed, err := sup.RemoveAlias("fx")
	if err != nil || !removed {
		t.Fatalf("expected alias fx removed, removed=%v err=%v", removed, err)
	}
	ok, _ = sup.ContainsAlias("fx")
	if ok {
		t.Fatal("expected alias fx to no longer exist")
	}
}

func TestUpdateTriggerZeroClears(t *testing.T) {
	sup, _, _ := newTestSupervisor()

	v, ok := sup.UpdateTrigger(TriggerLow, 2500)
	if !ok || v != 2500 {
		t.Fatalf("expected trigger set to 2500, got %d ok=%v", v, ok)
	}
	got, ok := sup.TriggerByType(TriggerLow)
	if !ok || got != 2500 {
		t.Fatalf("expected TriggerByType to read back 2500, got %d ok=%v", got, ok)
	}

	v, ok = sup.UpdateTrigger(TriggerLow, 0)
	if ok || v != 0 {
		t.Fatalf("expected trigger cleared by 0, got %d ok=%v", v, ok)
	}
	_, ok = sup.TriggerByType(TriggerLow)
	if ok {
		t.Fatal("expected trigger to read back unset")
	}
}

func TestAutostopRequiresChat(t *testing.T) {
	cfg := config.Default("alice")
	cfg.Chat = nil
	st := state.New()
	conn := newFakeConn()
	sup := New(cfg, &fakeStore{}, st, conn, nil, nil, nil, testLogger())

	if _, err := sup.Autostop(); err != noalbserr.ErrNoChat {
		t.Fatalf("expected ErrNoChat, got %v", err)
	}
	if err := sup.SetPrefix("?"); err != noalbserr.ErrNoChat {
		t.Fatalf("expected ErrNoChat, got %v", err)
	}

	// Notify has no chat requirement.
	sup.SetNotify(true)
	if !sup.Notify() {
		t.Fatal("expected notify enabled")
	}
}

func TestSetBitrateSwitcherEnabledWakesGate(t *testing.T) {
	sup, _, _ := newTestSupervisor()
	sup.SetBitrateSwitcherEnabled(false)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ready := func() bool { return sup.getConfig().Switcher.BitrateSwitcherEnabled }

	waitErr := make(chan error, 1)
	go func() { waitErr <- sup.state.WaitSwitcherEnabled(ctx, ready) }()

	time.Sleep(10 * time.Millisecond)
	sup.SetBitrateSwitcherEnabled(true)

	if err := <-waitErr; err != nil {
		t.Fatalf("expected WaitSwitcherEnabled to return promptly, got %v", err)
	}
}

// TestSetBitrateSwitcherEnabledNoMissedWakeup reproduces the race where
// SetBitrateSwitcherEnabled runs between the gate's own predicate check
// and the point where Wait would snapshot the notifier's channel: if the
// notify isn't still observed by Wait's own (re-)check, the goroutine
// would block until some later, unrelated toggle.
func TestSetBitrateSwitcherEnabledNoMissedWakeup(t *testing.T) {
	sup, _, _ := newTestSupervisor()
	sup.SetBitrateSwitcherEnabled(false)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ready := func() bool { return sup.getConfig().Switcher.BitrateSwitcherEnabled }

	// Flip the flag and notify before Wait is ever called, simulating the
	// enable landing inside the gate's check-then-wait window.
	sup.SetBitrateSwitcherEnabled(true)

	if err := sup.state.WaitSwitcherEnabled(ctx, ready); err != nil {
		t.Fatalf("expected WaitSwitcherEnabled to see the already-enabled flag, got %v", err)
	}
}

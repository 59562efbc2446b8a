package watch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ewhitley/cadence/internal/config"
	"github.com/ewhitley/cadence/internal/engine"
)

type countingSyncer struct {
	calls atomic.Int64
	err   error
}

func (c *countingSyncer) Sync(ctx context.Context) (*engine.Report, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return &engine.Report{}, nil
}

func TestNewManagerFiltersSources(t *testing.T) {
	cfg := &config.Config{Sources: map[string]config.SourceConfig{
		"messages": {Enabled: true, Path: "/tmp/chat.db", Live: &config.LiveConfig{Enabled: true, DebounceSeconds: 5}},
		"calls":    {Enabled: true, Path: "/tmp/calls.db"},                                   // live not configured
		"email":    {Enabled: true, Live: &config.LiveConfig{Enabled: true}},                 // no path
		"chatapp":  {Enabled: false, Path: "/tmp/msg.db", Live: &config.LiveConfig{Enabled: true}}, // source disabled
	}}

	m, err := NewManager(&countingSyncer{}, cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if len(m.Specs) != 1 {
		t.Fatalf("built %d specs, want 1: %+v", len(m.Specs), m.Specs)
	}
	spec := m.Specs[0]
	if spec.Name != "messages" || spec.Debounce != 5*time.Second {
		t.Errorf("spec = %+v", spec)
	}
}

func TestNewManagerNothingEnabled(t *testing.T) {
	cfg := &config.Config{Sources: map[string]config.SourceConfig{
		"messages": {Enabled: true, Path: "/tmp/chat.db"},
	}}
	if _, err := NewManager(&countingSyncer{}, cfg); err == nil {
		t.Error("NewManager succeeded with no live sources")
	}
}

func TestWatchTriggersDebouncedSync(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chat.db")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatalf("write store: %v", err)
	}

	syncer := &countingSyncer{}
	m := &Manager{Syncer: syncer, log: testLogger()}
	spec := WatcherSpec{Name: "messages", Path: path, Debounce: 50 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.watch(ctx, spec) }()

	// The initial sync fires as the watch starts.
	waitFor(t, func() bool { return syncer.calls.Load() >= 1 })

	// A burst of writes coalesces into one debounced sync.
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte("y"), 0o600); err != nil {
			t.Fatalf("touch store: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	waitFor(t, func() bool { return syncer.calls.Load() >= 2 })

	// An unrelated file in the same directory does not trigger.
	before := syncer.calls.Load()
	if err := os.WriteFile(filepath.Join(dir, "other.txt"), []byte("z"), 0o600); err != nil {
		t.Fatalf("write unrelated: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	if got := syncer.calls.Load(); got != before {
		t.Errorf("unrelated write triggered sync: %d -> %d", before, got)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("watch returned error: %v", err)
	}
}

func TestWatchTreatsBusyEngineAsBenign(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chat.db")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatalf("write store: %v", err)
	}

	syncer := &countingSyncer{err: engine.ErrRateLimited}
	m := &Manager{Syncer: syncer, log: testLogger()}
	spec := WatcherSpec{Name: "messages", Path: path, Debounce: 10 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.watch(ctx, spec) }()

	waitFor(t, func() bool { return syncer.calls.Load() >= 1 })
	cancel()
	// A rate-limited trigger is not a watcher failure.
	if err := <-done; err != nil {
		t.Errorf("watch returned error: %v", err)
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

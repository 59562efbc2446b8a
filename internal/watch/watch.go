package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ewhitley/cadence/internal/config"
	"github.com/ewhitley/cadence/internal/engine"
)

// Syncer triggers a sync cycle. Satisfied by *engine.Orchestrator.
type Syncer interface {
	Sync(ctx context.Context) (*engine.Report, error)
}

// WatcherSpec is one filesystem watch target: a source store whose changes
// should trigger a sync cycle.
type WatcherSpec struct {
	Name     string
	Path     string
	Debounce time.Duration
}

// Manager runs one watcher per live-enabled source and restarts crashed
// watchers with exponential backoff.
type Manager struct {
	Syncer         Syncer
	Specs          []WatcherSpec
	RestartBackoff time.Duration

	log *slog.Logger
}

// NewManager builds a manager from the live-enabled sources in cfg. Sources
// without a configured path cannot be watched and are skipped with a warning.
func NewManager(syncer Syncer, cfg *config.Config) (*Manager, error) {
	log := slog.With("component", "watch")

	var specs []WatcherSpec
	for name, src := range cfg.Sources {
		if !src.Enabled || src.Live == nil || !src.Live.Enabled {
			continue
		}
		if src.Path == "" {
			log.Warn("live source has no path, skipping", "source", name)
			continue
		}
		debounce := 2 * time.Second
		if src.Live.DebounceSeconds > 0 {
			debounce = time.Duration(src.Live.DebounceSeconds) * time.Second
		}
		specs = append(specs, WatcherSpec{Name: name, Path: src.Path, Debounce: debounce})
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("no live watchers enabled")
	}

	return &Manager{
		Syncer:         syncer,
		Specs:          specs,
		RestartBackoff: 3 * time.Second,
		log:            log,
	}, nil
}

// Run starts every watcher and blocks until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	for _, spec := range m.Specs {
		go m.runWatcher(ctx, spec)
	}
	<-ctx.Done()
	return nil
}

func (m *Manager) runWatcher(ctx context.Context, spec WatcherSpec) {
	backoff := m.RestartBackoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	maxBackoff := 30 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		err := m.watch(ctx, spec)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			m.log.Warn("watcher stopped", "source", spec.Name, "error", err, "restart_in", backoff)
		} else {
			m.log.Warn("watcher stopped", "source", spec.Name, "restart_in", backoff)
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// watch follows one source store until ctx ends or the watcher fails. The
// parent directory is watched rather than the file itself: sqlite stores are
// rewritten via sibling WAL files, and some writers replace the file outright.
func (m *Manager) watch(ctx context.Context, spec WatcherSpec) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(spec.Path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	base := filepath.Base(spec.Path)
	m.log.Info("watching for changes", "source", spec.Name, "dir", dir, "debounce", spec.Debounce)

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	runSync := func() {
		report, err := m.Syncer.Sync(ctx)
		if err != nil {
			// Another trigger already got a cycle in; nothing was lost.
			if errors.Is(err, engine.ErrCycleRunning) || errors.Is(err, engine.ErrRateLimited) {
				m.log.Debug("sync trigger coalesced", "source", spec.Name, "reason", err)
				return
			}
			m.log.Warn("triggered sync failed", "source", spec.Name, "error", err)
			return
		}
		if report.EventsNew > 0 {
			m.log.Info("synced new events", "source", spec.Name, "events_new", report.EventsNew)
		}
	}

	runSync()

	triggerSync := func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		debounceTimer = time.AfterFunc(spec.Debounce, runSync)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Match the store file and its WAL/journal siblings.
			if strings.Contains(filepath.Base(event.Name), base) {
				triggerSync()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.log.Warn("watch error", "source", spec.Name, "error", err)
		}
	}
}

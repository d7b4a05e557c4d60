// Package update orchestrates the full pipeline: fetch, install, activate
// with health-gated rollback, and retention cleanup. It owns the lock that
// serializes activations and cleanup against one installation root.
package update

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/loykin/rollout/internal/activation"
	"github.com/loykin/rollout/internal/config"
	"github.com/loykin/rollout/internal/fetch"
	"github.com/loykin/rollout/internal/health"
	"github.com/loykin/rollout/internal/history"
	"github.com/loykin/rollout/internal/hook"
	"github.com/loykin/rollout/internal/install"
	"github.com/loykin/rollout/internal/metrics"
	"github.com/loykin/rollout/internal/retention"
	"github.com/loykin/rollout/internal/store"
)

// Manager wires the pipeline components over one installation root.
type Manager struct {
	cfg        *config.Config
	log        *slog.Logger
	store      *store.Store
	fetcher    *fetch.Client
	installer  *install.Installer
	controller *activation.Controller
	retention  *retention.Manager
	sink       history.Sink

	// mu serializes activation and retention so the pointer swap and version
	// deletions of concurrent callers cannot interleave.
	mu sync.Mutex

	tasksMu sync.RWMutex
	tasks   map[string]*Task
}

// Option configures a Manager.
type Option func(*Manager)

// WithHistorySink attaches an audit sink for update events.
func WithHistorySink(s history.Sink) Option {
	return func(m *Manager) { m.sink = s }
}

// WithFetcher overrides the update-server client, mainly for tests.
func WithFetcher(c *fetch.Client) Option {
	return func(m *Manager) {
		if c != nil {
			m.fetcher = c
		}
	}
}

// NewManager builds the pipeline from config. The packages and downloads
// directories are created if missing.
func NewManager(cfg *config.Config, log *slog.Logger, opts ...Option) (*Manager, error) {
	if log == nil {
		log = slog.Default()
	}
	for _, dir := range []string{cfg.PackagesDir(), cfg.DownloadsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("update: create %s: %w", dir, err)
		}
	}

	st := store.New(cfg.Paths)
	hooks := hook.NewRunner(cfg.RequiredHooks(), cfg.Log, log)
	prober := health.New(cfg.Health, log)
	m := &Manager{
		cfg:        cfg,
		log:        log,
		store:      st,
		fetcher:    fetch.New(cfg.UpdateServer, cfg.Channel, cfg.Paths),
		installer:  install.New(cfg.Paths, hooks, log),
		controller: activation.New(cfg.Paths, st, hooks, prober, log),
		retention:  retention.New(cfg.Paths, st, log),
		tasks:      make(map[string]*Task),
	}
	for _, opt := range opts {
		opt(m)
	}
	log.Info("update manager initialised", "base_dir", cfg.BaseDir)
	return m, nil
}

// CurrentVersion returns the active version, or "" when none is active.
func (m *Manager) CurrentVersion() string { return m.store.CurrentVersion() }

// InstalledVersions lists installed versions, newest string first.
func (m *Manager) InstalledVersions() []string { return m.store.InstalledVersions() }

// CheckUpdates asks the update server whether something newer is available.
func (m *Manager) CheckUpdates(ctx context.Context) (*fetch.UpdateCheck, error) {
	return m.fetcher.CheckUpdates(ctx, m.store.CurrentVersion())
}

// AvailableVersions lists server-side versions annotated with local install
// and active state.
func (m *Manager) AvailableVersions(ctx context.Context) ([]fetch.VersionInfo, error) {
	versions, err := m.fetcher.AvailableVersions(ctx)
	if err != nil {
		return nil, err
	}
	installed := m.store.InstalledVersions()
	sort.Strings(installed)
	current := m.store.CurrentVersion()
	for i := range versions {
		idx := sort.SearchStrings(installed, versions[i].Version)
		versions[i].IsInstalled = idx < len(installed) && installed[idx] == versions[i].Version
		versions[i].IsCurrent = versions[i].Version == current
	}
	return versions, nil
}

// Changelog fetches the plain-text changelog for version.
func (m *Manager) Changelog(ctx context.Context, version string) (string, error) {
	return m.fetcher.Changelog(ctx, version)
}

// Download fetches and verifies the artifact for version, returning the
// staged path.
func (m *Manager) Download(ctx context.Context, version string) (string, error) {
	path, err := m.fetcher.Download(ctx, version)
	metrics.IncDownload(err == nil)
	if err == nil {
		if fi, statErr := os.Stat(path); statErr == nil {
			metrics.AddDownloadBytes(fi.Size())
		}
	}
	m.record(ctx, history.EventDownload, version, err)
	return path, err
}

// Install extracts and validates a staged package as version.
func (m *Manager) Install(ctx context.Context, packagePath, version string) error {
	err := m.installer.Install(ctx, packagePath, version)
	metrics.IncInstall(err == nil)
	m.record(ctx, history.EventInstall, version, err)
	return err
}

// Activate switches the current pointer to version with the health-gated
// rollback pipeline. Only one activation or cleanup runs at a time.
func (m *Manager) Activate(ctx context.Context, version string) error {
	return m.activate(ctx, version, nil)
}

func (m *Manager) activate(ctx context.Context, version string, task *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	obs := func(s activation.State) {
		if task != nil {
			task.setState(s)
		}
		if s == activation.StateRollingBack {
			metrics.IncRollback()
		}
	}

	started := time.Now()
	err := m.controller.Activate(ctx, version, obs)
	metrics.ObserveActivationDuration(time.Since(started).Seconds())
	metrics.IncActivation(err == nil)
	if err == nil {
		metrics.SetCurrentVersion(version)
	}
	m.record(ctx, history.EventActivate, version, err)
	return err
}

// Rollback re-activates an older installed version through the rollback path.
func (m *Manager) Rollback(ctx context.Context, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics.IncRollback()
	err := m.controller.Rollback(ctx, version, nil)
	if err == nil {
		metrics.SetCurrentVersion(version)
	}
	m.record(ctx, history.EventRollback, version, err)
	return err
}

// Update runs the full pipeline for version: download, install, activate,
// then retention cleanup of superseded versions.
func (m *Manager) Update(ctx context.Context, version string) error {
	return m.update(ctx, version, nil)
}

func (m *Manager) update(ctx context.Context, version string, task *Task) error {
	path, err := m.Download(ctx, version)
	if err != nil {
		return err
	}
	if err := m.Install(ctx, path, version); err != nil {
		return err
	}
	if err := m.activate(ctx, version, task); err != nil {
		return err
	}
	if err := m.Cleanup(ctx, m.cfg.KeepCount); err != nil {
		// Reclaiming disk space is not worth failing a healthy update.
		m.log.Warn("cleanup after update failed", "err", err)
	}
	return nil
}

// Cleanup prunes installed versions beyond keepCount, never the current one.
// It shares the activation lock.
func (m *Manager) Cleanup(ctx context.Context, keepCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.retention.Cleanup(keepCount)
	metrics.IncCleanup(err == nil)
	m.record(ctx, history.EventCleanup, m.store.CurrentVersion(), err)
	return err
}

// StartActivation launches an activation as a background task and returns it
// immediately for polling.
func (m *Manager) StartActivation(version string) *Task {
	return m.startTask("activate", version, func(ctx context.Context, t *Task) error {
		return m.activate(ctx, version, t)
	})
}

// StartUpdate launches the full update pipeline as a background task.
func (m *Manager) StartUpdate(version string) *Task {
	return m.startTask("update", version, func(ctx context.Context, t *Task) error {
		return m.update(ctx, version, t)
	})
}

func (m *Manager) startTask(op, version string, fn func(context.Context, *Task) error) *Task {
	t := newTask(op, version)
	m.tasksMu.Lock()
	m.tasks[t.ID] = t
	m.tasksMu.Unlock()

	go func() {
		t.start()
		err := fn(context.Background(), t)
		if err != nil {
			m.log.Error("background task failed", "task", t.ID, "err", err)
		}
		t.finish(err)
	}()
	return t
}

// Task returns the task with the given id, if tracked.
func (m *Manager) Task(id string) (*Task, bool) {
	m.tasksMu.RLock()
	defer m.tasksMu.RUnlock()
	t, ok := m.tasks[id]
	return t, ok
}

// Tasks returns snapshots of all tracked tasks, newest id last.
func (m *Manager) Tasks() []TaskView {
	m.tasksMu.RLock()
	defer m.tasksMu.RUnlock()
	out := make([]TaskView, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t.View())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close releases the history sink, if any.
func (m *Manager) Close() error {
	if closer, ok := m.sink.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func (m *Manager) record(ctx context.Context, typ history.EventType, version string, opErr error) {
	if m.sink == nil {
		return
	}
	e := history.Event{
		Type:       typ,
		Version:    version,
		OccurredAt: time.Now().UTC(),
		Success:    opErr == nil,
	}
	if opErr != nil {
		e.Error = opErr.Error()
	}
	if err := m.sink.Send(ctx, e); err != nil {
		m.log.Warn("history sink send failed", "event", string(typ), "err", err)
	}
}

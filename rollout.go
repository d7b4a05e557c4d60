package rollout

import (
	"context"
	"net/http"
	"time"

	cfg "github.com/loykin/rollout/internal/config"
	"github.com/loykin/rollout/internal/fetch"
	"github.com/loykin/rollout/internal/history"
	"github.com/loykin/rollout/internal/history/factory"
	"github.com/loykin/rollout/internal/logger"
	"github.com/loykin/rollout/internal/metrics"
	iapi "github.com/loykin/rollout/internal/server"
	"github.com/loykin/rollout/internal/update"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type HealthConfig = cfg.HealthConfig

type LogConfig = logger.Config

type UpdateCheck = fetch.UpdateCheck

type VersionInfo = fetch.VersionInfo

type TaskView = update.TaskView

type HistorySink = history.Sink

// Manager is a thin facade over internal/update.Manager.
// It provides a stable public API for embedding the agent.

type Manager struct{ inner *update.Manager }

// New builds a Manager from config. A history sink is attached when the
// config declares a history DSN.
func New(c *Config) (*Manager, error) {
	log := c.Log.New()
	opts := make([]update.Option, 0, 1)
	if c.HistoryDSN != "" {
		sink, err := factory.NewSinkFromDSN(c.HistoryDSN)
		if err != nil {
			return nil, err
		}
		opts = append(opts, update.WithHistorySink(sink))
	}
	inner, err := update.NewManager(c, log, opts...)
	if err != nil {
		return nil, err
	}
	return &Manager{inner: inner}, nil
}

func (m *Manager) CurrentVersion() string      { return m.inner.CurrentVersion() }
func (m *Manager) InstalledVersions() []string { return m.inner.InstalledVersions() }
func (m *Manager) CheckUpdates(ctx context.Context) (*UpdateCheck, error) {
	return m.inner.CheckUpdates(ctx)
}
func (m *Manager) AvailableVersions(ctx context.Context) ([]VersionInfo, error) {
	return m.inner.AvailableVersions(ctx)
}
func (m *Manager) Changelog(ctx context.Context, version string) (string, error) {
	return m.inner.Changelog(ctx, version)
}
func (m *Manager) Download(ctx context.Context, version string) (string, error) {
	return m.inner.Download(ctx, version)
}
func (m *Manager) Install(ctx context.Context, packagePath, version string) error {
	return m.inner.Install(ctx, packagePath, version)
}
func (m *Manager) Update(ctx context.Context, version string) error {
	return m.inner.Update(ctx, version)
}
func (m *Manager) Activate(ctx context.Context, version string) error {
	return m.inner.Activate(ctx, version)
}
func (m *Manager) Rollback(ctx context.Context, version string) error {
	return m.inner.Rollback(ctx, version)
}
func (m *Manager) Cleanup(ctx context.Context, keepCount int) error {
	return m.inner.Cleanup(ctx, keepCount)
}
func (m *Manager) StartUpdate(version string) TaskView {
	return m.inner.StartUpdate(version).View()
}
func (m *Manager) StartActivation(version string) TaskView {
	return m.inner.StartActivation(version).View()
}
func (m *Manager) Tasks() []TaskView { return m.inner.Tasks() }
func (m *Manager) Task(id string) (TaskView, bool) {
	t, ok := m.inner.Task(id)
	if !ok {
		return TaskView{}, false
	}
	return t.View(), true
}
func (m *Manager) Close() error      { return m.inner.Close() }

// LoadConfig parses a TOML config file for the agent.
func LoadConfig(path string) (*Config, error) {
	return cfg.LoadConfig(path)
}

// NewHTTPServer starts an HTTP server exposing the control API using the
// given manager.
func NewHTTPServer(addr, basePath string, m *Manager) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, m.inner)
}

// NewHistorySinkFromDSN creates an update-history sink from a DSN.
func NewHistorySinkFromDSN(dsn string) (HistorySink, error) {
	return factory.NewSinkFromDSN(dsn)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the
// default registry. It returns any immediate listen error; otherwise it runs
// the server in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           nil,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}

// Package activation switches the current pointer between installed versions
// atomically and guards the switch with a health-gated automatic rollback.
package activation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/rollout/internal/config"
	"github.com/loykin/rollout/internal/health"
	"github.com/loykin/rollout/internal/hook"
	"github.com/loykin/rollout/internal/store"
)

// Sentinel errors callers can match with errors.Is.
var (
	ErrNotInstalled = errors.New("version not installed")
	ErrUnhealthy    = errors.New("service unhealthy after activation")
)

// State is one phase of an activation attempt.
type State string

const (
	StateIdle        State = "idle"
	StateActivating  State = "activating"
	StateActive      State = "active"
	StateRollingBack State = "rolling_back"
	StateRolledBack  State = "rolled_back"
	StateFailed      State = "failed"
)

// Observer receives state transitions of one activation attempt. May be nil.
type Observer func(State)

// Controller drives the activation pipeline. Callers must serialize
// activations and retention cleanup against one installation root; the
// update manager holds that lock.
type Controller struct {
	paths  config.Paths
	store  *store.Store
	hooks  *hook.Runner
	prober *health.Prober
	log    *slog.Logger

	// sleep is overridable in tests to skip the real grace wait.
	sleep func(ctx context.Context, d time.Duration)
}

// New creates a Controller.
func New(paths config.Paths, st *store.Store, hooks *hook.Runner, prober *health.Prober, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		paths:  paths,
		store:  st,
		hooks:  hooks,
		prober: prober,
		log:    log,
		sleep:  sleepCtx,
	}
}

// Activate makes version the current one. The pointer swap is atomic: a
// concurrent reader of the current symlink sees either the previous valid
// version or the new one, never an intermediate state. When the post-swap
// health probe fails and a previous version exists, a single-level rollback
// to it is performed and the activation reports failure regardless of the
// rollback outcome.
func (c *Controller) Activate(ctx context.Context, version string, obs Observer) error {
	return c.activate(ctx, version, true, obs)
}

// Rollback runs the rollback hook for version and re-activates it through
// the same pipeline, with automatic rollback disabled (single-level).
func (c *Controller) Rollback(ctx context.Context, version string, obs Observer) error {
	c.log.Warn("rolling back", "version", version)
	if !c.store.IsInstalled(version) {
		return fmt.Errorf("activation: rollback to %s: %w", version, ErrNotInstalled)
	}
	if err := c.hooks.Run(ctx, c.paths.VersionDir(version), hook.Rollback); err != nil {
		return err
	}
	return c.activate(ctx, version, false, obs)
}

func (c *Controller) activate(ctx context.Context, version string, allowRollback bool, obs Observer) error {
	notify := func(s State) {
		if obs != nil {
			obs(s)
		}
	}

	if !c.store.IsInstalled(version) {
		notify(StateFailed)
		return fmt.Errorf("activation: %s: %w", version, ErrNotInstalled)
	}
	notify(StateActivating)

	rollbackTarget := c.store.CurrentVersion()
	versionDir := c.paths.VersionDir(version)

	if err := c.hooks.Run(ctx, versionDir, hook.PreUpgrade); err != nil {
		notify(StateFailed)
		return err
	}

	if err := c.swapPointer(version); err != nil {
		notify(StateFailed)
		return err
	}
	c.log.Info("current pointer switched", "version", version)

	c.runMigrations(versionDir)

	if err := c.hooks.Run(ctx, versionDir, hook.PostUpgrade); err != nil {
		notify(StateFailed)
		return err
	}

	c.sleep(ctx, c.prober.GracePeriod())

	if c.prober.Healthy(ctx) {
		c.log.Info("activation healthy", "version", version)
		notify(StateActive)
		return nil
	}

	if !allowRollback || rollbackTarget == "" {
		notify(StateFailed)
		return fmt.Errorf("activation: %s: %w (no rollback target)", version, ErrUnhealthy)
	}

	c.log.Error("health check failed after activation, rolling back",
		"version", version, "rollback_target", rollbackTarget)
	notify(StateRollingBack)
	if rbErr := c.Rollback(ctx, rollbackTarget, nil); rbErr != nil {
		notify(StateFailed)
		return fmt.Errorf("activation: %s: %w; rollback to %s also failed: %w",
			version, ErrUnhealthy, rollbackTarget, rbErr)
	}
	notify(StateRolledBack)
	return fmt.Errorf("activation: %s: %w; rolled back to %s", version, ErrUnhealthy, rollbackTarget)
}

// swapPointer replaces the current symlink via temp-link-then-rename, the
// single atomicity-critical step of the pipeline. Never delete-then-create.
func (c *Controller) swapPointer(version string) error {
	tmp := filepath.Join(c.paths.PackagesDir(), fmt.Sprintf("current.%s.tmp", version))
	if err := os.Remove(tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("activation: clear stale temp link: %w", err)
	}
	// Relative target keeps the pointer valid if the base dir is relocated.
	if err := os.Symlink(version, tmp); err != nil {
		return fmt.Errorf("activation: create temp link: %w", err)
	}
	if err := os.Rename(tmp, c.paths.CurrentLink()); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("activation: swap current pointer: %w", err)
	}
	return nil
}

// runMigrations is the migration hook point. Execution is not wired to a
// database yet; a declared migration is detected and surfaced in the log.
func (c *Controller) runMigrations(versionDir string) {
	upSQL := filepath.Join(versionDir, "migrations", "up.sql")
	if _, err := os.Stat(upSQL); err == nil {
		c.log.Info("migration script present", "path", upSQL)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Package retention prunes installed versions beyond the configured keep
// count. The current version is never eligible for deletion.
package retention

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/loykin/rollout/internal/config"
	"github.com/loykin/rollout/internal/store"
)

// Manager removes superseded version directories.
type Manager struct {
	paths config.Paths
	store *store.Store
	log   *slog.Logger
}

// New creates a Manager.
func New(paths config.Paths, st *store.Store, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{paths: paths, store: st, log: log}
}

// Cleanup deletes every installed version beyond the first keepCount entries
// of the descending-sorted list, after excluding the current version. A
// deletion failure is logged and does not abort cleanup of the remaining
// candidates; the first failure is reported after the pass completes.
func (m *Manager) Cleanup(keepCount int) error {
	if keepCount < 0 {
		return fmt.Errorf("retention: keep count must be >= 0, got %d", keepCount)
	}
	versions := m.store.InstalledVersions()
	current := m.store.CurrentVersion()

	candidates := versions[:0:0]
	for _, v := range versions {
		if v != current {
			candidates = append(candidates, v)
		}
	}
	if len(candidates) <= keepCount {
		return nil
	}

	var firstErr error
	for _, v := range candidates[keepCount:] {
		m.log.Info("removing old version", "version", v)
		if err := os.RemoveAll(m.paths.VersionDir(v)); err != nil {
			m.log.Error("failed to remove version", "version", v, "err", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("retention: remove %s: %w", v, err)
			}
		}
	}
	return firstErr
}

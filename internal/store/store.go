// Package store reads installed-version state from the packages directory.
// It never mutates the tree; installation and cleanup own the writes.
package store

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/loykin/rollout/internal/config"
)

// Store enumerates installed versions on disk and resolves which one is
// currently active via the current symlink.
type Store struct {
	paths config.Paths
}

// New creates a Store over one installation root.
func New(paths config.Paths) *Store {
	return &Store{paths: paths}
}

// CurrentVersion resolves the current symlink and returns the active version
// name. A missing or unreadable pointer is not an error; it means no version
// is active and yields "".
func (s *Store) CurrentVersion() string {
	link := s.paths.CurrentLink()
	fi, err := os.Lstat(link)
	if err != nil || fi.Mode()&os.ModeSymlink == 0 {
		return ""
	}
	target, err := os.Readlink(link)
	if err != nil {
		return ""
	}
	return filepath.Base(target)
}

// InstalledVersions lists all version directories under packages/, excluding
// the current pointer and in-flight swap temporaries, sorted descending by
// the version string. A missing packages root yields an empty list.
func (s *Store) InstalledVersions() []string {
	entries, err := os.ReadDir(s.paths.PackagesDir())
	if err != nil {
		return nil
	}
	versions := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if name == "current" || strings.HasPrefix(name, "current.") {
			continue
		}
		if !e.IsDir() {
			continue
		}
		versions = append(versions, name)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(versions)))
	return versions
}

// IsInstalled reports whether a version directory exists on disk.
func (s *Store) IsInstalled(version string) bool {
	if version == "" {
		return false
	}
	fi, err := os.Stat(s.paths.VersionDir(version))
	return err == nil && fi.IsDir()
}

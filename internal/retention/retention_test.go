//go:build !windows

package retention

import (
	"os"
	"reflect"
	"testing"

	"github.com/loykin/rollout/internal/config"
	"github.com/loykin/rollout/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Store, config.Paths) {
	t.Helper()
	paths := config.Paths{BaseDir: t.TempDir()}
	if err := os.MkdirAll(paths.PackagesDir(), 0o755); err != nil {
		t.Fatalf("mkdir packages: %v", err)
	}
	st := store.New(paths)
	return New(paths, st, nil), st, paths
}

func install(t *testing.T, paths config.Paths, versions ...string) {
	t.Helper()
	for _, v := range versions {
		if err := os.MkdirAll(paths.VersionDir(v), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", v, err)
		}
	}
}

func TestCleanupKeepsNewestAndCurrent(t *testing.T) {
	m, st, paths := newTestManager(t)
	install(t, paths, "1.0.0", "1.1.0", "1.2.0")
	if err := os.Symlink("1.2.0", paths.CurrentLink()); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	if err := m.Cleanup(1); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	got := st.InstalledVersions()
	want := []string{"1.2.0", "1.1.0"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("remaining versions: got %v want %v", got, want)
	}
}

func TestCleanupNeverDeletesCurrent(t *testing.T) {
	m, st, paths := newTestManager(t)
	install(t, paths, "1.0.0", "1.1.0", "1.2.0")
	// current pinned to the oldest version
	if err := os.Symlink("1.0.0", paths.CurrentLink()); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	if err := m.Cleanup(0); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	got := st.InstalledVersions()
	if !reflect.DeepEqual(got, []string{"1.0.0"}) {
		t.Fatalf("only the current version may survive keep 0, got %v", got)
	}
}

func TestCleanupNoopWhenUnderBudget(t *testing.T) {
	m, st, paths := newTestManager(t)
	install(t, paths, "1.0.0", "1.1.0")

	if err := m.Cleanup(5); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if got := st.InstalledVersions(); len(got) != 2 {
		t.Fatalf("nothing should be deleted, got %v", got)
	}
}

func TestCleanupRejectsNegativeKeep(t *testing.T) {
	m, _, _ := newTestManager(t)
	if err := m.Cleanup(-1); err == nil {
		t.Fatalf("expected error for negative keep count")
	}
}

func TestCleanupNoCurrentPointer(t *testing.T) {
	m, st, paths := newTestManager(t)
	install(t, paths, "1.0.0", "1.1.0", "1.2.0")

	if err := m.Cleanup(2); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	got := st.InstalledVersions()
	want := []string{"1.2.0", "1.1.0"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("remaining versions: got %v want %v", got, want)
	}
}

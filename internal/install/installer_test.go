//go:build !windows

package install

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/loykin/rollout/internal/config"
	"github.com/loykin/rollout/internal/hook"
	"github.com/loykin/rollout/internal/logger"
)

type archiveEntry struct {
	name string
	body string
	mode int64
}

func buildArchive(t *testing.T, entries []archiveEntry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pkg.tar.gz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		mode := e.mode
		if mode == 0 {
			mode = 0o644
		}
		hdr := &tar.Header{Name: e.name, Mode: mode, Size: int64(len(e.body)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write header %s: %v", e.name, err)
		}
		if _, err := tw.Write([]byte(e.body)); err != nil {
			t.Fatalf("write body %s: %v", e.name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
	return path
}

func manifestFor(t *testing.T, checksums map[string]string) string {
	t.Helper()
	b, err := json.Marshal(Manifest{Checksums: checksums})
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}
	return string(b)
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func newTestInstaller(t *testing.T) (*Installer, config.Paths) {
	t.Helper()
	paths := config.Paths{BaseDir: t.TempDir()}
	hooks := hook.NewRunner(nil, logger.Config{}, nil)
	return New(paths, hooks, nil), paths
}

func TestInstallHappyPath(t *testing.T) {
	ins, paths := newTestInstaller(t)
	appBody := "print('hello')\n"
	pkg := buildArchive(t, []archiveEntry{
		{name: "manifest.json", body: manifestFor(t, map[string]string{"app/main.py": digest(appBody)})},
		{name: "app/main.py", body: appBody},
	})

	if err := ins.Install(context.Background(), pkg, "1.0.0"); err != nil {
		t.Fatalf("Install: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(paths.VersionDir("1.0.0"), "app", "main.py"))
	if err != nil {
		t.Fatalf("read installed file: %v", err)
	}
	if string(got) != appBody {
		t.Fatalf("installed file content mismatch")
	}
}

func TestInstallMissingManifest(t *testing.T) {
	ins, paths := newTestInstaller(t)
	pkg := buildArchive(t, []archiveEntry{
		{name: "app/main.py", body: "x = 1\n"},
	})

	err := ins.Install(context.Background(), pkg, "1.0.0")
	if !errors.Is(err, ErrManifestMissing) {
		t.Fatalf("expected ErrManifestMissing, got %v", err)
	}
	if _, err := os.Stat(paths.VersionDir("1.0.0")); !os.IsNotExist(err) {
		t.Fatalf("failed install must remove the version dir")
	}
}

func TestInstallChecksumMismatch(t *testing.T) {
	ins, paths := newTestInstaller(t)
	pkg := buildArchive(t, []archiveEntry{
		{name: "manifest.json", body: manifestFor(t, map[string]string{"app/main.py": digest("other content")})},
		{name: "app/main.py", body: "actual content"},
	})

	err := ins.Install(context.Background(), pkg, "1.0.0")
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
	if _, err := os.Stat(paths.VersionDir("1.0.0")); !os.IsNotExist(err) {
		t.Fatalf("failed install must remove the version dir")
	}
}

func TestInstallToleratesAbsentManifestEntries(t *testing.T) {
	ins, _ := newTestInstaller(t)
	pkg := buildArchive(t, []archiveEntry{
		{name: "manifest.json", body: manifestFor(t, map[string]string{"app/removed.py": digest("gone")})},
	})
	if err := ins.Install(context.Background(), pkg, "1.0.0"); err != nil {
		t.Fatalf("absent manifest entry must be tolerated, got %v", err)
	}
}

func TestInstallRejectsTraversal(t *testing.T) {
	ins, paths := newTestInstaller(t)
	pkg := buildArchive(t, []archiveEntry{
		{name: "manifest.json", body: manifestFor(t, nil)},
		{name: "../evil.txt", body: "escape"},
	})

	err := ins.Install(context.Background(), pkg, "1.0.0")
	if !errors.Is(err, ErrMalformedArchive) {
		t.Fatalf("expected ErrMalformedArchive, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(paths.PackagesDir(), "evil.txt")); !os.IsNotExist(err) {
		t.Fatalf("traversal entry escaped the version dir")
	}
}

func TestInstallReplacesExisting(t *testing.T) {
	ins, paths := newTestInstaller(t)
	stale := filepath.Join(paths.VersionDir("1.0.0"), "stale.txt")
	if err := os.MkdirAll(filepath.Dir(stale), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	pkg := buildArchive(t, []archiveEntry{
		{name: "manifest.json", body: manifestFor(t, nil)},
		{name: "app/main.py", body: "new"},
	})
	if err := ins.Install(context.Background(), pkg, "1.0.0"); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("reinstall must start from a clean directory")
	}
}

func TestInstallRunsInstallHooks(t *testing.T) {
	ins, paths := newTestInstaller(t)
	pkg := buildArchive(t, []archiveEntry{
		{name: "manifest.json", body: manifestFor(t, nil)},
		{name: "hooks/post-install.sh", body: "#!/bin/sh\ntouch hook-ran\n", mode: 0o755},
	})
	if err := ins.Install(context.Background(), pkg, "1.0.0"); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if _, err := os.Stat(filepath.Join(paths.VersionDir("1.0.0"), "hook-ran")); err != nil {
		t.Fatalf("post-install hook did not run: %v", err)
	}
}

func TestInstallRequiredHookFailureFatal(t *testing.T) {
	paths := config.Paths{BaseDir: t.TempDir()}
	hooks := hook.NewRunner(map[string]bool{hook.PreInstall: true}, logger.Config{}, nil)
	ins := New(paths, hooks, nil)

	pkg := buildArchive(t, []archiveEntry{
		{name: "manifest.json", body: manifestFor(t, nil)},
		{name: "hooks/pre-install.sh", body: "#!/bin/sh\nexit 1\n", mode: 0o755},
	})
	err := ins.Install(context.Background(), pkg, "1.0.0")
	if !errors.Is(err, hook.ErrHookFailed) {
		t.Fatalf("expected hook failure to abort install, got %v", err)
	}
	if _, err := os.Stat(paths.VersionDir("1.0.0")); !os.IsNotExist(err) {
		t.Fatalf("failed install must remove the version dir")
	}
}

func TestInstallProvisionFailureFatal(t *testing.T) {
	ins, paths := newTestInstaller(t)
	ins.pythonPath = "/bin/false"

	pkg := buildArchive(t, []archiveEntry{
		{name: "manifest.json", body: manifestFor(t, nil)},
		{name: "app/requirements", body: "flask\n"},
	})
	err := ins.Install(context.Background(), pkg, "1.0.0")
	if !errors.Is(err, ErrProvisionFailed) {
		t.Fatalf("expected ErrProvisionFailed, got %v", err)
	}
	if _, err := os.Stat(paths.VersionDir("1.0.0")); !os.IsNotExist(err) {
		t.Fatalf("failed install must remove the version dir")
	}
}

func TestExtractRejectsGarbage(t *testing.T) {
	ins, _ := newTestInstaller(t)
	bad := filepath.Join(t.TempDir(), "bad.tar.gz")
	if err := os.WriteFile(bad, []byte("not a gzip stream"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	err := ins.Install(context.Background(), bad, "1.0.0")
	if !errors.Is(err, ErrMalformedArchive) {
		t.Fatalf("expected ErrMalformedArchive, got %v", err)
	}
}

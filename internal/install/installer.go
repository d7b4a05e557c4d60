// Package install turns a staged archive into an installed version
// directory: extraction, manifest verification, runtime provisioning, and
// the install-stage lifecycle hooks.
package install

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/loykin/rollout/internal/config"
	"github.com/loykin/rollout/internal/hook"
)

// Sentinel errors callers can match with errors.Is.
var (
	ErrManifestMissing  = errors.New("package missing manifest.json")
	ErrChecksumMismatch = errors.New("manifest checksum mismatch")
	ErrProvisionFailed  = errors.New("runtime provisioning failed")
)

// ManifestName is the required file at the root of every extracted package.
const ManifestName = "manifest.json"

// Manifest declares expected SHA-256 digests for a subset of the payload.
type Manifest struct {
	Checksums map[string]string `json:"checksums"`
}

// Installer extracts packages into versioned directories and validates them.
type Installer struct {
	paths config.Paths
	hooks *hook.Runner
	log   *slog.Logger

	// pythonPath is overridable in tests to avoid a real interpreter.
	pythonPath string
}

// New creates an Installer.
func New(paths config.Paths, hooks *hook.Runner, log *slog.Logger) *Installer {
	if log == nil {
		log = slog.Default()
	}
	return &Installer{paths: paths, hooks: hooks, log: log, pythonPath: "python3"}
}

// Install extracts packagePath into the version directory, verifies the
// manifest, provisions the runtime environment, and runs the install hooks.
// Re-installing an existing version replaces it with a clean directory. On
// any fatal failure the partially-built directory is removed.
func (i *Installer) Install(ctx context.Context, packagePath, version string) error {
	versionDir := i.paths.VersionDir(version)

	if _, err := os.Stat(versionDir); err == nil {
		i.log.Warn("version already installed, replacing", "version", version)
		if err := os.RemoveAll(versionDir); err != nil {
			return fmt.Errorf("installer: remove previous install: %w", err)
		}
	}

	if err := os.MkdirAll(versionDir, 0o755); err != nil {
		return fmt.Errorf("installer: create version dir: %w", err)
	}

	if err := i.installInto(ctx, packagePath, version, versionDir); err != nil {
		_ = os.RemoveAll(versionDir)
		return err
	}
	i.log.Info("version installed", "version", version)
	return nil
}

func (i *Installer) installInto(ctx context.Context, packagePath, version, versionDir string) error {
	i.log.Info("extracting package", "version", version, "dir", versionDir)
	if err := extractTarGz(packagePath, versionDir); err != nil {
		return err
	}

	manifest, err := loadManifest(versionDir)
	if err != nil {
		return err
	}
	if err := verifyChecksums(versionDir, manifest); err != nil {
		return err
	}

	if err := i.hooks.Run(ctx, versionDir, hook.PreInstall); err != nil {
		return err
	}
	if err := i.provision(ctx, versionDir); err != nil {
		return err
	}
	return i.hooks.Run(ctx, versionDir, hook.PostInstall)
}

func loadManifest(versionDir string) (*Manifest, error) {
	path := filepath.Join(versionDir, ManifestName)
	b, err := os.ReadFile(path) // #nosec G304 -- path is inside the managed version dir
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("installer: %w", ErrManifestMissing)
		}
		return nil, fmt.Errorf("installer: read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("installer: parse manifest: %w", err)
	}
	return &m, nil
}

// verifyChecksums recomputes the digest of every manifest entry whose path
// exists in the extracted tree. Declared-but-absent paths are tolerated;
// manifest coverage need not be total.
func verifyChecksums(versionDir string, m *Manifest) error {
	for rel, expected := range m.Checksums {
		full := filepath.Join(versionDir, filepath.FromSlash(rel))
		if err := ensureWithinRoot(versionDir, full); err != nil {
			return err
		}
		if _, err := os.Stat(full); err != nil {
			continue
		}
		actual, err := fileSHA256(full)
		if err != nil {
			return fmt.Errorf("installer: hash %s: %w", rel, err)
		}
		if actual != strings.ToLower(expected) {
			return fmt.Errorf("installer: %s: got %s want %s: %w",
				rel, actual, expected, ErrChecksumMismatch)
		}
	}
	return nil
}

// provision creates an isolated runtime environment when the package declares
// dependencies in app/requirements or app/requirements.txt. Unlike hooks, a
// provisioning failure is fatal for the install.
func (i *Installer) provision(ctx context.Context, versionDir string) error {
	req := ""
	for _, candidate := range []string{"app/requirements", "app/requirements.txt"} {
		p := filepath.Join(versionDir, filepath.FromSlash(candidate))
		if _, err := os.Stat(p); err == nil {
			req = p
			break
		}
	}
	if req == "" {
		i.log.Debug("no dependency list, skipping provisioning", "dir", versionDir)
		return nil
	}

	venvDir := filepath.Join(versionDir, "venv")
	i.log.Info("provisioning runtime environment", "venv", venvDir, "requirements", req)

	// #nosec G204 -- interpreter path is configuration, args are managed paths
	create := exec.CommandContext(ctx, i.pythonPath, "-m", "venv", venvDir)
	if out, err := create.CombinedOutput(); err != nil {
		return fmt.Errorf("installer: create venv: %s: %w: %w", strings.TrimSpace(string(out)), ErrProvisionFailed, err)
	}

	pip := filepath.Join(venvDir, "bin", "pip")
	// #nosec G204
	installCmd := exec.CommandContext(ctx, pip, "install", "-r", req)
	if out, err := installCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("installer: install requirements: %s: %w: %w", strings.TrimSpace(string(out)), ErrProvisionFailed, err)
	}
	return nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path) // #nosec G304 -- path validated against the version root
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

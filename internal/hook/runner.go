// Package hook executes optional lifecycle scripts bundled inside a version
// directory under hooks/. A missing script is a no-op success.
package hook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/loykin/rollout/internal/logger"
)

// ErrHookFailed marks a non-zero exit from a lifecycle script.
var ErrHookFailed = errors.New("lifecycle hook failed")

// Lifecycle hook names recognized by the pipeline.
const (
	PreInstall  = "pre-install"
	PostInstall = "post-install"
	PreUpgrade  = "pre-upgrade"
	PostUpgrade = "post-upgrade"
	Rollback    = "rollback"
)

// Runner executes hook scripts for installed versions. Hooks configured as
// required propagate failures; all others are best-effort and only logged.
type Runner struct {
	required map[string]bool
	logCfg   logger.Config
	log      *slog.Logger
}

// NewRunner creates a Runner. required maps hook names to strict enforcement.
func NewRunner(required map[string]bool, logCfg logger.Config, log *slog.Logger) *Runner {
	if required == nil {
		required = map[string]bool{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{required: required, logCfg: logCfg, log: log}
}

// Required reports whether a failing hook of this name fails the operation.
func (r *Runner) Required(name string) bool { return r.required[name] }

// Run executes the named hook for versionDir and applies the failure policy:
// it returns an error only when the hook is configured as required. Missing
// scripts are a no-op success either way.
func (r *Runner) Run(ctx context.Context, versionDir, name string) error {
	err := r.Exec(ctx, versionDir, name)
	if err == nil {
		return nil
	}
	if r.required[name] {
		return err
	}
	r.log.Warn("lifecycle hook failed, continuing", "hook", name, "dir", versionDir, "err", err)
	return nil
}

// Exec executes the named hook and reports success only when the script exits
// with status zero, regardless of policy. The script runs as a subprocess
// with the version directory as working directory; combined output is
// captured into the hook log.
func (r *Runner) Exec(ctx context.Context, versionDir, name string) error {
	script := filepath.Join(versionDir, "hooks", name+".sh")
	if _, err := os.Stat(script); err != nil {
		if os.IsNotExist(err) {
			r.log.Debug("hook not present, skipping", "hook", name, "dir", versionDir)
			return nil
		}
		return fmt.Errorf("hook %s: stat script: %w", name, err)
	}

	if err := os.Chmod(script, 0o755); err != nil {
		return fmt.Errorf("hook %s: chmod script: %w", name, err)
	}

	// #nosec G204 -- script path is constructed from the managed version dir
	cmd := exec.CommandContext(ctx, script)
	cmd.Dir = versionDir
	out, err := cmd.CombinedOutput()
	r.writeHookLog(filepath.Base(versionDir), name, out)
	if err != nil {
		r.log.Error("hook exited with failure", "hook", name, "err", err, "output", string(out))
		return fmt.Errorf("hook %s: %w: %w", name, ErrHookFailed, err)
	}
	r.log.Info("hook completed", "hook", name, "dir", versionDir)
	return nil
}

func (r *Runner) writeHookLog(version, name string, out []byte) {
	if len(out) == 0 {
		return
	}
	w, err := r.logCfg.HookWriter(version, name)
	if err != nil || w == nil {
		return
	}
	_, _ = w.Write(out)
	_ = w.Close()
}

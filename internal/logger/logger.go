package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters for agent and hook logs.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes logging destinations for the agent.
// If Path is empty and Dir is set, the agent log goes to Dir/rollout.log.
// Hook output is written to Dir/hooks/<version>.<hook>.log.
// Rotation parameters follow lumberjack semantics.
type Config struct {
	Dir        string `toml:"dir" mapstructure:"dir"`                   // base directory for logs
	Path       string `toml:"path" mapstructure:"path"`                 // explicit agent log path overrides Dir
	Level      string `toml:"level" mapstructure:"level"`               // debug|info|warn|error (default info)
	Color      bool   `toml:"color" mapstructure:"color"`               // colorize console output
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`   // megabytes before rotation (default 10)
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`   // number of backups to keep (default 3)
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"` // days to keep (default 7)
	Compress   bool   `toml:"compress" mapstructure:"compress"`         // gzip rotated files
}

// Writer returns a rotating io.WriteCloser for the agent log, or nil when
// neither Path nor Dir is configured (console-only mode).
func (c Config) Writer() io.WriteCloser {
	path := c.Path
	if path == "" && c.Dir != "" {
		path = filepath.Join(c.Dir, "rollout.log")
	}
	if path == "" {
		return nil
	}
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// HookWriter returns a rotating writer capturing the combined output of one
// lifecycle hook run, named after the version and hook.
func (c Config) HookWriter(version, hook string) (io.WriteCloser, error) {
	if c.Dir == "" {
		return nil, nil
	}
	dir := filepath.Join(c.Dir, "hooks")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logger: create hook log dir: %w", err)
	}
	return &lj.Logger{
		Filename:   filepath.Join(dir, fmt.Sprintf("%s.%s.log", version, hook)),
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}, nil
}

// New builds a slog.Logger from the config. Output goes to stderr and, when a
// log file is configured, to the rotating file as well.
func (c Config) New() *slog.Logger {
	out := io.Writer(os.Stderr)
	if w := c.Writer(); w != nil {
		out = io.MultiWriter(os.Stderr, w)
	}
	opts := &slog.HandlerOptions{Level: parseLevel(c.Level)}
	var h slog.Handler
	if c.Color {
		h = NewColorTextHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}
	return slog.New(h)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

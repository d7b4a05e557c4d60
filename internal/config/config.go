package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/rollout/internal/logger"
	"github.com/spf13/viper"
)

// Defaults applied by LoadConfig when the file leaves fields unset.
const (
	DefaultChannel     = "stable"
	DefaultKeepCount   = 2
	DefaultHealthURL   = "http://127.0.0.1:8000/api/v1/health"
	DefaultGracePeriod = 5 * time.Second
	DefaultListen      = "127.0.0.1:8080"
)

// Paths encapsulates the filesystem layout of one installation root. All
// components receive it at construction; there is no ambient global state.
type Paths struct {
	BaseDir string `toml:"base_dir" mapstructure:"base_dir"`
}

// PackagesDir is the root holding one directory per installed version.
func (p Paths) PackagesDir() string { return filepath.Join(p.BaseDir, "packages") }

// DownloadsDir is the staging area for not-yet-installed archives.
func (p Paths) DownloadsDir() string { return filepath.Join(p.BaseDir, "downloads") }

// CurrentLink is the symlink naming the active version.
func (p Paths) CurrentLink() string { return filepath.Join(p.PackagesDir(), "current") }

// VersionDir returns the directory for one installed version.
func (p Paths) VersionDir(version string) string {
	return filepath.Join(p.PackagesDir(), version)
}

// HealthConfig controls the post-activation health probe.
type HealthConfig struct {
	URL         string        `toml:"url" mapstructure:"url"`
	GracePeriod time.Duration `toml:"grace_period" mapstructure:"grace_period"`
	Timeout     time.Duration `toml:"timeout" mapstructure:"timeout"`
}

// ServerConfig controls the local HTTP control API.
type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

// HookPolicy marks a named lifecycle hook as required. A required hook that
// exits non-zero fails the surrounding operation; all other hooks are
// best-effort and only logged on failure.
type HookPolicy struct {
	Name     string `toml:"name" mapstructure:"name"`
	Required bool   `toml:"required" mapstructure:"required"`
}

// Config is the top-level TOML structure for the rollout agent.
type Config struct {
	Paths        `mapstructure:",squash"`
	UpdateServer string        `toml:"update_server" mapstructure:"update_server"`
	Channel      string        `toml:"channel" mapstructure:"channel"`
	KeepCount    int           `toml:"keep_count" mapstructure:"keep_count"`
	HistoryDSN   string        `toml:"history_dsn" mapstructure:"history_dsn"`
	Health       HealthConfig  `toml:"health" mapstructure:"health"`
	Server       ServerConfig  `toml:"server" mapstructure:"server"`
	Hooks        []HookPolicy  `toml:"hooks" mapstructure:"hooks"`
	Log          logger.Config `toml:"log" mapstructure:"log"`
}

// RequiredHooks returns the set of hook names configured as required.
func (c *Config) RequiredHooks() map[string]bool {
	m := make(map[string]bool, len(c.Hooks))
	for _, h := range c.Hooks {
		if h.Required {
			m[h.Name] = true
		}
	}
	return m
}

// LoadConfig parses a TOML config file and applies defaults.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	applyDefaults(&c)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func applyDefaults(c *Config) {
	if c.Channel == "" {
		c.Channel = DefaultChannel
	}
	if c.KeepCount <= 0 {
		c.KeepCount = DefaultKeepCount
	}
	if c.Health.URL == "" {
		c.Health.URL = DefaultHealthURL
	}
	if c.Health.GracePeriod <= 0 {
		c.Health.GracePeriod = DefaultGracePeriod
	}
	if c.Health.Timeout <= 0 {
		c.Health.Timeout = 5 * time.Second
	}
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
}

// Validate rejects configs that cannot drive the update pipeline.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BaseDir) == "" {
		return fmt.Errorf("config: base_dir is required")
	}
	if !filepath.IsAbs(c.BaseDir) {
		return fmt.Errorf("config: base_dir must be absolute, got %q", c.BaseDir)
	}
	for _, h := range c.Hooks {
		if strings.TrimSpace(h.Name) == "" {
			return fmt.Errorf("config: hook policy requires name")
		}
	}
	return nil
}

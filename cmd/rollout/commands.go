package main

import (
	"context"
	"fmt"
	"time"

	"github.com/loykin/rollout"
)

type command struct {
	global *GlobalFlags
}

// localManager builds a Manager from the config file for daemon-less
// operation. Mutating commands go through the daemon API when --api-url is
// set so they share its activation lock.
func (c *command) localManager() (*rollout.Manager, error) {
	if c.global.ConfigPath == "" {
		return nil, fmt.Errorf("--config is required when no --api-url is given")
	}
	cfg, err := rollout.LoadConfig(c.global.ConfigPath)
	if err != nil {
		return nil, err
	}
	return rollout.New(cfg)
}

func (c *command) apiClient() *APIClient {
	return NewAPIClient(c.global.APIUrl, c.global.APITimeout)
}

func (c *command) useAPI() bool { return c.global.APIUrl != "" }

// Status prints current and installed versions plus tracked tasks.
func (c *command) Status() error {
	if c.useAPI() {
		result, err := c.apiClient().Status()
		if err != nil {
			return err
		}
		printJSON(result)
		return nil
	}
	mgr, err := c.localManager()
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Close() }()
	printJSON(map[string]any{
		"current_version":    mgr.CurrentVersion(),
		"installed_versions": mgr.InstalledVersions(),
		"tasks":              mgr.Tasks(),
	})
	return nil
}

// Check queries the update server for a newer version.
func (c *command) Check() error {
	if c.useAPI() {
		result, err := c.apiClient().Check()
		if err != nil {
			return err
		}
		printJSON(result)
		return nil
	}
	mgr, err := c.localManager()
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Close() }()
	info, err := mgr.CheckUpdates(context.Background())
	if err != nil {
		return err
	}
	printJSON(info)
	return nil
}

// Versions lists versions published on the configured channel.
func (c *command) Versions() error {
	if c.useAPI() {
		result, err := c.apiClient().Versions()
		if err != nil {
			return err
		}
		printJSON(result)
		return nil
	}
	mgr, err := c.localManager()
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Close() }()
	versions, err := mgr.AvailableVersions(context.Background())
	if err != nil {
		return err
	}
	printJSON(map[string]any{"versions": versions})
	return nil
}

// Changelog prints the changelog for a version.
func (c *command) Changelog(f VersionFlags) error {
	if f.Version == "" {
		return fmt.Errorf("version is required")
	}
	if c.useAPI() {
		text, err := c.apiClient().Changelog(f.Version)
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil
	}
	mgr, err := c.localManager()
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Close() }()
	text, err := mgr.Changelog(context.Background(), f.Version)
	if err != nil {
		return err
	}
	fmt.Println(text)
	return nil
}

// Download stages the artifact for a version after checksum verification,
// without installing it.
func (c *command) Download(f VersionFlags) error {
	if f.Version == "" {
		return fmt.Errorf("version is required")
	}
	mgr, err := c.localManager()
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Close() }()
	path, err := mgr.Download(context.Background(), f.Version)
	if err != nil {
		return err
	}
	fmt.Printf("Downloaded %s to %s\n", f.Version, path)
	return nil
}

// Install downloads (unless pre-staged) and installs a version without
// activating it.
func (c *command) Install(f InstallFlags) error {
	if f.Version == "" {
		return fmt.Errorf("version is required")
	}
	mgr, err := c.localManager()
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Close() }()

	ctx := context.Background()
	path := f.PackagePath
	if path == "" {
		path, err = mgr.Download(ctx, f.Version)
		if err != nil {
			return err
		}
	}
	if err := mgr.Install(ctx, path, f.Version); err != nil {
		return err
	}
	fmt.Printf("Version %s installed\n", f.Version)
	return nil
}

// Update runs the full pipeline: download, install, activate, cleanup.
func (c *command) Update(f VersionFlags) error {
	if f.Version == "" {
		return fmt.Errorf("version is required")
	}
	if c.useAPI() {
		result, err := c.apiClient().Update(f.Version)
		if err != nil {
			return err
		}
		return c.reportTask(result, f.Wait)
	}
	mgr, err := c.localManager()
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Close() }()
	if err := mgr.Update(context.Background(), f.Version); err != nil {
		return err
	}
	fmt.Printf("Updated to version %s\n", f.Version)
	return nil
}

// Activate switches the current pointer to an installed version.
func (c *command) Activate(f VersionFlags) error {
	if f.Version == "" {
		return fmt.Errorf("version is required")
	}
	if c.useAPI() {
		result, err := c.apiClient().Activate(f.Version)
		if err != nil {
			return err
		}
		return c.reportTask(result, f.Wait)
	}
	mgr, err := c.localManager()
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Close() }()
	if err := mgr.Activate(context.Background(), f.Version); err != nil {
		return err
	}
	fmt.Printf("Version %s active\n", f.Version)
	return nil
}

// Rollback re-activates an older installed version.
func (c *command) Rollback(f VersionFlags) error {
	if f.Version == "" {
		return fmt.Errorf("version is required")
	}
	if c.useAPI() {
		result, err := c.apiClient().Rollback(f.Version)
		if err != nil {
			return err
		}
		printJSON(result)
		return nil
	}
	mgr, err := c.localManager()
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Close() }()
	if err := mgr.Rollback(context.Background(), f.Version); err != nil {
		return err
	}
	fmt.Printf("Rolled back to version %s\n", f.Version)
	return nil
}

// Cleanup prunes installed versions beyond the keep count.
func (c *command) Cleanup(f CleanupFlags) error {
	if c.useAPI() {
		result, err := c.apiClient().Cleanup(f.KeepCount)
		if err != nil {
			return err
		}
		printJSON(result)
		return nil
	}
	mgr, err := c.localManager()
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Close() }()
	if err := mgr.Cleanup(context.Background(), f.KeepCount); err != nil {
		return err
	}
	fmt.Println("Cleanup complete")
	return nil
}

// reportTask prints the accepted task, optionally polling it to completion.
func (c *command) reportTask(accepted any, wait bool) error {
	printJSON(accepted)
	if !wait {
		return nil
	}
	m, ok := accepted.(map[string]any)
	if !ok {
		return fmt.Errorf("unexpected task payload")
	}
	id, _ := m["id"].(string)
	if id == "" {
		return fmt.Errorf("task id missing in response")
	}
	api := c.apiClient()
	for {
		time.Sleep(time.Second)
		task, err := api.Task(id)
		if err != nil {
			return err
		}
		status, _ := task["status"].(string)
		if status == "succeeded" || status == "failed" {
			printJSON(task)
			if status == "failed" {
				return fmt.Errorf("task %s failed: %v", id, task["error"])
			}
			return nil
		}
	}
}

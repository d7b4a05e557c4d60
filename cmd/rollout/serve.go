package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/rollout"
)

// runServeCommand runs the daemon: control API plus metrics until signalled.
func runServeCommand(f *ServeFlags) error {
	if f.ConfigPath == "" {
		return fmt.Errorf("serve requires --config")
	}

	if f.Daemonize {
		if err := daemonize(f.PIDFile, f.LogFile); err != nil {
			return err
		}
	}

	cfg, err := rollout.LoadConfig(f.ConfigPath)
	if err != nil {
		return err
	}

	if err := rollout.RegisterMetricsDefault(); err != nil {
		return err
	}

	mgr, err := rollout.New(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Close() }()

	basePath := cfg.Server.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	srv, err := rollout.NewHTTPServer(cfg.Server.Listen, basePath, mgr)
	if err != nil {
		return err
	}
	fmt.Printf("rollout daemon listening on %s%s\n", cfg.Server.Listen, basePath)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if f.PIDFile != "" {
		_ = removePidFile(f.PIDFile)
	}
	return nil
}

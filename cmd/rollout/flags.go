package main

import "time"

// Flag structs decouple cobra from logic for testing.

// GlobalFlags holds minimal global/persistent flags for CLI commands
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
}

// VersionFlags holds flags for commands addressing one version
type VersionFlags struct {
	Version string
	Wait    bool // wait for the background task instead of returning its id
}

// CleanupFlags holds flags for the cleanup command
type CleanupFlags struct {
	KeepCount int
}

// InstallFlags holds flags for the install command
type InstallFlags struct {
	Version     string
	PackagePath string // optional pre-staged archive; downloaded when empty
}

// ServeFlags holds flags for the serve command
type ServeFlags struct {
	ConfigPath string
	Daemonize  bool
	PIDFile    string
	LogFile    string
}

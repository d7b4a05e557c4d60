package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and wires all subcommands
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	rolloutCommand := command{global: globalFlags}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createStatusCommand(rolloutCommand),
		createCheckCommand(rolloutCommand),
		createVersionsCommand(rolloutCommand),
		createChangelogCommand(rolloutCommand),
		createDownloadCommand(rolloutCommand),
		createInstallCommand(rolloutCommand),
		createUpdateCommand(rolloutCommand),
		createActivateCommand(rolloutCommand),
		createRollbackCommand(rolloutCommand),
		createCleanupCommand(rolloutCommand),
		createServeCommand(globalFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "rollout",
		Short: "Self-update and version activation agent",
		Long: `Rollout manages versioned software packages on an edge device:
it fetches releases from an update server, installs them, switches the
active version atomically, and rolls back automatically when the service
fails its post-activation health check.

Examples:
  rollout update --version=1.2.0 --config=/etc/rollout/config.toml
  rollout status --config=/etc/rollout/config.toml
  rollout serve --config=/etc/rollout/config.toml   # Start daemon
  rollout activate --version=1.1.0 --api-url=http://127.0.0.1:8080/api`,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "", "daemon URL (e.g. http://127.0.0.1:8080/api); when set, commands go through the daemon")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout for daemon calls")
	return root
}

func createStatusCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show current and installed versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status()
		},
	}
}

func createCheckCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check the update server for a newer version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Check()
		},
	}
}

func createVersionsCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "versions",
		Short: "List versions available on the release channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Versions()
		},
	}
}

func createChangelogCommand(c command) *cobra.Command {
	flags := &VersionFlags{}
	cmd := &cobra.Command{
		Use:   "changelog",
		Short: "Show the changelog for a version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Changelog(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Version, "version", "", "version identifier (required)")
	mustMarkRequired(cmd, "version")
	return cmd
}

func createDownloadCommand(c command) *cobra.Command {
	flags := &VersionFlags{}
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download and verify a package without installing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Download(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Version, "version", "", "version identifier (required)")
	mustMarkRequired(cmd, "version")
	return cmd
}

func createInstallCommand(c command) *cobra.Command {
	flags := &InstallFlags{}
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Download and install a version without activating it",
		Long: `Download a package from the update server, verify its checksum,
extract it into the packages directory, and provision its runtime
environment. The version becomes installed but not current.

Examples:
  rollout install --version=1.2.0 --config=/etc/rollout/config.toml
  rollout install --version=1.2.0 --package=/tmp/rollout-1.2.0.tar.gz`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Install(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Version, "version", "", "version identifier (required)")
	cmd.Flags().StringVar(&flags.PackagePath, "package", "", "pre-staged archive path (skips download)")
	mustMarkRequired(cmd, "version")
	return cmd
}

func createUpdateCommand(c command) *cobra.Command {
	flags := &VersionFlags{}
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Download, install and activate a version",
		Long: `Run the full update pipeline: download with checksum verification,
install with manifest validation, atomic activation with health-gated
rollback, then retention cleanup of superseded versions.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Update(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Version, "version", "", "version identifier (required)")
	cmd.Flags().BoolVar(&flags.Wait, "wait", false, "poll the daemon task until it finishes (API mode)")
	mustMarkRequired(cmd, "version")
	return cmd
}

func createActivateCommand(c command) *cobra.Command {
	flags := &VersionFlags{}
	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Switch the current pointer to an installed version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Activate(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Version, "version", "", "version identifier (required)")
	cmd.Flags().BoolVar(&flags.Wait, "wait", false, "poll the daemon task until it finishes (API mode)")
	mustMarkRequired(cmd, "version")
	return cmd
}

func createRollbackCommand(c command) *cobra.Command {
	flags := &VersionFlags{}
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Roll back to an older installed version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Rollback(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Version, "version", "", "version identifier (required)")
	mustMarkRequired(cmd, "version")
	return cmd
}

func createCleanupCommand(c command) *cobra.Command {
	flags := &CleanupFlags{}
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove old versions beyond the retention count",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Cleanup(*flags)
		},
	}
	cmd.Flags().IntVar(&flags.KeepCount, "keep", 2, "number of non-current versions to keep")
	return cmd
}

// createServeCommand creates the serve subcommand
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the rollout daemon",
		Long: `Start the rollout daemon exposing the update control API and
Prometheus metrics. All configuration is loaded from the TOML config file.

Examples:
  rollout serve --config=/etc/rollout/config.toml
  rollout serve --config=/etc/rollout/config.toml --daemonize --pidfile=/run/rollout.pid`,
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			return runServeCommand(serveFlags)
		},
	}
	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.PIDFile, "pidfile", "", "write daemon PID to file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon logs to file")
	return cmd
}

func mustMarkRequired(cmd *cobra.Command, name string) {
	if err := cmd.MarkFlagRequired(name); err != nil {
		panic(err)
	}
}

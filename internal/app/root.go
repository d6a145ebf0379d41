package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	configPath string
	dbPath     string
	hostNames  []string
	assumeYes  bool
	dryRun     bool
	logLevel   string
	logFormat  string
	parallel   int

	// RootCmd is the root command for cutover
	RootCmd = &cobra.Command{
		Use:   "cutover",
		Short: "Release and rollback orchestration for Drupal sites",
		Long: `cutover deploys timestamped releases of a Drupal site to one or more hosts,
keeping a database snapshot and a files archive next to every release so a
deploy can be rolled back as a unit.

A deploy provisions a release directory, checks the code out, pushes the
local files directory and database, and only then switches the current
symlink. When a step fails, the steps that already ran are undone in
reverse order and the live site is left untouched.

Examples:
  # Prepare the directory tree on every host
  cutover setup

  # Verify hosts and the local machine have the tools deploys need
  cutover check

  # Deploy code only
  cutover deploy --skip-db --skip-files

  # Go back to the previous release, snapshot and archive
  cutover rollback

  # Keep the newest 3 releases, snapshots and archives
  cutover cleanup --keep 3

  # Show what a deploy would run
  cutover deploy --dry-run`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	// Global flags
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ./cutover.yaml, then ~/.config/cutover/cutover.yaml)")
	RootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "run ledger path (default: ~/.cutover/cutover.db)")
	RootCmd.PersistentFlags().StringSliceVar(&hostNames, "host", nil, "limit the command to these host names")
	RootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "answer yes to every confirmation")
	RootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "print remote and local commands instead of running them")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	RootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "cli", "log format: cli or json")
	RootCmd.PersistentFlags().IntVar(&parallel, "parallel", 1, "hosts to work on at once")

	// Enable cobra's built-in suggestion feature for unknown subcommands
	RootCmd.SuggestionsMinimumDistance = 2
}

// Execute runs the root command. Cancelling ctx interrupts the running
// operation; compensations still run.
func Execute(ctx context.Context) error {
	return RootCmd.ExecuteContext(ctx)
}

// getDBPath returns the ledger path, using the flag value or default
func getDBPath() (string, error) {
	if dbPath != "" {
		return dbPath, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	// Create .cutover directory if it doesn't exist
	dir := filepath.Join(home, ".cutover")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create cutover directory: %w", err)
	}

	return filepath.Join(dir, "cutover.db"), nil
}

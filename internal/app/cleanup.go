package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/cutover/internal/failure"
	"github.com/blackwell-systems/cutover/internal/output"
	"github.com/blackwell-systems/cutover/internal/prompt"
	"github.com/blackwell-systems/cutover/internal/release"
)

var cleanupFlagKeep int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old releases, snapshots and archives",
	Long: `Trim the release, snapshot and archive timelines of every selected host
to their newest entries.

The release the current symlink points at is never deleted, even when it
is older than the entries being kept. Deletion is best effort: an artifact
that cannot be removed is reported and the rest are still deleted.`,
	Example: `  cutover cleanup            # Keep keep_releases from the config (default 5)
  cutover cleanup --keep 2`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupFlagKeep, "keep", 0, "entries to keep per timeline (default: keep_releases)")

	RootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd, true)
	if err != nil {
		return err
	}
	defer e.close()

	keep := e.cfg.KeepReleases
	if cmd.Flags().Changed("keep") {
		keep = cleanupFlagKeep
	}
	if keep < 1 {
		return failure.Preconditionf("--keep must be at least 1, got %d", keep)
	}

	return e.forEachHost(cmd.Context(), "cleanup", func(ctx context.Context, site *release.Site, confirmer prompt.Confirmer, rec *recorder) (string, error) {
		ret := release.NewRetention(site)
		ret.OnDelete = rec.deleted

		reports, err := ret.Cleanup(ctx, keep, confirmer)
		if len(reports) > 0 {
			fmt.Fprint(e.out(), output.RenderTrimReports(site.Host.Name, reports))
		}
		return "", err
	})
}

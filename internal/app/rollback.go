package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/cutover/internal/prompt"
	"github.com/blackwell-systems/cutover/internal/release"
	"github.com/blackwell-systems/cutover/internal/store"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Return to the previous release, snapshot and archive",
	Long: `Roll every selected host back one deploy.

The current symlink is switched to the previous release, the previous
database snapshot is imported and the previous files archive is restored.
Afterwards the newest release, snapshot and archive are deleted.

A rollback needs at least two entries in each of the release, snapshot and
archive timelines; nothing changes on a host that has fewer.`,
	Example: `  cutover rollback
  cutover rollback --host web1 --yes`,
	Args: cobra.NoArgs,
	RunE: runRollback,
}

func init() {
	RootCmd.AddCommand(rollbackCmd)
}

func runRollback(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd, true)
	if err != nil {
		return err
	}
	defer e.close()

	return e.forEachHost(cmd.Context(), "rollback", func(ctx context.Context, site *release.Site, confirmer prompt.Confirmer, rec *recorder) (string, error) {
		rb := release.NewRollback(site)
		rb.OnDelete = rec.deleted

		err := rb.Revert(ctx, confirmer)
		restored, _ := rb.Restored()
		if err != nil {
			if restored.ID != "" {
				rec.step("revert", store.StepFailed, 0, err)
			}
			return restored.ID, err
		}
		rec.step("revert", store.StepCompleted, 0, nil)

		if err := rb.Cleanup(ctx); err != nil {
			rec.step("cleanup", store.StepFailed, 0, err)
			return restored.ID, fmt.Errorf("rollback on %s reverted to %s but cleanup failed: %w", site.Host.Name, restored.ID, err)
		}
		rec.step("cleanup", store.StepCompleted, 0, nil)

		fmt.Fprintf(e.out(), "✓ %s rolled back to release %s\n", site.Host.Name, restored.ID)
		return restored.ID, nil
	})
}

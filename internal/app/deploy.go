package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/cutover/internal/prompt"
	"github.com/blackwell-systems/cutover/internal/release"
)

var (
	deployFlagSkipDB    bool
	deployFlagSkipFiles bool
	deployFlagRevision  string
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy a new release and switch to it",
	Long: `Deploy a new timestamped release to every selected host.

On each host the deploy:
  1. provisions releases/<id>
  2. clones the repository at the branch head (or --revision)
  3. pushes the local sites/default/files directory and archives it
  4. dumps the local database, snapshots it and imports it into the release
  5. switches the current symlink to the new release

If any step fails, the completed steps are undone newest first and the
current symlink keeps pointing at the previous release.`,
	Example: `  cutover deploy                         # Full deploy
  cutover deploy --skip-db --skip-files  # Code only
  cutover deploy --revision 3f2a9c1      # Pin a commit
  cutover deploy --host web1 --yes       # One host, no prompt`,
	Args: cobra.NoArgs,
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().BoolVar(&deployFlagSkipDB, "skip-db", false, "do not push the database")
	deployCmd.Flags().BoolVar(&deployFlagSkipFiles, "skip-files", false, "do not push the files directory")
	deployCmd.Flags().StringVar(&deployFlagRevision, "revision", "", "commit to deploy (default: head of the configured branch)")

	RootCmd.AddCommand(deployCmd)
}

func runDeploy(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd, true)
	if err != nil {
		return err
	}
	defer e.close()

	opts := release.Options{
		SkipFiles:    deployFlagSkipFiles,
		SkipDatabase: deployFlagSkipDB,
		Revision:     deployFlagRevision,
		Clock:        now,
	}

	return e.forEachHost(cmd.Context(), "deploy", func(ctx context.Context, site *release.Site, confirmer prompt.Confirmer, rec *recorder) (string, error) {
		coord := release.NewCoordinator(site, opts)
		coord.Hooks = rec.hooks()

		id, err := coord.Deploy(ctx, confirmer)
		if err != nil {
			return id, err
		}
		fmt.Fprintf(e.out(), "✓ %s is now serving release %s\n", site.Host.Name, id)
		return id, nil
	})
}

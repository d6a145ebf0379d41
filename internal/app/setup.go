package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/cutover/internal/output"
	"github.com/blackwell-systems/cutover/internal/preflight"
	"github.com/blackwell-systems/cutover/internal/prompt"
	"github.com/blackwell-systems/cutover/internal/release"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create the deploy directory tree on each host",
	Long: `Create deploy_to, releases/, shared/ and the shared dumps, files and
files_backup directories on every selected host, make them group writable
and hand them to the configured user and group.

Running setup again is harmless.`,
	Args: cobra.NoArgs,
	RunE: runSetup,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check hosts and the local machine are ready to deploy",
	Long: `Runs preflight checks for every selected host.

Checks:
  • The deploy directories exist and are writable
  • drush, bzcat, tar and readlink are installed on the host
  • git, ssh and scp are installed locally
  • drush, bzip2 and tar are installed locally when source.root is set`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	RootCmd.AddCommand(setupCmd)
	RootCmd.AddCommand(checkCmd)
}

func runSetup(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd, true)
	if err != nil {
		return err
	}
	defer e.close()

	return e.forEachHost(cmd.Context(), "setup", func(ctx context.Context, site *release.Site, _ prompt.Confirmer, _ *recorder) (string, error) {
		if err := preflight.Setup(ctx, site); err != nil {
			return "", err
		}
		fmt.Fprintf(e.out(), "✓ %s: deploy tree ready at %s\n", site.Host.Name, site.Config.Paths.DeployTo)
		return "", nil
	})
}

func runCheck(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd, false)
	if err != nil {
		return err
	}
	defer e.close()

	failed := 0
	for i, host := range e.hosts {
		if i > 0 {
			fmt.Fprintln(e.out())
		}
		report, err := preflight.Check(cmd.Context(), e.site(host))
		if err != nil {
			return err
		}
		fmt.Fprint(e.out(), output.RenderCheckReport(report))
		if !report.OK() {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("preflight failed on %d of %d hosts", failed, len(e.hosts))
	}
	return nil
}

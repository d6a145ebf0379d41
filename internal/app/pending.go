package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/cutover/internal/failure"
)

var pendingFlagDiff bool

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Show commits not yet deployed",
	Long: `Show the commits on the configured branch that are newer than the revision
the primary host is serving. Runs git log in source.repo (or source.root).
With --diff the full change set is shown instead.`,
	Example: `  cutover pending
  cutover pending --diff`,
	Args: cobra.NoArgs,
	RunE: runPending,
}

func init() {
	pendingCmd.Flags().BoolVar(&pendingFlagDiff, "diff", false, "show the diff between the deployed revision and the branch")
	RootCmd.AddCommand(pendingCmd)
}

func runPending(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd, false)
	if err != nil {
		return err
	}
	defer e.close()

	if e.cfg.SourceRepo == "" {
		return failure.Preconditionf("source.repo or source.root is required to list pending commits")
	}

	ctx := cmd.Context()
	site := e.primarySite()
	rev, err := site.CurrentRevision(ctx)
	if err != nil {
		return err
	}

	what, gitCmd := "Commits", fmt.Sprintf("git log --oneline %s..%s", rev, e.cfg.Branch)
	if pendingFlagDiff {
		what, gitCmd = "Changes", fmt.Sprintf("git diff %s %s", rev, e.cfg.Branch)
	}
	pending, err := site.RunLocal(ctx, "cd "+e.cfg.SourceRepo+" && "+gitCmd)
	if err != nil {
		return err
	}
	pending = strings.TrimSpace(pending)
	if pending == "" {
		fmt.Fprintf(e.out(), "%s is up to date with %s (%s).\n", site.Host.Name, e.cfg.Branch, rev)
		return nil
	}
	fmt.Fprintf(e.out(), "%s on %s not yet on %s (serving %s):\n%s\n", what, e.cfg.Branch, site.Host.Name, rev, pending)
	return nil
}

package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/cutover/internal/output"
	"github.com/blackwell-systems/cutover/internal/store"
)

var (
	historyFlagLimit int
	historyFlagRun   string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded deploys, rollbacks and cleanups",
	Long: `Show the local run ledger, newest first. Every deploy, rollback, cleanup,
pull, setup and upload records one run per host, with the steps it went
through and the artifacts it deleted.`,
	Example: `  cutover history
  cutover history --limit 50
  cutover history --run 1b4e28ba-2fa1-11d2-883f-0016d3cca427`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyFlagLimit, "limit", 20, "runs to show (0 for all)")
	historyCmd.Flags().StringVar(&historyFlagRun, "run", "", "show the steps and deletions of one run")

	RootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	path, err := getDBPath()
	if err != nil {
		return fmt.Errorf("failed to get ledger path: %w", err)
	}
	st, err := openLedger(path)
	if err != nil {
		return err
	}
	defer st.Close()

	out := cmd.OutOrStdout()
	if historyFlagRun != "" {
		return showRun(cmd, st, historyFlagRun)
	}

	runs, err := st.ListRuns(historyFlagLimit)
	if err != nil {
		return err
	}
	fmt.Fprint(out, output.RenderRunTable(runs, now()))
	return nil
}

func showRun(cmd *cobra.Command, st *store.Store, id string) error {
	out := cmd.OutOrStdout()
	run, err := st.GetRun(id)
	if err != nil {
		return err
	}
	steps, err := st.Steps(id)
	if err != nil {
		return err
	}
	deletions, err := st.Deletions(id)
	if err != nil {
		return err
	}

	fmt.Fprint(out, output.RenderRunTable([]*store.Run{run}, now()))
	if len(steps) > 0 {
		fmt.Fprintln(out, "\nSteps:")
		for _, s := range steps {
			line := fmt.Sprintf("  %-10s %-12s", s.Step, s.Status)
			if s.Duration > 0 {
				line += " " + s.Duration.String()
			}
			if s.Error != "" {
				line += " " + s.Error
			}
			fmt.Fprintln(out, line)
		}
	}
	if len(deletions) > 0 {
		fmt.Fprintln(out, "\nDeleted:")
		for _, d := range deletions {
			mark := "✓"
			if d.Error != "" {
				mark = "✗"
			}
			fmt.Fprintf(out, "  %s %-9s %s\n", mark, d.Kind, d.Path)
		}
	}
	return nil
}

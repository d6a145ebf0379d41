package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/cutover/internal/failure"
	"github.com/blackwell-systems/cutover/internal/release"
)

var (
	pullFlagDBOnly    bool
	pullFlagFilesOnly bool
)

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Copy the live database and files to the local site",
	Long: `Replace the local database and sites/default/files with the ones serving
on the primary host. The local site root is source.root from the config.

This overwrites local data; each half asks for confirmation.`,
	Example: `  cutover pull
  cutover pull --db-only
  cutover pull --files-only --host web2`,
	Args: cobra.NoArgs,
	RunE: runPull,
}

func init() {
	pullCmd.Flags().BoolVar(&pullFlagDBOnly, "db-only", false, "pull only the database")
	pullCmd.Flags().BoolVar(&pullFlagFilesOnly, "files-only", false, "pull only the files directory")

	RootCmd.AddCommand(pullCmd)
}

func runPull(cmd *cobra.Command, args []string) error {
	if pullFlagDBOnly && pullFlagFilesOnly {
		return failure.Preconditionf("--db-only and --files-only are mutually exclusive")
	}

	e, err := loadEnv(cmd, true)
	if err != nil {
		return err
	}
	defer e.close()

	site := e.primarySite()
	rec := e.startRun("pull", site.Host.Name)
	err = pull(cmd, site, e)
	rec.finish("", err)
	return err
}

func pull(cmd *cobra.Command, site *release.Site, e *env) error {
	ctx := cmd.Context()
	p := release.NewPuller(site)

	if !pullFlagFilesOnly {
		if err := p.PullDatabase(ctx, e.confirmer); err != nil {
			return err
		}
		fmt.Fprintf(e.out(), "✓ Database pulled from %s\n", site.Host.Name)
	}
	if !pullFlagDBOnly {
		if err := p.PullFiles(ctx, e.confirmer); err != nil {
			return err
		}
		fmt.Fprintf(e.out(), "✓ Files pulled from %s\n", site.Host.Name)
	}
	return nil
}

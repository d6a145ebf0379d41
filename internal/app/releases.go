package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/cutover/internal/output"
	"github.com/blackwell-systems/cutover/internal/release"
)

var releasesCmd = &cobra.Command{
	Use:   "releases",
	Short: "List releases on each host",
	Long: `List the release timeline of every selected host, newest first. The
release marked * is the one the current symlink points at. The Snapshot and
Archive columns show whether a database snapshot and a files archive with
the same id exist.`,
	Args: cobra.NoArgs,
	RunE: runReleases,
}

func init() {
	RootCmd.AddCommand(releasesCmd)
}

func runReleases(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd, false)
	if err != nil {
		return err
	}
	defer e.close()

	ctx := cmd.Context()
	for i, host := range e.hosts {
		if i > 0 {
			fmt.Fprintln(e.out())
		}
		site := e.site(host)

		spinner := output.NewSpinner(fmt.Sprintf("Reading timelines on %s", host.Name))
		spinner.SetWriter(e.stderr)
		spinner.Start()
		currentID, err := readTimelines(ctx, site, spinner)
		spinner.Stop()
		if err != nil {
			return err
		}

		fmt.Fprintf(e.out(), "%s (%s):\n", host.Name, host.Address)
		fmt.Fprint(e.out(), output.RenderReleaseTable(
			site.Releases.Entries(), site.Snapshots.Entries(), site.Archives.Entries(), currentID, now()))
	}
	return nil
}

// readTimelines lists each timeline and resolves current, naming the read in
// progress on spinner.
func readTimelines(ctx context.Context, site *release.Site, spinner *output.Spinner) (string, error) {
	for _, tl := range site.Timelines() {
		spinner.UpdateMessage(fmt.Sprintf("Reading %s on %s", tl.Kind().Name, site.Host.Name))
		if _, err := tl.List(ctx); err != nil {
			return "", err
		}
	}
	spinner.UpdateMessage(fmt.Sprintf("Reading current on %s", site.Host.Name))
	cur, ok, err := site.Pointer.Release(ctx)
	if err != nil || !ok {
		return "", err
	}
	return cur.ID, nil
}

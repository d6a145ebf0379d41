package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/cutover/internal/config"
	"github.com/blackwell-systems/cutover/internal/fleet"
	"github.com/blackwell-systems/cutover/internal/output"
	"github.com/blackwell-systems/cutover/internal/prompt"
	"github.com/blackwell-systems/cutover/internal/release"
	"github.com/blackwell-systems/cutover/internal/upload"
)

var uploadFlagWatch bool

var uploadCmd = &cobra.Command{
	Use:   "upload FILE...",
	Short: "Copy files into the live release",
	Long: `Copy files from the working directory to the same relative path under the
current release of every selected host. With --watch, keep running and copy
each file again whenever it changes, until interrupted.

Uploads bypass the release timeline: the next deploy replaces them.`,
	Example: `  cutover upload sites/all/themes/site/style.css
  cutover upload --watch sites/all/themes/site/style.css sites/all/themes/site/site.js`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().BoolVar(&uploadFlagWatch, "watch", false, "upload again on every change until interrupted")

	RootCmd.AddCommand(uploadCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd, !uploadFlagWatch)
	if err != nil {
		return err
	}
	defer e.close()

	if uploadFlagWatch {
		return watchUploads(cmd.Context(), e, args)
	}

	return e.forEachHost(cmd.Context(), "upload", func(ctx context.Context, site *release.Site, _ prompt.Confirmer, _ *recorder) (string, error) {
		if err := upload.New(site).Upload(ctx, args); err != nil {
			return "", err
		}
		fmt.Fprintf(e.out(), "✓ %s: uploaded %d file(s)\n", site.Host.Name, len(args))
		return "", nil
	})
}

// watchUploads runs one watcher per host until ctx is cancelled.
func watchUploads(ctx context.Context, e *env, files []string) error {
	fmt.Fprintf(e.out(), "Watching %s (Ctrl+C to stop)\n", strings.Join(files, ", "))

	runner := &fleet.Runner{Parallel: len(e.hosts)}
	results := runner.Run(ctx, e.hosts, func(ctx context.Context, host config.Host) error {
		u := upload.New(e.site(host))
		return u.Watch(ctx, files, func(batch []string, err error) {
			if err == nil {
				fmt.Fprintf(e.out(), "✓ %s: %s\n", host.Name, strings.Join(batch, ", "))
			}
		})
	})

	if len(fleet.Failed(results)) == 0 {
		return nil
	}
	fmt.Fprint(e.out(), output.RenderHostResults(results))
	return fmt.Errorf("watch failed on %d of %d hosts", len(fleet.Failed(results)), len(results))
}

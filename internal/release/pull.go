package release

import (
	"context"
	"fmt"
	"path"

	"github.com/blackwell-systems/cutover/internal/failure"
	"github.com/blackwell-systems/cutover/internal/prompt"
	"github.com/blackwell-systems/cutover/internal/remote"
)

// Puller copies the live database and files from a site back into the
// operator's source root.
type Puller struct {
	site *Site
}

// NewPuller returns a Puller for site.
func NewPuller(site *Site) *Puller {
	return &Puller{site: site}
}

func (p *Puller) sourceRoot() (string, error) {
	root := p.site.Config.SourceRoot
	if root == "" {
		return "", failure.Preconditionf("source.root is required to pull")
	}
	return root, nil
}

// PullDatabase replaces the local database with a dump of the live one.
func (p *Puller) PullDatabase(ctx context.Context, confirmer prompt.Confirmer) error {
	root, err := p.sourceRoot()
	if err != nil {
		return err
	}
	s := p.site
	msg := fmt.Sprintf("Replace the local database with the %s database from %s?", s.Config.Stage, s.Host.Name)
	if err := confirm(ctx, confirmer, msg); err != nil {
		return err
	}

	dump := s.SSHCommand("cd " + s.Config.Paths.Current + " && drush -q cc all && drush sql-dump")
	if _, err := s.RunLocal(ctx, "cd "+root+" && "+dump+" | drush sql-cli"); err != nil {
		return err
	}
	s.Logger.Info("database pulled")
	return nil
}

// PullFiles replaces the local files directory with the live one. The
// transfer archive is built and copied before the second, destructive
// confirmation; declining it deletes the local copy.
func (p *Puller) PullFiles(ctx context.Context, confirmer prompt.Confirmer) error {
	root, err := p.sourceRoot()
	if err != nil {
		return err
	}
	s := p.site
	cfg := s.Config
	msg := fmt.Sprintf("Download the %s files directory from %s?", cfg.Stage, s.Host.Name)
	if err := confirm(ctx, confirmer, msg); err != nil {
		return err
	}

	tmp := path.Join(cfg.Paths.Tmp, cfg.Application+"-"+cfg.Stage+ArchiveSuffix)
	var stack Stack
	stack.Push("remote archive", CompensatorFunc(func(ctx context.Context) error {
		_, err := s.Run(ctx, "rm -f "+tmp)
		return err
	}))
	stack.Push("local archive", CompensatorFunc(func(ctx context.Context) error {
		_, err := s.RunLocal(ctx, "rm -f "+tmp)
		return err
	}))

	if _, err := s.Run(ctx, "tar cjf "+tmp+" -C "+cfg.Paths.Shared+" files"); err != nil {
		stack.Unwind(ctx, s.Logger)
		return err
	}
	if _, err := s.RunLocal(ctx, s.SCP(":"+tmp, tmp)); err != nil {
		stack.Unwind(ctx, s.Logger)
		return err
	}
	if _, err := s.Run(ctx, "rm -f "+tmp); err != nil {
		s.Logger.Warn("could not remove remote transfer archive", "path", tmp, "error", err)
	}
	stack.Discard()

	local := path.Join(root, "sites/default")
	msg = fmt.Sprintf("This replaces %s/files with the downloaded copy. Continue?", local)
	if err := confirm(ctx, confirmer, msg); err != nil {
		if _, rmErr := s.RunLocal(ctx, "rm -f "+tmp); rmErr != nil {
			s.Logger.Warn("could not remove local transfer archive", "path", tmp, "error", rmErr)
		}
		return err
	}

	replace := remote.Join(
		"rm -rf "+path.Join(local, "files"),
		"tar xjf "+tmp+" -C "+local,
		"rm -f "+tmp,
	)
	if _, err := s.RunLocal(ctx, replace); err != nil {
		return err
	}
	s.Logger.Info("files pulled", "into", path.Join(local, "files"))
	return nil
}

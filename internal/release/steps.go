package release

import (
	"context"
	"errors"
	"path"

	"github.com/blackwell-systems/cutover/internal/remote"
)

func (c *Coordinator) provisionStep(d *deployment) step {
	tl := c.site.Releases
	return step{
		name: StepProvision,
		run: func(ctx context.Context) error {
			return tl.Append(ctx, d.release)
		},
		compensate: CompensatorFunc(func(ctx context.Context) error {
			return tl.Remove(ctx, d.release)
		}),
	}
}

// codeStep checks out the pinned revision into the release, records it, and
// links the shared files directory into the docroot.
func (c *Coordinator) codeStep(d *deployment) step {
	s := c.site
	cfg := s.Config
	dir := d.release.Path
	return step{
		name: StepCode,
		run: func(ctx context.Context) error {
			cmds := []string{
				remote.Join(
					"git clone --quiet "+cfg.Repository+" "+dir,
					"cd "+dir,
					"git checkout --quiet "+d.revision,
				),
				"echo " + d.revision + " > " + path.Join(dir, "REVISION"),
			}
			if cfg.GroupWritable {
				cmds = append(cmds, "chmod -R g+w "+dir)
			}
			cmds = append(cmds, "ln -s "+cfg.Paths.Files+" "+path.Join(s.Docroot(d.release), "sites/default/files"))
			for _, cmd := range cmds {
				if _, err := s.Run(ctx, cmd); err != nil {
					return err
				}
			}
			return nil
		},
		compensate: CompensatorFunc(func(ctx context.Context) error {
			_, err := s.Run(ctx, s.Sudo("rm -rf "+dir))
			return err
		}),
	}
}

// filesStep packs the operator's files directory, replaces the shared files
// directory with it, and keeps the upload as the new archive entry.
func (c *Coordinator) filesStep(d *deployment) step {
	s := c.site
	cfg := s.Config
	entry := s.Archives.Kind().EntryFor(d.id)
	tmp := path.Join(cfg.Paths.Tmp, path.Base(entry.Path))
	localTmp := s.localTmp(s.Archives.Kind(), d.id)
	return step{
		name: StepFiles,
		run: func(ctx context.Context) error {
			local := []string{
				"tar cjf " + localTmp + " -C " + path.Join(cfg.SourceRoot, "sites/default") + " files",
				s.SCP(localTmp, ":"+tmp),
				"rm -f " + localTmp,
			}
			for _, cmd := range local {
				if _, err := s.RunLocal(ctx, cmd); err != nil {
					return err
				}
			}
			install := remote.Join(
				s.Sudo("rm -rf "+cfg.Paths.Files),
				"tar xjf "+tmp+" -C "+cfg.Paths.Shared,
				s.Sudo("chown -R "+s.webOwner()+" "+cfg.Paths.Files),
				"mv "+tmp+" "+cfg.Paths.FilesBackup+"/",
			)
			if _, err := s.Run(ctx, install); err != nil {
				return err
			}
			return s.Archives.Append(ctx, entry)
		},
		compensate: CompensatorFunc(func(ctx context.Context) error {
			var errs []error
			if _, err := s.RunLocal(ctx, "rm -f "+localTmp); err != nil {
				errs = append(errs, err)
			}
			if _, err := s.Run(ctx, "rm -f "+tmp); err != nil {
				errs = append(errs, err)
			}
			if err := s.Archives.Remove(ctx, entry); err != nil {
				errs = append(errs, err)
			}
			if d.hasPriorArchive {
				errs = append(errs, s.restoreFiles(ctx, d.priorArchive))
			} else {
				s.Logger.Warn("no previous files archive, files restore skipped")
			}
			return errors.Join(errs...)
		}),
	}
}

// databaseStep dumps the operator's database, stores it as the new snapshot
// entry, and imports it through the new release.
func (c *Coordinator) databaseStep(d *deployment) step {
	s := c.site
	cfg := s.Config
	entry := s.Snapshots.Kind().EntryFor(d.id)
	tmp := path.Join(cfg.Paths.Tmp, path.Base(entry.Path))
	localTmp := s.localTmp(s.Snapshots.Kind(), d.id)
	return step{
		name: StepDatabase,
		run: func(ctx context.Context) error {
			local := []string{
				"cd " + cfg.SourceRoot + " && drush cc all",
				"cd " + cfg.SourceRoot + " && drush sql-dump | bzip2 -c > " + localTmp,
				s.SCP(localTmp, ":"+tmp),
				"rm -f " + localTmp,
			}
			for _, cmd := range local {
				if _, err := s.RunLocal(ctx, cmd); err != nil {
					return err
				}
			}
			if _, err := s.Run(ctx, "mv "+tmp+" "+cfg.Paths.Dumps+"/"); err != nil {
				return err
			}
			if err := s.Snapshots.Append(ctx, entry); err != nil {
				return err
			}
			return s.importSnapshot(ctx, d.release, entry)
		},
		compensate: CompensatorFunc(func(ctx context.Context) error {
			var errs []error
			if _, err := s.RunLocal(ctx, "rm -f "+localTmp); err != nil {
				errs = append(errs, err)
			}
			if _, err := s.Run(ctx, "rm -f "+tmp); err != nil {
				errs = append(errs, err)
			}
			if err := s.Snapshots.Remove(ctx, entry); err != nil {
				errs = append(errs, err)
			}
			if d.hasPriorSnapshot && d.hasPriorRelease {
				errs = append(errs, s.importSnapshot(ctx, d.priorRelease, d.priorSnapshot))
			} else {
				s.Logger.Warn("no previous database snapshot, database restore skipped")
			}
			return errors.Join(errs...)
		}),
	}
}

// localTmp names the operator-machine staging file for one host's copy of
// an artifact. Hosts deployed in parallel share the release id, so the host
// name keeps their staging files apart.
func (s *Site) localTmp(k Kind, id string) string {
	return path.Join(s.Config.Paths.Tmp, id+"-"+s.Host.Name+k.Suffix)
}

// importSnapshot loads snapshot into the database through release's drush.
func (s *Site) importSnapshot(ctx context.Context, release, snapshot Entry) error {
	_, err := s.Run(ctx, "cd "+s.Docroot(release)+" && bzcat "+snapshot.Path+" | drush sql-cli")
	return err
}

// restoreFiles replaces the shared files directory with archive.
func (s *Site) restoreFiles(ctx context.Context, archive Entry) error {
	files := s.Config.Paths.Files
	_, err := s.Run(ctx, remote.Join(
		s.Sudo("rm -rf "+files),
		s.Sudo("tar xjf "+archive.Path+" -C "+s.Config.Paths.Shared),
		s.Sudo("chmod 775 "+files),
		s.Sudo("chown -R "+s.webOwner()+" "+files),
	))
	return err
}

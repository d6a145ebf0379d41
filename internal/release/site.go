package release

import (
	"context"
	"log/slog"
	"path"
	"strconv"
	"strings"

	"github.com/blackwell-systems/cutover/internal/config"
	"github.com/blackwell-systems/cutover/internal/failure"
	"github.com/blackwell-systems/cutover/internal/logging"
	"github.com/blackwell-systems/cutover/internal/prompt"
	"github.com/blackwell-systems/cutover/internal/remote"
)

// Site binds the release core to one target host: the resolved config, the
// executors for the host and for the operator machine, and the host's three
// timelines and current pointer.
type Site struct {
	Config *config.Config
	Host   config.Host
	Remote remote.Executor
	Local  remote.Executor
	Logger *slog.Logger

	Releases  *Timeline
	Snapshots *Timeline
	Archives  *Timeline
	Pointer   *Pointer
}

// NewSite wires the timelines and pointer for host.
func NewSite(cfg *config.Config, host config.Host, remoteExec, localExec remote.Executor, logger *slog.Logger) *Site {
	s := &Site{
		Config: cfg,
		Host:   host,
		Remote: remoteExec,
		Local:  localExec,
		Logger: logging.Ensure(logger).With("host", host.Name),
	}
	s.Releases = newTimeline(s, ReleaseKind(cfg.Paths.Releases))
	s.Snapshots = newTimeline(s, SnapshotKind(cfg.Paths.Dumps))
	s.Archives = newTimeline(s, ArchiveKind(cfg.Paths.FilesBackup))
	s.Pointer = &Pointer{site: s}
	return s
}

// Timelines returns releases, snapshots and archives, in that order.
func (s *Site) Timelines() []*Timeline {
	return []*Timeline{s.Releases, s.Snapshots, s.Archives}
}

// Load lists all three timelines.
func (s *Site) Load(ctx context.Context) error {
	for _, tl := range s.Timelines() {
		if _, err := tl.List(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Docroot returns the web root inside a release.
func (s *Site) Docroot(release Entry) string {
	if s.Config.Docroot == "" {
		return release.Path
	}
	return path.Join(release.Path, s.Config.Docroot)
}

// Revision reads the REVISION marker of a release.
func (s *Site) Revision(ctx context.Context, release Entry) (string, error) {
	out, err := s.Run(ctx, "cat "+path.Join(release.Path, "REVISION"))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// CurrentRevision returns the revision of the release the pointer names.
func (s *Site) CurrentRevision(ctx context.Context) (string, error) {
	if !s.Releases.Loaded() {
		if _, err := s.Releases.List(ctx); err != nil {
			return "", err
		}
	}
	e, ok, err := s.Pointer.Release(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", failure.Preconditionf("%s has no current release", s.Host.Name)
	}
	return s.Revision(ctx, e)
}

// SSHCommand renders an ssh invocation of cmd for use inside a local shell
// command line.
func (s *Site) SSHCommand(cmd string) string {
	parts := []string{"ssh"}
	for _, opt := range s.Config.SSHOptions {
		parts = append(parts, "-o", opt)
	}
	if s.Host.Port > 0 {
		parts = append(parts, "-p", strconv.Itoa(s.Host.Port))
	}
	parts = append(parts, s.Host.Target(), "'"+cmd+"'")
	return strings.Join(parts, " ")
}

// SCP renders an scp invocation; paths prefixed with ":" name the host.
func (s *Site) SCP(src, dst string) string {
	parts := []string{"scp", "-q"}
	for _, opt := range s.Config.SSHOptions {
		parts = append(parts, "-o", opt)
	}
	if s.Host.Port > 0 {
		parts = append(parts, "-P", strconv.Itoa(s.Host.Port))
	}
	return strings.Join(append(parts, s.remotePath(src), s.remotePath(dst)), " ")
}

func (s *Site) remotePath(p string) string {
	if strings.HasPrefix(p, ":") {
		return s.Host.Target() + p
	}
	return p
}

// Sudo prefixes cmd with sudo when use_sudo is set.
func (s *Site) Sudo(cmd string) string {
	return remote.Sudo(s.Config.UseSudo, cmd)
}

// webOwner is the owner:group argument chown gets for the web user.
func (s *Site) webOwner() string {
	return s.Config.WebUser + ":" + s.Config.WebUser
}

// Run executes cmd on the host, classifying failures as RemoteCommandError.
func (s *Site) Run(ctx context.Context, cmd string) (string, error) {
	return runOn(ctx, s.Remote, cmd)
}

// RunLocal executes cmd on the operator machine.
func (s *Site) RunLocal(ctx context.Context, cmd string) (string, error) {
	return runOn(ctx, s.Local, cmd)
}

func runOn(ctx context.Context, e remote.Executor, cmd string) (string, error) {
	out, err := e.Run(ctx, cmd)
	if err != nil {
		return out, &failure.RemoteCommandError{Host: e.Host(), Command: cmd, Output: out, Err: err}
	}
	return out, nil
}

// confirm asks the operator; a decline becomes UserAbort.
func confirm(ctx context.Context, c prompt.Confirmer, msg string) error {
	ok, err := c.Confirm(ctx, msg)
	if err != nil {
		return err
	}
	if !ok {
		return &failure.UserAbort{Prompt: msg}
	}
	return nil
}

// Package preflight prepares a target host for its first deploy and checks
// that the host and the operator machine have what deploys need.
package preflight

import (
	"context"
	"strings"

	"github.com/blackwell-systems/cutover/internal/release"
)

// Remote and local tools deploys shell out to.
var (
	RemoteCommands = []string{"drush", "bzcat", "tar", "readlink"}
	LocalCommands  = []string{"git", "ssh", "scp"}
	// SourceCommands are needed locally only when a source root is configured.
	SourceCommands = []string{"drush", "bzip2", "tar"}
)

// Scope says where a check ran.
type Scope string

const (
	ScopeRemote Scope = "remote"
	ScopeLocal  Scope = "local"
)

// Result is one preflight check.
type Result struct {
	Name   string
	Scope  Scope
	OK     bool
	Detail string
}

// Report collects the checks for one host.
type Report struct {
	Host   string
	Checks []Result
}

// OK reports whether every check passed.
func (r *Report) OK() bool {
	return len(r.Failed()) == 0
}

// Failed returns the failing checks.
func (r *Report) Failed() []Result {
	var failed []Result
	for _, c := range r.Checks {
		if !c.OK {
			failed = append(failed, c)
		}
	}
	return failed
}

// Setup creates the deploy directory tree on the site's host.
func Setup(ctx context.Context, site *release.Site) error {
	cfg := site.Config
	dirs := strings.Join(cfg.Paths.SharedDirs(), " ")

	cmds := []string{site.Sudo("mkdir -p " + dirs)}
	if cfg.GroupWritable {
		cmds = append(cmds, site.Sudo("chmod g+w "+dirs))
	}
	if cfg.User != "" {
		cmds = append(cmds, site.Sudo("chown -R "+cfg.User+":"+cfg.Group+" "+cfg.Paths.DeployTo))
	}
	for _, cmd := range cmds {
		if _, err := site.Run(ctx, cmd); err != nil {
			return err
		}
	}
	site.Logger.Info("deploy tree ready", "deploy_to", cfg.Paths.DeployTo)
	return nil
}

// Check checks the site's host and the operator machine. Failing checks are
// reported, not returned; the error is only set when ctx ends.
func Check(ctx context.Context, site *release.Site) (*Report, error) {
	cfg := site.Config
	report := &Report{Host: site.Host.Name}

	add := func(name string, scope Scope, err error) {
		c := Result{Name: name, Scope: scope, OK: err == nil}
		if err != nil {
			c.Detail = err.Error()
		}
		report.Checks = append(report.Checks, c)
	}

	for _, dir := range cfg.Paths.SharedDirs() {
		_, err := site.Run(ctx, "test -d "+dir)
		add("directory "+dir, ScopeRemote, err)
		if err == nil {
			_, err = site.Run(ctx, "test -w "+dir)
			add("writable "+dir, ScopeRemote, err)
		}
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
	}
	for _, name := range RemoteCommands {
		_, err := site.Run(ctx, "command -v "+name)
		add("command "+name, ScopeRemote, err)
	}

	local := append([]string(nil), LocalCommands...)
	if cfg.SourceRoot != "" {
		local = append(local, SourceCommands...)
	}
	for _, name := range local {
		_, err := site.RunLocal(ctx, "command -v "+name)
		add("command "+name, ScopeLocal, err)
	}

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

package release

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/blackwell-systems/cutover/internal/failure"
	"github.com/blackwell-systems/cutover/internal/prompt"
)

// Step names, in execution order.
const (
	StepProvision = "provision"
	StepCode      = "code"
	StepFiles     = "files"
	StepDatabase  = "database"
	StepSwitch    = "switch"
)

// Options tune a single deploy.
type Options struct {
	// SkipFiles leaves the shared files directory and archive timeline alone.
	SkipFiles bool
	// SkipDatabase leaves the database and snapshot timeline alone.
	SkipDatabase bool
	// Revision pins the commit to deploy; empty resolves the branch head.
	Revision string
	// Clock supplies the release timestamp; nil means time.Now.
	Clock func() time.Time
}

// Hooks observe a deploy as it runs. Any field may be nil.
type Hooks struct {
	OnStepStart    func(step string)
	OnStepComplete func(step string, elapsed time.Duration)
	OnStepFail     func(step string, err error)
	OnCompensate   func(step string, err error)
}

// Coordinator runs the forward deploy against one site.
type Coordinator struct {
	site  *Site
	opts  Options
	Hooks Hooks
}

// NewCoordinator returns a Coordinator for site.
func NewCoordinator(site *Site, opts Options) *Coordinator {
	return &Coordinator{site: site, opts: opts}
}

// deployment is the state shared by the steps of one deploy.
type deployment struct {
	id       string
	revision string
	release  Entry

	priorRelease     Entry
	hasPriorRelease  bool
	priorSnapshot    Entry
	hasPriorSnapshot bool
	priorArchive     Entry
	hasPriorArchive  bool
}

type step struct {
	name       string
	run        func(ctx context.Context) error
	compensate Compensator
}

// Deploy creates a new release, pushes files and database, and switches
// current to it. It returns the release id, which is set even on failure
// once it has been generated.
//
// Every step registers its compensation before running. When a step fails
// the registered compensations run newest first and the step's error is
// returned; compensation failures are only logged. Once every step has
// succeeded the compensations are discarded and Switch runs; a failed
// switch restores the old pointer but leaves the new release's artifacts in
// place.
func (c *Coordinator) Deploy(ctx context.Context, confirmer prompt.Confirmer) (string, error) {
	log := c.site.Logger
	if err := c.site.Load(ctx); err != nil {
		return "", err
	}

	id := NewID(c.now())
	if latest, ok := c.site.Releases.Latest(); ok && id <= latest.ID {
		return "", failure.Preconditionf("release id %s is not newer than latest release %s (check the clock)", id, latest.ID)
	}
	if (!c.opts.SkipFiles || !c.opts.SkipDatabase) && c.site.Config.SourceRoot == "" {
		return "", failure.Preconditionf("source.root is required to push files and database (or skip both)")
	}

	rev, err := c.resolveRevision(ctx)
	if err != nil {
		return "", err
	}

	msg := fmt.Sprintf("Deploy %s@%s to %s (%s) as release %s?",
		c.site.Config.Application, shortRev(rev), c.site.Host.Name, c.site.Config.Stage, id)
	if err := confirm(ctx, confirmer, msg); err != nil {
		return "", err
	}

	d := c.newDeployment(id, rev)
	log = log.With("release", id)
	log.Info("deploy started", "revision", rev)

	stack := Stack{OnCompensate: c.Hooks.OnCompensate}
	for _, s := range c.plan(d) {
		stack.Push(s.name, s.compensate)
		if err := c.runStep(ctx, s); err != nil {
			log.Error("deploy step failed", "step", s.name, "error", err)
			if failed := stack.Unwind(ctx, log); len(failed) > 0 {
				log.Warn("rollback incomplete, host may need manual repair", "failed", len(failed))
			}
			return id, fmt.Errorf("deploy %s: %s: %w", id, s.name, err)
		}
	}
	stack.Discard()

	sw := step{name: StepSwitch, run: func(ctx context.Context) error {
		return c.site.Pointer.Switch(ctx, d.release)
	}}
	if err := c.runStep(ctx, sw); err != nil {
		log.Error("switch failed, previous release is still live", "error", err)
		return id, fmt.Errorf("deploy %s: %s: %w", id, StepSwitch, err)
	}

	log.Info("deploy finished")
	return id, nil
}

func (c *Coordinator) runStep(ctx context.Context, s step) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.Hooks.OnStepStart != nil {
		c.Hooks.OnStepStart(s.name)
	}
	start := time.Now()
	c.site.Logger.Debug("running step", "step", s.name)

	if err := s.run(ctx); err != nil {
		if c.Hooks.OnStepFail != nil {
			c.Hooks.OnStepFail(s.name, err)
		}
		return err
	}
	if c.Hooks.OnStepComplete != nil {
		c.Hooks.OnStepComplete(s.name, time.Since(start))
	}
	return nil
}

func (c *Coordinator) plan(d *deployment) []step {
	steps := []step{c.provisionStep(d), c.codeStep(d)}
	if !c.opts.SkipFiles {
		steps = append(steps, c.filesStep(d))
	}
	if !c.opts.SkipDatabase {
		steps = append(steps, c.databaseStep(d))
	}
	return steps
}

func (c *Coordinator) newDeployment(id, rev string) *deployment {
	d := &deployment{
		id:       id,
		revision: rev,
		release:  c.site.Releases.Kind().EntryFor(id),
	}
	d.priorRelease, d.hasPriorRelease = c.site.Releases.Latest()
	d.priorSnapshot, d.hasPriorSnapshot = c.site.Snapshots.Latest()
	d.priorArchive, d.hasPriorArchive = c.site.Archives.Latest()
	return d
}

func (c *Coordinator) now() time.Time {
	if c.opts.Clock != nil {
		return c.opts.Clock()
	}
	return time.Now()
}

// resolveRevision pins the branch head so every host deploys the same commit.
func (c *Coordinator) resolveRevision(ctx context.Context) (string, error) {
	if c.opts.Revision != "" {
		return c.opts.Revision, nil
	}
	cfg := c.site.Config
	out, err := c.site.RunLocal(ctx, "git ls-remote "+cfg.Repository+" "+cfg.Branch)
	if err != nil {
		return "", err
	}
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return "", failure.Preconditionf("branch %q not found in %s", cfg.Branch, cfg.Repository)
	}
	return fields[0], nil
}

func shortRev(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

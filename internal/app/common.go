package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/blackwell-systems/cutover/internal/config"
	"github.com/blackwell-systems/cutover/internal/failure"
	"github.com/blackwell-systems/cutover/internal/fleet"
	"github.com/blackwell-systems/cutover/internal/logging"
	"github.com/blackwell-systems/cutover/internal/output"
	"github.com/blackwell-systems/cutover/internal/prompt"
	"github.com/blackwell-systems/cutover/internal/release"
	"github.com/blackwell-systems/cutover/internal/remote"
	"github.com/blackwell-systems/cutover/internal/store"
)

// newExecutors builds the executors for one host. Tests replace it.
var newExecutors = sshExecutors

// sshExecutors reaches host over ssh and runs local commands through sh,
// or prints both to w under --dry-run.
func sshExecutors(cfg *config.Config, host config.Host, w io.Writer) (hostExec, localExec remote.Executor) {
	if dryRun {
		printf := func(format string, args ...any) { fmt.Fprintf(w, format, args...) }
		return &remote.DryRun{HostName: host.Address, Printf: printf}, &remote.DryRun{Printf: printf}
	}
	return &remote.SSH{Address: host.Address, User: host.User, Port: host.Port, Options: cfg.SSHOptions}, &remote.Local{}
}

// stdinIsTerminal reports whether confirmations can be asked. Tests replace it.
var stdinIsTerminal = func() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
}

// now is the clock used for ledger timestamps and release ids.
var now = time.Now

// env is what every command needs: the resolved config, the selected hosts
// and the ambient logger, confirmer and ledger.
type env struct {
	cmd       *cobra.Command
	cfg       *config.Config
	hosts     []config.Host
	logger    *slog.Logger
	confirmer prompt.Confirmer
	// ledger is nil for dry runs and read-only commands.
	ledger *store.Store
	stdout io.Writer
	stderr io.Writer
}

// lockedWriter serializes writes from concurrent hosts.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// Fd exposes the wrapped file so terminal detection still works.
func (l *lockedWriter) Fd() uintptr {
	if f, ok := l.w.(interface{ Fd() uintptr }); ok {
		return f.Fd()
	}
	return ^uintptr(0)
}

// loadEnv resolves config and hosts. When record is set the run ledger is
// opened too.
func loadEnv(cmd *cobra.Command, record bool) (*env, error) {
	level, err := logging.ParseLevel(logLevel)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(logFormat)
	if err != nil {
		return nil, err
	}
	stderr := &lockedWriter{w: cmd.ErrOrStderr()}
	logger := logging.New(format, stderr, level)

	p, err := config.Locate(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(p)
	if err != nil {
		return nil, err
	}
	hosts, err := cfg.SelectHosts(hostNames)
	if err != nil {
		return nil, err
	}
	logger.Debug("loaded config", "path", p, "hosts", len(hosts))

	e := &env{
		cmd:       cmd,
		cfg:       cfg,
		hosts:     hosts,
		logger:    logger,
		confirmer: selectConfirmer(cmd),
		stdout:    &lockedWriter{w: cmd.OutOrStdout()},
		stderr:    stderr,
	}

	if record && !dryRun {
		path, err := getDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to get ledger path: %w", err)
		}
		e.ledger, err = openLedger(path)
		if err != nil {
			return nil, err
		}
	}
	return e, nil
}

func openLedger(path string) (*store.Store, error) {
	st, err := store.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	if err := st.CreateSchema(); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func selectConfirmer(cmd *cobra.Command) prompt.Confirmer {
	switch {
	case assumeYes, dryRun:
		return prompt.AutoApprove{}
	case !stdinIsTerminal():
		return prompt.NonInteractive{}
	default:
		return prompt.NewInteractiveWithIO(cmd.InOrStdin(), cmd.ErrOrStderr())
	}
}

func (e *env) close() {
	if e.ledger != nil {
		e.ledger.Close()
	}
}

func (e *env) out() io.Writer { return e.stdout }

// site wires a release.Site for host.
func (e *env) site(host config.Host) *release.Site {
	hostExec, localExec := newExecutors(e.cfg, host, e.out())
	return release.NewSite(e.cfg, host, hostExec, localExec, e.logger)
}

// primarySite returns the site of the primary host among the selected ones.
func (e *env) primarySite() *release.Site {
	for _, h := range e.hosts {
		if h.Primary {
			return e.site(h)
		}
	}
	return e.site(e.hosts[0])
}

// hostFunc is one command's work on one host. It returns the release id the
// run concerns, if any.
type hostFunc func(ctx context.Context, site *release.Site, confirmer prompt.Confirmer, rec *recorder) (string, error)

// forEachHost runs fn on every selected host, each under its own ledger run.
// With more than one host the operator confirms once up front and hosts run
// concurrently without asking again.
func (e *env) forEachHost(ctx context.Context, command string, fn hostFunc) error {
	if len(e.hosts) == 1 {
		return e.runHost(ctx, command, e.hosts[0], e.confirmer, fn)
	}

	names := make([]string, len(e.hosts))
	for i, h := range e.hosts {
		names[i] = h.Name
	}
	msg := fmt.Sprintf("Run %s on %d hosts (%s)?", command, len(e.hosts), strings.Join(names, ", "))
	ok, err := e.confirmer.Confirm(ctx, msg)
	if err != nil {
		return err
	}
	if !ok {
		return &failure.UserAbort{Prompt: msg}
	}

	bar := output.NewProgress(len(e.hosts), "hosts done")
	bar.SetWriter(e.stderr)
	runner := &fleet.Runner{
		Parallel: parallel,
		OnDone:   func(fleet.Result) { bar.Increment() },
	}
	results := runner.Run(ctx, e.hosts, func(ctx context.Context, host config.Host) error {
		return e.runHost(ctx, command, host, prompt.AutoApprove{}, fn)
	})
	bar.Finish()

	fmt.Fprint(e.out(), output.RenderHostResults(results))
	if failed := fleet.Failed(results); len(failed) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%s failed on %d of %d hosts", command, len(failed), len(results))
	}
	return nil
}

func (e *env) runHost(ctx context.Context, command string, host config.Host, confirmer prompt.Confirmer, fn hostFunc) error {
	site := e.site(host)
	rec := e.startRun(command, host.Name)
	releaseID, err := fn(ctx, site, confirmer, rec)
	rec.finish(releaseID, err)
	return err
}

// recorder writes one run to the ledger. A nil ledger records nothing.
// Ledger failures are logged and never fail the operation.
type recorder struct {
	ledger *store.Store
	logger *slog.Logger
	run    *store.Run
}

func (e *env) startRun(command, host string) *recorder {
	rec := &recorder{ledger: e.ledger, logger: e.logger}
	if e.ledger == nil {
		return rec
	}
	run, err := e.ledger.StartRun(command, host, now())
	if err != nil {
		e.logger.Warn("ledger unavailable", "error", err)
		rec.ledger = nil
		return rec
	}
	rec.run = run
	return rec
}

func (r *recorder) active() bool { return r != nil && r.ledger != nil && r.run != nil }

func (r *recorder) finish(releaseID string, err error) {
	if !r.active() {
		return
	}
	status := store.StatusSucceeded
	switch {
	case errors.Is(err, failure.ErrUserAbort):
		status = store.StatusAborted
	case err != nil:
		status = store.StatusFailed
	}
	if lerr := r.ledger.FinishRun(r.run.ID, status, releaseID, err, now()); lerr != nil {
		r.logger.Warn("failed to record run", "error", lerr)
	}
}

func (r *recorder) step(name, status string, elapsed time.Duration, err error) {
	if !r.active() {
		return
	}
	st := store.Step{RunID: r.run.ID, Step: name, Status: status, Duration: elapsed, At: now()}
	if err != nil {
		st.Error = err.Error()
	}
	if lerr := r.ledger.RecordStep(st); lerr != nil {
		r.logger.Warn("failed to record step", "step", name, "error", lerr)
	}
}

// deleted implements release.DeleteFunc.
func (r *recorder) deleted(kind string, e release.Entry, err error) {
	if !r.active() {
		return
	}
	d := store.Deletion{RunID: r.run.ID, Kind: kind, ArtifactID: e.ID, Path: e.Path, At: now()}
	if err != nil {
		d.Error = err.Error()
	}
	if lerr := r.ledger.RecordDeletion(d); lerr != nil {
		r.logger.Warn("failed to record deletion", "path", e.Path, "error", lerr)
	}
}

// hooks feeds coordinator steps into the ledger.
func (r *recorder) hooks() release.Hooks {
	return release.Hooks{
		OnStepStart: func(step string) { r.step(step, store.StepStarted, 0, nil) },
		OnStepComplete: func(step string, elapsed time.Duration) {
			r.step(step, store.StepCompleted, elapsed, nil)
		},
		OnStepFail:   func(step string, err error) { r.step(step, store.StepFailed, 0, err) },
		OnCompensate: func(step string, err error) { r.step(step, store.StepCompensated, 0, err) },
	}
}

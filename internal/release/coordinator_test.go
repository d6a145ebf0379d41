package release

import (
	"context"
	"errors"
	"path"
	"reflect"
	"testing"
	"time"

	"github.com/blackwell-systems/cutover/internal/failure"
	"github.com/blackwell-systems/cutover/internal/prompt"
)

var newID = NewID(fixedNow)

func newTestCoordinator(f *fixture, opts Options) (*Coordinator, *[]string, *[]string) {
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return fixedNow }
	}
	if opts.Revision == "" {
		opts.Revision = "0123456789abcdef"
	}
	c := NewCoordinator(f.site, opts)
	var started, compensated []string
	c.Hooks = Hooks{
		OnStepStart:  func(step string) { started = append(started, step) },
		OnCompensate: func(step string, _ error) { compensated = append(compensated, step) },
	}
	return c, &started, &compensated
}

func TestDeployHappyPath(t *testing.T) {
	f := newFixture(t)
	f.seed(idA)
	f.point(idA)
	c, started, compensated := newTestCoordinator(f, Options{})

	id, err := c.Deploy(context.Background(), prompt.AutoApprove{})
	if err != nil {
		t.Fatalf("Deploy() error: %v", err)
	}
	if id != newID {
		t.Errorf("Deploy() id = %q, want %q", id, newID)
	}

	wantSteps := []string{StepProvision, StepCode, StepFiles, StepDatabase, StepSwitch}
	if !reflect.DeepEqual(*started, wantSteps) {
		t.Errorf("steps = %v, want %v", *started, wantSteps)
	}
	if len(*compensated) != 0 {
		t.Errorf("successful deploy compensated %v", *compensated)
	}

	rel := path.Join(releases, id)
	if rev, _ := f.host.ReadFile(path.Join(rel, "REVISION")); rev != "0123456789abcdef\n" {
		t.Errorf("REVISION = %q", rev)
	}
	if target, _ := f.host.Link(path.Join(rel, "drupal/sites/default/files")); target != deployTo+"/shared/files" {
		t.Errorf("shared files link -> %q", target)
	}
	if !f.host.Exists(path.Join(dumps, id+SnapshotSuffix)) || !f.host.Exists(path.Join(backups, id+ArchiveSuffix)) {
		t.Error("deploy should leave a new snapshot and archive")
	}
	if got, want := f.currentTarget(t), path.Join(rel, "drupal"); got != want {
		t.Errorf("current -> %q, want %q", got, want)
	}
	if !executedWith(f.host, "bzcat "+path.Join(dumps, id+SnapshotSuffix)) {
		t.Error("new snapshot should be imported")
	}
	if !executedWith(f.local, "drush sql-dump") {
		t.Errorf("local dump not run: %v", f.local.Executed())
	}

	for _, tl := range f.site.Timelines() {
		if latest, _ := tl.Latest(); latest.ID != id {
			t.Errorf("%s latest = %q, want %q", tl.Kind().Name, latest.ID, id)
		}
	}
}

func TestDeployFailureUnwinds(t *testing.T) {
	f := newFixture(t)
	f.seed(idA)
	f.point(idA)
	cause := errors.New("sql-cli: access denied")
	f.host.FailOnce("bzcat "+path.Join(dumps, newID+SnapshotSuffix), cause)
	c, _, compensated := newTestCoordinator(f, Options{})

	id, err := c.Deploy(context.Background(), prompt.AutoApprove{})
	if !errors.Is(err, cause) {
		t.Fatalf("Deploy() error = %v, want the import failure", err)
	}
	var rce *failure.RemoteCommandError
	if !errors.As(err, &rce) || rce.Host != "web1.example.com" {
		t.Errorf("error should carry the RemoteCommandError, got %v", err)
	}

	wantUnwind := []string{StepDatabase, StepFiles, StepCode, StepProvision}
	if !reflect.DeepEqual(*compensated, wantUnwind) {
		t.Errorf("compensations = %v, want %v", *compensated, wantUnwind)
	}

	for _, p := range []string{
		path.Join(releases, id),
		path.Join(dumps, id+SnapshotSuffix),
		path.Join(backups, id+ArchiveSuffix),
	} {
		if f.host.Exists(p) {
			t.Errorf("%s should have been removed", p)
		}
	}
	if got, want := f.currentTarget(t), path.Join(releases, idA, "drupal"); got != want {
		t.Errorf("current -> %q, want %q", got, want)
	}
	if !executedWith(f.host, "bzcat "+path.Join(dumps, idA+SnapshotSuffix)) {
		t.Error("previous snapshot should be re-imported")
	}
	if !executedWith(f.host, "tar xjf "+path.Join(backups, idA+ArchiveSuffix)) {
		t.Error("previous archive should be re-extracted")
	}
	for _, tl := range f.site.Timelines() {
		if tl.Contains(id) {
			t.Errorf("%s view still contains %s", tl.Kind().Name, id)
		}
	}
}

func TestDeployCompensationErrorKeepsCause(t *testing.T) {
	f := newFixture(t)
	f.seed(idA)
	f.point(idA)
	cause := errors.New("dump import failed")
	f.host.FailOnce("bzcat "+path.Join(dumps, newID+SnapshotSuffix), cause)
	f.host.FailOn("tar xjf "+path.Join(backups, idA+ArchiveSuffix), errors.New("restore failed"))
	c, _, compensated := newTestCoordinator(f, Options{})

	_, err := c.Deploy(context.Background(), prompt.AutoApprove{})
	if !errors.Is(err, cause) {
		t.Fatalf("Deploy() error = %v, want original cause", err)
	}
	// The failing files compensation must not stop the ones after it.
	if len(*compensated) != 4 {
		t.Errorf("compensations = %v, want all four", *compensated)
	}
	if f.host.Exists(path.Join(releases, newID)) {
		t.Error("release directory should still be removed")
	}
}

func TestDeployDeclineTouchesNothing(t *testing.T) {
	f := newFixture(t)
	f.seed(idA)
	f.point(idA)
	c, started, _ := newTestCoordinator(f, Options{})

	_, err := c.Deploy(context.Background(), prompt.NonInteractive{})
	if !errors.Is(err, failure.ErrUserAbort) {
		t.Fatalf("Deploy() error = %v, want UserAbort", err)
	}
	if len(*started) != 0 {
		t.Errorf("declined deploy ran steps %v", *started)
	}
	if executedWith(f.host, "mkdir") || executedWith(f.host, "rm") || executedWith(f.host, "ln") {
		t.Errorf("declined deploy changed the host: %v", f.host.Executed())
	}
}

func TestDeployRejectsStaleClock(t *testing.T) {
	f := newFixture(t)
	f.seed("20991231000000")
	asked := false
	c, _, _ := newTestCoordinator(f, Options{})

	_, err := c.Deploy(context.Background(), prompt.Func(func(context.Context, string) (bool, error) {
		asked = true
		return true, nil
	}))
	if !errors.Is(err, failure.ErrPrecondition) {
		t.Fatalf("Deploy() error = %v, want PreconditionError", err)
	}
	if asked {
		t.Error("precondition failure should come before the confirmation")
	}
}

func TestDeploySkips(t *testing.T) {
	f := newFixture(t)
	f.seed(idA)
	f.point(idA)
	c, started, _ := newTestCoordinator(f, Options{SkipFiles: true, SkipDatabase: true})

	id, err := c.Deploy(context.Background(), prompt.AutoApprove{})
	if err != nil {
		t.Fatalf("Deploy() error: %v", err)
	}
	want := []string{StepProvision, StepCode, StepSwitch}
	if !reflect.DeepEqual(*started, want) {
		t.Errorf("steps = %v, want %v", *started, want)
	}
	if f.site.Snapshots.Contains(id) || f.site.Archives.Contains(id) {
		t.Error("skipped steps must not add snapshot or archive entries")
	}
	if len(f.local.Commands()) != 0 {
		t.Errorf("skipped steps ran local commands: %v", f.local.Commands())
	}
}

func TestDeploySwitchFailureKeepsArtifacts(t *testing.T) {
	f := newFixture(t)
	f.seed(idA)
	f.point(idA)
	f.host.FailOnce("ln -s "+path.Join(releases, newID, "drupal")+" "+current, nil)
	c, _, compensated := newTestCoordinator(f, Options{})

	_, err := c.Deploy(context.Background(), prompt.AutoApprove{})
	if !errors.Is(err, failure.ErrRemoteCommand) {
		t.Fatalf("Deploy() error = %v, want RemoteCommandError", err)
	}
	if got, want := f.currentTarget(t), path.Join(releases, idA, "drupal"); got != want {
		t.Errorf("current -> %q, want %q", got, want)
	}
	if !f.host.Exists(path.Join(releases, newID)) || !f.host.Exists(path.Join(dumps, newID+SnapshotSuffix)) {
		t.Error("artifacts of the new release should remain after a failed switch")
	}
	if len(*compensated) != 0 {
		t.Errorf("deploy steps were compensated after commit: %v", *compensated)
	}
}

func TestDeployResolvesRevision(t *testing.T) {
	f := newFixture(t)
	f.seed(idA)
	c := NewCoordinator(f.site, Options{SkipFiles: true, SkipDatabase: true, Clock: func() time.Time { return fixedNow }})

	// The fake local executor answers git ls-remote with nothing.
	_, err := c.Deploy(context.Background(), prompt.AutoApprove{})
	if !errors.Is(err, failure.ErrPrecondition) {
		t.Fatalf("Deploy() error = %v, want PreconditionError for unknown branch", err)
	}
	if !executedWith(f.local, "git ls-remote git@example.com:acme/mysite.git master") {
		t.Errorf("local commands = %v", f.local.Executed())
	}
}

package release

import (
	"context"
	"errors"
	"path"
	"reflect"
	"testing"

	"github.com/blackwell-systems/cutover/internal/failure"
	"github.com/blackwell-systems/cutover/internal/prompt"
)

func TestRollbackRun(t *testing.T) {
	f := newFixture(t)
	f.seed(idA, idB, idC)
	f.point(idC)
	rb := NewRollback(f.site)
	var deleted []string
	rb.OnDelete = func(kind string, e Entry, err error) {
		if err == nil {
			deleted = append(deleted, kind+"/"+e.ID)
		}
	}

	if err := rb.Run(context.Background(), prompt.AutoApprove{}); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if rb.State() != StateDone {
		t.Errorf("State() = %s, want done", rb.State())
	}
	if restored, ok := rb.Restored(); !ok || restored.ID != idB {
		t.Errorf("Restored() = %q, %v; want %q", restored.ID, ok, idB)
	}
	if got, want := f.currentTarget(t), path.Join(releases, idB, "drupal"); got != want {
		t.Errorf("current -> %q, want %q", got, want)
	}
	if !executedWith(f.host, "bzcat "+path.Join(dumps, idB+SnapshotSuffix)) {
		t.Error("previous snapshot should be imported")
	}
	if !executedWith(f.host, "tar xjf "+path.Join(backups, idB+ArchiveSuffix)) {
		t.Error("previous archive should be extracted")
	}

	wantDeleted := []string{"releases/" + idC, "snapshots/" + idC, "archives/" + idC}
	if !reflect.DeepEqual(deleted, wantDeleted) {
		t.Errorf("deleted = %v, want %v", deleted, wantDeleted)
	}
	for _, p := range []string{path.Join(releases, idC), path.Join(dumps, idC+SnapshotSuffix), path.Join(backups, idC+ArchiveSuffix)} {
		if f.host.Exists(p) {
			t.Errorf("%s should be deleted", p)
		}
	}
	if !f.host.Exists(path.Join(releases, idA)) || !f.host.Exists(path.Join(releases, idB)) {
		t.Error("older releases must survive")
	}
}

func TestRollbackInsufficientHistory(t *testing.T) {
	tests := []struct {
		name    string
		seed    func(f *fixture)
		missing []string
	}{
		{"single release", func(f *fixture) {
			f.seedRelease(idA)
			f.seedSnapshot(idA)
			f.seedSnapshot(idB)
			f.seedArchive(idA)
			f.seedArchive(idB)
		}, []string{"releases"}},
		{"snapshot skipped", func(f *fixture) {
			f.seed(idA)
			f.seedRelease(idB)
			f.seedArchive(idB)
		}, []string{"snapshots"}},
		{"empty host", func(*fixture) {}, []string{"releases", "snapshots", "archives"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.seed(f)
			f.point(idA)
			asked := false
			rb := NewRollback(f.site)

			err := rb.Revert(context.Background(), prompt.Func(func(context.Context, string) (bool, error) {
				asked = true
				return true, nil
			}))
			var ihe *failure.InsufficientHistoryError
			if !errors.As(err, &ihe) {
				t.Fatalf("Revert() error = %v, want InsufficientHistoryError", err)
			}
			if !reflect.DeepEqual(ihe.Missing, tt.missing) {
				t.Errorf("Missing = %v, want %v", ihe.Missing, tt.missing)
			}
			if asked {
				t.Error("should fail before asking")
			}
			if rb.State() != StateFailed {
				t.Errorf("State() = %s, want failed", rb.State())
			}
			if got := f.currentTarget(t); got != path.Join(releases, idA, "drupal") {
				t.Errorf("current changed to %q", got)
			}
			for _, cmd := range []string{"rm", "ln", "mv", "tar", "bzcat"} {
				if executedWith(f.host, cmd) {
					t.Errorf("host saw %q: %v", cmd, f.host.Executed())
				}
			}
		})
	}
}

func TestRollbackDeclineStaysIdle(t *testing.T) {
	f := newFixture(t)
	f.seed(idA, idB)
	f.point(idB)
	rb := NewRollback(f.site)

	err := rb.Revert(context.Background(), prompt.NonInteractive{})
	if !errors.Is(err, failure.ErrUserAbort) {
		t.Fatalf("Revert() error = %v, want UserAbort", err)
	}
	if rb.State() != StateIdle {
		t.Errorf("State() = %s, want idle", rb.State())
	}
	if _, ok := rb.Restored(); ok {
		t.Error("declined rollback should not report a restored release")
	}
	if got := f.currentTarget(t); got != path.Join(releases, idB, "drupal") {
		t.Errorf("current changed to %q", got)
	}
}

func TestRollbackFailureAfterSwitchIsFatal(t *testing.T) {
	f := newFixture(t)
	f.seed(idA, idB)
	f.point(idB)
	f.host.FailOnce("bzcat "+path.Join(dumps, idA+SnapshotSuffix), nil)
	rb := NewRollback(f.site)

	err := rb.Run(context.Background(), prompt.AutoApprove{})
	if !errors.Is(err, failure.ErrRemoteCommand) {
		t.Fatalf("Run() error = %v, want RemoteCommandError", err)
	}
	if rb.State() != StateFailed {
		t.Errorf("State() = %s, want failed", rb.State())
	}
	if restored, ok := rb.Restored(); !ok || restored.ID != idA {
		t.Errorf("Restored() = %q, %v; want %q", restored.ID, ok, idA)
	}
	// The pointer stays on the reverted release; nothing is undone or deleted.
	if got := f.currentTarget(t); got != path.Join(releases, idA, "drupal") {
		t.Errorf("current -> %q, want previous release", got)
	}
	if !f.host.Exists(path.Join(releases, idB)) {
		t.Error("superseded release must not be deleted after a failed revert")
	}
}

func TestRollbackCleanupGuard(t *testing.T) {
	f := newFixture(t)
	f.seed(idA, idB)
	f.point(idB)
	ctx := context.Background()
	rb := NewRollback(f.site)
	if err := rb.Revert(ctx, prompt.AutoApprove{}); err != nil {
		t.Fatalf("Revert() error: %v", err)
	}
	if rb.State() != StateCleaning {
		t.Fatalf("State() = %s, want cleaning", rb.State())
	}

	// Something re-adopted the superseded release before cleanup.
	f.point(idB)

	err := rb.Cleanup(ctx)
	if !errors.Is(err, failure.ErrPrecondition) {
		t.Fatalf("Cleanup() error = %v, want PreconditionError", err)
	}
	if !f.host.Exists(path.Join(releases, idB)) || !f.host.Exists(path.Join(dumps, idB+SnapshotSuffix)) {
		t.Error("guarded cleanup must not delete anything")
	}
	if rb.State() != StateFailed {
		t.Errorf("State() = %s, want failed", rb.State())
	}
}

func TestRollbackCleanupBestEffort(t *testing.T) {
	f := newFixture(t)
	f.seed(idA, idB)
	f.point(idB)
	f.host.FailOn("rm -f "+path.Join(dumps, idB+SnapshotSuffix), nil)
	rb := NewRollback(f.site)

	err := rb.Run(context.Background(), prompt.AutoApprove{})
	if !errors.Is(err, failure.ErrRemoteCommand) {
		t.Fatalf("Run() error = %v, want the snapshot deletion failure", err)
	}
	if f.host.Exists(path.Join(releases, idB)) || f.host.Exists(path.Join(backups, idB+ArchiveSuffix)) {
		t.Error("other superseded artifacts should still be deleted")
	}
	if rb.State() != StateFailed {
		t.Errorf("State() = %s, want failed", rb.State())
	}
}

func TestRollbackStateGuards(t *testing.T) {
	f := newFixture(t)
	f.seed(idA, idB)
	f.point(idB)
	ctx := context.Background()
	rb := NewRollback(f.site)

	if err := rb.Cleanup(ctx); !errors.Is(err, failure.ErrPrecondition) {
		t.Errorf("Cleanup() from idle error = %v, want PreconditionError", err)
	}
	if err := rb.Run(ctx, prompt.AutoApprove{}); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if err := rb.Revert(ctx, prompt.AutoApprove{}); !errors.Is(err, failure.ErrPrecondition) {
		t.Errorf("second Revert() error = %v, want PreconditionError", err)
	}
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateReverting, true},
		{StateIdle, StateCleaning, false},
		{StateReverting, StateCleaning, true},
		{StateReverting, StateFailed, true},
		{StateReverting, StateDone, false},
		{StateCleaning, StateDone, true},
		{StateDone, StateIdle, false},
		{StateFailed, StateReverting, false},
	}
	for _, tt := range tests {
		if got := allowedTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("allowedTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

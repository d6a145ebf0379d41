package release

import (
	"context"
	"errors"
	"path"
	"reflect"
	"strings"
	"testing"

	"github.com/blackwell-systems/cutover/internal/failure"
	"github.com/blackwell-systems/cutover/internal/prompt"
)

func TestTrimKeepsNewest(t *testing.T) {
	f := newFixture(t)
	f.seed(idA, idB, idC)
	f.point(idC)
	ctx := context.Background()
	r := NewRetention(f.site)

	report, err := r.Trim(ctx, f.site.Releases, 2, prompt.AutoApprove{})
	if err != nil {
		t.Fatalf("Trim() error: %v", err)
	}
	if got := ids(report.Deleted); !reflect.DeepEqual(got, []string{idA}) {
		t.Errorf("Deleted = %v, want [%s]", got, idA)
	}
	if got := ids(f.site.Releases.Entries()); !reflect.DeepEqual(got, []string{idB, idC}) {
		t.Errorf("timeline = %v", got)
	}
	if f.host.Exists(path.Join(releases, idA)) {
		t.Error("oldest release directory should be deleted")
	}

	// Second run is a no-op and does not ask.
	report, err = r.Trim(ctx, f.site.Releases, 2, prompt.NonInteractive{})
	if err != nil {
		t.Fatalf("second Trim() error: %v", err)
	}
	if len(report.Deleted) != 0 || f.site.Releases.Len() != 2 {
		t.Errorf("second Trim() deleted %v, len %d", ids(report.Deleted), f.site.Releases.Len())
	}
}

func TestTrimTimelinesIndependently(t *testing.T) {
	f := newFixture(t)
	f.seed(idA, idC)
	f.seedRelease(idB) // deployed with the database step skipped
	f.point(idC)
	ctx := context.Background()
	r := NewRetention(f.site)

	for _, tl := range []*Timeline{f.site.Releases, f.site.Snapshots} {
		if _, err := r.Trim(ctx, tl, 1, prompt.AutoApprove{}); err != nil {
			t.Fatalf("Trim(%s) error: %v", tl.Kind().Name, err)
		}
		if tl.Len() != 1 {
			t.Errorf("%s len = %d, want 1", tl.Kind().Name, tl.Len())
		}
	}
	if latest, _ := f.site.Snapshots.Latest(); latest.ID != idC {
		t.Errorf("snapshot kept = %s, want %s", latest.ID, idC)
	}
	if f.host.Exists(path.Join(dumps, idA+SnapshotSuffix)) {
		t.Error("old snapshot should be deleted")
	}
	// Archives were not trimmed.
	if !f.host.Exists(path.Join(backups, idA+ArchiveSuffix)) {
		t.Error("archives must be left alone")
	}
}

func TestTrimProtectsCurrent(t *testing.T) {
	f := newFixture(t)
	f.seed(idA, idB, idC)
	f.point(idA) // rolled far back by hand
	r := NewRetention(f.site)

	report, err := r.Trim(context.Background(), f.site.Releases, 1, prompt.AutoApprove{})
	if err != nil {
		t.Fatalf("Trim() error: %v", err)
	}
	if got := ids(report.Protected); !reflect.DeepEqual(got, []string{idA}) {
		t.Errorf("Protected = %v", got)
	}
	if got := ids(report.Deleted); !reflect.DeepEqual(got, []string{idB}) {
		t.Errorf("Deleted = %v", got)
	}
	if !f.host.Exists(path.Join(releases, idA)) {
		t.Error("live release must never be deleted")
	}
}

func TestTrimRechecksCurrentAfterConfirm(t *testing.T) {
	f := newFixture(t)
	f.seed(idA, idB, idC)
	f.point(idC)
	r := NewRetention(f.site)

	// Someone points current at an old release while the prompt is open.
	moved := prompt.Func(func(context.Context, string) (bool, error) {
		f.point(idB)
		return true, nil
	})
	report, err := r.Trim(context.Background(), f.site.Releases, 1, moved)
	if err != nil {
		t.Fatalf("Trim() error: %v", err)
	}
	if got := ids(report.Deleted); !reflect.DeepEqual(got, []string{idA}) {
		t.Errorf("Deleted = %v, want [%s]", got, idA)
	}
	if got := ids(report.Protected); !reflect.DeepEqual(got, []string{idB}) {
		t.Errorf("Protected = %v, want [%s]", got, idB)
	}
	if got := ids(report.Kept); !reflect.DeepEqual(got, []string{idB, idC}) {
		t.Errorf("Kept = %v", got)
	}
	if !f.host.Exists(path.Join(releases, idB)) {
		t.Error("release current moved onto must survive")
	}
}

func TestTrimBestEffort(t *testing.T) {
	f := newFixture(t)
	f.seed(idA, idB, idC)
	f.host.FailOn("rm -f "+path.Join(dumps, idA+SnapshotSuffix), nil)
	r := NewRetention(f.site)

	report, err := r.Trim(context.Background(), f.site.Snapshots, 1, prompt.AutoApprove{})
	if !errors.Is(err, failure.ErrRemoteCommand) {
		t.Fatalf("Trim() error = %v, want RemoteCommandError", err)
	}
	if !strings.Contains(err.Error(), idA) {
		t.Errorf("error should name the entry: %v", err)
	}
	if len(report.Failures) != 1 || report.Failures[0].Entry.ID != idA {
		t.Errorf("Failures = %+v", report.Failures)
	}
	if got := ids(report.Deleted); !reflect.DeepEqual(got, []string{idB}) {
		t.Errorf("Deleted = %v, want [%s]", got, idB)
	}
}

func TestTrimDeclineDeletesNothing(t *testing.T) {
	f := newFixture(t)
	f.seed(idA, idB, idC)
	r := NewRetention(f.site)

	_, err := r.Trim(context.Background(), f.site.Releases, 1, prompt.NonInteractive{})
	if !errors.Is(err, failure.ErrUserAbort) {
		t.Fatalf("Trim() error = %v, want UserAbort", err)
	}
	if executedWith(f.host, "rm") {
		t.Errorf("declined trim deleted: %v", f.host.Executed())
	}
}

func TestTrimRejectsKeepBelowOne(t *testing.T) {
	f := newFixture(t)
	r := NewRetention(f.site)
	for _, keep := range []int{0, -3} {
		if _, err := r.Trim(context.Background(), f.site.Releases, keep, prompt.AutoApprove{}); !errors.Is(err, failure.ErrPrecondition) {
			t.Errorf("Trim(keep=%d) error = %v, want PreconditionError", keep, err)
		}
	}
}

func TestCleanupConfirmsOnce(t *testing.T) {
	f := newFixture(t)
	f.seed(idA, idB, idC)
	f.point(idC)
	var prompts []string
	confirmer := prompt.Func(func(_ context.Context, msg string) (bool, error) {
		prompts = append(prompts, msg)
		return true, nil
	})
	r := NewRetention(f.site)
	var deletions int
	r.OnDelete = func(string, Entry, error) { deletions++ }

	reports, err := r.Cleanup(context.Background(), 2, confirmer)
	if err != nil {
		t.Fatalf("Cleanup() error: %v", err)
	}
	if len(prompts) != 1 {
		t.Fatalf("prompts = %v, want exactly one", prompts)
	}
	if !strings.Contains(prompts[0], "1 releases") || !strings.Contains(prompts[0], "1 archives") {
		t.Errorf("prompt = %q", prompts[0])
	}
	if len(reports) != 3 || deletions != 3 {
		t.Errorf("reports = %d, deletions = %d", len(reports), deletions)
	}
	for _, tl := range f.site.Timelines() {
		if tl.Len() != 2 {
			t.Errorf("%s len = %d, want 2", tl.Kind().Name, tl.Len())
		}
	}

	// Nothing left to trim: no prompt at all.
	prompts = nil
	if _, err := r.Cleanup(context.Background(), 2, confirmer); err != nil || len(prompts) != 0 {
		t.Errorf("second Cleanup() = %v, prompts %v", err, prompts)
	}
}

package release

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/blackwell-systems/cutover/internal/failure"
	"github.com/blackwell-systems/cutover/internal/prompt"
)

// TrimReport describes what a trim did to one timeline.
type TrimReport struct {
	Timeline  string
	Kept      []Entry
	Deleted   []Entry
	Protected []Entry
	Failures  []DeleteFailure
	// pending is what the plan will delete.
	pending []Entry
}

// Pending returns the entries the plan would delete.
func (r *TrimReport) Pending() []Entry { return append([]Entry(nil), r.pending...) }

// DeleteFailure is an entry that could not be removed.
type DeleteFailure struct {
	Entry Entry
	Err   error
}

// Retention trims timelines to their newest entries.
type Retention struct {
	site *Site

	// OnDelete, when set, observes every deletion attempt.
	OnDelete DeleteFunc
}

// NewRetention returns a Retention for site.
func NewRetention(site *Site) *Retention {
	return &Retention{site: site}
}

// Plan lists tl and works out which entries a trim to keep would delete.
// The release the current pointer names is never a candidate.
func (r *Retention) Plan(ctx context.Context, tl *Timeline, keep int) (*TrimReport, error) {
	if keep < 1 {
		return nil, failure.Preconditionf("keep must be at least 1, got %d", keep)
	}
	entries, err := tl.List(ctx)
	if err != nil {
		return nil, err
	}

	report := &TrimReport{Timeline: tl.Kind().Name}
	if len(entries) <= keep {
		report.Kept = entries
		return report, nil
	}

	live, err := r.livePointer(ctx, tl)
	if err != nil {
		return nil, err
	}

	cut := len(entries) - keep
	for _, e := range entries[:cut] {
		if live != "" && references(live, e) {
			report.Protected = append(report.Protected, e)
			continue
		}
		report.pending = append(report.pending, e)
	}
	report.Kept = append(append([]Entry(nil), report.Protected...), entries[cut:]...)
	return report, nil
}

// Trim removes all but the newest keep entries of tl after one
// confirmation. Deletion is best effort: one failure does not stop the
// rest, and every failure is returned joined.
func (r *Retention) Trim(ctx context.Context, tl *Timeline, keep int, confirmer prompt.Confirmer) (*TrimReport, error) {
	report, err := r.Plan(ctx, tl, keep)
	if err != nil {
		return nil, err
	}
	if len(report.pending) == 0 {
		r.site.Logger.Info("nothing to trim", "kind", report.Timeline, "count", len(report.Kept))
		return report, nil
	}

	msg := fmt.Sprintf("Delete %d old %s on %s, keeping %d?", len(report.pending), report.Timeline, r.site.Host.Name, keep)
	if err := confirm(ctx, confirmer, msg); err != nil {
		return report, err
	}
	return report, r.execute(ctx, tl, report)
}

// Cleanup trims all three timelines to keep after a single confirmation.
func (r *Retention) Cleanup(ctx context.Context, keep int, confirmer prompt.Confirmer) ([]*TrimReport, error) {
	timelines := r.site.Timelines()
	reports := make([]*TrimReport, 0, len(timelines))
	var counts []string
	for _, tl := range timelines {
		report, err := r.Plan(ctx, tl, keep)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
		if n := len(report.pending); n > 0 {
			counts = append(counts, fmt.Sprintf("%d %s", n, report.Timeline))
		}
	}
	if len(counts) == 0 {
		r.site.Logger.Info("no old artifacts to delete", "keep", keep)
		return reports, nil
	}

	msg := fmt.Sprintf("Delete %s on %s, keeping the newest %d of each?", strings.Join(counts, ", "), r.site.Host.Name, keep)
	if err := confirm(ctx, confirmer, msg); err != nil {
		return reports, err
	}

	var errs []error
	for i, tl := range timelines {
		errs = append(errs, r.execute(ctx, tl, reports[i]))
	}
	return reports, errors.Join(errs...)
}

func (r *Retention) execute(ctx context.Context, tl *Timeline, report *TrimReport) error {
	// The pointer may have moved while the operator was confirming.
	live, err := r.livePointer(ctx, tl)
	if err != nil {
		return err
	}

	var errs []error
	for _, e := range report.pending {
		if live != "" && references(live, e) {
			r.site.Logger.Warn("current moved onto a trim candidate, keeping it", "kind", report.Timeline, "id", e.ID)
			report.Protected = append(report.Protected, e)
			report.Kept = append(report.Kept, e)
			sort.Slice(report.Kept, func(i, j int) bool { return report.Kept[i].ID < report.Kept[j].ID })
			continue
		}
		err := tl.Remove(ctx, e)
		if r.OnDelete != nil {
			r.OnDelete(report.Timeline, e, err)
		}
		if err != nil {
			r.site.Logger.Warn("delete failed", "kind", report.Timeline, "id", e.ID, "error", err)
			report.Failures = append(report.Failures, DeleteFailure{Entry: e, Err: err})
			errs = append(errs, fmt.Errorf("%s %s: %w", report.Timeline, e.ID, err))
			continue
		}
		report.Deleted = append(report.Deleted, e)
	}
	report.pending = nil
	if len(report.Deleted) > 0 {
		r.site.Logger.Info("trimmed", "kind", report.Timeline, "deleted", len(report.Deleted), "kept", len(report.Kept))
	}
	return errors.Join(errs...)
}

// livePointer returns the current target when tl is the release timeline,
// and "" otherwise or when current is unset.
func (r *Retention) livePointer(ctx context.Context, tl *Timeline) (string, error) {
	if tl != r.site.Releases {
		return "", nil
	}
	target, ok, err := r.site.Pointer.Current(ctx)
	if err != nil || !ok {
		return "", err
	}
	return target, nil
}

package release

import (
	"context"
	"errors"
	"fmt"

	"github.com/blackwell-systems/cutover/internal/failure"
	"github.com/blackwell-systems/cutover/internal/prompt"
)

// State is the phase of a Rollback.
type State int

const (
	StateIdle State = iota
	StateReverting
	StateCleaning
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReverting:
		return "reverting"
	case StateCleaning:
		return "cleaning"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func allowedTransition(from, to State) bool {
	switch from {
	case StateIdle:
		return to == StateReverting
	case StateReverting:
		return to == StateCleaning || to == StateFailed
	case StateCleaning:
		return to == StateDone || to == StateFailed
	default:
		return false
	}
}

// DeleteFunc observes one artifact deletion.
type DeleteFunc func(kind string, e Entry, err error)

// Rollback reverts a site to the previous entry of all three timelines and
// then deletes the superseded newest entries. A Rollback is single use.
type Rollback struct {
	site  *Site
	state State

	// OnDelete, when set, observes every deletion Cleanup attempts.
	OnDelete DeleteFunc

	supersededRelease  Entry
	supersededSnapshot Entry
	supersededArchive  Entry

	restored    Entry
	hasRestored bool
}

// NewRollback returns an idle Rollback for site.
func NewRollback(site *Site) *Rollback {
	return &Rollback{site: site}
}

// State returns the current phase.
func (r *Rollback) State() State { return r.state }

// Restored returns the release current was switched to. It is set once
// Revert has moved the pointer, even if the restores after it failed.
func (r *Rollback) Restored() (Entry, bool) { return r.restored, r.hasRestored }

func (r *Rollback) transition(from, to State) error {
	if r.state != from {
		return failure.Preconditionf("rollback: expected state %s, got %s", from, r.state)
	}
	if !allowedTransition(from, to) {
		return failure.Preconditionf("rollback: disallowed transition %s -> %s", from, to)
	}
	r.state = to
	return nil
}

// Run performs Revert and then Cleanup.
func (r *Rollback) Run(ctx context.Context, confirmer prompt.Confirmer) error {
	if err := r.Revert(ctx, confirmer); err != nil {
		return err
	}
	return r.Cleanup(ctx)
}

// Revert switches current to the previous release, then restores the
// previous snapshot and files archive. All three previous entries must
// exist or nothing on the host is touched. A declined confirmation returns
// the Rollback to Idle. Once the pointer has moved a failure is final: the
// Rollback ends Failed and the host needs an operator.
func (r *Rollback) Revert(ctx context.Context, confirmer prompt.Confirmer) error {
	if err := r.transition(StateIdle, StateReverting); err != nil {
		return err
	}
	if err := r.revert(ctx, confirmer); err != nil {
		// A declined confirmation leaves the host untouched.
		if errors.Is(err, failure.ErrUserAbort) {
			r.state = StateIdle
		} else {
			r.state = StateFailed
		}
		return err
	}
	return r.transition(StateReverting, StateCleaning)
}

func (r *Rollback) revert(ctx context.Context, confirmer prompt.Confirmer) error {
	s := r.site
	if err := s.Load(ctx); err != nil {
		return err
	}

	prevRelease, okRelease := s.Releases.Previous()
	prevSnapshot, okSnapshot := s.Snapshots.Previous()
	prevArchive, okArchive := s.Archives.Previous()
	var missing []string
	if !okRelease {
		missing = append(missing, "releases")
	}
	if !okSnapshot {
		missing = append(missing, "snapshots")
	}
	if !okArchive {
		missing = append(missing, "archives")
	}
	if len(missing) > 0 {
		return &failure.InsufficientHistoryError{Operation: "rollback", Missing: missing}
	}

	r.supersededRelease, _ = s.Releases.Latest()
	r.supersededSnapshot, _ = s.Snapshots.Latest()
	r.supersededArchive, _ = s.Archives.Latest()

	msg := fmt.Sprintf("Roll %s back from release %s to %s? The database and files will be restored from %s and the newer artifacts deleted.",
		s.Host.Name, r.supersededRelease.ID, prevRelease.ID, prevSnapshot.ID)
	if err := confirm(ctx, confirmer, msg); err != nil {
		return err
	}

	log := s.Logger.With("release", prevRelease.ID)
	if err := s.Pointer.Switch(ctx, prevRelease); err != nil {
		return err
	}
	r.restored, r.hasRestored = prevRelease, true
	if err := s.importSnapshot(ctx, prevRelease, prevSnapshot); err != nil {
		log.Error("database restore failed after switch", "snapshot", prevSnapshot.ID, "error", err)
		return fmt.Errorf("rollback: pointer already switched to %s: %w", prevRelease.ID, err)
	}
	if err := s.restoreFiles(ctx, prevArchive); err != nil {
		log.Error("files restore failed after switch", "archive", prevArchive.ID, "error", err)
		return fmt.Errorf("rollback: pointer already switched to %s: %w", prevRelease.ID, err)
	}

	log.Info("reverted", "from", r.supersededRelease.ID)
	return nil
}

// Cleanup deletes the entries that were newest before Revert. It refuses
// when the live pointer references the superseded release again.
func (r *Rollback) Cleanup(ctx context.Context) error {
	if r.state != StateCleaning {
		return failure.Preconditionf("rollback: cleanup requires state %s, got %s", StateCleaning, r.state)
	}
	s := r.site

	live, err := s.Pointer.References(ctx, r.supersededRelease)
	if err != nil {
		r.state = StateFailed
		return err
	}
	if live {
		r.state = StateFailed
		return failure.Preconditionf("current still references release %s; superseded artifacts kept", r.supersededRelease.ID)
	}

	var errs []error
	targets := []struct {
		tl *Timeline
		e  Entry
	}{
		{s.Releases, r.supersededRelease},
		{s.Snapshots, r.supersededSnapshot},
		{s.Archives, r.supersededArchive},
	}
	for _, t := range targets {
		err := t.tl.Remove(ctx, t.e)
		if r.OnDelete != nil {
			r.OnDelete(t.tl.Kind().Name, t.e, err)
		}
		if err != nil {
			s.Logger.Warn("could not delete superseded artifact", "kind", t.tl.Kind().Name, "id", t.e.ID, "error", err)
			errs = append(errs, err)
			continue
		}
		s.Logger.Info("deleted superseded artifact", "kind", t.tl.Kind().Name, "id", t.e.ID)
	}

	if err := errors.Join(errs...); err != nil {
		return r.fail(err)
	}
	return r.transition(StateCleaning, StateDone)
}

func (r *Rollback) fail(err error) error {
	if terr := r.transition(StateCleaning, StateFailed); terr != nil {
		return errors.Join(err, terr)
	}
	return err
}

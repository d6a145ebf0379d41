package store

import "time"

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusAborted   = "aborted"
)

// Step statuses.
const (
	StepStarted     = "started"
	StepCompleted   = "completed"
	StepFailed      = "failed"
	StepCompensated = "compensated"
)

// Run is one command invocation against one host.
type Run struct {
	ID         string
	Command    string
	Host       string
	ReleaseID  string
	Status     string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
}

// Duration returns how long the run took, or zero if it has not finished.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Step records a coordinator step transition within a run.
type Step struct {
	RunID    string
	Step     string
	Status   string
	Error    string
	Duration time.Duration
	At       time.Time
}

// Deletion records an artifact removed by rollback cleanup or retention.
type Deletion struct {
	RunID      string
	Kind       string // "releases", "snapshots" or "archives"
	ArtifactID string
	Path       string
	Error      string // empty when the delete succeeded
	At         time.Time
}

package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("run not found")

const timeLayout = time.RFC3339Nano

// Run operations

// StartRun inserts a running run and returns it with a fresh id.
func (s *Store) StartRun(command, host string, startedAt time.Time) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		Command:   command,
		Host:      host,
		Status:    StatusRunning,
		StartedAt: startedAt.UTC(),
	}

	_, err := s.db.Exec(`
		INSERT INTO runs (id, command, host, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.Command, run.Host, run.Status, run.StartedAt.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}
	return run, nil
}

// FinishRun stores the final status of a run. runErr may be nil.
func (s *Store) FinishRun(id, status, releaseID string, runErr error, finishedAt time.Time) error {
	res, err := s.db.Exec(`
		UPDATE runs SET status = ?, release_id = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, status, nullString(releaseID), nullString(errText(runErr)), finishedAt.UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetRun retrieves a run by id.
func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT id, command, host, release_id, status, error, started_at, finished_at
		FROM runs WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns the newest runs first. limit <= 0 returns all of them.
func (s *Store) ListRuns(limit int) ([]*Run, error) {
	query := `
		SELECT id, command, host, release_id, status, error, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC, rowid DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var run Run
	var releaseID, runErr, finishedAt sql.NullString
	var startedAt string
	if err := sc.Scan(&run.ID, &run.Command, &run.Host, &releaseID, &run.Status, &runErr, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	run.ReleaseID = releaseID.String
	run.Error = runErr.String

	var err error
	if run.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
		return nil, fmt.Errorf("failed to parse started_at for %s: %w", run.ID, err)
	}
	if finishedAt.Valid {
		if run.FinishedAt, err = time.Parse(timeLayout, finishedAt.String); err != nil {
			return nil, fmt.Errorf("failed to parse finished_at for %s: %w", run.ID, err)
		}
	}
	return &run, nil
}

// Step operations

// RecordStep appends a step transition to a run.
func (s *Store) RecordStep(step Step) error {
	_, err := s.db.Exec(`
		INSERT INTO run_steps (run_id, step, status, error, duration_ms, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, step.RunID, step.Step, step.Status, nullString(step.Error), step.Duration.Milliseconds(), step.At.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to record step %s for run %s: %w", step.Step, step.RunID, err)
	}
	return nil
}

// Steps returns the step transitions of a run in the order they were recorded.
func (s *Store) Steps(runID string) ([]Step, error) {
	rows, err := s.db.Query(`
		SELECT run_id, step, status, error, duration_ms, at
		FROM run_steps WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps for run %s: %w", runID, err)
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var st Step
		var stepErr sql.NullString
		var ms int64
		var at string
		if err := rows.Scan(&st.RunID, &st.Step, &st.Status, &stepErr, &ms, &at); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		st.Error = stepErr.String
		st.Duration = time.Duration(ms) * time.Millisecond
		if st.At, err = time.Parse(timeLayout, at); err != nil {
			return nil, fmt.Errorf("failed to parse step time: %w", err)
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// Deletion operations

// RecordDeletion stores one artifact deletion attempt.
func (s *Store) RecordDeletion(d Deletion) error {
	_, err := s.db.Exec(`
		INSERT INTO deletions (run_id, kind, artifact_id, path, error, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, d.RunID, d.Kind, d.ArtifactID, d.Path, nullString(d.Error), d.At.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to record deletion of %s: %w", d.Path, err)
	}
	return nil
}

// Deletions returns the deletions recorded for a run.
func (s *Store) Deletions(runID string) ([]Deletion, error) {
	rows, err := s.db.Query(`
		SELECT run_id, kind, artifact_id, path, error, at
		FROM deletions WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list deletions for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []Deletion
	for rows.Next() {
		var d Deletion
		var delErr sql.NullString
		var at string
		if err := rows.Scan(&d.RunID, &d.Kind, &d.ArtifactID, &d.Path, &delErr, &at); err != nil {
			return nil, fmt.Errorf("failed to scan deletion: %w", err)
		}
		d.Error = delErr.String
		if d.At, err = time.Parse(timeLayout, at); err != nil {
			return nil, fmt.Errorf("failed to parse deletion time: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimSpace(err.Error())
}

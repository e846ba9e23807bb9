package async

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/enrolpulse/errors"
)

// Store persists job state in pulse_jobs, one row per Key.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a job state store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Now is the store's clock, shared with jobs so timestamps agree.
func (s *Store) Now() time.Time {
	return s.now()
}

// Find returns the state for key, or nil when no row exists.
func (s *Store) Find(ctx context.Context, key Key) (*JobState, error) {
	query := `SELECT ` + jobSelectColumns + ` FROM pulse_jobs WHERE job_name = ? AND course_id = ?`

	state, err := scanJobState(s.db.QueryRowContext(ctx, query, key.JobName, key.CourseID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get job %s", key.String())
	}
	return state, nil
}

// Get returns the state for key, or a not-found error.
func (s *Store) Get(ctx context.Context, key Key) (*JobState, error) {
	state, err := s.Find(ctx, key)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, errors.NewNotFoundError("job not found: %s", key.String())
	}
	return state, nil
}

// Checkpoint upserts state. An existing row is only updated when the new
// cursor is not behind the stored one, so a stale writer cannot rewind
// progress; that case returns ErrCursorRegression.
func (s *Store) Checkpoint(ctx context.Context, state *JobState) error {
	if err := state.Key.Validate(); err != nil {
		return err
	}
	if state.ID == "" {
		state.ID = uuid.NewString()
	}
	if state.CreatedAt.IsZero() {
		state.CreatedAt = s.now()
	}
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = state.CreatedAt
	}

	query := `
		INSERT INTO pulse_jobs (
			id, job_name, course_id, last_user_id, is_complete,
			processed_count, skipped_count, last_error,
			created_at, updated_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_name, course_id) DO UPDATE SET
			last_user_id = excluded.last_user_id,
			is_complete = excluded.is_complete,
			processed_count = excluded.processed_count,
			skipped_count = excluded.skipped_count,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at
		WHERE pulse_jobs.last_user_id <= excluded.last_user_id
	`

	res, err := s.db.ExecContext(ctx, query, stateArgs(state)...)
	if err != nil {
		return errors.Wrapf(err, "failed to checkpoint job %s", state.Key.String())
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "failed to checkpoint job %s", state.Key.String())
	}
	if n == 0 {
		return errors.WithDetailf(errors.Wrapf(ErrCursorRegression, "checkpoint job %s", state.Key.String()),
			"attempted cursor: %d", state.LastUserID)
	}
	return nil
}

// Reset rewinds the job for key to the beginning, creating the row if needed.
// It is the explicit restart path and the only write allowed to lower the cursor.
func (s *Store) Reset(ctx context.Context, key Key) (*JobState, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin reset")
	}
	defer tx.Rollback()

	now := s.now()
	state := NewJobState(key, now)

	var existingID string
	var createdAt time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT id, created_at FROM pulse_jobs WHERE job_name = ? AND course_id = ?`,
		key.JobName, key.CourseID,
	).Scan(&existingID, &createdAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO pulse_jobs (
				id, job_name, course_id, last_user_id, is_complete,
				processed_count, skipped_count, last_error,
				created_at, updated_at, completed_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, stateArgs(state)...)
	case err == nil:
		state.ID = existingID
		state.CreatedAt = createdAt
		_, err = tx.ExecContext(ctx, `
			UPDATE pulse_jobs
			SET last_user_id = 0, is_complete = 0,
			    processed_count = 0, skipped_count = 0,
			    last_error = NULL, completed_at = NULL,
			    updated_at = ?
			WHERE job_name = ? AND course_id = ?`,
			now, key.JobName, key.CourseID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to reset job %s", key.String())
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrapf(err, "failed to commit reset of job %s", key.String())
	}
	return state, nil
}

// RecordError stores the last error message without touching the cursor.
func (s *Store) RecordError(ctx context.Context, key Key, message string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pulse_jobs SET last_error = ?, updated_at = ? WHERE job_name = ? AND course_id = ?`,
		sql.NullString{String: message, Valid: message != ""}, s.now(), key.JobName, key.CourseID)
	if err != nil {
		return errors.Wrapf(err, "failed to record error for job %s", key.String())
	}
	return nil
}

// ListOptions filters List
type ListOptions struct {
	JobName        string // empty = any
	UnfinishedOnly bool
	Limit          int // 0 = no limit
}

// List returns jobs ordered by least recently updated first, so pollers
// pick up the longest-waiting work.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]*JobState, error) {
	query := `SELECT ` + jobSelectColumns + ` FROM pulse_jobs WHERE 1 = 1`
	var args []interface{}

	if opts.JobName != "" {
		query += ` AND job_name = ?`
		args = append(args, opts.JobName)
	}
	if opts.UnfinishedOnly {
		query += ` AND is_complete = 0`
	}
	query += ` ORDER BY updated_at ASC, job_name ASC, course_id ASC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	var states []*JobState
	for rows.Next() {
		state, err := scanJobState(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		states = append(states, state)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate jobs")
	}
	return states, nil
}

// ListUnfinished returns up to limit jobs that still have work.
func (s *Store) ListUnfinished(ctx context.Context, limit int) ([]*JobState, error) {
	return s.List(ctx, ListOptions{UnfinishedOnly: true, Limit: limit})
}

// Delete removes the row for key. Deleting a missing job is not an error.
func (s *Store) Delete(ctx context.Context, key Key) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM pulse_jobs WHERE job_name = ? AND course_id = ?`, key.JobName, key.CourseID)
	if err != nil {
		return errors.Wrapf(err, "failed to delete job %s", key.String())
	}
	return nil
}

// CleanupCompleted deletes completion markers older than olderThan and
// returns how many were removed.
func (s *Store) CleanupCompleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM pulse_jobs WHERE is_complete = 1 AND completed_at < ?`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to clean up completed jobs")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to count cleaned up jobs")
	}
	return n, nil
}

func stateArgs(state *JobState) []interface{} {
	var completedAt sql.NullTime
	if state.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *state.CompletedAt, Valid: true}
	}
	return []interface{}{
		state.ID,
		state.JobName,
		state.CourseID,
		state.LastUserID,
		state.IsComplete,
		state.ProcessedCount,
		state.SkippedCount,
		sql.NullString{String: state.LastError, Valid: state.LastError != ""},
		state.CreatedAt,
		state.UpdatedAt,
		completedAt,
	}
}

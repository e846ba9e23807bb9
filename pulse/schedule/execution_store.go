package schedule

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/enrolpulse/errors"
	"github.com/teranos/enrolpulse/pulse/async"
)

// ExecutionStore handles persistence of execution history
type ExecutionStore struct {
	db *sql.DB
}

// NewExecutionStore creates a new execution store
func NewExecutionStore(db *sql.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

// Create inserts a running execution.
func (s *ExecutionStore) Create(ctx context.Context, exec *Execution) error {
	query := `
		INSERT INTO pulse_executions (
			id, job_name, course_id, status,
			from_user_id, to_user_id, users_processed, batches, job_complete,
			error_message, started_at, completed_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		exec.ID,
		exec.Key.JobName,
		exec.Key.CourseID,
		exec.Status,
		exec.FromUserID,
		exec.ToUserID,
		exec.UsersProcessed,
		exec.Batches,
		exec.JobComplete,
		nullString(exec.ErrorMessage),
		exec.StartedAt,
		nullTime(exec.CompletedAt),
		nullInt64(exec.DurationMs),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create execution")
	}
	return nil
}

// Finish stores the final state of an execution.
func (s *ExecutionStore) Finish(ctx context.Context, exec *Execution) error {
	query := `
		UPDATE pulse_executions
		SET status = ?,
		    to_user_id = ?,
		    users_processed = ?,
		    batches = ?,
		    job_complete = ?,
		    error_message = ?,
		    completed_at = ?,
		    duration_ms = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		exec.Status,
		exec.ToUserID,
		exec.UsersProcessed,
		exec.Batches,
		exec.JobComplete,
		nullString(exec.ErrorMessage),
		nullTime(exec.CompletedAt),
		nullInt64(exec.DurationMs),
		exec.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update execution")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if rowsAffected == 0 {
		return errors.NewNotFoundError("execution not found: %s", exec.ID)
	}
	return nil
}

const executionColumns = `id, job_name, course_id, status,
	from_user_id, to_user_id, users_processed, batches, job_complete,
	error_message, started_at, completed_at, duration_ms`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExecution(row rowScanner) (*Execution, error) {
	var exec Execution
	var errorMessage sql.NullString
	var completedAt sql.NullTime
	var durationMs sql.NullInt64

	err := row.Scan(
		&exec.ID,
		&exec.Key.JobName,
		&exec.Key.CourseID,
		&exec.Status,
		&exec.FromUserID,
		&exec.ToUserID,
		&exec.UsersProcessed,
		&exec.Batches,
		&exec.JobComplete,
		&errorMessage,
		&exec.StartedAt,
		&completedAt,
		&durationMs,
	)
	if err != nil {
		return nil, err
	}

	if errorMessage.Valid {
		exec.ErrorMessage = &errorMessage.String
	}
	if completedAt.Valid {
		t := completedAt.Time
		exec.CompletedAt = &t
	}
	if durationMs.Valid {
		d := durationMs.Int64
		exec.DurationMs = &d
	}
	return &exec, nil
}

// Get retrieves an execution by ID
func (s *ExecutionStore) Get(ctx context.Context, id string) (*Execution, error) {
	exec, err := scanExecution(s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM pulse_executions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("execution not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get execution")
	}
	return exec, nil
}

// List returns the most recent executions for key, newest first.
func (s *ExecutionStore) List(ctx context.Context, key async.Key, limit int) ([]*Execution, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+executionColumns+`
		FROM pulse_executions
		WHERE job_name = ? AND course_id = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, key.JobName, key.CourseID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list executions")
	}
	defer rows.Close()

	var executions []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan execution")
		}
		executions = append(executions, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate executions")
	}
	return executions, nil
}

// MarkAbandoned fails executions still marked running, left behind by a
// process that died mid-slice. Returns how many were updated.
func (s *ExecutionStore) MarkAbandoned(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pulse_executions
		SET status = ?, error_message = ?, completed_at = ?
		WHERE status = ?`,
		ExecutionStatusFailed, "abandoned: process exited during the run", now.UTC(), ExecutionStatusRunning)
	if err != nil {
		return 0, errors.Wrap(err, "failed to mark abandoned executions")
	}
	return res.RowsAffected()
}

// CleanupOlderThan deletes finished executions started before the cutoff.
func (s *ExecutionStore) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM pulse_executions WHERE status != ? AND started_at < ?`,
		ExecutionStatusRunning, cutoff.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "failed to clean up executions")
	}
	return res.RowsAffected()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt64(n *int64) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *n, Valid: true}
}

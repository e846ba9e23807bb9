package async

import (
	"database/sql"
)

// jobScanArgs holds the nullable columns of a pulse_jobs row.
type jobScanArgs struct {
	LastError   sql.NullString
	CompletedAt sql.NullTime
}

// jobSelectColumns is the column list every job SELECT uses, in scan order.
const jobSelectColumns = `id, job_name, course_id, last_user_id, is_complete,
	processed_count, skipped_count, last_error,
	created_at, updated_at, completed_at`

func jobScanTargets(s *JobState, args *jobScanArgs) []interface{} {
	return []interface{}{
		&s.ID,
		&s.JobName,
		&s.CourseID,
		&s.LastUserID,
		&s.IsComplete,
		&s.ProcessedCount,
		&s.SkippedCount,
		&args.LastError,
		&s.CreatedAt,
		&s.UpdatedAt,
		&args.CompletedAt,
	}
}

func (args *jobScanArgs) apply(s *JobState) {
	if args.LastError.Valid {
		s.LastError = args.LastError.String
	}
	if args.CompletedAt.Valid {
		t := args.CompletedAt.Time
		s.CompletedAt = &t
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanJobState scans one job from a *sql.Row or *sql.Rows.
func scanJobState(row rowScanner) (*JobState, error) {
	var s JobState
	var args jobScanArgs
	if err := row.Scan(jobScanTargets(&s, &args)...); err != nil {
		return nil, err
	}
	args.apply(&s)
	return &s, nil
}

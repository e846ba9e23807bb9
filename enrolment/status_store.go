package enrolment

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/enrolpulse/errors"
)

// StatusStore persists the calculated status per (user, course).
type StatusStore interface {
	// Get returns the stored status; ok is false when none was stored yet.
	Get(ctx context.Context, userID, courseID int64) (status Status, ok bool, err error)
	Set(ctx context.Context, userID, courseID int64, status Status) error
}

// SQLStatusStore keeps statuses in enrolment_statuses.
type SQLStatusStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLStatusStore creates a status store.
func NewSQLStatusStore(db *sql.DB) *SQLStatusStore {
	return &SQLStatusStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *SQLStatusStore) Get(ctx context.Context, userID, courseID int64) (Status, bool, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM enrolment_statuses WHERE user_id = ? AND course_id = ?`,
		userID, courseID,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "failed to read status of user %d in course %d", userID, courseID)
	}
	return Status(status), true, nil
}

func (s *SQLStatusStore) Set(ctx context.Context, userID, courseID int64, status Status) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO enrolment_statuses (user_id, course_id, status, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, course_id) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at`,
		userID, courseID, string(status), s.now(),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to store status of user %d in course %d", userID, courseID)
	}
	return nil
}

// CountByStatus summarises a course, e.g. for `enrolment status`.
func (s *SQLStatusStore) CountByStatus(ctx context.Context, courseID int64) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM enrolment_statuses WHERE course_id = ? GROUP BY status`, courseID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to count statuses in course %d", courseID)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan status count")
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

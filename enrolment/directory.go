package enrolment

import (
	"context"
	"database/sql"

	"github.com/teranos/enrolpulse/errors"
)

// Directory enumerates the users associated with a course.
type Directory interface {
	CourseExists(ctx context.Context, courseID int64) (bool, error)

	// UsersAfter returns up to limit user ids greater than afterUserID, in
	// ascending order. It must be restartable from any cursor.
	UsersAfter(ctx context.Context, courseID, afterUserID int64, limit int) ([]int64, error)
}

// SQLDirectory treats every user with a provider decision, a removal, or a
// stored status for the course as associated with it.
type SQLDirectory struct {
	db *sql.DB
}

// NewSQLDirectory creates a directory over the enrolment tables.
func NewSQLDirectory(db *sql.DB) *SQLDirectory {
	return &SQLDirectory{db: db}
}

// CourseExists checks the courses table.
func (d *SQLDirectory) CourseExists(ctx context.Context, courseID int64) (bool, error) {
	var exists bool
	err := d.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM courses WHERE id = ?)`, courseID).Scan(&exists)
	if err != nil {
		return false, errors.Wrapf(err, "failed to look up course %d", courseID)
	}
	return exists, nil
}

// UsersAfter returns the next page of course members.
func (d *SQLDirectory) UsersAfter(ctx context.Context, courseID, afterUserID int64, limit int) ([]int64, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
		SELECT user_id FROM (
			SELECT user_id FROM course_enrolment_providers WHERE course_id = ?
			UNION
			SELECT user_id FROM course_removed_learners WHERE course_id = ?
			UNION
			SELECT user_id FROM enrolment_statuses WHERE course_id = ?
		)
		WHERE user_id > ?
		ORDER BY user_id ASC
		LIMIT ?
	`

	rows, err := d.db.QueryContext(ctx, query, courseID, courseID, courseID, afterUserID, int64(limit))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list users of course %d", courseID)
	}
	defer rows.Close()

	var users []int64
	for rows.Next() {
		var userID int64
		if err := rows.Scan(&userID); err != nil {
			return nil, errors.Wrap(err, "failed to scan user id")
		}
		users = append(users, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to list users of course %d", courseID)
	}
	return users, nil
}

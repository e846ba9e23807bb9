package enrolment

import (
	"context"
	"database/sql"
	"strings"

	"github.com/teranos/enrolpulse/errors"
)

// Calculator derives a user's status in a course. It must be side-effect
// free: the job may call it again for the same user after a crash.
type Calculator interface {
	Compute(ctx context.Context, userID, courseID int64) (Status, error)
}

// CalculatorFunc adapts a function to Calculator.
type CalculatorFunc func(ctx context.Context, userID, courseID int64) (Status, error)

func (f CalculatorFunc) Compute(ctx context.Context, userID, courseID int64) (Status, error) {
	return f(ctx, userID, courseID)
}

// ProviderCalculator combines enrolment providers: a learner removed from the
// course is removed, otherwise any provider enrolling them wins.
type ProviderCalculator struct {
	db        *sql.DB
	providers []string
}

// NewProviderCalculator creates a calculator. An empty provider list counts every provider.
func NewProviderCalculator(db *sql.DB, providers []string) *ProviderCalculator {
	return &ProviderCalculator{db: db, providers: providers}
}

func (c *ProviderCalculator) Compute(ctx context.Context, userID, courseID int64) (Status, error) {
	var userExists bool
	if err := c.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)`, userID).Scan(&userExists); err != nil {
		return "", errors.Wrapf(err, "failed to look up user %d", userID)
	}
	if !userExists {
		return "", errors.NewNotFoundError("user %d", userID)
	}

	var removed bool
	if err := c.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM course_removed_learners WHERE user_id = ? AND course_id = ?)`,
		userID, courseID).Scan(&removed); err != nil {
		return "", errors.Wrapf(err, "failed to check removal of user %d", userID)
	}
	if removed {
		return StatusRemoved, nil
	}

	query := `SELECT EXISTS(
		SELECT 1 FROM course_enrolment_providers
		WHERE user_id = ? AND course_id = ? AND enrolled = 1`
	args := []interface{}{userID, courseID}
	if len(c.providers) > 0 {
		query += ` AND provider IN (?` + strings.Repeat(", ?", len(c.providers)-1) + `)`
		for _, p := range c.providers {
			args = append(args, p)
		}
	}
	query += `)`

	var enrolled bool
	if err := c.db.QueryRowContext(ctx, query, args...).Scan(&enrolled); err != nil {
		return "", errors.Wrapf(err, "failed to check providers for user %d", userID)
	}
	if enrolled {
		return StatusEnrolled, nil
	}
	return StatusNotEnrolled, nil
}

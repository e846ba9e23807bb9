// Package async holds the persisted state of resumable background jobs and the
// contract the schedulers drive them through.
package async

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/enrolpulse/errors"
)

// Key identifies a job: one row per (job name, course).
type Key struct {
	JobName  string `json:"job_name" yaml:"job_name"`
	CourseID int64  `json:"course_id" yaml:"course_id"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.JobName, k.CourseID)
}

// Validate rejects keys that cannot be persisted.
func (k Key) Validate() error {
	if k.JobName == "" {
		return errors.NewInvalidRequestError("job name cannot be empty")
	}
	if k.CourseID <= 0 {
		return errors.NewInvalidRequestError("course id must be positive, got %d", k.CourseID)
	}
	return nil
}

// Phase is a derived, display-only view of the state
type Phase string

const (
	PhasePending  Phase = "pending"
	PhaseRunning  Phase = "running"
	PhaseComplete Phase = "complete"
)

// JobState is the checkpoint of a resumable job.
//
// LastUserID only ever grows for a given row; Reset is the one way back to 0.
type JobState struct {
	ID             string     `json:"id" yaml:"id"`
	Key            `yaml:",inline"`
	LastUserID     int64      `json:"last_user_id" yaml:"last_user_id"`
	IsComplete     bool       `json:"is_complete" yaml:"is_complete"`
	ProcessedCount int64      `json:"processed_count" yaml:"processed_count"`
	SkippedCount   int64      `json:"skipped_count" yaml:"skipped_count"`
	LastError      string     `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" yaml:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}

// NewJobState returns the state of a job that has not processed anyone yet.
func NewJobState(key Key, now time.Time) *JobState {
	return &JobState{
		ID:        uuid.NewString(),
		Key:       key,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Phase derives pending/running/complete from the cursor.
func (s *JobState) Phase() Phase {
	switch {
	case s.IsComplete:
		return PhaseComplete
	case s.LastUserID == 0 && s.ProcessedCount == 0:
		return PhasePending
	default:
		return PhaseRunning
	}
}

// Advance moves the cursor past userID. A skipped user still advances it.
func (s *JobState) Advance(userID int64, skipped bool, now time.Time) error {
	if s.IsComplete {
		return errors.AssertionFailedf("advance on complete job %s", s.Key.String())
	}
	if userID <= s.LastUserID {
		return errors.WithDetailf(ErrCursorRegression,
			"job %s: cursor %d, next user %d", s.Key.String(), s.LastUserID, userID)
	}

	s.LastUserID = userID
	s.ProcessedCount++
	if skipped {
		s.SkippedCount++
	}
	s.UpdatedAt = now
	return nil
}

// Complete marks the job finished; the cursor stays where it is. A per-user
// error from an earlier batch is cleared, SkippedCount still records it.
func (s *JobState) Complete(now time.Time) {
	s.IsComplete = true
	s.LastError = ""
	s.UpdatedAt = now
	s.CompletedAt = &now
}

// Reset rewinds to the beginning for an explicit restart.
func (s *JobState) Reset(now time.Time) {
	s.LastUserID = 0
	s.IsComplete = false
	s.ProcessedCount = 0
	s.SkippedCount = 0
	s.LastError = ""
	s.CompletedAt = nil
	s.UpdatedAt = now
}

// Clone returns a copy safe to mutate independently.
func (s *JobState) Clone() *JobState {
	c := *s
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

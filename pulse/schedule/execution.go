package schedule

import (
	"time"

	"github.com/google/uuid"

	"github.com/teranos/enrolpulse/pulse/async"
)

// Execution is the history row of one Scheduler.Run.
//
// It records where the slice started and stopped, how much it processed and
// whether it failed, for `enrolment history` and for debugging a job that
// keeps aborting at the same user.
type Execution struct {
	ID        string    `json:"id" yaml:"id"`
	Key       async.Key `json:"key" yaml:"key"`
	Status    string    `json:"status" yaml:"status"` // "running", "completed", "failed"

	FromUserID     int64 `json:"from_user_id" yaml:"from_user_id"`
	ToUserID       int64 `json:"to_user_id" yaml:"to_user_id"`
	UsersProcessed int   `json:"users_processed" yaml:"users_processed"`
	Batches        int   `json:"batches" yaml:"batches"`
	JobComplete    bool  `json:"job_complete" yaml:"job_complete"`

	ErrorMessage *string `json:"error_message,omitempty" yaml:"error_message,omitempty"`

	StartedAt   time.Time  `json:"started_at" yaml:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	DurationMs  *int64     `json:"duration_ms,omitempty" yaml:"duration_ms,omitempty"`
}

// Execution status constants for type safety
const (
	ExecutionStatusRunning   = "running"
	ExecutionStatusCompleted = "completed"
	ExecutionStatusFailed    = "failed"
)

// NewExecution starts a running execution for key.
func NewExecution(key async.Key, cursor int64, startedAt time.Time) *Execution {
	return &Execution{
		ID:         uuid.NewString(),
		Key:        key,
		Status:     ExecutionStatusRunning,
		FromUserID: cursor,
		ToUserID:   cursor,
		StartedAt:  startedAt.UTC(),
	}
}

// Finish copies the slice outcome into the execution.
func (e *Execution) Finish(report RunReport, err error, now time.Time) {
	completedAt := now.UTC()
	durationMs := completedAt.Sub(e.StartedAt).Milliseconds()

	e.CompletedAt = &completedAt
	e.DurationMs = &durationMs
	e.ToUserID = report.ToUserID
	e.UsersProcessed = report.Processed
	e.Batches = report.Batches
	e.JobComplete = report.Complete

	if err != nil {
		e.Status = ExecutionStatusFailed
		msg := err.Error()
		e.ErrorMessage = &msg
		return
	}
	e.Status = ExecutionStatusCompleted
}

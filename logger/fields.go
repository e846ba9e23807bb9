package logger

import (
	"go.uber.org/zap"
)

// Standard field names for structured logging.
// Use these constants instead of raw strings to keep log queries stable.
const (
	// Identity
	FieldJobID       = "job_id"
	FieldJobName     = "job_name"
	FieldExecutionID = "execution_id"
	FieldUserID      = "user_id"
	FieldCourseID    = "course_id"

	// Components
	FieldComponent = "component"
	FieldListener  = "listener"

	// Cursor and progress
	FieldCursor     = "cursor"
	FieldFromCursor = "from_user_id"
	FieldToCursor   = "to_user_id"
	FieldProcessed  = "processed"
	FieldChanged    = "changed"
	FieldSkipped    = "skipped"
	FieldBatchSize  = "batch_size"
	FieldStopReason = "stop_reason"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError     = "error"
	FieldErrorType = "error_type"

	// Status
	FieldStatus         = "status"
	FieldPreviousStatus = "previous_status"
	FieldComplete       = "complete"

	FieldSymbol = "symbol"
)

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// JobLogger returns a child logger carrying the job key fields.
func JobLogger(parent *zap.SugaredLogger, jobName string, courseID int64) *zap.SugaredLogger {
	return parent.With(FieldJobName, jobName, FieldCourseID, courseID)
}

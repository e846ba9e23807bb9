package async

import (
	"context"

	"github.com/teranos/enrolpulse/errors"
)

// Failure classes of a batch. Wrap the underlying error with one of these so
// drivers can tell a skippable user from a batch-ending failure.
var (
	// ErrCompute marks a per-user computation failure: logged, skipped, cursor advances.
	ErrCompute = errors.New("compute failed")

	// ErrDirectory marks a failed read of the user directory: fatal, cursor unchanged.
	ErrDirectory = errors.New("directory read failed")

	// ErrPersistence marks a failed status or checkpoint write: batch aborted.
	ErrPersistence = errors.New("persistence failed")

	// ErrCursorRegression is returned when a checkpoint would move the cursor backwards.
	ErrCursorRegression = errors.New("cursor regression")
)

// ErrorCode represents the classification of an error
type ErrorCode string

const (
	ErrorCodeCompute     ErrorCode = "compute_error"
	ErrorCodeNotFound    ErrorCode = "not_found"
	ErrorCodeDirectory   ErrorCode = "directory_error"
	ErrorCodePersistence ErrorCode = "persistence_error"
	ErrorCodeRegression  ErrorCode = "cursor_regression"
	ErrorCodeCancelled   ErrorCode = "cancelled"
	ErrorCodeTimeout     ErrorCode = "timeout"
	ErrorCodeUnknown     ErrorCode = "unknown"
)

// ErrorContext provides structured error information for job failures
type ErrorContext struct {
	Stage       string    // Where the error occurred
	Code        ErrorCode // Error classification
	Message     string    // Human-readable message
	Retryable   bool      // Will a later run likely succeed?
	Recoverable bool      // Can the batch continue with the next user?
}

// ClassifyError categorizes an error by the sentinel it wraps
func ClassifyError(stage string, err error) ErrorContext {
	ctx := ErrorContext{Stage: stage, Code: ErrorCodeUnknown, Message: "unknown error"}
	if err == nil {
		return ctx
	}
	ctx.Message = err.Error()

	switch {
	case errors.Is(err, ErrCursorRegression):
		ctx.Code = ErrorCodeRegression
	case errors.Is(err, ErrPersistence):
		ctx.Code = ErrorCodePersistence
		ctx.Retryable = true
	case errors.Is(err, ErrDirectory):
		ctx.Code = ErrorCodeDirectory
		ctx.Retryable = true
	case errors.Is(err, ErrCompute) && errors.IsNotFoundError(err):
		ctx.Code = ErrorCodeNotFound
		ctx.Recoverable = true
	case errors.Is(err, ErrCompute):
		ctx.Code = ErrorCodeCompute
		ctx.Recoverable = true
	case errors.Is(err, context.Canceled):
		ctx.Code = ErrorCodeCancelled
		ctx.Retryable = true
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, errors.ErrTimeout):
		ctx.Code = ErrorCodeTimeout
		ctx.Retryable = true
	case errors.IsNotFoundError(err):
		ctx.Code = ErrorCodeNotFound
	default:
		ctx.Retryable = true
	}

	return ctx
}

// ComputeError wraps a per-user failure.
func ComputeError(userID int64, err error) error {
	return errors.WithDetailf(errors.Wrapf(markCause(ErrCompute, err), "compute user %d", userID),
		"user_id: %d", userID)
}

// DirectoryError wraps a failed directory read.
func DirectoryError(err error, courseID, after int64) error {
	return errors.WithDetailf(errors.Wrap(markCause(ErrDirectory, err), "read course users"),
		"course_id: %d, after: %d", courseID, after)
}

// PersistenceError wraps a failed status or checkpoint write.
func PersistenceError(op string, err error) error {
	return errors.Wrap(markCause(ErrPersistence, err), op)
}

// markCause keeps both the class sentinel and the original error reachable by errors.Is.
func markCause(class, err error) error {
	return errors.Mark(err, class)
}

// Package enrolment recalculates course enrolment status as a resumable
// background job.
//
// A CalculationJob walks a course's users in ascending id order, asks a
// Calculator for each user's status, stores it when it changed, announces the
// change through a Sink, and checkpoints its cursor after every user.
package enrolment

// Status is an enrolment status. The job only compares values, so any
// calculator may introduce its own.
type Status string

const (
	StatusEnrolled    Status = "enrolled"
	StatusNotEnrolled Status = "not_enrolled"
	StatusRemoved     Status = "removed"
)

// JobName identifies the course enrolment calculation in job state, the
// background-job gate, and the job registry.
const JobName = "course_enrolment_calculation"

func (s Status) String() string {
	return string(s)
}

// IsEnrolled reports whether the status grants access to the course.
func (s Status) IsEnrolled() bool {
	return s == StatusEnrolled
}

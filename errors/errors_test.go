package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapKeepsCause(t *testing.T) {
	original := New("disk full")
	wrapped := Wrapf(original, "checkpoint course %d", 123)

	assert.Contains(t, wrapped.Error(), "checkpoint course 123")
	assert.Contains(t, wrapped.Error(), "disk full")
	assert.True(t, Is(wrapped, original))
}

func TestSentinelHelpers(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		want  bool
	}{
		{"not found", NewNotFoundError("course %d", 7), IsNotFoundError, true},
		{"wrapped not found", Wrap(NewNotFoundError("user %d", 5), "compute"), IsNotFoundError, true},
		{"invalid request", NewInvalidRequestError("bad course id %q", "abc"), IsInvalidRequestError, true},
		{"conflict", NewConflictError("job %s running", "x"), IsConflictError, true},
		{"plain error is not a conflict", New("boom"), IsConflictError, false},
		{"nil", nil, IsNotFoundError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.check(tt.err))
		})
	}
}

func TestNotFoundMessage(t *testing.T) {
	err := NewNotFoundError("course %d", 42)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "course 42")
	assert.Contains(t, err.Error(), "not found")
}

func TestDetailsAndHints(t *testing.T) {
	err := WithHint(WithDetail(New("disabled"), "job: course_enrolment_calculation"), "enable it in am.toml")

	assert.Contains(t, FlattenDetails(err), "course_enrolment_calculation")
	assert.Contains(t, FlattenHints(err), "am.toml")
}

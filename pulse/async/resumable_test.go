package async

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/enrolpulse/errors"
	"github.com/teranos/enrolpulse/pulse/budget"
)

type stubJob struct {
	key Key
}

func (j *stubJob) Key() Key                             { return j.key }
func (j *stubJob) Resume(context.Context) (bool, error) { return false, nil }
func (j *stubJob) ProcessNextBatch(context.Context, budget.Budget) (BatchResult, error) {
	return BatchResult{Complete: true, Stopped: StoppedDirectoryExhausted}, nil
}
func (j *stubJob) IsComplete() bool  { return true }
func (j *stubJob) LastUserID() int64 { return 0 }

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register("quiz_regrade", func(key Key) (Resumable, error) { return &stubJob{key: key}, nil })
	r.Register("course_enrolment_calculation", func(key Key) (Resumable, error) { return &stubJob{key: key}, nil })

	assert.True(t, r.Has("quiz_regrade"))
	assert.False(t, r.Has("missing"))
	assert.Equal(t, []string{"course_enrolment_calculation", "quiz_regrade"}, r.Names())

	job, err := r.Build(Key{JobName: "quiz_regrade", CourseID: 4})
	require.NoError(t, err)
	assert.Equal(t, int64(4), job.Key().CourseID)

	_, err = r.Build(Key{JobName: "missing", CourseID: 4})
	assert.True(t, errors.IsNotFoundError(err))
}

func TestRegistryDuplicatePanics(t *testing.T) {
	r := NewRegistry()
	factory := func(key Key) (Resumable, error) { return &stubJob{key: key}, nil }
	r.Register("quiz_regrade", factory)

	assert.Panics(t, func() { r.Register("quiz_regrade", factory) })
}

func TestRegistryFactoryError(t *testing.T) {
	r := NewRegistry()
	r.Register("broken", func(Key) (Resumable, error) { return nil, errors.New("no directory configured") })

	_, err := r.Build(Key{JobName: "broken", CourseID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build job broken/1")
}

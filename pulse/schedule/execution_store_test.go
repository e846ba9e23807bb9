package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/enrolpulse/errors"
	qntxtest "github.com/teranos/enrolpulse/internal/testing"
	"github.com/teranos/enrolpulse/pulse/async"
)

var execKey = async.Key{JobName: "course_enrolment_calculation", CourseID: 123}

func TestExecutionStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewExecutionStore(qntxtest.CreateMigratedTestDB(t))
	start := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	first := NewExecution(execKey, 0, start)
	require.NoError(t, store.Create(ctx, first))

	got, err := store.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, ExecutionStatusRunning, got.Status)
	assert.Nil(t, got.CompletedAt)
	assert.True(t, start.Equal(got.StartedAt))

	first.Finish(RunReport{ToUserID: 9, Processed: 2, Batches: 1}, nil, start.Add(1500*time.Millisecond))
	require.NoError(t, store.Finish(ctx, first))

	second := NewExecution(execKey, 9, start.Add(time.Minute))
	require.NoError(t, store.Create(ctx, second))
	second.Finish(RunReport{ToUserID: 9}, errors.New("directory offline"), start.Add(2*time.Minute))
	require.NoError(t, store.Finish(ctx, second))

	history, err := store.List(ctx, execKey, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.ID, history[0].ID, "newest first")
	assert.Equal(t, ExecutionStatusFailed, history[0].Status)
	require.NotNil(t, history[0].ErrorMessage)
	assert.Equal(t, "directory offline", *history[0].ErrorMessage)

	assert.Equal(t, ExecutionStatusCompleted, history[1].Status)
	assert.Equal(t, int64(9), history[1].ToUserID)
	assert.Equal(t, 2, history[1].UsersProcessed)
	require.NotNil(t, history[1].DurationMs)
	assert.Equal(t, int64(1500), *history[1].DurationMs)

	other, err := store.List(ctx, async.Key{JobName: execKey.JobName, CourseID: 456}, 10)
	require.NoError(t, err)
	assert.Empty(t, other)

	n, err := store.CleanupOlderThan(ctx, start.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestExecutionStoreMarkAbandoned(t *testing.T) {
	ctx := context.Background()
	store := NewExecutionStore(qntxtest.CreateMigratedTestDB(t))

	stale := NewExecution(execKey, 0, time.Now())
	require.NoError(t, store.Create(ctx, stale))

	n, err := store.MarkAbandoned(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := store.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, ExecutionStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "abandoned")
}

func TestExecutionStoreNotFound(t *testing.T) {
	ctx := context.Background()
	store := NewExecutionStore(qntxtest.CreateMigratedTestDB(t))

	_, err := store.Get(ctx, "missing")
	assert.True(t, errors.IsNotFoundError(err))

	exec := NewExecution(execKey, 0, time.Now())
	exec.Finish(RunReport{}, nil, time.Now())
	assert.True(t, errors.IsNotFoundError(store.Finish(ctx, exec)))
}

func TestExecutionStoreCreateError(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectExec("INSERT INTO pulse_executions").
		WillReturnError(errors.New("database is locked"))

	store := NewExecutionStore(mockDB)
	err = store.Create(context.Background(), NewExecution(execKey, 0, time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create execution")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImmediateSurvivesHistoryFailure(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectExec("INSERT INTO pulse_executions").
		WillReturnError(errors.New("database is locked"))

	s := NewImmediate(Config{}, NewExecutionStore(mockDB), nil)
	report, err := s.Run(context.Background(), newWalkJob(123, 1, 2))
	require.NoError(t, err, "history is best effort")
	assert.True(t, report.Complete)
	assert.Empty(t, report.ExecutionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

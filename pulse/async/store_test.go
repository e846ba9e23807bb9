package async

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/enrolpulse/errors"
	qntxtest "github.com/teranos/enrolpulse/internal/testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store := NewStore(qntxtest.CreateMigratedTestDB(t))
	clock := t0
	store.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return store
}

func TestStore_FindMissing(t *testing.T) {
	store := newTestStore(t)

	state, err := store.Find(context.Background(), testKey())
	require.NoError(t, err)
	assert.Nil(t, state)

	_, err = store.Get(context.Background(), testKey())
	assert.True(t, errors.IsNotFoundError(err))
}

func TestStore_CheckpointRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	state := NewJobState(testKey(), store.Now())
	require.NoError(t, state.Advance(5, false, store.Now()))
	require.NoError(t, store.Checkpoint(ctx, state))

	got, err := store.Get(ctx, testKey())
	require.NoError(t, err)
	assert.Equal(t, state.ID, got.ID)
	assert.Equal(t, int64(5), got.LastUserID)
	assert.False(t, got.IsComplete)
	assert.Equal(t, int64(1), got.ProcessedCount)
	assert.Nil(t, got.CompletedAt)
	assert.True(t, state.CreatedAt.Equal(got.CreatedAt))

	require.NoError(t, state.Advance(9, true, store.Now()))
	state.LastError = "compute user 9: not found"
	state.Complete(store.Now())
	require.NoError(t, store.Checkpoint(ctx, state))

	got, err = store.Get(ctx, testKey())
	require.NoError(t, err)
	assert.Equal(t, int64(9), got.LastUserID)
	assert.True(t, got.IsComplete)
	assert.Equal(t, int64(1), got.SkippedCount)
	assert.Equal(t, "compute user 9: not found", got.LastError)
	require.NotNil(t, got.CompletedAt)
}

func TestStore_CheckpointRefusesRegression(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	ahead := NewJobState(testKey(), store.Now())
	require.NoError(t, ahead.Advance(12, false, store.Now()))
	require.NoError(t, store.Checkpoint(ctx, ahead))

	stale := NewJobState(testKey(), store.Now())
	require.NoError(t, stale.Advance(5, false, store.Now()))
	err := store.Checkpoint(ctx, stale)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCursorRegression))

	got, err := store.Get(ctx, testKey())
	require.NoError(t, err)
	assert.Equal(t, int64(12), got.LastUserID)
}

func TestStore_KeyUniqueness(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first := NewJobState(testKey(), store.Now())
	require.NoError(t, first.Advance(5, false, store.Now()))
	require.NoError(t, store.Checkpoint(ctx, first))

	// A second in-memory state for the same key updates the same row
	second := NewJobState(testKey(), store.Now())
	require.NoError(t, second.Advance(9, false, store.Now()))
	require.NoError(t, store.Checkpoint(ctx, second))

	all, err := store.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, first.ID, all[0].ID, "row identity survives")
	assert.Equal(t, int64(9), all[0].LastUserID)
}

func TestStore_Reset(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	state := NewJobState(testKey(), store.Now())
	require.NoError(t, state.Advance(12, false, store.Now()))
	state.Complete(store.Now())
	require.NoError(t, store.Checkpoint(ctx, state))

	reset, err := store.Reset(ctx, testKey())
	require.NoError(t, err)
	assert.Equal(t, state.ID, reset.ID)
	assert.Equal(t, int64(0), reset.LastUserID)
	assert.False(t, reset.IsComplete)

	got, err := store.Get(ctx, testKey())
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.LastUserID)
	assert.False(t, got.IsComplete)
	assert.Nil(t, got.CompletedAt)
	assert.Equal(t, int64(0), got.ProcessedCount)
}

func TestStore_ResetCreatesRow(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	reset, err := store.Reset(ctx, testKey())
	require.NoError(t, err)

	got, err := store.Get(ctx, testKey())
	require.NoError(t, err)
	assert.Equal(t, reset.ID, got.ID)
	assert.Equal(t, PhasePending, got.Phase())
}

func TestStore_ResetRejectsInvalidKey(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Reset(context.Background(), Key{JobName: "x"})
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestStore_ListAndCleanup(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, course := range []int64{1, 2, 3} {
		s := NewJobState(Key{JobName: "course_enrolment_calculation", CourseID: course}, store.Now())
		require.NoError(t, s.Advance(10, false, store.Now()))
		if course == 2 {
			s.Complete(store.Now())
		}
		require.NoError(t, store.Checkpoint(ctx, s))
	}
	other := NewJobState(Key{JobName: "quiz_regrade", CourseID: 1}, store.Now())
	require.NoError(t, store.Checkpoint(ctx, other))

	unfinished, err := store.ListUnfinished(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, unfinished, 3)
	assert.Equal(t, int64(1), unfinished[0].CourseID, "least recently updated first")

	byName, err := store.List(ctx, ListOptions{JobName: "quiz_regrade"})
	require.NoError(t, err)
	assert.Len(t, byName, 1)

	limited, err := store.List(ctx, ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	// Nothing is older than an hour yet
	n, err := store.CleanupCompleted(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = store.CleanupCompleted(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	all, err := store.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStore_RecordErrorAndDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	s := NewJobState(testKey(), store.Now())
	require.NoError(t, s.Advance(3, false, store.Now()))
	require.NoError(t, store.Checkpoint(ctx, s))

	require.NoError(t, store.RecordError(ctx, testKey(), "directory read failed"))
	got, err := store.Get(ctx, testKey())
	require.NoError(t, err)
	assert.Equal(t, "directory read failed", got.LastError)
	assert.Equal(t, int64(3), got.LastUserID)

	require.NoError(t, store.Delete(ctx, testKey()))
	require.NoError(t, store.Delete(ctx, testKey()), "deleting twice is fine")
	got, err = store.Find(ctx, testKey())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_CheckpointDatabaseError(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectExec("INSERT INTO pulse_jobs").
		WillReturnError(errors.New("disk I/O error"))

	store := NewStore(mockDB)
	state := NewJobState(testKey(), t0)
	require.NoError(t, state.Advance(5, false, t0))

	err = store.Checkpoint(context.Background(), state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to checkpoint job course_enrolment_calculation/123")
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CheckpointZeroRowsIsRegression(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectExec("ON CONFLICT\\(job_name, course_id\\) DO UPDATE").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewStore(mockDB)
	state := NewJobState(testKey(), t0)

	err = store.Checkpoint(context.Background(), state)
	assert.True(t, errors.Is(err, ErrCursorRegression))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FindDatabaseError(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectQuery("SELECT (.+) FROM pulse_jobs WHERE job_name = \\? AND course_id = \\?").
		WithArgs("course_enrolment_calculation", int64(123)).
		WillReturnError(errors.New("database is locked"))

	_, err = NewStore(mockDB).Find(context.Background(), testKey())
	require.Error(t, err)
	assert.False(t, errors.IsNotFoundError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/enrolpulse/errors"
)

func startPool(t *testing.T, workers int) *WorkerPool {
	t.Helper()
	runner := NewImmediate(Config{BatchSize: 2}, nil, nil)
	pool := NewWorkerPool(runner, WorkerPoolConfig{Workers: workers, StopTimeout: 5 * time.Second}, zaptest.NewLogger(t).Sugar())
	pool.Start()
	t.Cleanup(pool.Stop)
	return pool
}

// blockingJob returns a job whose first batch waits until release is closed
// or its context is cancelled.
func blockingJob(courseID int64) (job *walkJob, started chan struct{}, release chan struct{}) {
	job = newWalkJob(courseID, 1, 2, 3)
	started = make(chan struct{})
	release = make(chan struct{})
	first := true
	job.onBatch = func(ctx context.Context) {
		if !first {
			return
		}
		first = false
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
	}
	return job, started, release
}

func TestQueuedRunsOnPool(t *testing.T) {
	pool := startPool(t, 2)
	q := NewQueued(pool)

	job := newWalkJob(123, 5, 9, 12)
	report, err := q.Run(context.Background(), job)
	require.NoError(t, err)

	assert.True(t, report.Complete)
	assert.Equal(t, 3, report.Processed)
	assert.False(t, pool.InFlight(job.Key()), "key released after the slice")
}

func TestQueuedRefusesConcurrentRunOfSameKey(t *testing.T) {
	pool := startPool(t, 2)
	q := NewQueued(pool)

	job, started, release := blockingJob(123)
	done, err := pool.Submit(context.Background(), job)
	require.NoError(t, err)
	<-started
	assert.True(t, pool.InFlight(job.Key()))

	_, err = q.Run(context.Background(), newWalkJob(123, 1))
	assert.True(t, errors.IsConflictError(err))

	// Another course is not blocked
	other, err := q.Run(context.Background(), newWalkJob(456, 1))
	require.NoError(t, err)
	assert.True(t, other.Complete)

	close(release)
	res := <-done
	require.NoError(t, res.Err)
	assert.True(t, res.Report.Complete)
}

func TestSubmitOnStoppedPool(t *testing.T) {
	runner := NewImmediate(Config{}, nil, nil)
	pool := NewWorkerPool(runner, DefaultWorkerPoolConfig(), nil)

	_, err := pool.Submit(context.Background(), newWalkJob(1, 1))
	assert.True(t, errors.Is(err, ErrPoolStopped))
}

func TestStopCancelsRunningSlice(t *testing.T) {
	runner := NewImmediate(Config{BatchSize: 1}, nil, nil)
	pool := NewWorkerPool(runner, WorkerPoolConfig{Workers: 1, StopTimeout: 5 * time.Second}, nil)
	pool.Start()

	job, started, _ := blockingJob(123)
	done, err := pool.Submit(context.Background(), job)
	require.NoError(t, err)
	<-started

	pool.Stop()

	select {
	case res := <-done:
		require.NoError(t, res.Err)
		assert.False(t, res.Report.Complete)
		assert.Equal(t, "cancelled", res.Report.Stopped)
	case <-time.After(5 * time.Second):
		t.Fatal("slice did not stop")
	}

	// A stopped pool can be started again
	pool.Start()
	defer pool.Stop()
	report, err := NewQueued(pool).Run(context.Background(), job)
	require.NoError(t, err)
	assert.True(t, report.Complete)
}

func TestSubmitterCancellationStopsSlice(t *testing.T) {
	pool := startPool(t, 1)

	job, started, _ := blockingJob(123)
	ctx, cancel := context.WithCancel(context.Background())
	done, err := pool.Submit(ctx, job)
	require.NoError(t, err)
	<-started
	cancel()

	res := <-done
	require.NoError(t, res.Err)
	assert.Equal(t, "cancelled", res.Report.Stopped)
}

func TestSystemMetricsAndMemoryPressure(t *testing.T) {
	orig := getMemoryStats
	t.Cleanup(func() { getMemoryStats = orig })
	getMemoryStats = func() (uint64, uint64, error) {
		return 100 << 30, 5 << 30, nil
	}

	pool := NewWorkerPool(NewImmediate(Config{}, nil, nil), WorkerPoolConfig{Workers: 3, MemoryWarnPercent: 90}, nil)

	metrics := pool.GetSystemMetrics()
	assert.Equal(t, 3, metrics.WorkersTotal)
	assert.InDelta(t, 100.0, metrics.MemoryTotalGB, 0.01)
	assert.InDelta(t, 95.0, metrics.MemoryPercent, 0.01)
	assert.Contains(t, pool.checkMemoryPressure(), "95%")

	getMemoryStats = func() (uint64, uint64, error) {
		return 100 << 30, 50 << 30, nil
	}
	assert.Empty(t, pool.checkMemoryPressure())

	getMemoryStats = func() (uint64, uint64, error) {
		return 0, 0, errors.New("no /proc")
	}
	assert.Empty(t, pool.checkMemoryPressure(), "unknown memory is not a warning")
}

package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	qntxtest "github.com/teranos/enrolpulse/internal/testing"
	"github.com/teranos/enrolpulse/pulse/async"
	"github.com/teranos/enrolpulse/pulse/gate"
)

type tickerFixture struct {
	jobs     *async.Store
	registry *async.Registry
	pool     *WorkerPool
	ticker   *Ticker

	mu    sync.Mutex
	built map[async.Key]*walkJob
}

func newTickerFixture(t *testing.T, flags map[string]bool) *tickerFixture {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()

	f := &tickerFixture{
		jobs:     async.NewStore(qntxtest.CreateMigratedTestDB(t)),
		registry: async.NewRegistry(),
		built:    make(map[async.Key]*walkJob),
	}
	for _, name := range []string{"walk", "paused_walk"} {
		f.registry.Register(name, func(key async.Key) (async.Resumable, error) {
			job := newWalkJob(key.CourseID, 1, 2, 3)
			job.key = key
			f.mu.Lock()
			f.built[key] = job
			f.mu.Unlock()
			return job, nil
		})
	}

	f.pool = NewWorkerPool(NewImmediate(Config{BatchSize: 10}, nil, nil), WorkerPoolConfig{Workers: 2}, log)
	f.pool.Start()
	f.ticker = NewTicker(f.jobs, f.registry, gate.New(flags), f.pool, TickerConfig{Interval: time.Hour}, log)
	t.Cleanup(func() {
		f.ticker.Stop()
		f.pool.Stop()
	})
	return f
}

func (f *tickerFixture) seed(t *testing.T, key async.Key, complete bool) {
	t.Helper()
	state := async.NewJobState(key, f.jobs.Now())
	if complete {
		state.Complete(f.jobs.Now())
	}
	require.NoError(t, f.jobs.Checkpoint(context.Background(), state))
}

func (f *tickerFixture) job(key async.Key) *walkJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.built[key]
}

func TestTickerResumesUnfinishedEnabledJobs(t *testing.T) {
	f := newTickerFixture(t, map[string]bool{"walk": true, "paused_walk": false})

	unfinished := async.Key{JobName: "walk", CourseID: 1}
	done := async.Key{JobName: "walk", CourseID: 2}
	disabled := async.Key{JobName: "paused_walk", CourseID: 3}
	unregistered := async.Key{JobName: "unknown", CourseID: 4}

	f.seed(t, unfinished, false)
	f.seed(t, done, true)
	f.seed(t, disabled, false)
	f.seed(t, unregistered, false)

	submitted, err := f.ticker.checkUnfinishedJobs()
	require.NoError(t, err)
	assert.Equal(t, 1, submitted)

	require.Eventually(t, func() bool {
		job := f.job(unfinished)
		return job != nil && job.IsComplete()
	}, 5*time.Second, 10*time.Millisecond)

	assert.Nil(t, f.job(done), "completed jobs are not rebuilt")
	assert.Nil(t, f.job(disabled), "disabled jobs are not rebuilt")
	assert.Equal(t, int64(1), f.ticker.GetStats()["submitted"])
}

func TestTickerSkipsJobAlreadyInFlight(t *testing.T) {
	f := newTickerFixture(t, map[string]bool{"walk": true})

	key := async.Key{JobName: "walk", CourseID: 1}
	f.seed(t, key, false)

	running, started, release := blockingJob(1)
	_, err := f.pool.Submit(context.Background(), running)
	require.NoError(t, err)
	<-started

	submitted, err := f.ticker.checkUnfinishedJobs()
	require.NoError(t, err)
	assert.Equal(t, 0, submitted)
	assert.Nil(t, f.job(key))

	close(release)
}

func TestTickerStopIsPrompt(t *testing.T) {
	f := newTickerFixture(t, nil)
	f.ticker.Start()

	stopped := make(chan struct{})
	go func() {
		f.ticker.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("ticker did not stop")
	}
}

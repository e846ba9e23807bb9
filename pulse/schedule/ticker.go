package schedule

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/enrolpulse/errors"
	"github.com/teranos/enrolpulse/logger"
	"github.com/teranos/enrolpulse/pulse/async"
	"github.com/teranos/enrolpulse/sym"
)

// JobGate decides whether a background job may run.
type JobGate interface {
	IsBackgroundJobEnabled(jobName string) bool
}

// Ticker periodically picks up unfinished jobs from the job state store and
// runs a slice of each on the worker pool. After a crash this is what
// resumes interrupted courses.
type Ticker struct {
	jobs     *async.Store
	registry *async.Registry
	gate     JobGate
	pool     *WorkerPool
	interval time.Duration
	limit    int

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	pulseLog *zap.SugaredLogger

	mu              sync.Mutex
	lastTickAt      time.Time
	ticksSinceStart int64
	submitted       int64
	lastUnfinished  int
}

// TickerConfig contains configuration for the Pulse ticker
type TickerConfig struct {
	Interval time.Duration // How often to look for unfinished jobs
	Limit    int           // Jobs considered per tick
}

// DefaultTickerConfig returns sensible defaults
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{
		Interval: 5 * time.Second,
		Limit:    100,
	}
}

// NewTicker creates a new Pulse ticker
func NewTicker(jobs *async.Store, registry *async.Registry, gate JobGate, pool *WorkerPool, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	return NewTickerWithContext(context.Background(), jobs, registry, gate, pool, cfg, log)
}

// NewTickerWithContext creates a ticker with a parent context
func NewTickerWithContext(ctx context.Context, jobs *async.Store, registry *async.Registry, gate JobGate, pool *WorkerPool, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTickerConfig().Interval
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultTickerConfig().Limit
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	tickerCtx, cancel := context.WithCancel(ctx)
	return &Ticker{
		jobs:           jobs,
		registry:       registry,
		gate:           gate,
		pool:           pool,
		interval:       cfg.Interval,
		limit:          cfg.Limit,
		ctx:            tickerCtx,
		cancel:         cancel,
		pulseLog:       log.Named("pulse").With(logger.FieldSymbol, sym.Pulse),
		lastUnfinished: -1,
	}
}

// Start begins the ticker loop
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	t.pulseLog.Infow("Pulse ticker started", "interval", t.interval)
}

// Stop stops the loop and waits for slices it submitted to report back.
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.pulseLog.Infow("Pulse ticker stopped")
}

func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case tickTime := <-ticker.C:
			t.mu.Lock()
			t.lastTickAt = tickTime
			t.ticksSinceStart++
			tick := t.ticksSinceStart
			t.mu.Unlock()

			if _, err := t.checkUnfinishedJobs(); err != nil && t.ctx.Err() == nil {
				t.pulseLog.Warnw("Pulse tick error", logger.FieldError, err, "tick", tick)
			}
		}
	}
}

// checkUnfinishedJobs submits a slice for every enabled, registered,
// unfinished job that is not already running. Returns how many were submitted.
func (t *Ticker) checkUnfinishedJobs() (int, error) {
	states, err := t.jobs.ListUnfinished(t.ctx, t.limit)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list unfinished jobs")
	}
	t.logActivity(len(states))

	submitted := 0
	for _, state := range states {
		if t.ctx.Err() != nil {
			return submitted, t.ctx.Err()
		}

		key := state.Key
		if !t.gate.IsBackgroundJobEnabled(key.JobName) {
			t.pulseLog.Debugw("Skipping disabled job", logger.FieldJobName, key.JobName, logger.FieldCourseID, key.CourseID)
			continue
		}
		if !t.registry.Has(key.JobName) || t.pool.InFlight(key) {
			continue
		}

		job, err := t.registry.Build(key)
		if err != nil {
			t.pulseLog.Warnw("Failed to rebuild job", logger.FieldJobName, key.JobName, logger.FieldCourseID, key.CourseID, logger.FieldError, err)
			continue
		}

		done, err := t.pool.Submit(t.ctx, job)
		if errors.IsConflictError(err) {
			continue
		}
		if err != nil {
			return submitted, errors.Wrapf(err, "failed to submit %s", key.String())
		}

		submitted++
		t.mu.Lock()
		t.submitted++
		t.mu.Unlock()

		t.wg.Add(1)
		go t.await(key, done)
	}
	return submitted, nil
}

func (t *Ticker) await(key async.Key, done <-chan Result) {
	defer t.wg.Done()

	res := <-done
	if res.Err != nil {
		t.pulseLog.Errorw("Pulse FAILED",
			logger.FieldJobName, key.JobName,
			logger.FieldCourseID, key.CourseID,
			logger.FieldCursor, res.Report.ToUserID,
			logger.FieldError, res.Err,
		)
		return
	}
	t.pulseLog.Infow("Pulse OK",
		logger.FieldJobName, key.JobName,
		logger.FieldCourseID, key.CourseID,
		logger.FieldFromCursor, res.Report.FromUserID,
		logger.FieldToCursor, res.Report.ToUserID,
		logger.FieldProcessed, res.Report.Processed,
		logger.FieldComplete, res.Report.Complete,
		logger.FieldDurationMS, res.Report.Duration.Milliseconds(),
	)
}

// logActivity logs the backlog when it changes, with worker and memory use.
func (t *Ticker) logActivity(unfinished int) {
	t.mu.Lock()
	changed := unfinished != t.lastUnfinished
	t.lastUnfinished = unfinished
	t.mu.Unlock()

	if !changed {
		return
	}
	if unfinished == 0 {
		t.pulseLog.Infow("Pulse - no unfinished jobs")
		return
	}

	// One symbol per 5 jobs, capped
	n := unfinished/5 + 1
	if n > 60 {
		n = 60
	}
	indicator := strings.TrimSpace(strings.Repeat(sym.Pulse+" ", n))

	metrics := t.pool.GetSystemMetrics()
	t.pulseLog.Infow(fmt.Sprintf("%s Pulse - %d unfinished jobs │ Workers: %d/%d active │ Mem: %.1f/%.1fGB (%.0f%%)",
		indicator, unfinished,
		metrics.WorkersActive, metrics.WorkersTotal,
		metrics.MemoryUsedGB, metrics.MemoryTotalGB, metrics.MemoryPercent))
}

// GetStats returns ticker statistics
func (t *Ticker) GetStats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	return map[string]interface{}{
		"last_tick_at":      t.lastTickAt,
		"ticks_since_start": t.ticksSinceStart,
		"submitted":         t.submitted,
		"interval":          t.interval,
	}
}

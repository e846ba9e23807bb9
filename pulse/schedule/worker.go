package schedule

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/enrolpulse/errors"
	"github.com/teranos/enrolpulse/logger"
	"github.com/teranos/enrolpulse/pulse/async"
	"github.com/teranos/enrolpulse/sym"
)

// ErrPoolStopped is returned by Submit once the pool is shutting down.
var ErrPoolStopped = errors.New("worker pool stopped")

// WorkerPoolConfig contains configuration for the worker pool
type WorkerPoolConfig struct {
	Workers           int           `json:"workers"`             // Number of concurrent workers
	StopTimeout       time.Duration `json:"stop_timeout"`        // How long Stop waits for in-flight slices
	MemoryWarnPercent float64       `json:"memory_warn_percent"` // Warn on start above this memory use; 0 = off
}

// DefaultWorkerPoolConfig returns sensible defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:           1,
		StopTimeout:       30 * time.Second,
		MemoryWarnPercent: 90,
	}
}

// Result is the outcome of a submitted slice.
type Result struct {
	Report RunReport
	Err    error
}

type request struct {
	ctx  context.Context
	job  async.Resumable
	done chan Result
}

// WorkerPool runs job slices on a fixed set of goroutines. At most one slice
// per job key is in flight; a second submission gets errors.ErrConflict.
type WorkerPool struct {
	runner   *Immediate
	cfg      WorkerPoolConfig
	requests chan *request

	parentCtx context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *zap.SugaredLogger

	mu            sync.Mutex
	inflight      map[async.Key]struct{}
	activeWorkers int
	running       bool
}

// NewWorkerPool creates a stopped pool whose workers run slices with runner.
func NewWorkerPool(runner *Immediate, cfg WorkerPoolConfig, log *zap.SugaredLogger) *WorkerPool {
	return NewWorkerPoolWithContext(context.Background(), runner, cfg, log)
}

// NewWorkerPoolWithContext creates a pool whose workers stop when ctx is cancelled.
func NewWorkerPoolWithContext(ctx context.Context, runner *Immediate, cfg WorkerPoolConfig, log *zap.SugaredLogger) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultWorkerPoolConfig().StopTimeout
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	workerCtx, cancel := context.WithCancel(ctx)
	return &WorkerPool{
		runner:    runner,
		cfg:       cfg,
		requests:  make(chan *request),
		parentCtx: ctx,
		ctx:       workerCtx,
		cancel:    cancel,
		logger:    log.Named("pulse"),
		inflight:  make(map[async.Key]struct{}),
	}
}

// Start launches the workers. Starting a running pool is a no-op.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	if wp.running {
		wp.mu.Unlock()
		return
	}

	// Stop cancelled the previous context
	select {
	case <-wp.ctx.Done():
		wp.ctx, wp.cancel = context.WithCancel(wp.parentCtx)
	default:
	}
	wp.running = true
	wp.mu.Unlock()

	if warning := wp.checkMemoryPressure(); warning != "" {
		wp.logger.Warnw("Memory pressure warning", "warning", warning, "workers", wp.cfg.Workers)
	}

	for i := 0; i < wp.cfg.Workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	wp.logger.Infow("Worker pool started", logger.SymbolFields(sym.PulseOpen, "workers", wp.cfg.Workers)...)
}

// Stop cancels running slices and waits for them to checkpoint, up to StopTimeout.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.running {
		wp.mu.Unlock()
		return
	}
	wp.running = false
	wp.cancel()
	wp.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Infow("Worker pool stopped", logger.SymbolFields(sym.PulseClose)...)
	case <-time.After(wp.cfg.StopTimeout):
		wp.logger.Warnw("Worker pool stop timed out, slices may still be checkpointing",
			"timeout", wp.cfg.StopTimeout)
	}
}

// Submit hands job to the next free worker. It blocks until a worker accepts
// it, ctx is cancelled or the pool stops. The returned channel receives
// exactly one Result.
func (wp *WorkerPool) Submit(ctx context.Context, job async.Resumable) (<-chan Result, error) {
	key := job.Key()

	wp.mu.Lock()
	if !wp.running {
		wp.mu.Unlock()
		return nil, ErrPoolStopped
	}
	if _, busy := wp.inflight[key]; busy {
		wp.mu.Unlock()
		return nil, errors.WithHint(
			errors.NewConflictError("job %s is already running", key.String()),
			"wait for the running slice to finish; progress is shared through the job state")
	}
	wp.inflight[key] = struct{}{}
	poolCtx := wp.ctx
	wp.mu.Unlock()

	req := &request{ctx: ctx, job: job, done: make(chan Result, 1)}
	select {
	case wp.requests <- req:
		return req.done, nil
	case <-ctx.Done():
		wp.release(key)
		return nil, ctx.Err()
	case <-poolCtx.Done():
		wp.release(key)
		return nil, ErrPoolStopped
	}
}

// InFlight reports whether a slice of key is queued or running.
func (wp *WorkerPool) InFlight(key async.Key) bool {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	_, ok := wp.inflight[key]
	return ok
}

// Workers returns the configured worker count.
func (wp *WorkerPool) Workers() int {
	return wp.cfg.Workers
}

func (wp *WorkerPool) release(key async.Key) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	delete(wp.inflight, key)
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	wp.mu.Lock()
	poolCtx := wp.ctx
	wp.mu.Unlock()

	for {
		select {
		case <-poolCtx.Done():
			return
		case req := <-wp.requests:
			wp.execute(poolCtx, id, req)
		}
	}
}

func (wp *WorkerPool) execute(poolCtx context.Context, id int, req *request) {
	key := req.job.Key()
	defer wp.release(key)

	wp.mu.Lock()
	wp.activeWorkers++
	wp.mu.Unlock()
	defer func() {
		wp.mu.Lock()
		wp.activeWorkers--
		wp.mu.Unlock()
	}()

	// The slice stops on either the submitter's or the pool's cancellation
	ctx, cancel := context.WithCancel(req.ctx)
	stop := context.AfterFunc(poolCtx, cancel)
	defer stop()
	defer cancel()

	wp.logger.Debugw("Worker running slice",
		"worker", id,
		logger.FieldJobName, key.JobName,
		logger.FieldCourseID, key.CourseID,
	)

	report, err := wp.runner.Run(ctx, req.job)
	req.done <- Result{Report: report, Err: err}
}

// Queued is a Scheduler that runs each slice on a WorkerPool and waits for it.
type Queued struct {
	pool *WorkerPool
}

// NewQueued creates a scheduler on a started pool.
func NewQueued(pool *WorkerPool) *Queued {
	return &Queued{pool: pool}
}

// Run submits job and waits for its slice. Cancelling ctx stops the slice at
// the next user boundary; Run still waits for the checkpoint.
func (q *Queued) Run(ctx context.Context, job async.Resumable) (RunReport, error) {
	done, err := q.pool.Submit(ctx, job)
	if err != nil {
		return RunReport{Key: job.Key(), FromUserID: job.LastUserID(), ToUserID: job.LastUserID()}, err
	}
	res := <-done
	return res.Report, res.Err
}

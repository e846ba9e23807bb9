// Package schedule drives resumable jobs in time slices.
//
// A Scheduler only knows the async.Resumable contract: it calls
// ProcessNextBatch with a per-call budget until the job completes or the
// invocation's time slice runs out, then returns so the caller can decide
// when to come back.
package schedule

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/enrolpulse/errors"
	"github.com/teranos/enrolpulse/logger"
	"github.com/teranos/enrolpulse/pulse/async"
	"github.com/teranos/enrolpulse/pulse/budget"
)

// Scheduler runs one slice of a job.
type Scheduler interface {
	Run(ctx context.Context, job async.Resumable) (RunReport, error)
}

// Config bounds a single Run.
type Config struct {
	BatchSize         int           // users per ProcessNextBatch; 0 = no count limit
	TimeSlice         time.Duration // wall clock per Run; 0 = until complete
	MaxUsersPerSecond float64       // 0 = unpaced
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		BatchSize: 40,
		TimeSlice: 30 * time.Second,
	}
}

// Validate rejects negative bounds.
func (c Config) Validate() error {
	if c.BatchSize < 0 {
		return errors.NewInvalidRequestError("batch size cannot be negative: %d", c.BatchSize)
	}
	if c.TimeSlice < 0 {
		return errors.NewInvalidRequestError("time slice cannot be negative: %s", c.TimeSlice)
	}
	if c.MaxUsersPerSecond < 0 {
		return errors.NewInvalidRequestError("max users per second cannot be negative: %g", c.MaxUsersPerSecond)
	}
	return nil
}

// RunReport summarises one Run.
type RunReport struct {
	ExecutionID string        `json:"execution_id,omitempty"`
	Key         async.Key     `json:"key"`
	FromUserID  int64         `json:"from_user_id"`
	ToUserID    int64         `json:"to_user_id"`
	Batches     int           `json:"batches"`
	Processed   int           `json:"processed"`
	Changed     int           `json:"changed"`
	Skipped     int           `json:"skipped"`
	Complete    bool          `json:"complete"`
	Stopped     string        `json:"stopped,omitempty"`
	Duration    time.Duration `json:"duration"`
}

func (r *RunReport) add(res async.BatchResult) {
	if r.Batches == 0 {
		r.FromUserID = res.FromUserID
	}
	r.Batches++
	r.ToUserID = res.ToUserID
	r.Processed += res.Processed
	r.Changed += res.Changed
	r.Skipped += len(res.Skipped)
	r.Complete = res.Complete
	r.Stopped = res.Stopped
}

// Slice reasons that end a Run without the job saying so.
const (
	StoppedTimeSlice  = "time_slice"
	StoppedNoProgress = "no_progress"
)

// Immediate runs jobs on the caller's goroutine.
type Immediate struct {
	cfg        Config
	executions *ExecutionStore // optional
	logger     *zap.SugaredLogger
	now        func() time.Time
}

// NewImmediate creates a synchronous scheduler. executions may be nil.
func NewImmediate(cfg Config, executions *ExecutionStore, log *zap.SugaredLogger) *Immediate {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Immediate{
		cfg:        cfg,
		executions: executions,
		logger:     log.Named("pulse"),
		now:        time.Now,
	}
}

// Config returns the slice bounds.
func (s *Immediate) Config() Config {
	return s.cfg
}

// Run calls ProcessNextBatch until the job completes, the time slice ends or
// ctx is cancelled. Cancellation is not an error: the job has checkpointed
// and the report says where it stopped.
func (s *Immediate) Run(ctx context.Context, job async.Resumable) (RunReport, error) {
	started := s.now()
	report := RunReport{Key: job.Key(), FromUserID: job.LastUserID(), ToUserID: job.LastUserID()}

	var exec *Execution
	if s.executions != nil {
		exec = NewExecution(job.Key(), job.LastUserID(), started)
		if err := s.executions.Create(ctx, exec); err != nil {
			// History is best effort
			s.logger.Warnw("Failed to record execution start", logger.FieldError, err)
			exec = nil
		} else {
			report.ExecutionID = exec.ID
		}
	}

	err := s.loop(ctx, job, started, &report)
	report.Duration = s.now().Sub(started)

	if exec != nil {
		exec.Finish(report, err, s.now())
		if recErr := s.executions.Finish(context.WithoutCancel(ctx), exec); recErr != nil {
			s.logger.Warnw("Failed to record execution result",
				logger.FieldExecutionID, exec.ID,
				logger.FieldError, recErr,
			)
		}
	}

	if err != nil {
		return report, errors.WithDetailf(err, "job: %s, cursor: %d", report.Key.String(), report.ToUserID)
	}

	s.logger.Debugw("Slice finished",
		logger.FieldJobName, report.Key.JobName,
		logger.FieldCourseID, report.Key.CourseID,
		logger.FieldFromCursor, report.FromUserID,
		logger.FieldToCursor, report.ToUserID,
		logger.FieldProcessed, report.Processed,
		logger.FieldComplete, report.Complete,
		logger.FieldStopReason, report.Stopped,
		logger.FieldDurationMS, report.Duration.Milliseconds(),
	)
	return report, nil
}

func (s *Immediate) loop(ctx context.Context, job async.Resumable, started time.Time, report *RunReport) error {
	var deadline time.Time
	if s.cfg.TimeSlice > 0 {
		deadline = started.Add(s.cfg.TimeSlice)
	}
	pacer := budget.NewPacer(s.cfg.MaxUsersPerSecond)

	for {
		if ctx.Err() != nil {
			report.Stopped = async.StoppedCancelled
			return nil
		}
		if !deadline.IsZero() && !s.now().Before(deadline) {
			report.Stopped = StoppedTimeSlice
			return nil
		}

		b := budget.Items(s.cfg.BatchSize).WithDeadline(deadline).WithPacer(pacer)
		res, err := job.ProcessNextBatch(ctx, b)
		report.add(res)
		report.ToUserID = job.LastUserID()
		if err != nil {
			return err
		}

		switch {
		case res.Complete:
			return nil
		case res.Stopped == async.StoppedCancelled:
			return nil
		case res.Stopped == async.StoppedDeadline:
			report.Stopped = StoppedTimeSlice
			return nil
		case res.Processed == 0:
			report.Stopped = StoppedNoProgress
			return nil
		}
	}
}

var (
	defaultMu        sync.Mutex
	defaultScheduler Scheduler
)

// Install sets the process-wide scheduler. It may be called once.
func Install(s Scheduler) error {
	if s == nil {
		return errors.NewInvalidRequestError("cannot install a nil scheduler")
	}

	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultScheduler != nil {
		return errors.NewConflictError("a scheduler is already installed")
	}
	defaultScheduler = s
	return nil
}

// Default returns the installed scheduler, or an Immediate with
// DefaultConfig when none was installed.
func Default() Scheduler {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultScheduler == nil {
		return NewImmediate(DefaultConfig(), nil, logger.Logger)
	}
	return defaultScheduler
}

// Uninstall clears the process-wide scheduler and returns it, nil when none
// was installed. The caller stops whatever the scheduler owns.
func Uninstall() Scheduler {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	s := defaultScheduler
	defaultScheduler = nil
	return s
}

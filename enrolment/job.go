package enrolment

import (
	"context"

	"go.uber.org/zap"

	"github.com/teranos/enrolpulse/errors"
	"github.com/teranos/enrolpulse/logger"
	"github.com/teranos/enrolpulse/pulse/async"
	"github.com/teranos/enrolpulse/pulse/budget"
)

// DefaultPageSize is how many users one directory read returns when the
// batch budget has no count limit.
const DefaultPageSize = 100

// Deps are the collaborators of a CalculationJob.
type Deps struct {
	Jobs       *async.Store
	Directory  Directory
	Statuses   StatusStore
	Calculator Calculator
	Sink       Sink               // optional
	Logger     *zap.SugaredLogger // optional
	PageSize   int                // 0 = DefaultPageSize
}

func (d Deps) validate() error {
	switch {
	case d.Jobs == nil:
		return errors.AssertionFailedf("enrolment job needs a job store")
	case d.Directory == nil:
		return errors.AssertionFailedf("enrolment job needs a directory")
	case d.Statuses == nil:
		return errors.AssertionFailedf("enrolment job needs a status store")
	case d.Calculator == nil:
		return errors.AssertionFailedf("enrolment job needs a calculator")
	}
	return nil
}

// CalculationJob recalculates enrolment status for every user of one course.
//
// Per user it computes the status, and when the status changed it writes the
// status, then notifies the sink, then checkpoints the cursor. A crash between
// those steps reprocesses that user on resume; the recomputed status then
// matches the stored one, so nothing is announced twice except when the crash
// fell between notify and checkpoint.
type CalculationJob struct {
	key      async.Key
	jobs     *async.Store
	dir      Directory
	statuses StatusStore
	calc     Calculator
	sink     Sink
	logger   *zap.SugaredLogger
	pageSize int

	state  *async.JobState
	loaded bool
}

// NewCalculationJob creates the job for courseID. Nothing is persisted until
// the first checkpoint or an explicit Restart.
func NewCalculationJob(courseID int64, deps Deps) (*CalculationJob, error) {
	key := async.Key{JobName: JobName, CourseID: courseID}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}

	log := deps.Logger
	if log == nil {
		log = logger.ComponentLogger("enrolment")
	}
	pageSize := deps.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	return &CalculationJob{
		key:      key,
		jobs:     deps.Jobs,
		dir:      deps.Directory,
		statuses: deps.Statuses,
		calc:     deps.Calculator,
		sink:     deps.Sink,
		logger:   logger.JobLogger(log, JobName, courseID),
		pageSize: pageSize,
		state:    async.NewJobState(key, deps.Jobs.Now()),
	}, nil
}

func (j *CalculationJob) Key() async.Key {
	return j.key
}

// Resume loads persisted state, including a completion marker. It returns
// false when the course was never calculated, leaving a fresh state.
func (j *CalculationJob) Resume(ctx context.Context) (bool, error) {
	state, err := j.jobs.Find(ctx, j.key)
	if err != nil {
		return false, errors.Wrapf(err, "resume %s", j.key.String())
	}

	j.loaded = true
	if state == nil {
		j.state = async.NewJobState(j.key, j.jobs.Now())
		return false, nil
	}

	j.state = state
	j.logger.Debugw("Resumed job",
		logger.FieldCursor, state.LastUserID,
		logger.FieldComplete, state.IsComplete,
	)
	return true, nil
}

// Restart rewinds the job to the first user and persists that immediately.
func (j *CalculationJob) Restart(ctx context.Context) error {
	state, err := j.jobs.Reset(ctx, j.key)
	if err != nil {
		return errors.Wrapf(err, "restart %s", j.key.String())
	}
	j.state = state
	j.loaded = true
	j.logger.Infow("Restarted job")
	return nil
}

func (j *CalculationJob) IsComplete() bool {
	return j.state.IsComplete
}

func (j *CalculationJob) LastUserID() int64 {
	return j.state.LastUserID
}

// State returns a copy of the current checkpoint.
func (j *CalculationJob) State() async.JobState {
	return *j.state.Clone()
}

// ProcessNextBatch processes users after the cursor until the directory runs
// dry or the budget is spent. A job that was neither resumed nor restarted
// resumes first, so two job values for one course share progress.
func (j *CalculationJob) ProcessNextBatch(ctx context.Context, b budget.Budget) (async.BatchResult, error) {
	if !j.loaded {
		if _, err := j.Resume(ctx); err != nil {
			return async.BatchResult{}, err
		}
	}

	res := async.BatchResult{FromUserID: j.state.LastUserID, ToUserID: j.state.LastUserID}
	if j.state.IsComplete {
		res.Complete = true
		res.Stopped = async.StoppedAlreadyComplete
		return res, nil
	}

	exists, err := j.dir.CourseExists(ctx, j.key.CourseID)
	if err != nil {
		return res, async.DirectoryError(err, j.key.CourseID, j.state.LastUserID)
	}
	if !exists {
		return res, errors.NewNotFoundError("course %d does not exist", j.key.CourseID)
	}

	err = j.runBatch(ctx, b, &res)
	res.ToUserID = j.state.LastUserID
	res.Complete = j.state.IsComplete

	if err != nil {
		j.recordFailure(ctx, err)
		return res, err
	}

	j.logger.Debugw("Batch processed",
		logger.FieldFromCursor, res.FromUserID,
		logger.FieldToCursor, res.ToUserID,
		logger.FieldProcessed, res.Processed,
		logger.FieldChanged, res.Changed,
		logger.FieldSkipped, len(res.Skipped),
		logger.FieldStopReason, res.Stopped,
	)
	return res, nil
}

func (j *CalculationJob) runBatch(ctx context.Context, b budget.Budget, res *async.BatchResult) error {
	for {
		if reason := b.StopReason(res.Processed, j.jobs.Now()); reason != "" {
			res.Stopped = reason
			return nil
		}

		limit := b.PageSize(res.Processed, j.pageSize)
		cursor := j.state.LastUserID
		users, err := j.dir.UsersAfter(ctx, j.key.CourseID, cursor, limit)
		if err != nil {
			if ctx.Err() != nil {
				res.Stopped = async.StoppedCancelled
				return nil
			}
			return async.DirectoryError(err, j.key.CourseID, cursor)
		}

		for _, userID := range users {
			if userID <= j.state.LastUserID {
				return async.DirectoryError(
					errors.Newf("user %d returned at or before cursor %d", userID, j.state.LastUserID),
					j.key.CourseID, cursor)
			}
			if reason := b.StopReason(res.Processed, j.jobs.Now()); reason != "" {
				res.Stopped = reason
				return nil
			}
			if err := b.Wait(ctx); err != nil {
				res.Stopped = async.StoppedCancelled
				return nil
			}

			outcome, err := j.processUser(ctx, userID)
			if err != nil {
				return err
			}
			switch outcome {
			case outcomeInterrupted:
				res.Stopped = async.StoppedCancelled
				return nil
			case outcomeChanged:
				res.Changed++
			case outcomeSkipped:
				res.Skipped = append(res.Skipped, userID)
			}
			res.Processed++
		}

		if len(users) < limit {
			if ctx.Err() != nil {
				res.Stopped = async.StoppedCancelled
				return nil
			}
			return j.complete(ctx, res)
		}
	}
}

type userOutcome int

const (
	outcomeUnchanged userOutcome = iota
	outcomeChanged
	outcomeSkipped
	outcomeInterrupted
)

func (j *CalculationJob) processUser(ctx context.Context, userID int64) (userOutcome, error) {
	outcome := outcomeUnchanged
	next := j.state.Clone()
	// Once computed, the user is finished as a unit: status, event, cursor
	finish := context.WithoutCancel(ctx)

	status, err := j.calc.Compute(ctx, userID, j.key.CourseID)
	switch {
	case err != nil && ctx.Err() != nil:
		// Cancelled mid-computation: leave the user for the next run
		return outcomeInterrupted, nil
	case err != nil:
		computeErr := async.ComputeError(userID, err)
		ec := async.ClassifyError("compute", computeErr)
		j.logger.Warnw("Skipping user after compute failure",
			logger.FieldUserID, userID,
			logger.FieldErrorType, ec.Code,
			logger.FieldError, ec.Message,
		)
		next.LastError = ec.Message
		outcome = outcomeSkipped
	default:
		changed, err := j.storeIfChanged(finish, userID, status)
		if err != nil {
			return outcome, err
		}
		if changed {
			outcome = outcomeChanged
		}
	}

	if err := next.Advance(userID, outcome == outcomeSkipped, j.jobs.Now()); err != nil {
		return outcome, err
	}
	if err := j.jobs.Checkpoint(finish, next); err != nil {
		return outcome, async.PersistenceError("checkpoint cursor", err)
	}
	j.state = next
	return outcome, nil
}

// storeIfChanged writes the status and notifies the sink, in that order.
func (j *CalculationJob) storeIfChanged(ctx context.Context, userID int64, status Status) (bool, error) {
	previous, had, err := j.statuses.Get(ctx, userID, j.key.CourseID)
	if err != nil {
		return false, async.PersistenceError("read status", err)
	}
	if had && previous == status {
		return false, nil
	}

	if err := j.statuses.Set(ctx, userID, j.key.CourseID, status); err != nil {
		return false, async.PersistenceError("write status", err)
	}

	if j.sink != nil {
		j.sink.Notify(ctx, Change{
			UserID:      userID,
			CourseID:    j.key.CourseID,
			Previous:    previous,
			Current:     status,
			HadPrevious: had,
			JobName:     JobName,
			At:          j.jobs.Now(),
		})
	}
	return true, nil
}

func (j *CalculationJob) complete(ctx context.Context, res *async.BatchResult) error {
	next := j.state.Clone()
	next.Complete(j.jobs.Now())
	if err := j.jobs.Checkpoint(ctx, next); err != nil {
		return async.PersistenceError("checkpoint completion", err)
	}
	j.state = next
	res.Stopped = async.StoppedDirectoryExhausted

	j.logger.Infow("Enrolment calculation complete",
		logger.FieldCursor, next.LastUserID,
		logger.FieldProcessed, next.ProcessedCount,
		logger.FieldSkipped, next.SkippedCount,
	)
	return nil
}

// recordFailure keeps the error on the job row for `jobs ls`; the cursor is untouched.
func (j *CalculationJob) recordFailure(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	if recErr := j.jobs.RecordError(ctx, j.key, err.Error()); recErr != nil {
		j.logger.Warnw("Failed to record job error", logger.FieldError, recErr)
	}
	j.logger.Errorw("Batch aborted",
		logger.FieldCursor, j.state.LastUserID,
		logger.FieldErrorType, async.ClassifyError("batch", err).Code,
		logger.FieldError, err,
	)
}


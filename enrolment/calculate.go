package enrolment

import (
	"context"
	"fmt"

	"github.com/teranos/enrolpulse/errors"
	"github.com/teranos/enrolpulse/pulse"
	"github.com/teranos/enrolpulse/pulse/schedule"
)

// Gate refuses disabled background jobs.
type Gate interface {
	Require(jobName string) error
}

// CalculateRequest is one `enrolment calculate-course` invocation.
type CalculateRequest struct {
	CourseID int64
	Restart  bool
}

// CalculateResult summarises a CalculateCourse call.
type CalculateResult struct {
	CourseID   int64 `json:"course_id"`
	Resumed    bool  `json:"resumed"`
	Restarted  bool  `json:"restarted"`
	Slices     int   `json:"slices"`
	Processed  int   `json:"processed"`
	Changed    int   `json:"changed"`
	LastUserID int64 `json:"last_user_id"`
}

// Driver runs a course calculation to completion in scheduler slices.
type Driver struct {
	Gate      Gate               // required
	Scheduler schedule.Scheduler // nil = schedule.Default()
	Deps      Deps
	Progress  pulse.ProgressEmitter // nil = discard
}

// CalculateCourse checks the gate once, checks the course exists, resumes
// (or restarts) the job, then calls the scheduler until the job completes,
// reporting the cursor after every slice.
func (d *Driver) CalculateCourse(ctx context.Context, req CalculateRequest) (CalculateResult, error) {
	result := CalculateResult{CourseID: req.CourseID}
	progress := d.Progress
	if progress == nil {
		progress = pulse.NopEmitter{}
	}
	scheduler := d.Scheduler
	if scheduler == nil {
		scheduler = schedule.Default()
	}

	if d.Gate == nil {
		return result, errors.AssertionFailedf("driver for course %d has no background-job gate", req.CourseID)
	}
	if err := d.Gate.Require(JobName); err != nil {
		progress.EmitError(pulse.StageCheck, err)
		return result, err
	}

	exists, err := d.Deps.Directory.CourseExists(ctx, req.CourseID)
	if err != nil {
		return result, errors.Wrapf(err, "check course %d", req.CourseID)
	}
	if !exists {
		err := errors.NewNotFoundError("course %d does not exist", req.CourseID)
		progress.EmitError(pulse.StageCheck, err)
		return result, err
	}

	job, err := NewCalculationJob(req.CourseID, d.Deps)
	if err != nil {
		return result, err
	}

	if req.Restart {
		if err := job.Restart(ctx); err != nil {
			progress.EmitError(pulse.StageRestart, err)
			return result, err
		}
		result.Restarted = true
		progress.EmitStage(pulse.StageRestart, fmt.Sprintf("Restarting enrolment calculation for course %d.", req.CourseID))
	} else {
		resumed, err := job.Resume(ctx)
		if err != nil {
			progress.EmitError(pulse.StageResume, err)
			return result, err
		}
		result.Resumed = resumed
		if resumed {
			progress.EmitStage(pulse.StageResume, fmt.Sprintf("Resuming enrolment calculation for course %d.", req.CourseID))
		} else {
			progress.EmitStage(pulse.StageStart, fmt.Sprintf("Starting enrolment calculation for course %d.", req.CourseID))
		}
	}

	for {
		report, err := scheduler.Run(ctx, job)
		result.Slices++
		result.Processed += report.Processed
		result.Changed += report.Changed
		result.LastUserID = job.LastUserID()
		if err != nil {
			progress.EmitError(pulse.StageRun, err)
			return result, err
		}

		progress.EmitProgress(job.LastUserID(), map[string]interface{}{
			"course_id": req.CourseID,
			"processed": report.Processed,
			"changed":   report.Changed,
			"stopped":   report.Stopped,
		})

		if job.IsComplete() {
			break
		}
		if ctx.Err() != nil {
			return result, errors.WithHint(
				errors.Wrapf(ctx.Err(), "calculation of course %d interrupted at user %d", req.CourseID, job.LastUserID()),
				"run the command again to resume from the last processed user")
		}
		if report.Stopped == schedule.StoppedNoProgress {
			return result, errors.AssertionFailedf("course %d made no progress at user %d", req.CourseID, job.LastUserID())
		}
	}

	progress.EmitComplete(fmt.Sprintf("Finished calculating enrolment for course %d.", req.CourseID), map[string]interface{}{
		"course_id":    req.CourseID,
		"last_user_id": job.LastUserID(),
		"slices":       result.Slices,
		"processed":    result.Processed,
		"changed":      result.Changed,
	})
	return result, nil
}

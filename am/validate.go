package am

import (
	"strings"

	"github.com/teranos/enrolpulse/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch c.Pulse.Scheduler {
	case SchedulerImmediate, SchedulerQueued:
	default:
		return errors.Newf("pulse.scheduler must be %q or %q, got %q",
			SchedulerImmediate, SchedulerQueued, c.Pulse.Scheduler)
	}

	// 0 workers = no background workers, negative = invalid
	if c.Pulse.Workers < 0 {
		return errors.Newf("pulse.workers must be >= 0, got %d", c.Pulse.Workers)
	}
	if c.Pulse.Scheduler == SchedulerQueued && c.Pulse.Workers == 0 {
		return errors.New("pulse.workers must be > 0 when pulse.scheduler is \"queued\"")
	}

	if c.Pulse.TickerIntervalSeconds < 0 {
		return errors.Newf("pulse.ticker_interval_seconds must be >= 0, got %d", c.Pulse.TickerIntervalSeconds)
	}

	if c.Pulse.BatchSize <= 0 {
		return errors.Newf("pulse.batch_size must be > 0, got %d", c.Pulse.BatchSize)
	}
	if c.Pulse.PageSize <= 0 {
		return errors.Newf("pulse.page_size must be > 0, got %d", c.Pulse.PageSize)
	}

	if c.Pulse.TimeSliceSeconds < 0 {
		return errors.Newf("pulse.time_slice_seconds must be >= 0, got %d", c.Pulse.TimeSliceSeconds)
	}
	if c.Pulse.MaxUsersPerSecond < 0 {
		return errors.Newf("pulse.max_users_per_second must be >= 0, got %f", c.Pulse.MaxUsersPerSecond)
	}
	if c.Pulse.MemoryWarnPercent < 0 || c.Pulse.MemoryWarnPercent > 100 {
		return errors.Newf("pulse.memory_warn_percent must be between 0 and 100, got %f", c.Pulse.MemoryWarnPercent)
	}
	if c.Pulse.RetentionDays < 0 {
		return errors.Newf("pulse.retention_days must be >= 0, got %d", c.Pulse.RetentionDays)
	}

	for name := range c.Pulse.BackgroundJobs {
		if strings.TrimSpace(name) == "" {
			return errors.New("pulse.background_jobs contains an empty job name")
		}
	}

	return nil
}

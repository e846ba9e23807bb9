package commands

import (
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/enrolpulse/am"
	"github.com/teranos/enrolpulse/enrolment"
	"github.com/teranos/enrolpulse/pulse/async"
	"github.com/teranos/enrolpulse/pulse/gate"
	"github.com/teranos/enrolpulse/pulse/schedule"
)

// services is everything a command needs to run or inspect calculations,
// built from one config and one database.
type services struct {
	cfg        *am.Config
	gate       *gate.Gate
	jobs       *async.Store
	executions *schedule.ExecutionStore
	deps       enrolment.Deps
	changes    *enrolment.ChannelListener
	runner     *schedule.Immediate
	log        *zap.SugaredLogger
}

func newServices(cfg *am.Config, database *sql.DB, log *zap.SugaredLogger) (*services, error) {
	slice := schedulerConfig(cfg)
	if err := slice.Validate(); err != nil {
		return nil, err
	}

	changes := enrolment.NewChannelListener()
	deps := enrolment.NewSQLDeps(database, enrolment.Options{
		Providers:  cfg.Enrolment.Providers,
		Outbox:     cfg.Enrolment.Outbox,
		LogChanges: cfg.Enrolment.LogChanges,
		PageSize:   cfg.Pulse.PageSize,
		Logger:     log,
		Listeners:  []enrolment.Listener{changes},
	})
	executions := schedule.NewExecutionStore(database)

	return &services{
		cfg:        cfg,
		gate:       gate.New(cfg.Pulse.BackgroundJobs),
		jobs:       deps.Jobs,
		executions: executions,
		deps:       deps,
		changes:    changes,
		runner:     schedule.NewImmediate(slice, executions, log),
		log:        log,
	}, nil
}

func schedulerConfig(cfg *am.Config) schedule.Config {
	return schedule.Config{
		BatchSize:         cfg.Pulse.BatchSize,
		TimeSlice:         time.Duration(cfg.Pulse.TimeSliceSeconds) * time.Second,
		MaxUsersPerSecond: cfg.Pulse.MaxUsersPerSecond,
	}
}

func (s *services) workerPool(workers int) *schedule.WorkerPool {
	return newWorkerPool(s.cfg, s.runner, workers, s.log)
}

// scheduler returns the scheduler pulse.scheduler selects. The returned stop
// func releases whatever it started.
func (s *services) scheduler() (schedule.Scheduler, func()) {
	return selectScheduler(s.cfg, s.runner, s.log)
}

func newWorkerPool(cfg *am.Config, runner *schedule.Immediate, workers int, log *zap.SugaredLogger) *schedule.WorkerPool {
	poolCfg := schedule.DefaultWorkerPoolConfig()
	poolCfg.Workers = workers
	poolCfg.MemoryWarnPercent = cfg.Pulse.MemoryWarnPercent
	return schedule.NewWorkerPool(runner, poolCfg, log)
}

func selectScheduler(cfg *am.Config, runner *schedule.Immediate, log *zap.SugaredLogger) (schedule.Scheduler, func()) {
	if cfg.Pulse.Scheduler != am.SchedulerQueued {
		return runner, func() {}
	}

	pool := newWorkerPool(cfg, runner, cfg.Pulse.Workers, log)
	pool.Start()
	return schedule.NewQueued(pool), pool.Stop
}

// InstallScheduler installs the scheduler pulse.scheduler selects as the
// process default, for callers that are not handed one. Commands that own a
// database inject their own, which also records execution history. The
// returned func uninstalls it and stops its workers.
func InstallScheduler(cfg *am.Config, log *zap.SugaredLogger) (func(), error) {
	slice := schedulerConfig(cfg)
	if err := slice.Validate(); err != nil {
		return nil, err
	}

	s, stop := selectScheduler(cfg, schedule.NewImmediate(slice, nil, log), log)
	if err := schedule.Install(s); err != nil {
		stop()
		return nil, err
	}
	return func() {
		schedule.Uninstall()
		stop()
	}, nil
}

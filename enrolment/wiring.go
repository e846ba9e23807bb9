package enrolment

import (
	"database/sql"

	"go.uber.org/zap"

	"github.com/teranos/enrolpulse/pulse/async"
)

// Options select the SQL-backed collaborators of the job.
type Options struct {
	Providers  []string // providers that count; empty = all
	Outbox     bool     // record changes in enrolment_status_events
	LogChanges bool     // log every change
	PageSize   int
	Logger     *zap.SugaredLogger
	Listeners  []Listener // appended after the built-in listeners
}

// NewSQLDeps wires a job against one SQLite database.
func NewSQLDeps(db *sql.DB, opts Options) Deps {
	notifier := NewNotifier(opts.Logger)
	if opts.LogChanges && opts.Logger != nil {
		notifier.AddListener(NewLogListener(opts.Logger))
	}
	if opts.Outbox {
		notifier.AddListener(NewOutboxListener(db))
	}
	for _, l := range opts.Listeners {
		notifier.AddListener(l)
	}

	return Deps{
		Jobs:       async.NewStore(db),
		Directory:  NewSQLDirectory(db),
		Statuses:   NewSQLStatusStore(db),
		Calculator: NewProviderCalculator(db, opts.Providers),
		Sink:       notifier,
		Logger:     opts.Logger,
		PageSize:   opts.PageSize,
	}
}

// Register makes the calculation job buildable from its key, so a daemon can
// pick up unfinished courses after a restart.
func Register(registry *async.Registry, deps Deps) {
	registry.Register(JobName, func(key async.Key) (async.Resumable, error) {
		return NewCalculationJob(key.CourseID, deps)
	})
}

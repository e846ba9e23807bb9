package am

// Config represents the enrolpulse configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database" toml:"database"`
	Pulse     PulseConfig     `mapstructure:"pulse" toml:"pulse"`
	Enrolment EnrolmentConfig `mapstructure:"enrolment" toml:"enrolment"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

// PulseConfig configures job scheduling and the background-job gate
type PulseConfig struct {
	// Scheduler selects the process-wide scheduler: "immediate" or "queued"
	Scheduler string `mapstructure:"scheduler" toml:"scheduler"`

	// Worker concurrency for the queued scheduler and the daemon
	Workers int `mapstructure:"workers" toml:"workers"`

	// How often the daemon looks for unfinished jobs (0 = never)
	TickerIntervalSeconds int `mapstructure:"ticker_interval_seconds" toml:"ticker_interval_seconds"`

	// Users handed to one ProcessNextBatch call
	BatchSize int `mapstructure:"batch_size" toml:"batch_size"`

	// Users fetched per directory read when a batch has no count limit
	PageSize int `mapstructure:"page_size" toml:"page_size"`

	// Wall-clock limit of one scheduler run (0 = run until complete)
	TimeSliceSeconds int `mapstructure:"time_slice_seconds" toml:"time_slice_seconds"`

	// Pacing of per-user work (0 = unpaced)
	MaxUsersPerSecond float64 `mapstructure:"max_users_per_second" toml:"max_users_per_second"`

	// Warn when system memory usage exceeds this percentage (0 = never)
	MemoryWarnPercent float64 `mapstructure:"memory_warn_percent" toml:"memory_warn_percent"`

	// Keep completion markers this long before `jobs cleanup` removes them
	RetentionDays int `mapstructure:"retention_days" toml:"retention_days"`

	// Serve status changes over WebSocket from the daemon ("" = off)
	StreamAddr string `mapstructure:"stream_addr" toml:"stream_addr"`

	// Feature gate: job name -> enabled. Unlisted jobs are disabled.
	BackgroundJobs map[string]bool `mapstructure:"background_jobs" toml:"background_jobs"`
}

// EnrolmentConfig configures how enrolment status is derived and announced
type EnrolmentConfig struct {
	// Providers whose decision counts; empty means every provider
	Providers []string `mapstructure:"providers" toml:"providers"`

	// Write status changes to the enrolment_status_events outbox
	Outbox bool `mapstructure:"outbox" toml:"outbox"`

	// Log every status change at info level
	LogChanges bool `mapstructure:"log_changes" toml:"log_changes"`
}

// Scheduler names accepted in pulse.scheduler
const (
	SchedulerImmediate = "immediate"
	SchedulerQueued    = "queued"
)

// File system constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)

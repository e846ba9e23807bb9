package am

import (
	"github.com/spf13/viper"
)

// CourseEnrolmentCalculationJob is the job name of the course enrolment calculation.
// It lives here so defaults can enable it without importing the domain package.
const CourseEnrolmentCalculationJob = "course_enrolment_calculation"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "enrolpulse.db")

	v.SetDefault("pulse.scheduler", SchedulerImmediate)
	v.SetDefault("pulse.workers", 1)
	v.SetDefault("pulse.ticker_interval_seconds", 5)
	v.SetDefault("pulse.batch_size", 40)
	v.SetDefault("pulse.page_size", 100)
	v.SetDefault("pulse.time_slice_seconds", 30)
	v.SetDefault("pulse.max_users_per_second", 0)
	v.SetDefault("pulse.memory_warn_percent", 90)
	v.SetDefault("pulse.retention_days", 30)
	v.SetDefault("pulse.stream_addr", "")
	v.SetDefault("pulse.background_jobs."+CourseEnrolmentCalculationJob, true)

	v.SetDefault("enrolment.providers", []string{})
	v.SetDefault("enrolment.outbox", true)
	v.SetDefault("enrolment.log_changes", false)
}

// BindSensitiveEnvVars binds settings operators commonly override per environment
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("database.path", "ENROLPULSE_DATABASE_PATH", "DB_PATH")
	v.BindEnv("pulse.scheduler", "ENROLPULSE_PULSE_SCHEDULER")
}

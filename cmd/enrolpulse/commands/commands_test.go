package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/enrolpulse/am"
	"github.com/teranos/enrolpulse/db"
	"github.com/teranos/enrolpulse/enrolment"
	"github.com/teranos/enrolpulse/errors"
	qntxtest "github.com/teranos/enrolpulse/internal/testing"
	"github.com/teranos/enrolpulse/pulse/async"
	"github.com/teranos/enrolpulse/pulse/gate"
	"github.com/teranos/enrolpulse/pulse/schedule"
)

func TestMain(m *testing.M) {
	pterm.DisableColor()
	os.Exit(m.Run())
}

// seededDB creates a database file with course 123 and users 5, 9 and 12.
func seededDB(t *testing.T) string {
	t.Helper()

	// Keep user and project config out of the test
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	am.Reset()
	t.Cleanup(am.Reset)

	path := filepath.Join(t.TempDir(), "enrolpulse.db")
	database, err := db.OpenWithMigrations(path, nil)
	require.NoError(t, err)
	qntxtest.SeedCourse(t, database, 123, map[int64]bool{5: true, 9: false, 12: true})
	require.NoError(t, database.Close())
	return path
}

func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})
	for _, child := range cmd.Commands() {
		resetFlags(child)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := &cobra.Command{Use: "enrolpulse", SilenceUsage: true, SilenceErrors: true}
	root.PersistentFlags().String("db", "", "")
	for _, cmd := range []*cobra.Command{EnrolmentCmd, JobsCmd, AmCmd, VersionCmd} {
		resetFlags(cmd)
		root.AddCommand(cmd)
	}

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCalculateCourse(t *testing.T) {
	dbPath := seededDB(t)

	out, err := execute(t, "enrolment", "calculate-course", "123", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Starting enrolment calculation for course 123.")
	assert.Contains(t, out, "Last processed user ID: 12")
	assert.Contains(t, out, "Finished calculating enrolment for course 123.")

	out, err = execute(t, "enrolment", "status", "123", "--db", dbPath, "--format", "json")
	require.NoError(t, err)

	var status courseStatus
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, string(async.PhaseComplete), status.Phase)
	require.NotNil(t, status.Job)
	assert.Equal(t, int64(12), status.Job.LastUserID)
	assert.Equal(t, 2, status.Statuses[enrolment.StatusEnrolled])
	assert.Equal(t, 1, status.Statuses[enrolment.StatusNotEnrolled])
}

func TestCalculateCourseAgainIsNoOp(t *testing.T) {
	dbPath := seededDB(t)

	_, err := execute(t, "enrolment", "calculate-course", "123", "--db", dbPath)
	require.NoError(t, err)

	out, err := execute(t, "enrolment", "calculate-course", "123", "--db", dbPath, "--json")
	require.NoError(t, err)

	var result enrolment.CalculateResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.Resumed)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, int64(12), result.LastUserID)

	out, err = execute(t, "enrolment", "events", "123", "--db", dbPath, "--format", "json")
	require.NoError(t, err)
	var events []enrolment.OutboxEvent
	require.NoError(t, json.Unmarshal([]byte(out), &events))
	assert.Len(t, events, 3, "second run must not announce anything")
}

func TestCalculateCourseRestart(t *testing.T) {
	dbPath := seededDB(t)

	_, err := execute(t, "enrolment", "calculate-course", "123", "--db", dbPath)
	require.NoError(t, err)

	out, err := execute(t, "enrolment", "calculate-course", "123", "--db", dbPath, "--restart")
	require.NoError(t, err)
	assert.Contains(t, out, "Restarting enrolment calculation for course 123.")
	assert.Contains(t, out, "Last processed user ID: 12")

	out, err = execute(t, "enrolment", "history", "123", "--db", dbPath, "--format", "json")
	require.NoError(t, err)
	var runs []*schedule.Execution
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 2)
	for _, run := range runs {
		assert.Equal(t, schedule.ExecutionStatusCompleted, run.Status)
		assert.True(t, run.JobComplete)
	}
}

func TestCalculateEmptyCourse(t *testing.T) {
	dbPath := seededDB(t)
	database, err := db.OpenWithMigrations(dbPath, nil)
	require.NoError(t, err)
	qntxtest.SeedCourse(t, database, 77, nil)
	require.NoError(t, database.Close())

	out, err := execute(t, "enrolment", "calculate-course", "77", "--db", dbPath)
	require.NoError(t, err)
	assert.NotContains(t, out, "Last processed user ID")
	assert.Contains(t, out, "Finished calculating enrolment for course 77.")
}

func TestInstallScheduler(t *testing.T) {
	seededDB(t)
	cfg, err := am.Load()
	require.NoError(t, err)
	cfg.Pulse.BatchSize = 3

	uninstall, err := InstallScheduler(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { schedule.Uninstall() })

	installed, ok := schedule.Default().(*schedule.Immediate)
	require.True(t, ok)
	assert.Equal(t, 3, installed.Config().BatchSize)

	_, err = InstallScheduler(cfg, nil)
	assert.True(t, errors.IsConflictError(err), "the process default is set once")

	uninstall()
	assert.NotSame(t, installed, schedule.Default())
}

func TestInstallSchedulerQueued(t *testing.T) {
	seededDB(t)
	cfg, err := am.Load()
	require.NoError(t, err)
	cfg.Pulse.Scheduler = am.SchedulerQueued
	cfg.Pulse.Workers = 1

	uninstall, err := InstallScheduler(cfg, nil)
	require.NoError(t, err)
	defer uninstall()

	_, ok := schedule.Default().(*schedule.Queued)
	assert.True(t, ok)
}

func TestCalculateMissingCourse(t *testing.T) {
	dbPath := seededDB(t)

	_, err := execute(t, "enrolment", "calculate-course", "999", "--db", dbPath)
	require.Error(t, err)
	assert.Equal(t, "The course with ID 999 does not exist.", err.Error())
	assert.True(t, errors.IsNotFoundError(err))
}

func TestCalculateInvalidCourseID(t *testing.T) {
	_, err := execute(t, "enrolment", "calculate-course", "abc")
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestCalculateErrorForDisabledJob(t *testing.T) {
	refused := gate.New(nil).Require(enrolment.JobName)

	err := calculateError(123, enrolment.CalculateResult{}, refused)
	assert.Equal(t, "The course enrolment calculation job is disabled.", err.Error())
	assert.True(t, errors.Is(err, errors.ErrForbidden))
	assert.Contains(t, FormatError(err), "Hint: run `enrolpulse am enable course_enrolment_calculation`")
}

func TestCalculateErrorKeepsLaterNotFound(t *testing.T) {
	err := errors.NewNotFoundError("job not found")
	assert.Same(t, err, calculateError(123, enrolment.CalculateResult{Slices: 2}, err))
}

func TestJobsListAndRemove(t *testing.T) {
	dbPath := seededDB(t)

	_, err := execute(t, "enrolment", "calculate-course", "123", "--db", dbPath)
	require.NoError(t, err)

	out, err := execute(t, "jobs", "ls", "--db", dbPath, "--format", "json")
	require.NoError(t, err)
	var states []*async.JobState
	require.NoError(t, json.Unmarshal([]byte(out), &states))
	require.Len(t, states, 1)
	assert.Equal(t, enrolment.JobName, states[0].JobName)
	assert.True(t, states[0].IsComplete)

	out, err = execute(t, "jobs", "ls", "--db", dbPath, "--unfinished")
	require.NoError(t, err)
	assert.Contains(t, out, "No jobs")

	_, err = execute(t, "jobs", "rm", enrolment.JobName, "123", "--db", dbPath)
	require.NoError(t, err)

	_, err = execute(t, "jobs", "rm", enrolment.JobName, "123", "--db", dbPath)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestAmEnableDisable(t *testing.T) {
	dbPath := seededDB(t)

	out, err := execute(t, "am", "disable", enrolment.JobName)
	require.NoError(t, err)
	assert.Contains(t, out, "course_enrolment_calculation disabled")

	_, err = execute(t, "enrolment", "calculate-course", "123", "--db", dbPath)
	require.Error(t, err)
	assert.Equal(t, "The course enrolment calculation job is disabled.", err.Error())

	_, err = execute(t, "am", "enable", enrolment.JobName)
	require.NoError(t, err)

	_, err = execute(t, "enrolment", "calculate-course", "123", "--db", dbPath)
	assert.NoError(t, err)
}

func TestVersionRequire(t *testing.T) {
	out, err := execute(t, "version", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"go_version"`)

	_, err = execute(t, "version", "--require", "not a constraint")
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestFormatError(t *testing.T) {
	err := errors.WithHint(errors.New("boom"), "try again")
	assert.Equal(t, "boom\nHint: try again", FormatError(err))
	assert.Empty(t, FormatError(nil))
}

func TestConsoleEmitter(t *testing.T) {
	var out bytes.Buffer
	c := newConsoleEmitter(&out)

	c.EmitStage("start", "Starting enrolment calculation for course 7.")
	c.EmitProgress(0, nil)
	c.EmitProgress(42, nil)
	c.EmitError("run", errors.New("ignored"))
	c.EmitComplete("Finished calculating enrolment for course 7.", nil)

	text := out.String()
	assert.Contains(t, text, "Starting enrolment calculation for course 7.")
	assert.Contains(t, text, "Last processed user ID: 42\n")
	assert.Contains(t, text, "Finished calculating enrolment for course 7.")
	assert.NotContains(t, text, "ignored")
	assert.NotContains(t, text, "Last processed user ID: 0", "no cursor line before the first user")
}

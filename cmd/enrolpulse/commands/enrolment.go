package commands

import (
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/enrolpulse/am"
	"github.com/teranos/enrolpulse/enrolment"
	"github.com/teranos/enrolpulse/errors"
	"github.com/teranos/enrolpulse/logger"
	"github.com/teranos/enrolpulse/pulse"
	"github.com/teranos/enrolpulse/pulse/async"
	"github.com/teranos/enrolpulse/pulse/gate"
	"github.com/teranos/enrolpulse/sym"
)

// EnrolmentCmd groups the course enrolment commands
var EnrolmentCmd = &cobra.Command{
	Use:   "enrolment",
	Short: sym.Enrol + " Calculate and inspect course enrolment",
	Long: sym.Enrol + ` enrolment - Calculate and inspect course enrolment

A course calculation walks the course's users in ascending id order and stores
each user's enrolment status when it changed. The cursor is checkpointed after
every user, so running the command again after an interruption resumes from
the last processed user.

Examples:
  enrolpulse enrolment calculate-course 123            # Resume or start course 123
  enrolpulse enrolment calculate-course 123 --restart  # Recompute from the first user
  enrolpulse enrolment status 123                      # Cursor and status counts
  enrolpulse enrolment history 123                     # Recent scheduler runs
  enrolpulse enrolment events 123 --after 40           # Recorded status changes`,
}

var calculateCourseCmd = &cobra.Command{
	Use:   "calculate-course <course-id>",
	Short: "Calculate enrolment status for every user of a course",
	Long: `Calculate enrolment status for every user of a course.

Resumes an unfinished calculation from its cursor, or starts a new one.
A course whose calculation already completed is left alone unless --restart
is given. Prints the last processed user after every scheduler slice.

Requires the course_enrolment_calculation background job to be enabled
(pulse.background_jobs in am.toml).`,
	Args: cobra.ExactArgs(1),
	RunE: runCalculateCourse,
}

var enrolmentStatusCmd = &cobra.Command{
	Use:   "status <course-id>",
	Short: "Show the calculation cursor and status counts of a course",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnrolmentStatus,
}

var enrolmentHistoryCmd = &cobra.Command{
	Use:   "history <course-id>",
	Short: "Show recent scheduler runs of a course calculation",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnrolmentHistory,
}

var enrolmentEventsCmd = &cobra.Command{
	Use:   "events <course-id>",
	Short: "Show recorded status changes of a course",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnrolmentEvents,
}

func init() {
	calculateCourseCmd.Flags().Bool("restart", false, "Discard progress and recompute from the first user")
	calculateCourseCmd.Flags().Bool("json", false, "Print the result as JSON instead of progress lines")

	enrolmentStatusCmd.Flags().String("format", "table", "Output format: table, json, yaml")

	enrolmentHistoryCmd.Flags().Int("limit", 20, "Number of runs to show")
	enrolmentHistoryCmd.Flags().String("format", "table", "Output format: table, json, yaml")

	enrolmentEventsCmd.Flags().Int64("after", 0, "Only show events after this event id")
	enrolmentEventsCmd.Flags().Int("limit", 100, "Number of events to show")
	enrolmentEventsCmd.Flags().String("format", "table", "Output format: table, json, yaml")

	EnrolmentCmd.AddCommand(calculateCourseCmd)
	EnrolmentCmd.AddCommand(enrolmentStatusCmd)
	EnrolmentCmd.AddCommand(enrolmentHistoryCmd)
	EnrolmentCmd.AddCommand(enrolmentEventsCmd)
}

func parseCourseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.NewInvalidRequestError("course id must be a positive integer, got %q", arg)
	}
	return id, nil
}

// loadServices loads config and opens the database. The caller closes the database.
func loadServices(cmd *cobra.Command) (*services, *sql.DB, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load config")
	}

	database, err := openDatabase(cmd)
	if err != nil {
		return nil, nil, err
	}

	svc, err := newServices(cfg, database, logger.Logger)
	if err != nil {
		database.Close()
		return nil, nil, err
	}
	return svc, database, nil
}

func runCalculateCourse(cmd *cobra.Command, args []string) error {
	courseID, err := parseCourseID(args[0])
	if err != nil {
		return err
	}
	restart, _ := cmd.Flags().GetBool("restart")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	svc, database, err := loadServices(cmd)
	if err != nil {
		return err
	}
	defer database.Close()

	scheduler, stop := svc.scheduler()
	defer stop()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	out := cmd.OutOrStdout()
	var progress pulse.ProgressEmitter = newConsoleEmitter(out)
	if jsonOutput {
		progress = pulse.NopEmitter{}
	}

	driver := &enrolment.Driver{
		Gate:      svc.gate,
		Scheduler: scheduler,
		Deps:      svc.deps,
		Progress:  progress,
	}
	result, err := driver.CalculateCourse(ctx, enrolment.CalculateRequest{CourseID: courseID, Restart: restart})
	if err != nil {
		return calculateError(courseID, result, err)
	}

	if jsonOutput {
		return writeFormatted(out, "json", result)
	}
	return nil
}

// calculateError turns refusals into the messages operators know.
func calculateError(courseID int64, result enrolment.CalculateResult, err error) error {
	switch {
	case gate.IsDisabledError(err):
		return errors.WithHintf(
			errors.Mark(errors.New("The course enrolment calculation job is disabled."), errors.ErrForbidden),
			"run `enrolpulse am enable %s`", enrolment.JobName)
	case result.Slices == 0 && errors.IsNotFoundError(err):
		return errors.Mark(errors.Newf("The course with ID %d does not exist.", courseID), errors.ErrNotFound)
	}
	return err
}

// courseStatus is the output of `enrolment status`.
type courseStatus struct {
	CourseID int64                    `json:"course_id" yaml:"course_id"`
	Phase    string                   `json:"phase" yaml:"phase"`
	Job      *async.JobState          `json:"job,omitempty" yaml:"job,omitempty"`
	Statuses map[enrolment.Status]int `json:"statuses" yaml:"statuses"`
}

func runEnrolmentStatus(cmd *cobra.Command, args []string) error {
	courseID, err := parseCourseID(args[0])
	if err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("format")

	svc, database, err := loadServices(cmd)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := cmd.Context()
	exists, err := svc.deps.Directory.CourseExists(ctx, courseID)
	if err != nil {
		return err
	}
	if !exists {
		return errors.Mark(errors.Newf("The course with ID %d does not exist.", courseID), errors.ErrNotFound)
	}

	state, err := svc.jobs.Find(ctx, async.Key{JobName: enrolment.JobName, CourseID: courseID})
	if err != nil {
		return err
	}
	counts, err := enrolment.NewSQLStatusStore(database).CountByStatus(ctx, courseID)
	if err != nil {
		return err
	}

	status := courseStatus{CourseID: courseID, Phase: "not started", Job: state, Statuses: counts}
	if state != nil {
		status.Phase = string(state.Phase())
	}

	out := cmd.OutOrStdout()
	if format != "table" {
		return writeFormatted(out, format, status)
	}

	fmt.Fprintln(out, pterm.Bold.Sprintf("%s Course %d", sym.Enrol, courseID))
	fmt.Fprintf(out, "Phase:             %s\n", status.Phase)
	if state != nil {
		fmt.Fprintf(out, "Last user ID:      %d\n", state.LastUserID)
		fmt.Fprintf(out, "Processed/skipped: %d/%d\n", state.ProcessedCount, state.SkippedCount)
		fmt.Fprintf(out, "Updated:           %s\n", state.UpdatedAt.Local().Format(time.RFC3339))
		if state.LastError != "" {
			fmt.Fprintf(out, "Last error:        %s\n", state.LastError)
		}
	}

	names := make([]string, 0, len(counts))
	for s := range counts {
		names = append(names, string(s))
	}
	sort.Strings(names)

	data := pterm.TableData{{"Status", "Users"}}
	for _, name := range names {
		data = append(data, []string{name, strconv.Itoa(counts[enrolment.Status(name)])})
	}
	return renderTable(out, data)
}

func runEnrolmentHistory(cmd *cobra.Command, args []string) error {
	courseID, err := parseCourseID(args[0])
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	format, _ := cmd.Flags().GetString("format")

	svc, database, err := loadServices(cmd)
	if err != nil {
		return err
	}
	defer database.Close()

	executions, err := svc.executions.List(cmd.Context(), async.Key{JobName: enrolment.JobName, CourseID: courseID}, limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if format != "table" {
		return writeFormatted(out, format, executions)
	}
	if len(executions) == 0 {
		fmt.Fprint(out, pterm.Info.Sprintfln("No runs recorded for course %d", courseID))
		return nil
	}

	data := pterm.TableData{{"Started", "Status", "Users", "Processed", "Batches", "Duration", "Error"}}
	for _, e := range executions {
		duration := "-"
		if e.DurationMs != nil {
			duration = (time.Duration(*e.DurationMs) * time.Millisecond).String()
		}
		errMsg := ""
		if e.ErrorMessage != nil {
			errMsg = *e.ErrorMessage
		}
		status := e.Status
		if e.JobComplete {
			status += " (job complete)"
		}
		data = append(data, []string{
			e.StartedAt.Local().Format(time.DateTime),
			status,
			fmt.Sprintf("%d → %d", e.FromUserID, e.ToUserID),
			strconv.Itoa(e.UsersProcessed),
			strconv.Itoa(e.Batches),
			duration,
			errMsg,
		})
	}
	return renderTable(out, data)
}

func runEnrolmentEvents(cmd *cobra.Command, args []string) error {
	courseID, err := parseCourseID(args[0])
	if err != nil {
		return err
	}
	after, _ := cmd.Flags().GetInt64("after")
	limit, _ := cmd.Flags().GetInt("limit")
	format, _ := cmd.Flags().GetString("format")

	database, err := openDatabase(cmd)
	if err != nil {
		return err
	}
	defer database.Close()

	events, err := enrolment.NewOutboxListener(database).Events(cmd.Context(), courseID, after, limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if format != "table" {
		return writeFormatted(out, format, events)
	}
	if len(events) == 0 {
		fmt.Fprint(out, pterm.Info.Sprintfln("No status changes recorded for course %d", courseID))
		return nil
	}

	data := pterm.TableData{{"ID", "User", "Previous", "Current", "At"}}
	for _, e := range events {
		previous := "-"
		if e.HadPrevious {
			previous = string(e.Previous)
		}
		data = append(data, []string{
			strconv.FormatInt(e.ID, 10),
			strconv.FormatInt(e.UserID, 10),
			previous,
			string(e.Current),
			e.At.Local().Format(time.DateTime),
		})
	}
	return renderTable(out, data)
}

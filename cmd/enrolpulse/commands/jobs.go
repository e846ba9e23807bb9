package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/enrolpulse/pulse/async"
	"github.com/teranos/enrolpulse/sym"
)

// JobsCmd inspects and maintains job state
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: sym.Pulse + " List and clean up job state",
	Long: sym.Pulse + ` jobs - List and clean up job state

Every (job, course) pair has one row holding its cursor. Completed rows are
kept as completion markers so a repeated run is a no-op; ` + "`jobs cleanup`" + `
removes markers older than the retention period.

Examples:
  enrolpulse jobs ls                          # All jobs
  enrolpulse jobs ls --unfinished             # Jobs the daemon would resume
  enrolpulse jobs rm course_enrolment_calculation 123
  enrolpulse jobs cleanup --older-than 720h   # Drop old completion markers`,
}

var jobsListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List job state",
	RunE:    runJobsList,
}

var jobsRemoveCmd = &cobra.Command{
	Use:   "rm <job-name> <course-id>",
	Short: "Delete the state of one job, so the next run starts fresh",
	Args:  cobra.ExactArgs(2),
	RunE:  runJobsRemove,
}

var jobsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove old completion markers and scheduler run history",
	RunE:  runJobsCleanup,
}

func init() {
	jobsListCmd.Flags().String("job", "", "Only show this job name")
	jobsListCmd.Flags().Bool("unfinished", false, "Only show jobs that still have work")
	jobsListCmd.Flags().Int("limit", 0, "Maximum number of jobs (0 = all)")
	jobsListCmd.Flags().String("format", "table", "Output format: table, json, yaml")

	jobsCleanupCmd.Flags().Duration("older-than", 0, "Age cutoff (default: pulse.retention_days)")

	JobsCmd.AddCommand(jobsListCmd)
	JobsCmd.AddCommand(jobsRemoveCmd)
	JobsCmd.AddCommand(jobsCleanupCmd)
}

func runJobsList(cmd *cobra.Command, args []string) error {
	jobName, _ := cmd.Flags().GetString("job")
	unfinished, _ := cmd.Flags().GetBool("unfinished")
	limit, _ := cmd.Flags().GetInt("limit")
	format, _ := cmd.Flags().GetString("format")

	svc, database, err := loadServices(cmd)
	if err != nil {
		return err
	}
	defer database.Close()

	states, err := svc.jobs.List(cmd.Context(), async.ListOptions{
		JobName:        jobName,
		UnfinishedOnly: unfinished,
		Limit:          limit,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if format != "table" {
		return writeFormatted(out, format, states)
	}
	if len(states) == 0 {
		fmt.Fprint(out, pterm.Info.Sprintln("No jobs"))
		return nil
	}

	data := pterm.TableData{{"Job", "Course", "Phase", "Last user", "Processed", "Skipped", "Enabled", "Updated"}}
	for _, s := range states {
		enabled := "no"
		if svc.gate.IsBackgroundJobEnabled(s.JobName) {
			enabled = "yes"
		}
		data = append(data, []string{
			s.JobName,
			strconv.FormatInt(s.CourseID, 10),
			string(s.Phase()),
			strconv.FormatInt(s.LastUserID, 10),
			strconv.FormatInt(s.ProcessedCount, 10),
			strconv.FormatInt(s.SkippedCount, 10),
			enabled,
			s.UpdatedAt.Local().Format(time.DateTime),
		})
	}
	return renderTable(out, data)
}

func runJobsRemove(cmd *cobra.Command, args []string) error {
	courseID, err := parseCourseID(args[1])
	if err != nil {
		return err
	}
	key := async.Key{JobName: args[0], CourseID: courseID}
	if err := key.Validate(); err != nil {
		return err
	}

	svc, database, err := loadServices(cmd)
	if err != nil {
		return err
	}
	defer database.Close()

	if _, err := svc.jobs.Get(cmd.Context(), key); err != nil {
		return err
	}
	if err := svc.jobs.Delete(cmd.Context(), key); err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), pterm.Success.Sprintfln("Deleted job %s", key))
	return nil
}

func runJobsCleanup(cmd *cobra.Command, args []string) error {
	olderThan, _ := cmd.Flags().GetDuration("older-than")

	svc, database, err := loadServices(cmd)
	if err != nil {
		return err
	}
	defer database.Close()

	if olderThan <= 0 {
		olderThan = time.Duration(svc.cfg.Pulse.RetentionDays) * 24 * time.Hour
	}

	ctx := cmd.Context()
	jobs, err := svc.jobs.CleanupCompleted(ctx, olderThan)
	if err != nil {
		return err
	}
	runs, err := svc.executions.CleanupOlderThan(ctx, svc.jobs.Now().Add(-olderThan))
	if err != nil {
		return err
	}

	svc.log.Infow("Cleaned up job state", "jobs", jobs, "executions", runs, "older_than", olderThan)
	fmt.Fprint(cmd.OutOrStdout(), pterm.Success.Sprintfln(
		"Removed %d completion marker(s) and %d run record(s) older than %s", jobs, runs, olderThan))
	return nil
}

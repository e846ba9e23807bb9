package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/enrolpulse/am"
	"github.com/teranos/enrolpulse/cmd/enrolpulse/commands"
	"github.com/teranos/enrolpulse/logger"
)

var rootCmd = &cobra.Command{
	Use:   "enrolpulse",
	Short: "enrolpulse - resumable course enrolment calculation",
	Long: `enrolpulse - Recalculate course enrolment status as a resumable background job.

Each course is walked user by user in ascending id order. Progress is
checkpointed after every user, so an interrupted calculation resumes where it
stopped instead of starting over.

Available commands:
  am        - Manage enrolpulse configuration ("I am")
  enrolment - Calculate and inspect course enrolment
  jobs      - List and clean up job state
  pulse     - Run the Pulse daemon that resumes unfinished courses
  version   - Show build information

Examples:
  enrolpulse enrolment calculate-course 123            # Resume or start course 123
  enrolpulse enrolment calculate-course 123 --restart  # Recompute from the first user
  enrolpulse jobs ls                                   # List job state
  enrolpulse pulse start                               # Start Pulse daemon`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// `am show` output must stay machine-readable
		if cmd.Name() == "show" {
			return nil
		}
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("log-json")
		if err := logger.InitializeWithVerbosity(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		// An invalid config is reported by the command that needs it
		cfg, err := am.Load()
		if err != nil {
			logger.Logger.Debugw("No process scheduler installed", "error", err)
			return nil
		}
		uninstall, err := commands.InstallScheduler(cfg, logger.Logger)
		if err != nil {
			return err
		}
		uninstallScheduler = uninstall
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if uninstallScheduler != nil {
			uninstallScheduler()
		}
		logger.Cleanup()
	},
}

var uninstallScheduler func()

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit logs as JSON")
	rootCmd.PersistentFlags().String("db", "", "Database path (default: database.path from config)")

	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.EnrolmentCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.PulseCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		commands.PrintError(os.Stderr, err)
		os.Exit(1)
	}
}

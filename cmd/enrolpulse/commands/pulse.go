package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teranos/enrolpulse/am"
	"github.com/teranos/enrolpulse/enrolment"
	"github.com/teranos/enrolpulse/errors"
	"github.com/teranos/enrolpulse/pulse/async"
	"github.com/teranos/enrolpulse/pulse/schedule"
	"github.com/teranos/enrolpulse/server"
	"github.com/teranos/enrolpulse/sym"
)

// PulseCmd represents the pulse command - the daemon that resumes unfinished jobs
var PulseCmd = &cobra.Command{
	Use:   "pulse",
	Short: sym.Pulse + " Run the Pulse daemon (resumes unfinished courses)",
	Long: sym.Pulse + ` Pulse daemon - keeps resumable jobs moving.

The Pulse daemon:
- Looks for unfinished jobs every pulse.ticker_interval_seconds
- Runs one time slice of each enabled job on a worker pool
- Reloads the background-job gate when am.toml changes
- Streams status changes over WebSocket when pulse.stream_addr is set
- Stops gracefully: running slices checkpoint before exit

Example:
  enrolpulse pulse start              # Start daemon in foreground
  enrolpulse pulse start --workers 3  # Start with 3 concurrent workers
  enrolpulse pulse start --listen 127.0.0.1:8787  # Also serve /ws/changes`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// PulseStartCmd starts the Pulse daemon
var PulseStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Pulse daemon",
	RunE:  runPulseStart,
}

func init() {
	PulseStartCmd.Flags().Int("workers", 0, "Number of concurrent workers (default: pulse.workers)")
	PulseStartCmd.Flags().String("listen", "", "Change stream address (default: pulse.stream_addr)")
	PulseCmd.AddCommand(PulseStartCmd)
}

func runPulseStart(cmd *cobra.Command, args []string) error {
	svc, database, err := loadServices(cmd)
	if err != nil {
		return err
	}
	defer database.Close()

	workers, _ := cmd.Flags().GetInt("workers")
	if workers <= 0 {
		workers = svc.cfg.Pulse.Workers
	}
	if workers <= 0 {
		return errors.NewInvalidRequestError("pulse daemon needs at least one worker (pulse.workers = %d)", svc.cfg.Pulse.Workers)
	}
	if svc.cfg.Pulse.TickerIntervalSeconds == 0 {
		return errors.WithHint(
			errors.NewInvalidRequestError("pulse.ticker_interval_seconds is 0"),
			"set a positive interval, or run `enrolpulse enrolment calculate-course` by hand")
	}

	fmt.Printf("%s Starting Pulse daemon with %d worker(s)...\n", sym.Pulse, workers)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Runs that were open when a previous daemon died will never finish
	if n, err := svc.executions.MarkAbandoned(ctx, time.Now()); err != nil {
		svc.log.Warnw("Failed to mark abandoned runs", "error", err)
	} else if n > 0 {
		svc.log.Infow("Marked abandoned runs as failed", "count", n)
	}

	registry := async.NewRegistry()
	enrolment.Register(registry, svc.deps)

	pool := svc.workerPool(workers)
	pool.Start()

	tickerCfg := schedule.TickerConfig{
		Interval: time.Duration(svc.cfg.Pulse.TickerIntervalSeconds) * time.Second,
		Limit:    schedule.DefaultTickerConfig().Limit,
	}
	ticker := schedule.NewTickerWithContext(ctx, svc.jobs, registry, svc.gate, pool, tickerCfg, svc.log)
	ticker.Start()

	watcher := watchGate(svc)

	listen, _ := cmd.Flags().GetString("listen")
	if listen == "" {
		listen = svc.cfg.Pulse.StreamAddr
	}
	var stream *server.Server
	if listen != "" {
		stream = server.New(svc.changes, svc.jobs, svc.log)
		addr, err := stream.Start(listen)
		if err != nil {
			if watcher != nil {
				watcher.Stop()
			}
			ticker.Stop()
			pool.Stop()
			return err
		}
		fmt.Printf("%s Change stream: ws://%s/ws/changes\n", sym.Pulse, addr)
	}

	fmt.Printf("%s Pulse daemon started\n", sym.Pulse)
	fmt.Printf("  Workers: %d\n", workers)
	fmt.Printf("  Ticker interval: %v\n", tickerCfg.Interval)
	fmt.Printf("  Batch size: %d users\n", svc.cfg.Pulse.BatchSize)
	fmt.Printf("  Time slice: %ds\n", svc.cfg.Pulse.TimeSliceSeconds)
	fmt.Printf("  Enabled jobs: %v\n", svc.gate.Enabled())
	fmt.Printf("\n%s Press Ctrl+C for graceful shutdown\n\n", sym.Pulse)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	fmt.Printf("\n%s Initiating graceful shutdown...\n", sym.Pulse)

	// Reverse order of startup
	if stream != nil {
		if err := stream.Stop(); err != nil {
			svc.log.Warnw("Change stream shutdown failed", "error", err)
		}
	}
	if watcher != nil {
		watcher.Stop()
	}
	ticker.Stop()
	pool.Stop()

	fmt.Printf("%s Pulse daemon stopped\n", sym.Pulse)
	return nil
}

// watchGate reloads the gate table when the active config file changes.
// Returns nil when no config file exists to watch.
func watchGate(svc *services) *am.ConfigWatcher {
	path := activeConfigPath()
	if path == "" {
		svc.log.Infow("No config file to watch, background-job gate is fixed for this run")
		return nil
	}

	watcher, err := am.NewConfigWatcher(path)
	if err != nil {
		svc.log.Warnw("Config watcher unavailable", "path", path, "error", err)
		return nil
	}
	watcher.OnReload(func(cfg *am.Config) error {
		svc.gate.Update(cfg.Pulse.BackgroundJobs)
		svc.log.Infow("Background-job gate reloaded", "enabled", svc.gate.Enabled())
		return nil
	})
	watcher.Start()
	am.SetGlobalWatcher(watcher)
	return watcher
}

// activeConfigPath is the highest-precedence config file that exists.
func activeConfigPath() string {
	paths := am.ConfigPaths()
	for i := len(paths) - 1; i >= 0; i-- {
		if _, err := os.Stat(paths[i]); err == nil {
			return paths[i]
		}
	}
	return ""
}

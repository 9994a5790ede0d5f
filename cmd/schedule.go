package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	scheduleSpec   string
	scheduleWindow int
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the pipeline on a cron schedule until interrupted",
	Long: "Runs backfill and calculate on a six-field cron schedule (seconds first, UTC). " +
		"A tick that fires while a run is still in progress is skipped.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		spec := scheduleSpec
		if spec == "" {
			spec = cfg.Orchestrator.Schedule
		}
		window := scheduleWindow
		if window <= 0 {
			window = cfg.Orchestrator.WindowDays
		}

		env, err := initPipeline(ctx, "pipeline")
		if err != nil {
			return err
		}
		defer env.Close()

		return env.Orchestrator.Start(ctx, spec, window)
	},
}

func init() {
	scheduleCmd.Flags().StringVar(&scheduleSpec, "cron", "", "cron expression with seconds (default orchestrator.schedule)")
	scheduleCmd.Flags().IntVar(&scheduleWindow, "window", 0, "days of predictions per run (default orchestrator.window_days)")
	rootCmd.AddCommand(scheduleCmd)
}

package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/signal-outcomes/internal/orchestrator"
)

var (
	pipelineWindow int
	pipelineForce  bool
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Backfill prices then calculate outcomes for a recent window",
	Long: "Runs backfill followed by calculate for predictions in the last --window days. " +
		"Exits 0 on success, 2 when some symbols or pairs failed, 1 on a hard failure.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		window := pipelineWindow
		if window <= 0 {
			window = cfg.Orchestrator.WindowDays
		}

		env, err := initPipeline(ctx, "pipeline")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Orchestrator.WithForce(pipelineForce).RunOnce(ctx, window)
		if err != nil {
			return err
		}

		printPipelineResult(cmd.OutOrStdout(), res)
		return statusError("pipeline", res.Status, pipelineFailures(res))
	},
}

func pipelineFailures(res *orchestrator.Result) int {
	n := 0
	if res.Backfill != nil {
		n += res.Backfill.Failed
	}
	if res.Outcome != nil {
		n += res.Outcome.Failed
	}
	return n
}

func printPipelineResult(out io.Writer, res *orchestrator.Result) {
	fmt.Fprintf(out, "Run:      %s\n", res.RunID)
	fmt.Fprintf(out, "Status:   %s\n", res.Status)
	fmt.Fprintf(out, "Since:    %s (%d days)\n", res.Since.Format("2006-01-02"), res.WindowDays)
	fmt.Fprintf(out, "Elapsed:  %s\n", res.Elapsed.Round(time.Millisecond))
	if res.Backfill != nil {
		fmt.Fprintln(out, "\nBackfill")
		printBackfillSummary(out, res.Backfill)
	}
	if res.Outcome != nil {
		fmt.Fprintln(out, "\nCalculate")
		printCalculateSummary(out, res.Outcome)
	}
	for _, e := range res.Errors {
		fmt.Fprintf(out, "error: %s\n", e)
	}
}

func init() {
	pipelineCmd.Flags().IntVar(&pipelineWindow, "window", 0, "days of predictions to process (default orchestrator.window_days)")
	pipelineCmd.Flags().BoolVar(&pipelineForce, "force", false, "refetch prices and recompute complete outcomes")
	rootCmd.AddCommand(pipelineCmd)
}

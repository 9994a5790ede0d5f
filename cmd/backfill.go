package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/signal-outcomes/internal/backfill"
	"github.com/sells-group/signal-outcomes/internal/model"
	"github.com/sells-group/signal-outcomes/internal/orchestrator"
)

var (
	backfillSymbols     []string
	backfillSince       string
	backfillIncremental bool
	backfillForce       bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Fetch daily prices for every predicted asset",
	Long: "Discovers the assets named by completed predictions and fetches the daily bars " +
		"needed to evaluate them. Only missing date ranges are requested unless --force is set.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		req := backfill.Request{Force: backfillForce}
		for _, s := range backfillSymbols {
			if s = model.NormalizeSymbol(s); s != "" {
				req.Symbols = append(req.Symbols, s)
			}
		}
		req.IncludeIncomplete = len(req.Symbols) == 0

		switch {
		case backfillSince != "":
			since, err := model.ParseDate(backfillSince)
			if err != nil {
				return fmt.Errorf("parse --since: %w", err)
			}
			req.Since = since
		case backfillIncremental:
			req.Since = model.AddDays(model.Day(nowFunc()), -cfg.Backfill.IncrementalDays)
		}

		env, err := initPipeline(ctx, "backfill")
		if err != nil {
			return err
		}
		defer env.Close()

		runID := startRun(ctx, env.Store, model.RunKindBackfill)
		summary, runErr := env.Backfill.Run(ctx, req)

		status := orchestrator.StatusFailed
		var m map[string]any
		if summary != nil {
			m = summary.Map()
			if runErr == nil {
				status = countStatus(summary.Failed)
			}
		}
		finishRun(env.Store, runID, status, m, runErr)

		if runErr != nil {
			return runErr
		}

		printBackfillSummary(cmd.OutOrStdout(), summary)
		zap.L().Info("backfill complete",
			zap.Int("requested", summary.Requested),
			zap.Int("succeeded", summary.Succeeded),
			zap.Int("failed", summary.Failed),
			zap.Int("skipped", summary.Skipped),
			zap.Int64("bars_written", summary.BarsWritten),
		)
		return statusError("backfill", status, summary.Failed)
	},
}

func printBackfillSummary(out io.Writer, s *backfill.Summary) {
	fmt.Fprintf(out, "Symbols:      %d\n", s.Requested)
	fmt.Fprintf(out, "Succeeded:    %d\n", s.Succeeded)
	fmt.Fprintf(out, "Skipped:      %d\n", s.Skipped)
	fmt.Fprintf(out, "Failed:       %d\n", s.Failed)
	fmt.Fprintf(out, "Bars written: %d\n", s.BarsWritten)
	for _, f := range s.Failures {
		fmt.Fprintf(out, "  %-10s %-15s %s\n", f.Symbol, f.Kind, strings.TrimSpace(f.Error))
	}
}

func init() {
	backfillCmd.Flags().StringSliceVar(&backfillSymbols, "symbols", nil, "comma-separated symbols to backfill instead of discovering them")
	backfillCmd.Flags().StringVar(&backfillSince, "since", "", "only consider predictions on or after this date (YYYY-MM-DD)")
	backfillCmd.Flags().BoolVar(&backfillIncremental, "incremental", false, "only consider predictions from the last backfill.incremental_days days")
	backfillCmd.Flags().BoolVar(&backfillForce, "force", false, "refetch full ranges and retry permanently failed symbols")
	rootCmd.AddCommand(backfillCmd)
}

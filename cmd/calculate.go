package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/signal-outcomes/internal/model"
	"github.com/sells-group/signal-outcomes/internal/orchestrator"
	"github.com/sells-group/signal-outcomes/internal/outcome"
)

var (
	calcForce  bool
	calcSince  string
	calcUntil  string
	calcWindow int
)

var calculateCmd = &cobra.Command{
	Use:   "calculate",
	Short: "Score predictions against stored prices",
	Long: "Computes returns, correctness and P&L at T+1, T+3, T+7 and T+30 for every " +
		"(prediction, asset) pair in the window. Complete outcomes are skipped unless --force is set.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		req, err := calculateRequest()
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx, "calculate")
		if err != nil {
			return err
		}
		defer env.Close()

		runID := startRun(ctx, env.Store, model.RunKindCalculate)
		summary, runErr := env.Calculator.Run(ctx, req)

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

		printCalculateSummary(cmd.OutOrStdout(), summary)
		zap.L().Info("calculation complete",
			zap.Int("predictions", summary.Predictions),
			zap.Int("created", summary.Created),
			zap.Int("updated", summary.Updated),
			zap.Int("skipped", summary.Skipped),
			zap.Int("failed", summary.Failed),
		)
		return statusError("calculate", status, summary.Failed)
	},
}

// calculateRequest builds the request from flags. --since wins over --window.
func calculateRequest() (outcome.Request, error) {
	req := outcome.Request{Force: calcForce}

	switch {
	case calcSince != "":
		since, err := model.ParseDate(calcSince)
		if err != nil {
			return req, fmt.Errorf("parse --since: %w", err)
		}
		req.Since = since
	case calcWindow > 0:
		req.Since = model.AddDays(model.Day(nowFunc()), -calcWindow)
	}

	if calcUntil != "" {
		until, err := model.ParseDate(calcUntil)
		if err != nil {
			return req, fmt.Errorf("parse --until: %w", err)
		}
		req.Until = until
	}
	if !req.Since.IsZero() && !req.Until.IsZero() && !req.Until.After(req.Since) {
		return req, fmt.Errorf("--until must be after --since")
	}
	return req, nil
}

func printCalculateSummary(out io.Writer, s *outcome.Summary) {
	fmt.Fprintf(out, "Predictions: %d\n", s.Predictions)
	fmt.Fprintf(out, "Created:     %d\n", s.Created)
	fmt.Fprintf(out, "Updated:     %d\n", s.Updated)
	fmt.Fprintf(out, "Skipped:     %d\n", s.Skipped)
	fmt.Fprintf(out, "Failed:      %d\n", s.Failed)
	for _, e := range s.Errors {
		fmt.Fprintf(out, "  %s %-10s %-12s %s\n", truncateID(e.PredictionID), e.Symbol, e.Kind, e.Error)
	}
}

func init() {
	calculateCmd.Flags().BoolVar(&calcForce, "force", false, "recompute outcomes that are already complete")
	calculateCmd.Flags().StringVar(&calcSince, "since", "", "predictions on or after this date (YYYY-MM-DD)")
	calculateCmd.Flags().StringVar(&calcUntil, "until", "", "predictions before this date (YYYY-MM-DD)")
	calculateCmd.Flags().IntVar(&calcWindow, "window", 0, "predictions from the last N days (0 = all)")
	rootCmd.AddCommand(calculateCmd)
}

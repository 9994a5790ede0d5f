package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/signal-outcomes/internal/model"
	"github.com/sells-group/signal-outcomes/internal/report"
)

var (
	reportSince       string
	reportUntil       string
	reportHorizon     int
	reportSymbol      string
	reportFormat      string
	reportMinOutcomes int
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize prediction accuracy and P&L",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		opts, err := reportOptions(reportSince, reportUntil, reportSymbol, reportHorizon, reportMinOutcomes)
		if err != nil {
			return err
		}

		st, err := openStore(ctx, "report")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		r, err := report.Generate(ctx, st, opts)
		if err != nil {
			return err
		}
		return report.Write(cmd.OutOrStdout(), r, reportFormat)
	},
}

// reportOptions merges explicit values with the report config. Zero values
// fall back to config.
func reportOptions(since, until, symbol string, horizon, minOutcomes int) (report.Options, error) {
	opts := report.Options{
		Symbol:          model.NormalizeSymbol(symbol),
		Horizon:         cfg.Report.Horizon,
		MinOutcomes:     cfg.Report.MinOutcomes,
		ConfidenceEdges: cfg.Report.ConfidenceEdges,
	}
	if horizon > 0 {
		opts.Horizon = horizon
	}
	if minOutcomes > 0 {
		opts.MinOutcomes = minOutcomes
	}
	if !validHorizon(opts.Horizon) {
		return opts, fmt.Errorf("horizon must be one of %v, got %d", model.HorizonDays, opts.Horizon)
	}

	if since != "" {
		d, err := model.ParseDate(since)
		if err != nil {
			return opts, fmt.Errorf("parse since: %w", err)
		}
		opts.Since = d
	}
	if until != "" {
		d, err := model.ParseDate(until)
		if err != nil {
			return opts, fmt.Errorf("parse until: %w", err)
		}
		opts.Until = d
	}
	return opts, nil
}

func validHorizon(days int) bool {
	for _, d := range model.HorizonDays {
		if d == days {
			return true
		}
	}
	return false
}

func init() {
	reportCmd.Flags().StringVar(&reportSince, "since", "", "predictions on or after this date (YYYY-MM-DD)")
	reportCmd.Flags().StringVar(&reportUntil, "until", "", "predictions before this date (YYYY-MM-DD)")
	reportCmd.Flags().IntVar(&reportHorizon, "horizon", 0, "horizon in days: 1, 3, 7 or 30 (default report.horizon)")
	reportCmd.Flags().StringVar(&reportSymbol, "symbol", "", "restrict to one symbol")
	reportCmd.Flags().StringVar(&reportFormat, "format", report.FormatTable, "output format: table, json or yaml")
	reportCmd.Flags().IntVar(&reportMinOutcomes, "min-outcomes", 0, "evaluated outcomes needed before the report is not flagged sparse")
	rootCmd.AddCommand(reportCmd)
}

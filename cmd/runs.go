package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/signal-outcomes/internal/model"
	"github.com/sells-group/signal-outcomes/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect the run log",
}

var (
	runsKind   string
	runsStatus string
	runsLimit  int
)

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent backfill, calculate and pipeline runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "report")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Kind:   model.RunKind(runsKind),
			Status: model.RunStatus(runsStatus),
			Limit:  runsLimit,
		})
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}

		return formatRunsList(cmd.OutOrStdout(), runs)
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show details for a single run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "report")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return fmt.Errorf("get run: %w", err)
		}

		formatRunDetail(cmd.OutOrStdout(), run)
		return nil
	},
}

func formatRunsList(out io.Writer, runs []model.Run) error {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tSTATUS\tSTARTED\tDURATION")
	for _, r := range runs {
		duration := "-"
		if r.CompletedAt != nil {
			duration = r.Duration().Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Kind,
			r.Status,
			r.StartedAt.Format("2006-01-02 15:04:05"),
			duration,
		)
	}
	return w.Flush()
}

func formatRunDetail(out io.Writer, run *model.Run) {
	fmt.Fprintf(out, "Run:       %s\n", run.ID)
	fmt.Fprintf(out, "Kind:      %s\n", run.Kind)
	fmt.Fprintf(out, "Status:    %s\n", run.Status)
	fmt.Fprintf(out, "Started:   %s\n", run.StartedAt.Format(time.RFC3339))
	if run.CompletedAt != nil {
		fmt.Fprintf(out, "Completed: %s\n", run.CompletedAt.Format(time.RFC3339))
		fmt.Fprintf(out, "Duration:  %s\n", run.Duration().Round(time.Millisecond))
	}
	if run.Error != "" {
		fmt.Fprintf(out, "Error:     %s\n", run.Error)
	}

	if len(run.Summary) > 0 {
		fmt.Fprintln(out, "\nSummary:")
		keys := make([]string, 0, len(run.Summary))
		for k := range run.Summary {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(out, "  %-14s %v\n", k+":", run.Summary[k])
		}
	}
}

// truncateID shortens a UUID to its first 8 characters for table display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	runsListCmd.Flags().StringVar(&runsKind, "kind", "", "filter by kind (backfill, calculate, pipeline)")
	runsListCmd.Flags().StringVar(&runsStatus, "status", "", "filter by status (running, complete, partial, failed)")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "max results")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

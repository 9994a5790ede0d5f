package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/signal-outcomes/internal/model"
)

var pricesCmd = &cobra.Command{
	Use:   "prices",
	Short: "Query stored daily prices",
}

var pricesLookback int

var pricesGetCmd = &cobra.Command{
	Use:   "get <symbol> <date>",
	Short: "Resolve the close for a date, falling back to the nearest prior trading day",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		date, err := model.ParseDate(args[1])
		if err != nil {
			return fmt.Errorf("parse date: %w", err)
		}
		lookback := cfg.Prices.LookbackDays
		if cmd.Flags().Changed("lookback") {
			lookback = pricesLookback
		}

		st, err := openStore(ctx, "report")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		l, err := st.GetPrice(ctx, model.NormalizeSymbol(args[0]), date, lookback)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Symbol:    %s\n", l.Symbol)
		fmt.Fprintf(out, "Requested: %s\n", model.FormatDate(l.Requested))
		fmt.Fprintf(out, "Status:    %s\n", l.Status)
		if l.Bar != nil {
			fmt.Fprintf(out, "Bar date:  %s\n", model.FormatDate(l.Bar.Date))
			fmt.Fprintf(out, "Close:     %s\n", formatPrice(l.Bar.Close))
		}
		return nil
	},
}

var pricesRangeCmd = &cobra.Command{
	Use:   "range <symbol> <start> <end>",
	Short: "List stored bars for an inclusive date range",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		start, err := model.ParseDate(args[1])
		if err != nil {
			return fmt.Errorf("parse start: %w", err)
		}
		end, err := model.ParseDate(args[2])
		if err != nil {
			return fmt.Errorf("parse end: %w", err)
		}
		if end.Before(start) {
			return fmt.Errorf("end %s is before start %s", args[2], args[1])
		}

		st, err := openStore(ctx, "report")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		bars, err := st.GetRange(ctx, model.NormalizeSymbol(args[0]), start, end)
		if err != nil {
			return err
		}
		return writeBars(cmd.OutOrStdout(), bars)
	},
}

func writeBars(out io.Writer, bars []model.PriceBar) error {
	if len(bars) == 0 {
		fmt.Fprintln(out, "No bars found.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tOPEN\tHIGH\tLOW\tCLOSE\tVOLUME\tSOURCE")
	for _, b := range bars {
		fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%.2f\t%s\t%d\t%s\n",
			model.FormatDate(b.Date), b.Open, b.High, b.Low, formatPrice(b.Close), b.Volume, b.Source)
	}
	return w.Flush()
}

func formatPrice(v *float64) string {
	if v == nil {
		return "null"
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

func init() {
	pricesGetCmd.Flags().IntVar(&pricesLookback, "lookback", 0, "max calendar days to look back (default prices.lookback_days)")
	pricesCmd.AddCommand(pricesGetCmd)
	pricesCmd.AddCommand(pricesRangeCmd)
	rootCmd.AddCommand(pricesCmd)
}

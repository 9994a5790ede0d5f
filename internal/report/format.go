package report

import (
	"encoding/json"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"
)

// Formats accepted by Write.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// Write renders r in the named format.
func Write(w io.Writer, r *Report, format string) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(r), "report: encode json")
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return eris.Wrap(err, "report: encode yaml")
		}
		return eris.Wrap(enc.Close(), "report: flush yaml")
	case FormatTable, "":
		return WriteTable(w, r)
	default:
		return eris.Errorf("report: unknown format %q", format)
	}
}

// WriteTable renders r as aligned text tables with grouped numbers.
func WriteTable(out io.Writer, r *Report) error {
	p := message.NewPrinter(language.English)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	window := r.Since + " .. " + r.Until
	if r.Since == "" && r.Until == "" {
		window = "all time"
	}
	p.Fprintf(w, "Window:\t%s\n", window)
	p.Fprintf(w, "Horizon:\tT+%d\n", r.Horizon)
	p.Fprintf(w, "Outcomes:\t%d (%d pending)\n", r.Outcomes, r.Pending)
	p.Fprintf(w, "Accuracy:\t%s (%d/%d)\n", pct(r.Overall.Accuracy), r.Overall.Correct, r.Overall.Evaluated)
	p.Fprintf(w, "P&L:\t$%.2f\n", r.Overall.PnL)
	if r.Sparse {
		p.Fprintf(w, "Warning:\tsparse data, %s\n", r.SparseReason)
	}
	p.Fprintln(w)

	p.Fprintln(w, "CONFIDENCE\tEVALUATED\tCORRECT\tACCURACY\tP&L")
	for _, b := range r.ByConfidence {
		p.Fprintf(w, "%s\t%d\t%d\t%s\t$%.2f\n", b.Label, b.Evaluated, b.Correct, pct(b.Accuracy), b.PnL)
	}
	p.Fprintln(w)

	p.Fprintln(w, "ASSET\tEVALUATED\tCORRECT\tACCURACY\tP&L")
	for _, a := range r.ByAsset {
		p.Fprintf(w, "%s\t%d\t%d\t%s\t$%.2f\n", a.Symbol, a.Evaluated, a.Correct, pct(a.Accuracy), a.PnL)
	}
	p.Fprintln(w)

	p.Fprintln(w, "DATE\tP&L\tCUMULATIVE")
	for _, pt := range r.Cumulative {
		p.Fprintf(w, "%s\t$%.2f\t$%.2f\n", pt.Date, pt.PnL, pt.Cumulative)
	}
	return eris.Wrap(w.Flush(), "report: flush table")
}

func pct(v *float64) string {
	if v == nil {
		return "pending"
	}
	return message.NewPrinter(language.English).Sprintf("%.1f%%", *v*100)
}

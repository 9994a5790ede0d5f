// Package report aggregates outcomes into accuracy and P&L views.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/signal-outcomes/internal/model"
)

// Source reads outcomes.
type Source interface {
	ListOutcomes(ctx context.Context, filter model.OutcomeFilter) ([]model.Outcome, error)
}

// Options select the reporting window and aggregation knobs.
type Options struct {
	Since           time.Time
	Until           time.Time
	Symbol          string
	Horizon         int
	MinOutcomes     int
	ConfidenceEdges []float64
}

// Tally is an accuracy and P&L aggregate. Accuracy is nil when nothing was
// evaluated.
type Tally struct {
	Evaluated int      `json:"evaluated" yaml:"evaluated"`
	Correct   int      `json:"correct" yaml:"correct"`
	Accuracy  *float64 `json:"accuracy" yaml:"accuracy"`
	PnL       float64  `json:"pnl" yaml:"pnl"`

	pnl decimal.Decimal
}

func (t *Tally) add(h model.HorizonResult) {
	t.Evaluated++
	if *h.Correct {
		t.Correct++
	}
	if h.PnL != nil {
		t.pnl = t.pnl.Add(decimal.NewFromFloat(*h.PnL))
	}
}

func (t *Tally) finish() {
	t.PnL = t.pnl.Round(2).InexactFloat64()
	if t.Evaluated > 0 {
		acc := decimal.NewFromInt(int64(t.Correct)).Div(decimal.NewFromInt(int64(t.Evaluated))).Round(4).InexactFloat64()
		t.Accuracy = &acc
	}
}

// ConfidenceBucket is the tally for predictions with confidence in [Min, Max).
// The top bucket includes Max.
type ConfidenceBucket struct {
	Label string  `json:"label" yaml:"label"`
	Min   float64 `json:"min" yaml:"min"`
	Max   float64 `json:"max" yaml:"max"`
	Tally `yaml:",inline"`
}

// AssetTally is the tally for one symbol.
type AssetTally struct {
	Symbol string `json:"symbol" yaml:"symbol"`
	Tally  `yaml:",inline"`
}

// PnLPoint is the P&L of the outcomes predicted on Date and the running total.
type PnLPoint struct {
	Date       string  `json:"date" yaml:"date"`
	PnL        float64 `json:"pnl" yaml:"pnl"`
	Cumulative float64 `json:"cumulative" yaml:"cumulative"`
}

// Report is the aggregate view of one horizon over a window.
type Report struct {
	Since        string             `json:"since,omitempty" yaml:"since,omitempty"`
	Until        string             `json:"until,omitempty" yaml:"until,omitempty"`
	Horizon      int                `json:"horizon" yaml:"horizon"`
	Outcomes     int                `json:"outcomes" yaml:"outcomes"`
	Pending      int                `json:"pending" yaml:"pending"`
	Overall      Tally              `json:"overall" yaml:"overall"`
	ByConfidence []ConfidenceBucket `json:"by_confidence" yaml:"by_confidence"`
	ByAsset      []AssetTally       `json:"by_asset" yaml:"by_asset"`
	Cumulative   []PnLPoint         `json:"cumulative_pnl" yaml:"cumulative_pnl"`
	Sparse       bool               `json:"sparse" yaml:"sparse"`
	SparseReason string             `json:"sparse_reason,omitempty" yaml:"sparse_reason,omitempty"`
}

// Generate loads outcomes for the window and builds the report.
func Generate(ctx context.Context, src Source, opts Options) (*Report, error) {
	outcomes, err := src.ListOutcomes(ctx, model.OutcomeFilter{
		Since:  opts.Since,
		Until:  opts.Until,
		Symbol: opts.Symbol,
	})
	if err != nil {
		return nil, eris.Wrap(err, "report: list outcomes")
	}
	return Build(outcomes, opts), nil
}

// Build aggregates outcomes at opts.Horizon. Horizons without a correctness
// verdict are counted as pending and excluded from every tally.
func Build(outcomes []model.Outcome, opts Options) *Report {
	if opts.Horizon == 0 {
		opts.Horizon = 7
	}
	r := &Report{
		Horizon:      opts.Horizon,
		Outcomes:     len(outcomes),
		ByConfidence: newBuckets(opts.ConfidenceEdges),
	}
	if !opts.Since.IsZero() {
		r.Since = model.FormatDate(opts.Since)
	}
	if !opts.Until.IsZero() {
		r.Until = model.FormatDate(opts.Until)
	}

	assets := make(map[string]*AssetTally)
	daily := make(map[string]decimal.Decimal)

	for _, o := range outcomes {
		h := o.Horizon(opts.Horizon)
		if h.Correct == nil {
			r.Pending++
			continue
		}
		r.Overall.add(h)

		if b := bucketFor(r.ByConfidence, o.Confidence); b != nil {
			b.add(h)
		}

		a, ok := assets[o.Symbol]
		if !ok {
			a = &AssetTally{Symbol: o.Symbol}
			assets[o.Symbol] = a
		}
		a.add(h)

		if h.PnL != nil {
			d := model.FormatDate(o.PredictionDate)
			daily[d] = daily[d].Add(decimal.NewFromFloat(*h.PnL))
		}
	}

	r.Overall.finish()
	for i := range r.ByConfidence {
		r.ByConfidence[i].finish()
	}

	r.ByAsset = make([]AssetTally, 0, len(assets))
	for _, a := range assets {
		a.finish()
		r.ByAsset = append(r.ByAsset, *a)
	}
	sort.Slice(r.ByAsset, func(i, j int) bool {
		if r.ByAsset[i].Evaluated != r.ByAsset[j].Evaluated {
			return r.ByAsset[i].Evaluated > r.ByAsset[j].Evaluated
		}
		return r.ByAsset[i].Symbol < r.ByAsset[j].Symbol
	})

	r.Cumulative = cumulative(daily)

	if r.Overall.Evaluated < opts.MinOutcomes {
		r.Sparse = true
		r.SparseReason = fmt.Sprintf("%d evaluated outcomes at T+%d, fewer than %d", r.Overall.Evaluated, opts.Horizon, opts.MinOutcomes)
	}
	return r
}

func newBuckets(edges []float64) []ConfidenceBucket {
	bounds := []float64{0}
	for _, e := range edges {
		if e > bounds[len(bounds)-1] && e < 1 {
			bounds = append(bounds, e)
		}
	}
	bounds = append(bounds, 1)

	out := make([]ConfidenceBucket, 0, len(bounds)-1)
	for i := 0; i+1 < len(bounds); i++ {
		out = append(out, ConfidenceBucket{
			Label: fmt.Sprintf("%.2f-%.2f", bounds[i], bounds[i+1]),
			Min:   bounds[i],
			Max:   bounds[i+1],
		})
	}
	return out
}

func bucketFor(buckets []ConfidenceBucket, confidence float64) *ConfidenceBucket {
	for i := range buckets {
		b := &buckets[i]
		last := i == len(buckets)-1
		if confidence >= b.Min && (confidence < b.Max || (last && confidence <= b.Max)) {
			return b
		}
	}
	return nil
}

func cumulative(daily map[string]decimal.Decimal) []PnLPoint {
	dates := make([]string, 0, len(daily))
	for d := range daily {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	out := make([]PnLPoint, 0, len(dates))
	running := decimal.Zero
	for _, d := range dates {
		running = running.Add(daily[d])
		out = append(out, PnLPoint{
			Date:       d,
			PnL:        daily[d].Round(2).InexactFloat64(),
			Cumulative: running.Round(2).InexactFloat64(),
		})
	}
	return out
}

package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/signal-outcomes/internal/model"
)

const defaultListLimit = 100

var barColumns = []string{
	"symbol", "date", "open", "high", "low", "close",
	"volume", "adjusted_close", "source", "fetched_at",
}

// outcomeColumns lists the outcomes columns in scan order. The horizon
// columns follow model.HorizonDays.
func outcomeColumns() []string {
	cols := []string{
		"prediction_id", "symbol", "prediction_date", "sentiment",
		"confidence", "price_at_prediction",
	}
	for _, d := range model.HorizonDays {
		cols = append(cols,
			fmt.Sprintf("price_t%d", d),
			fmt.Sprintf("return_t%d", d),
			fmt.Sprintf("correct_t%d", d),
			fmt.Sprintf("pnl_t%d", d),
		)
	}
	return append(cols, "is_complete", "created_at", "updated_at")
}

// outcomeUpdateColumns are the columns replaced on conflict.
func outcomeUpdateColumns() []string {
	var out []string
	for _, c := range outcomeColumns() {
		switch c {
		case "prediction_id", "symbol", "created_at":
		default:
			out = append(out, c)
		}
	}
	return out
}

// horizonArgs flattens the horizon results of o in column order.
func horizonArgs(o *model.Outcome) []any {
	args := make([]any, 0, 4*len(model.HorizonDays))
	for _, d := range model.HorizonDays {
		h := o.Horizon(d)
		args = append(args, h.Price, h.Return, h.Correct, h.PnL)
	}
	return args
}

// horizonTargets returns scan targets for the horizon columns and a
// function that copies the scanned values into o.
func horizonTargets(o *model.Outcome) ([]any, func()) {
	hs := model.NewHorizons()
	targets := make([]any, 0, 4*len(hs))
	for i := range hs {
		targets = append(targets, &hs[i].Price, &hs[i].Return, &hs[i].Correct, &hs[i].PnL)
	}
	return targets, func() { o.Horizons = hs }
}

type assetRow struct {
	Asset     string  `json:"asset"`
	Sentiment *string `json:"sentiment"`
}

// decodeAssets parses the predictions.assets JSON array, dropping entries
// without an asset or with a null sentiment.
func decodeAssets(raw []byte) ([]model.AssetSentiment, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var rows []assetRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, eris.Wrap(err, "store: decode prediction assets")
	}
	out := make([]model.AssetSentiment, 0, len(rows))
	for _, r := range rows {
		if r.Sentiment == nil || strings.TrimSpace(*r.Sentiment) == "" || strings.TrimSpace(r.Asset) == "" {
			continue
		}
		s, ok := model.ParseSentiment(*r.Sentiment)
		if !ok {
			// Unknown labels are kept verbatim so the calculator can count them.
			s = model.Sentiment(strings.TrimSpace(*r.Sentiment))
		}
		out = append(out, model.AssetSentiment{Asset: model.NormalizeSymbol(r.Asset), Sentiment: s})
	}
	return out, nil
}

func encodeAssets(assets []model.AssetSentiment) ([]byte, error) {
	b, err := json.Marshal(assets)
	if err != nil {
		return nil, eris.Wrap(err, "store: encode prediction assets")
	}
	return b, nil
}

func encodeSummary(summary map[string]any) ([]byte, error) {
	if summary == nil {
		return nil, nil
	}
	b, err := json.Marshal(summary)
	if err != nil {
		return nil, eris.Wrap(err, "store: encode run summary")
	}
	return b, nil
}

func decodeSummary(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, eris.Wrap(err, "store: decode run summary")
	}
	return m, nil
}

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

type scannable interface {
	Scan(dest ...any) error
}

package model

import "time"

// HorizonDays are the calendar-day offsets an outcome is evaluated at.
var HorizonDays = []int{1, 3, 7, 30}

// FinalHorizon is the horizon whose resolution completes an outcome.
const FinalHorizon = 30

// HorizonResult holds one horizon's evaluation. Nil fields mean the horizon is
// not yet due or its price is still pending.
type HorizonResult struct {
	Days    int      `json:"days"`
	Price   *float64 `json:"price"`
	Return  *float64 `json:"return_pct"`
	Correct *bool    `json:"correct"`
	PnL     *float64 `json:"pnl"`
}

// Resolved reports whether the horizon has a price.
func (h HorizonResult) Resolved() bool {
	return h.Price != nil
}

// Outcome is the evaluation of one (prediction, asset) pair.
type Outcome struct {
	PredictionID      string          `json:"prediction_id"`
	Symbol            string          `json:"symbol"`
	PredictionDate    time.Time       `json:"prediction_date"`
	Sentiment         Sentiment       `json:"sentiment"`
	Confidence        float64         `json:"confidence"`
	PriceAtPrediction float64         `json:"price_at_prediction"`
	Horizons          []HorizonResult `json:"horizons"`
	IsComplete        bool            `json:"is_complete"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// NewHorizons returns an empty result per horizon, ordered like HorizonDays.
func NewHorizons() []HorizonResult {
	out := make([]HorizonResult, len(HorizonDays))
	for i, d := range HorizonDays {
		out[i] = HorizonResult{Days: d}
	}
	return out
}

// Horizon returns the result for the given offset, or a zero result with
// Days set when the outcome does not carry it.
func (o *Outcome) Horizon(days int) HorizonResult {
	for _, h := range o.Horizons {
		if h.Days == days {
			return h
		}
	}
	return HorizonResult{Days: days}
}

// SetHorizon replaces the result for h.Days, appending if absent.
func (o *Outcome) SetHorizon(h HorizonResult) {
	for i := range o.Horizons {
		if o.Horizons[i].Days == h.Days {
			o.Horizons[i] = h
			return
		}
	}
	o.Horizons = append(o.Horizons, h)
}

// OutcomeFilter selects outcomes for reporting.
type OutcomeFilter struct {
	Since    time.Time
	Until    time.Time
	Symbol   string
	Complete *bool
	Limit    int
}

// Bool returns a pointer to v.
func Bool(v bool) *bool {
	return &v
}

// Package outcome evaluates predictions against realized prices.
package outcome

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signal-outcomes/internal/config"
	"github.com/sells-group/signal-outcomes/internal/model"
	"github.com/sells-group/signal-outcomes/internal/resilience"
	"github.com/sells-group/signal-outcomes/internal/store"
)

// Store is the persistence the calculator needs.
type Store interface {
	GetPrice(ctx context.Context, symbol string, date time.Time, lookbackDays int) (*model.PriceLookup, error)
	store.PredictionSource
	store.OutcomeStore
}

// Request scopes a calculation run. Predictions with incomplete outcomes are
// always included, whatever the window.
type Request struct {
	Since time.Time
	Until time.Time
	Force bool
}

// PairError describes a (prediction, asset) pair that could not be evaluated.
type PairError struct {
	PredictionID string          `json:"prediction_id"`
	Symbol       string          `json:"symbol"`
	Kind         resilience.Kind `json:"kind"`
	Error        string          `json:"error"`
}

// Summary counts what a run did.
type Summary struct {
	Predictions int         `json:"predictions"`
	Created     int         `json:"created"`
	Updated     int         `json:"updated"`
	Skipped     int         `json:"skipped"`
	Failed      int         `json:"failed"`
	Errors      []PairError `json:"errors,omitempty"`
}

// Map flattens the summary for the run log.
func (s *Summary) Map() map[string]any {
	m := map[string]any{
		"predictions": s.Predictions,
		"created":     s.Created,
		"updated":     s.Updated,
		"skipped":     s.Skipped,
		"failed":      s.Failed,
	}
	if len(s.Errors) > 0 {
		m["errors"] = s.Errors
	}
	return m
}

// Calculator computes and persists outcomes.
type Calculator struct {
	store        Store
	params       Params
	graceDays    int
	lookbackDays int
	nowFunc      func() time.Time
}

// NewCalculator creates a Calculator.
func NewCalculator(st Store, cfg config.OutcomeConfig, lookbackDays int) *Calculator {
	if cfg.Notional <= 0 {
		cfg.Notional = 1000
	}
	return &Calculator{
		store:        st,
		params:       Params{Notional: cfg.Notional, DeadZonePct: cfg.DeadZonePct},
		graceDays:    max(cfg.CompletionGraceDays, 0),
		lookbackDays: max(lookbackDays, 0),
		nowFunc:      time.Now,
	}
}

// WithClock replaces the clock used to decide which horizons are due.
func (c *Calculator) WithClock(now func() time.Time) *Calculator {
	c.nowFunc = now
	return c
}

func (c *Calculator) today() time.Time {
	return model.Day(c.nowFunc())
}

// PairStatus is what EvaluatePair did with a pair.
type PairStatus int

const (
	PairCreated PairStatus = iota
	PairUpdated
	PairSkipped
)

// Run evaluates every eligible (prediction, asset) pair. Pair failures are
// logged and counted; the error is for loading predictions and cancellation.
func (c *Calculator) Run(ctx context.Context, req Request) (*Summary, error) {
	preds, err := c.eligible(ctx, req)
	if err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("component", "outcome"))
	log.Info("calculation starting", zap.Int("predictions", len(preds)), zap.Bool("force", req.Force))
	start := time.Now()

	sum := &Summary{Predictions: len(preds)}
	for _, p := range preds {
		for _, a := range p.Assets {
			if err := ctx.Err(); err != nil {
				return sum, eris.Wrap(err, "outcome: run cancelled")
			}
			status, err := c.EvaluatePair(ctx, p, a, req.Force)
			if err != nil {
				kind := resilience.KindOf(err)
				log.Warn("pair evaluation failed",
					zap.String("prediction_id", p.ID),
					zap.String("symbol", a.Asset),
					zap.String("kind", string(kind)),
					zap.Error(err),
				)
				sum.Failed++
				sum.Errors = append(sum.Errors, PairError{
					PredictionID: p.ID,
					Symbol:       a.Asset,
					Kind:         kind,
					Error:        err.Error(),
				})
				continue
			}
			switch status {
			case PairCreated:
				sum.Created++
			case PairUpdated:
				sum.Updated++
			case PairSkipped:
				sum.Skipped++
			}
		}
	}

	log.Info("calculation complete",
		zap.Int("created", sum.Created),
		zap.Int("updated", sum.Updated),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed),
		zap.Duration("elapsed", time.Since(start)),
	)
	return sum, nil
}

// eligible returns predictions in the window plus predictions that still
// have an incomplete outcome, each once.
func (c *Calculator) eligible(ctx context.Context, req Request) ([]model.Prediction, error) {
	preds, err := c.store.ListPredictions(ctx, store.PredictionFilter{Since: req.Since, Until: req.Until})
	if err != nil {
		return nil, eris.Wrap(err, "outcome: list predictions")
	}
	seen := make(map[string]bool, len(preds))
	for _, p := range preds {
		seen[p.ID] = true
	}

	ids, err := c.store.IncompletePredictionIDs(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "outcome: list incomplete outcomes")
	}
	var missing []string
	for _, id := range ids {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return preds, nil
	}

	extra, err := c.store.ListPredictions(ctx, store.PredictionFilter{IDs: missing})
	if err != nil {
		return nil, eris.Wrap(err, "outcome: list predictions with incomplete outcomes")
	}
	return append(preds, extra...), nil
}

// EvaluatePair computes and upserts the outcome for one asset of p.
func (c *Calculator) EvaluatePair(ctx context.Context, p model.Prediction, a model.AssetSentiment, force bool) (PairStatus, error) {
	symbol := model.NormalizeSymbol(a.Asset)
	log := zap.L().With(zap.String("component", "outcome"), zap.String("prediction_id", p.ID), zap.String("symbol", symbol))

	sentiment, ok := model.ParseSentiment(string(a.Sentiment))
	if !ok {
		return 0, resilience.Errorf(resilience.KindComputationError, "outcome: unknown sentiment %q", a.Sentiment)
	}

	existing, err := c.store.GetOutcome(ctx, p.ID, symbol)
	if err != nil {
		return 0, eris.Wrap(err, "outcome: read existing outcome")
	}
	if existing != nil && existing.IsComplete && !force {
		return PairSkipped, nil
	}

	predDate := p.Date()
	base, err := c.store.GetPrice(ctx, symbol, predDate, c.lookbackDays)
	if err != nil {
		return 0, eris.Wrap(err, "outcome: base price")
	}
	switch base.Status {
	case model.LookupUnavailable:
		log.Debug("base price unavailable, retrying next run")
		return PairSkipped, nil
	case model.LookupNullClose:
		return 0, resilience.WithKind(resilience.KindComputationError, eris.Wrapf(errNullClose, "outcome: base bar %s", model.FormatDate(base.Bar.Date)))
	}
	if base.Price() <= 0 {
		return 0, resilience.Errorf(resilience.KindComputationError, "outcome: base price %v is not positive", base.Price())
	}

	o := &model.Outcome{
		PredictionID:      p.ID,
		Symbol:            symbol,
		PredictionDate:    predDate,
		Sentiment:         sentiment,
		Confidence:        p.Confidence,
		PriceAtPrediction: base.Price(),
		Horizons:          model.NewHorizons(),
	}
	if existing != nil {
		o.CreatedAt = existing.CreatedAt
	}

	today := c.today()
	for _, h := range model.HorizonDays {
		target := model.AddDays(predDate, h)
		if target.After(today) {
			continue
		}
		res, err := c.horizon(ctx, symbol, h, target, sentiment, base)
		if err != nil {
			return 0, err
		}
		o.SetHorizon(res)
	}
	o.IsComplete = c.complete(o, today)

	created, err := c.store.UpsertOutcome(ctx, o)
	if err != nil {
		return 0, eris.Wrap(err, "outcome: upsert")
	}
	if created {
		return PairCreated, nil
	}
	return PairUpdated, nil
}

// horizon resolves one due horizon. A missing or null-close bar leaves the
// horizon pending.
func (c *Calculator) horizon(ctx context.Context, symbol string, days int, target time.Time, s model.Sentiment, base *model.PriceLookup) (model.HorizonResult, error) {
	l, err := c.store.GetPrice(ctx, symbol, target, c.lookbackDays)
	if err != nil {
		return model.HorizonResult{Days: days}, eris.Wrapf(err, "outcome: price at T+%d", days)
	}
	if !l.Found() || l.Bar.Date.Before(base.Bar.Date) {
		if l.Status == model.LookupNullClose {
			zap.L().Warn("outcome: horizon bar has a null close",
				zap.String("symbol", symbol),
				zap.Int("days", days),
				zap.String("date", model.FormatDate(l.Bar.Date)),
			)
		}
		return model.HorizonResult{Days: days}, nil
	}
	return Evaluate(days, s, base.Price(), l.Price(), c.params)
}

// complete reports whether o will never change again: the final horizon is
// resolved, or it has stayed pending past the grace period.
func (c *Calculator) complete(o *model.Outcome, today time.Time) bool {
	final := model.AddDays(o.PredictionDate, model.FinalHorizon)
	if final.After(today) {
		return false
	}
	if o.Horizon(model.FinalHorizon).Resolved() {
		return true
	}
	return today.After(model.AddDays(final, c.graceDays))
}

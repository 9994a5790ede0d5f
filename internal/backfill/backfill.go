// Package backfill pulls missing daily price history for the symbols
// referenced by predictions.
package backfill

import (
	"context"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/signal-outcomes/internal/config"
	"github.com/sells-group/signal-outcomes/internal/marketdata"
	"github.com/sells-group/signal-outcomes/internal/model"
	"github.com/sells-group/signal-outcomes/internal/resilience"
	"github.com/sells-group/signal-outcomes/internal/store"
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9.^=-]+$`)

// Store is the persistence the backfill needs.
type Store interface {
	store.PriceStore
	store.PredictionSource
	store.FailureStore
	IncompletePredictionIDs(ctx context.Context) ([]string, error)
}

// Request scopes a backfill run.
type Request struct {
	// Symbols overrides discovery when non-empty.
	Symbols []string
	// Since limits discovery to predictions made at or after it. Zero means
	// every completed prediction.
	Since time.Time
	// Force refetches whole ranges and retries permanently failed symbols.
	Force bool
	// IncludeIncomplete adds the symbols of predictions that still have an
	// incomplete outcome, whatever their date, so later horizons of older
	// predictions keep receiving prices.
	IncludeIncomplete bool
}

// Failure describes one symbol that did not backfill.
type Failure struct {
	Symbol string            `json:"symbol"`
	Kind   model.FailureKind `json:"kind"`
	Error  string            `json:"error"`
}

// Summary reports what a run did.
type Summary struct {
	Requested   int       `json:"requested"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	Skipped     int       `json:"skipped"`
	BarsWritten int64     `json:"bars_written"`
	Failures    []Failure `json:"failures,omitempty"`
}

// Map flattens the summary for the run log.
func (s *Summary) Map() map[string]any {
	m := map[string]any{
		"requested":    s.Requested,
		"succeeded":    s.Succeeded,
		"failed":       s.Failed,
		"skipped":      s.Skipped,
		"bars_written": s.BarsWritten,
	}
	if len(s.Failures) > 0 {
		m["failures"] = s.Failures
	}
	return m
}

// Service runs backfills against one provider.
type Service struct {
	store        Store
	provider     marketdata.Provider
	cfg          config.BackfillConfig
	lookbackDays int
	nowFunc      func() time.Time
}

// New creates a Service. lookbackDays extends every range backwards so the
// nearest-prior-day lookup has a bar to fall back on.
func New(st Store, p marketdata.Provider, cfg config.BackfillConfig, lookbackDays int) *Service {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 2
	}
	if cfg.MaxNoDataAttempts < 1 {
		cfg.MaxNoDataAttempts = 3
	}
	if cfg.MaxSymbolLength < 1 {
		cfg.MaxSymbolLength = 10
	}
	if cfg.IncrementalDays < 1 {
		cfg.IncrementalDays = 45
	}
	return &Service{
		store:        st,
		provider:     p,
		cfg:          cfg,
		lookbackDays: max(lookbackDays, 0),
		nowFunc:      time.Now,
	}
}

// WithClock replaces the clock used to decide "today".
func (s *Service) WithClock(now func() time.Time) *Service {
	s.nowFunc = now
	return s
}

func (s *Service) today() time.Time {
	return model.Day(s.nowFunc())
}

// ValidateSymbol reports why symbol cannot be sent to a provider, or nil.
func ValidateSymbol(symbol string, maxLen int) error {
	switch {
	case symbol == "":
		return resilience.Errorf(resilience.KindInvalidSymbol, "backfill: blank symbol")
	case len(symbol) > maxLen:
		return resilience.Errorf(resilience.KindInvalidSymbol, "backfill: symbol %q longer than %d characters", symbol, maxLen)
	case !symbolPattern.MatchString(symbol):
		return resilience.Errorf(resilience.KindInvalidSymbol, "backfill: symbol %q has unsupported characters", symbol)
	}
	return nil
}

// Run backfills every requested or discovered symbol. Per-symbol problems
// are counted in the summary; the error is for discovery failures and
// cancellation.
func (s *Service) Run(ctx context.Context, req Request) (*Summary, error) {
	ranges, err := s.plan(ctx, req)
	if err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(ranges))
	for sym := range ranges {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	log := zap.L().With(zap.String("component", "backfill"), zap.String("provider", s.provider.Name()))
	log.Info("backfill starting", zap.Int("symbols", len(symbols)), zap.Bool("force", req.Force))
	start := time.Now()

	sum := &Summary{Requested: len(symbols)}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for _, sym := range symbols {
		from := ranges[sym]
		g.Go(func() error {
			res := s.backfillSymbol(ctx, sym, from, req.Force)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case res.skipped:
				sum.Skipped++
			case res.failure != nil:
				sum.Failed++
				sum.Failures = append(sum.Failures, *res.failure)
			default:
				sum.Succeeded++
				sum.BarsWritten += res.written
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(sum.Failures, func(i, j int) bool { return sum.Failures[i].Symbol < sum.Failures[j].Symbol })

	log.Info("backfill complete",
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
		zap.Int("skipped", sum.Skipped),
		zap.Int64("bars_written", sum.BarsWritten),
		zap.Duration("elapsed", time.Since(start)),
	)

	if err := ctx.Err(); err != nil {
		return sum, eris.Wrap(err, "backfill: run cancelled")
	}
	return sum, nil
}

// plan maps each symbol to the first date it needs history from.
func (s *Service) plan(ctx context.Context, req Request) (map[string]time.Time, error) {
	preds, err := s.store.ListPredictions(ctx, store.PredictionFilter{Since: req.Since})
	if err != nil {
		return nil, eris.Wrap(err, "backfill: discover symbols")
	}
	if req.IncludeIncomplete && len(req.Symbols) == 0 {
		extra, err := s.incompletePredictions(ctx, preds)
		if err != nil {
			return nil, err
		}
		preds = append(preds, extra...)
	}

	earliest := make(map[string]time.Time)
	for _, p := range preds {
		d := p.Date()
		for _, a := range p.Assets {
			sym := model.NormalizeSymbol(a.Asset)
			if cur, ok := earliest[sym]; !ok || d.Before(cur) {
				earliest[sym] = d
			}
		}
	}

	ranges := make(map[string]time.Time)
	if len(req.Symbols) > 0 {
		fallback := model.AddDays(s.today(), -s.cfg.IncrementalDays)
		for _, raw := range req.Symbols {
			sym := model.NormalizeSymbol(raw)
			from, ok := earliest[sym]
			if !ok {
				from = fallback
			}
			ranges[sym] = model.AddDays(from, -s.lookbackDays)
		}
		return ranges, nil
	}

	for sym, d := range earliest {
		ranges[sym] = model.AddDays(d, -s.lookbackDays)
	}
	return ranges, nil
}

// incompletePredictions lists predictions with an incomplete outcome that
// are not already in have.
func (s *Service) incompletePredictions(ctx context.Context, have []model.Prediction) ([]model.Prediction, error) {
	ids, err := s.store.IncompletePredictionIDs(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "backfill: list incomplete outcomes")
	}
	seen := make(map[string]bool, len(have))
	for _, p := range have {
		seen[p.ID] = true
	}
	var missing []string
	for _, id := range ids {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}
	preds, err := s.store.ListPredictions(ctx, store.PredictionFilter{IDs: missing})
	if err != nil {
		return nil, eris.Wrap(err, "backfill: list predictions with incomplete outcomes")
	}
	return preds, nil
}

type symbolResult struct {
	written int64
	skipped bool
	failure *Failure
}

func (s *Service) backfillSymbol(ctx context.Context, symbol string, from time.Time, force bool) symbolResult {
	log := zap.L().With(zap.String("component", "backfill"), zap.String("symbol", symbol))

	if !force && symbol != "" {
		prev, err := s.store.GetFailure(ctx, symbol)
		if err != nil {
			return s.fail(ctx, symbol, model.FailureProvider, err)
		}
		if prev != nil && prev.Permanent {
			log.Debug("skipping permanently failed symbol", zap.String("kind", string(prev.Kind)))
			return symbolResult{skipped: true}
		}
	}

	if err := ValidateSymbol(symbol, s.cfg.MaxSymbolLength); err != nil {
		log.Warn("invalid symbol", zap.Error(err))
		return s.fail(ctx, symbol, model.FailureInvalidSymbol, err)
	}

	if err := ctx.Err(); err != nil {
		return symbolResult{failure: &Failure{Symbol: symbol, Kind: model.FailureProvider, Error: err.Error()}}
	}

	symCtx := ctx
	if s.cfg.SymbolTimeoutSecs > 0 {
		var cancel context.CancelFunc
		symCtx, cancel = context.WithTimeout(ctx, time.Duration(s.cfg.SymbolTimeoutSecs)*time.Second)
		defer cancel()
	}

	end := s.today()
	cov, err := s.store.Coverage(symCtx, symbol)
	if err != nil {
		return s.fail(ctx, symbol, model.FailureProvider, err)
	}

	fetchedFrom, err := s.store.FetchedFrom(symCtx, symbol)
	if err != nil {
		return s.fail(ctx, symbol, model.FailureProvider, err)
	}

	var written int64
	var fetched int
	var headFetched bool
	for _, w := range missingWindows(cov, from, end, fetchedFrom, force) {
		bars, err := s.provider.FetchHistory(symCtx, symbol, w.start, w.end)
		if err != nil {
			kind := model.FailureProvider
			if resilience.KindOf(err) == resilience.KindInvalidSymbol {
				kind = model.FailureInvalidSymbol
			}
			log.Warn("fetch failed",
				zap.String("start", model.FormatDate(w.start)),
				zap.String("end", model.FormatDate(w.end)),
				zap.Error(err),
			)
			return s.fail(ctx, symbol, kind, err)
		}
		if w.start.Equal(model.Day(from)) {
			headFetched = true
		}
		if len(bars) == 0 {
			continue
		}
		fetched += len(bars)
		n, err := s.store.UpsertBars(symCtx, symbol, bars)
		if err != nil {
			return s.fail(ctx, symbol, model.FailureProvider, err)
		}
		written += n
	}

	if fetched == 0 && cov == nil {
		err := eris.Errorf("backfill: provider %s returned no bars for %s since %s", s.provider.Name(), symbol, model.FormatDate(from))
		log.Warn("no data", zap.Error(err))
		return s.fail(ctx, symbol, model.FailureNoData, err)
	}

	if headFetched {
		if err := s.store.MarkFetchedFrom(ctx, symbol, from); err != nil {
			log.Warn("record fetched-from date", zap.Error(err))
		}
	}
	if err := s.store.ClearFailure(ctx, symbol); err != nil {
		log.Warn("clear failure ledger entry", zap.Error(err))
	}
	log.Debug("symbol backfilled", zap.Int64("bars_written", written))
	return symbolResult{written: written}
}

// fail records a ledger entry and returns the matching result. Ledger writes
// use the parent context so a symbol timeout still gets recorded.
func (s *Service) fail(ctx context.Context, symbol string, kind model.FailureKind, cause error) symbolResult {
	res := symbolResult{failure: &Failure{Symbol: symbol, Kind: kind, Error: cause.Error()}}
	if symbol == "" || ctx.Err() != nil {
		return res
	}

	now := s.nowFunc().UTC()
	f := &model.SymbolFailure{
		Symbol:        symbol,
		Kind:          kind,
		Message:       cause.Error(),
		Attempts:      1,
		FirstFailedAt: now,
		LastFailedAt:  now,
	}
	prev, err := s.store.GetFailure(ctx, symbol)
	if err != nil {
		zap.L().Warn("backfill: read failure ledger", zap.String("symbol", symbol), zap.Error(err))
	}
	if prev != nil {
		f.FirstFailedAt = prev.FirstFailedAt
		if prev.Kind == kind {
			f.Attempts = prev.Attempts + 1
		}
	}
	f.Permanent = kind == model.FailureInvalidSymbol ||
		(kind == model.FailureNoData && f.Attempts >= s.cfg.MaxNoDataAttempts)

	if err := s.store.SaveFailure(ctx, f); err != nil {
		zap.L().Warn("backfill: save failure ledger", zap.String("symbol", symbol), zap.Error(err))
	}
	return res
}

type window struct {
	start, end time.Time
}

// missingWindows returns the ranges to fetch for [from, end] given what is
// stored. The tail window starts at the last stored bar so a partial bar for
// the most recent session is refreshed. The head window is skipped once the
// provider has been asked from fetchedFrom or earlier, since a symbol that
// started trading after from will never fill it.
func missingWindows(cov *model.Coverage, from, end, fetchedFrom time.Time, force bool) []window {
	from, end = model.Day(from), model.Day(end)
	if from.After(end) {
		return nil
	}
	if cov == nil || force {
		return []window{{start: from, end: end}}
	}

	var out []window
	headAsked := !fetchedFrom.IsZero() && !model.Day(fetchedFrom).After(from)
	if from.Before(cov.First) && !headAsked {
		out = append(out, window{start: from, end: model.AddDays(cov.First, -1)})
	}
	tail := cov.Last
	if tail.Before(from) {
		tail = from
	}
	if !tail.After(end) {
		out = append(out, window{start: tail, end: end})
	}
	return out
}

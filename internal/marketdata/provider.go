// Package marketdata fetches daily price history from external providers.
package marketdata

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signal-outcomes/internal/config"
	"github.com/sells-group/signal-outcomes/internal/fetcher"
	"github.com/sells-group/signal-outcomes/internal/model"
	"github.com/sells-group/signal-outcomes/internal/resilience"
)

// Provider returns daily bars for symbol with dates in [start, end]. An
// empty slice with a nil error means the provider has no data for the range.
type Provider interface {
	Name() string
	FetchHistory(ctx context.Context, symbol string, start, end time.Time) ([]model.PriceBar, error)
}

// New builds the configured provider wrapped with retries and a circuit
// breaker.
func New(cfg config.ProviderConfig) (Provider, error) {
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		Provider:       cfg.Name,
		Timeout:        time.Duration(cfg.TimeoutSecs) * time.Second,
		RequestsPerSec: cfg.RequestsPerSec,
	})
	aliases := NewAliases(cfg.SymbolAliases)

	var p Provider
	switch cfg.Name {
	case "yahoo", "":
		p = NewYahoo(f, cfg.BaseURL, aliases)
	case "twelvedata":
		if cfg.APIKey == "" {
			return nil, eris.New("marketdata: twelvedata requires an api key")
		}
		p = NewTwelveData(f, cfg.BaseURL, cfg.APIKey, aliases)
	default:
		return nil, eris.Errorf("marketdata: unknown provider %q", cfg.Name)
	}

	retry, cb := resilience.ProviderPolicies(cfg)
	return NewGuarded(p, retry, resilience.NewCircuitBreaker(cb)), nil
}

// Guarded adds retries and a circuit breaker around a Provider.
type Guarded struct {
	inner   Provider
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

// NewGuarded wraps p.
func NewGuarded(p Provider, retry resilience.RetryConfig, breaker *resilience.CircuitBreaker) *Guarded {
	return &Guarded{inner: p, retry: retry, breaker: breaker}
}

// Name returns the wrapped provider's name.
func (g *Guarded) Name() string { return g.inner.Name() }

// FetchHistory retries transient failures, then records the final result
// with the breaker. Errors from an open breaker or exhausted retries are
// tagged as provider outages.
func (g *Guarded) FetchHistory(ctx context.Context, symbol string, start, end time.Time) ([]model.PriceBar, error) {
	retry := g.retry
	retry.OnRetry = resilience.RetryLogger(g.inner.Name(), symbol)

	bars, err := resilience.ExecuteVal(ctx, g.breaker, func(ctx context.Context) ([]model.PriceBar, error) {
		return resilience.DoVal(ctx, retry, func(ctx context.Context) ([]model.PriceBar, error) {
			return g.inner.FetchHistory(ctx, symbol, start, end)
		})
	})
	if err != nil {
		if resilience.KindOf(err) == resilience.KindProviderUnavailable {
			return nil, resilience.WithKind(resilience.KindProviderUnavailable, err)
		}
		return nil, err
	}
	return bars, nil
}

// Aliases maps user-facing tickers to provider tickers.
type Aliases map[string]string

// NewAliases normalizes alias keys and values to upper case.
func NewAliases(m map[string]string) Aliases {
	a := make(Aliases, len(m))
	for k, v := range m {
		a[model.NormalizeSymbol(k)] = strings.TrimSpace(v)
	}
	return a
}

// Resolve returns the provider ticker for symbol.
func (a Aliases) Resolve(symbol string) string {
	s := model.NormalizeSymbol(symbol)
	if mapped, ok := a[s]; ok && mapped != "" {
		return mapped
	}
	return s
}

// clampBars keeps bars inside [start, end], drops duplicate dates keeping the
// last one seen, and sorts by date.
func clampBars(bars []model.PriceBar, start, end time.Time) []model.PriceBar {
	start, end = model.Day(start), model.Day(end)
	byDate := make(map[time.Time]int, len(bars))
	out := make([]model.PriceBar, 0, len(bars))
	for _, b := range bars {
		d := model.Day(b.Date)
		if d.Before(start) || d.After(end) {
			continue
		}
		b.Date = d
		if i, ok := byDate[d]; ok {
			out[i] = b
			continue
		}
		byDate[d] = len(out)
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	if len(out) < len(bars) {
		zap.L().Debug("marketdata: trimmed bars outside range",
			zap.Int("received", len(bars)),
			zap.Int("kept", len(out)),
		)
	}
	return out
}

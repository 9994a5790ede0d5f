package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/signal-outcomes/internal/backfill"
	"github.com/sells-group/signal-outcomes/internal/config"
	"github.com/sells-group/signal-outcomes/internal/model"
	"github.com/sells-group/signal-outcomes/internal/outcome"
)

// dailyProvider returns a bar for every weekday requested, closing at
// 100 + day of month.
type dailyProvider struct {
	mu    sync.Mutex
	calls int
}

func (p *dailyProvider) Name() string { return "daily" }

func (p *dailyProvider) FetchHistory(_ context.Context, symbol string, start, end time.Time) ([]model.PriceBar, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	var bars []model.PriceBar
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		c := 100 + float64(d.Day())
		bars = append(bars, model.PriceBar{Symbol: symbol, Date: d, Open: c, High: c, Low: c, Close: model.Float(c), Source: "daily"})
	}
	return bars, nil
}

func TestRunOnce_WindowShorterThanHorizonKeepsFetching(t *testing.T) {
	st := newRunLog(t)
	ctx := context.Background()

	require.NoError(t, st.InsertPrediction(ctx, model.Prediction{
		ID:             "p1",
		Assets:         []model.AssetSentiment{{Asset: "XYZ", Sentiment: model.SentimentBullish}},
		Confidence:     0.7,
		Timestamp:      time.Date(2025, 1, 6, 15, 0, 0, 0, time.UTC),
		AnalysisStatus: model.AnalysisCompleted,
	}))

	var now time.Time
	clock := func() time.Time { return now }
	provider := &dailyProvider{}

	b := backfill.New(st, provider, config.BackfillConfig{Concurrency: 1}, 7).WithClock(clock)
	c := outcome.NewCalculator(st, config.OutcomeConfig{Notional: 1000, DeadZonePct: 0.5, CompletionGraceDays: 7}, 7).WithClock(clock)
	o := New(b, c, st).WithClock(clock)

	for _, at := range []time.Time{
		time.Date(2025, 1, 8, 22, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 20, 22, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 10, 22, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 20, 22, 0, 0, 0, time.UTC),
	} {
		now = at
		res, err := o.RunOnce(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, res.Status, "run at %s", at.Format("2006-01-02"))
	}

	cov, err := st.Coverage(ctx, "XYZ")
	require.NoError(t, err)
	require.NotNil(t, cov)
	assert.Equal(t, "2025-02-10", model.FormatDate(cov.Last), "completed outcomes stop driving fetches")
	assert.Greater(t, provider.calls, 1)

	o1, err := st.GetOutcome(ctx, "p1", "XYZ")
	require.NoError(t, err)
	require.NotNil(t, o1)
	assert.True(t, o1.IsComplete)
	assert.InDelta(t, 106, o1.PriceAtPrediction, 1e-9)

	t7 := o1.Horizon(7)
	require.NotNil(t, t7.Price)
	assert.InDelta(t, 113, *t7.Price, 1e-9, "T+7 resolves to the 2025-01-13 bar")

	t30 := o1.Horizon(30)
	require.NotNil(t, t30.Price, "T+30 must resolve, not expire through the grace period")
	assert.InDelta(t, 105, *t30.Price, 1e-9)
}

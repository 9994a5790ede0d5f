package outcome

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/signal-outcomes/internal/model"
	"github.com/sells-group/signal-outcomes/internal/resilience"
)

var defaultParams = Params{Notional: 1000, DeadZonePct: 0.5}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name      string
		sentiment model.Sentiment
		price     float64
		wantRet   float64
		correct   bool
		wantPnL   float64
	}{
		{"bullish up", model.SentimentBullish, 103.2, 3.2, true, 32},
		{"bullish inside dead zone", model.SentimentBullish, 100.3, 0.3, false, 3},
		{"bullish down", model.SentimentBullish, 97, -3, false, -30},
		{"bearish down", model.SentimentBearish, 97, -3, true, 30},
		{"bearish up", model.SentimentBearish, 103.2, 3.2, false, -32},
		{"bearish inside dead zone", model.SentimentBearish, 99.6, -0.4, false, 4},
		{"neutral flat", model.SentimentNeutral, 100.2, 0.2, true, 2},
		{"neutral on the edge", model.SentimentNeutral, 99.5, -0.5, true, -5},
		{"neutral moved", model.SentimentNeutral, 101, 1, false, 10},
		{"bullish on the edge", model.SentimentBullish, 100.5, 0.5, false, 5},
		{"bullish just past the edge", model.SentimentBullish, 100.50004, 0.5, true, 5},
		{"neutral just past the upper edge", model.SentimentNeutral, 100.50004, 0.5, false, 5},
		{"bearish just past the edge", model.SentimentBearish, 99.49996, -0.5, true, 5},
		{"neutral just past the lower edge", model.SentimentNeutral, 99.49996, -0.5, false, -5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := Evaluate(7, tt.sentiment, 100, tt.price, defaultParams)
			require.NoError(t, err)
			assert.Equal(t, 7, h.Days)
			require.NotNil(t, h.Price)
			assert.InDelta(t, tt.price, *h.Price, 1e-9)
			require.NotNil(t, h.Return)
			assert.InDelta(t, tt.wantRet, *h.Return, 1e-9)
			require.NotNil(t, h.Correct)
			assert.Equal(t, tt.correct, *h.Correct)
			require.NotNil(t, h.PnL)
			assert.InDelta(t, tt.wantPnL, *h.PnL, 1e-9)
		})
	}
}

func TestReturnPct_Rounding(t *testing.T) {
	ret, err := ReturnPct(3, 4)
	require.NoError(t, err)
	assert.Equal(t, "33.3333", ret.Round(returnPlaces).String())
	assert.True(t, ret.GreaterThan(decimal.RequireFromString("33.3333")))

	h, err := Evaluate(1, model.SentimentBullish, 3, 4, defaultParams)
	require.NoError(t, err)
	assert.InDelta(t, 33.3333, *h.Return, 1e-9)
	assert.InDelta(t, 333.33, *h.PnL, 1e-9)

	ret, err = ReturnPct(100, 103.2)
	require.NoError(t, err)
	assert.True(t, ret.Equal(decimal.RequireFromString("3.2")))
}

func TestReturnPct_ZeroBase(t *testing.T) {
	_, err := ReturnPct(0, 10)
	require.Error(t, err)
	assert.Equal(t, resilience.KindComputationError, resilience.KindOf(err))

	_, err = Evaluate(1, model.SentimentBullish, -1, 10, defaultParams)
	assert.Error(t, err)
}

func TestCorrect_UsesUnroundedReturn(t *testing.T) {
	ret, err := ReturnPct(100, 100.50004)
	require.NoError(t, err)
	assert.Equal(t, "0.5", ret.Round(returnPlaces).String())

	ok, err := Correct(model.SentimentBullish, ret, 0.5)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Correct(model.SentimentNeutral, ret, 0.5)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCorrect_UnknownSentiment(t *testing.T) {
	_, err := Correct(model.Sentiment("mixed"), decimal.NewFromInt(1), 0.5)
	require.Error(t, err)
	assert.Equal(t, resilience.KindComputationError, resilience.KindOf(err))
}

func TestPnL_RoundsToCents(t *testing.T) {
	pnl := PnL(model.SentimentBullish, decimal.RequireFromString("33.3333"), 1000)
	assert.Equal(t, "333.33", pnl.String())

	pnl = PnL(model.SentimentBearish, decimal.RequireFromString("33.3333"), 1000)
	assert.Equal(t, "-333.33", pnl.String())
}

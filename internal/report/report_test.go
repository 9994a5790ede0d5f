package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/signal-outcomes/internal/model"
)

func day(d int) time.Time {
	return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC)
}

func evaluated(sym string, d int, confidence float64, correct bool, pnl float64) model.Outcome {
	o := model.Outcome{
		PredictionID:   sym + "-" + day(d).Format("0102"),
		Symbol:         sym,
		PredictionDate: day(d),
		Sentiment:      model.SentimentBullish,
		Confidence:     confidence,
		Horizons:       model.NewHorizons(),
	}
	o.SetHorizon(model.HorizonResult{
		Days:    7,
		Price:   model.Float(100),
		Return:  model.Float(pnl / 10),
		Correct: model.Bool(correct),
		PnL:     model.Float(pnl),
	})
	return o
}

func pending(sym string, d int) model.Outcome {
	return model.Outcome{
		PredictionID:   sym + "-pending",
		Symbol:         sym,
		PredictionDate: day(d),
		Sentiment:      model.SentimentBearish,
		Confidence:     0.95,
		Horizons:       model.NewHorizons(),
	}
}

func sample() []model.Outcome {
	return []model.Outcome{
		evaluated("SPY", 6, 0.95, true, 32),
		evaluated("SPY", 6, 0.75, false, -10.1),
		evaluated("QQQ", 7, 0.55, true, 12.05),
		evaluated("QQQ", 8, 0.2, false, -3),
		evaluated("SPY", 8, 1.0, true, 5),
		pending("IWM", 9),
	}
}

var defaultOpts = Options{Horizon: 7, MinOutcomes: 3, ConfidenceEdges: []float64{0.5, 0.7, 0.9}}

func TestBuild_Overall(t *testing.T) {
	r := Build(sample(), defaultOpts)

	assert.Equal(t, 6, r.Outcomes)
	assert.Equal(t, 1, r.Pending)
	assert.Equal(t, 5, r.Overall.Evaluated)
	assert.Equal(t, 3, r.Overall.Correct)
	require.NotNil(t, r.Overall.Accuracy)
	assert.InDelta(t, 0.6, *r.Overall.Accuracy, 1e-9)
	assert.InDelta(t, 35.95, r.Overall.PnL, 1e-9)
	assert.False(t, r.Sparse)
}

func TestBuild_ByConfidence(t *testing.T) {
	r := Build(sample(), defaultOpts)

	require.Len(t, r.ByConfidence, 4)
	assert.Equal(t, "0.00-0.50", r.ByConfidence[0].Label)
	assert.Equal(t, "0.90-1.00", r.ByConfidence[3].Label)

	counts := make([]int, len(r.ByConfidence))
	for i, b := range r.ByConfidence {
		counts[i] = b.Evaluated
	}
	assert.Equal(t, []int{1, 1, 1, 2}, counts, "confidence 1.0 lands in the top bucket")

	assert.InDelta(t, 1.0, *r.ByConfidence[3].Accuracy, 1e-9)
	assert.InDelta(t, 37, r.ByConfidence[3].PnL, 1e-9)
}

func TestBuild_EmptyBucketHasNoAccuracy(t *testing.T) {
	r := Build([]model.Outcome{evaluated("SPY", 6, 0.95, true, 32)}, defaultOpts)
	assert.Nil(t, r.ByConfidence[0].Accuracy)
	assert.Zero(t, r.ByConfidence[0].PnL)
}

func TestBuild_ByAsset(t *testing.T) {
	r := Build(sample(), defaultOpts)

	require.Len(t, r.ByAsset, 2, "pending-only assets are not tallied")
	assert.Equal(t, "SPY", r.ByAsset[0].Symbol)
	assert.Equal(t, 3, r.ByAsset[0].Evaluated)
	assert.Equal(t, 2, r.ByAsset[0].Correct)
	assert.InDelta(t, 0.6667, *r.ByAsset[0].Accuracy, 1e-9)
	assert.Equal(t, "QQQ", r.ByAsset[1].Symbol)
	assert.InDelta(t, 9.05, r.ByAsset[1].PnL, 1e-9)
}

func TestBuild_CumulativePnL(t *testing.T) {
	r := Build(sample(), defaultOpts)

	require.Len(t, r.Cumulative, 3)
	assert.Equal(t, PnLPoint{Date: "2025-01-06", PnL: 21.9, Cumulative: 21.9}, r.Cumulative[0])
	assert.Equal(t, PnLPoint{Date: "2025-01-07", PnL: 12.05, Cumulative: 33.95}, r.Cumulative[1])
	assert.Equal(t, PnLPoint{Date: "2025-01-08", PnL: 2, Cumulative: 35.95}, r.Cumulative[2])
}

func TestBuild_Sparse(t *testing.T) {
	opts := defaultOpts
	opts.MinOutcomes = 10
	r := Build(sample(), opts)
	assert.True(t, r.Sparse)
	assert.Contains(t, r.SparseReason, "5 evaluated")

	r = Build(nil, opts)
	assert.True(t, r.Sparse)
	assert.Nil(t, r.Overall.Accuracy)
	assert.Empty(t, r.Cumulative)
}

func TestBuild_OtherHorizonIsPending(t *testing.T) {
	opts := defaultOpts
	opts.Horizon = 30
	r := Build(sample(), opts)
	assert.Equal(t, 6, r.Pending)
	assert.Zero(t, r.Overall.Evaluated)
}

type fakeSource struct {
	got      model.OutcomeFilter
	outcomes []model.Outcome
	err      error
}

func (f *fakeSource) ListOutcomes(_ context.Context, filter model.OutcomeFilter) ([]model.Outcome, error) {
	f.got = filter
	return f.outcomes, f.err
}

func TestGenerate(t *testing.T) {
	src := &fakeSource{outcomes: sample()}
	opts := defaultOpts
	opts.Since, opts.Until, opts.Symbol = day(1), day(31), "SPY"

	r, err := Generate(context.Background(), src, opts)
	require.NoError(t, err)
	assert.Equal(t, "2025-01-01", r.Since)
	assert.Equal(t, "2025-01-31", r.Until)
	assert.Equal(t, "SPY", src.got.Symbol)
	assert.Equal(t, day(1), src.got.Since)

	_, err = Generate(context.Background(), &fakeSource{err: errors.New("db down")}, opts)
	assert.Error(t, err)
}

func TestWrite_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Build(sample(), defaultOpts), FormatJSON))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.EqualValues(t, 7, got["horizon"])
	overall := got["overall"].(map[string]any)
	assert.EqualValues(t, 5, overall["evaluated"])
	assert.Len(t, got["by_confidence"], 4)
}

func TestWrite_YAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Build(sample(), defaultOpts), FormatYAML))

	var got map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, 7, got["horizon"])
	buckets := got["by_confidence"].([]any)
	first := buckets[0].(map[string]any)
	assert.Equal(t, "0.00-0.50", first["label"])
	assert.Equal(t, 1, first["evaluated"], "tally fields are inlined")
}

func TestWrite_Table(t *testing.T) {
	var buf bytes.Buffer
	opts := defaultOpts
	opts.MinOutcomes = 100
	require.NoError(t, Write(&buf, Build(sample(), opts), FormatTable))

	out := buf.String()
	assert.Contains(t, out, "T+7")
	assert.Contains(t, out, "60.0%")
	assert.Contains(t, out, "$35.95")
	assert.Contains(t, out, "0.90-1.00")
	assert.Contains(t, out, "sparse data")
	assert.Contains(t, out, "2025-01-08")
	assert.Contains(t, out, "all time")
}

func TestWrite_UnknownFormat(t *testing.T) {
	err := Write(&bytes.Buffer{}, &Report{}, "xml")
	assert.Error(t, err)
}

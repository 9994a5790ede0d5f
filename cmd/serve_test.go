package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/signal-outcomes/internal/model"
	"github.com/sells-group/signal-outcomes/internal/report"
	"github.com/sells-group/signal-outcomes/internal/store"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func serveRequest(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func seedAPIStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	ctx := t.Context()
	st := newTestStore(t)

	_, err := st.UpsertBars(ctx, "SPY", []model.PriceBar{
		{Symbol: "SPY", Date: date(2025, 1, 6), Close: model.Float(100), Source: "test"},
		{Symbol: "SPY", Date: date(2025, 1, 7), Close: model.Float(101), Source: "test"},
		{Symbol: "SPY", Date: date(2025, 1, 13), Close: model.Float(103.2), Source: "test"},
	})
	require.NoError(t, err)

	o := &model.Outcome{
		PredictionID:      "pred-1",
		Symbol:            "SPY",
		PredictionDate:    date(2025, 1, 6),
		Sentiment:         model.SentimentBullish,
		Confidence:        0.8,
		PriceAtPrediction: 100,
		Horizons:          model.NewHorizons(),
	}
	o.SetHorizon(model.HorizonResult{
		Days:    7,
		Price:   model.Float(103.2),
		Return:  model.Float(3.2),
		Correct: model.Bool(true),
		PnL:     model.Float(32),
	})
	_, err = st.UpsertOutcome(ctx, o)
	require.NoError(t, err)

	require.NoError(t, st.SaveFailure(ctx, &model.SymbolFailure{
		Symbol:        "XYZ",
		Kind:          model.FailureInvalidSymbol,
		Message:       "invalid symbol",
		Attempts:      1,
		Permanent:     true,
		FirstFailedAt: date(2025, 1, 8),
		LastFailedAt:  date(2025, 1, 8),
	}))
	return st
}

func TestBuildRouter_Health(t *testing.T) {
	useTestConfig(t)
	h := buildRouter(newTestStore(t))

	rr := serveRequest(t, h, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestBuildRouter_HealthStoreDown(t *testing.T) {
	useTestConfig(t)
	st := newTestStore(t)
	h := buildRouter(st)
	require.NoError(t, st.Close())

	rr := serveRequest(t, h, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestBuildRouter_Report(t *testing.T) {
	useTestConfig(t)
	h := buildRouter(seedAPIStore(t))

	rr := serveRequest(t, h, http.MethodGet, "/report?horizon=7")
	require.Equal(t, http.StatusOK, rr.Code)

	var rep report.Report
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rep))
	assert.Equal(t, 7, rep.Horizon)
	assert.Equal(t, 1, rep.Overall.Evaluated)
	assert.Equal(t, 1, rep.Overall.Correct)
	assert.InDelta(t, 32.0, rep.Overall.PnL, 1e-9)
	assert.False(t, rep.Sparse)
}

func TestBuildRouter_ReportBadParams(t *testing.T) {
	useTestConfig(t)
	h := buildRouter(newTestStore(t))

	for _, target := range []string{"/report?horizon=x", "/report?horizon=5", "/report?since=bad", "/report?min_outcomes=-1"} {
		rr := serveRequest(t, h, http.MethodGet, target)
		assert.Equal(t, http.StatusBadRequest, rr.Code, target)
	}
}

func TestBuildRouter_Outcomes(t *testing.T) {
	useTestConfig(t)
	h := buildRouter(seedAPIStore(t))

	rr := serveRequest(t, h, http.MethodGet, "/outcomes?symbol=spy")
	require.Equal(t, http.StatusOK, rr.Code)
	var outcomes []model.Outcome
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &outcomes))
	require.Len(t, outcomes, 1)
	assert.Equal(t, "pred-1", outcomes[0].PredictionID)

	rr = serveRequest(t, h, http.MethodGet, "/outcomes?symbol=QQQ")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())

	rr = serveRequest(t, h, http.MethodGet, "/outcomes?complete=maybe")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestBuildRouter_Runs(t *testing.T) {
	useTestConfig(t)
	st := newTestStore(t)
	h := buildRouter(st)

	run, err := st.CreateRun(t.Context(), model.RunKindPipeline)
	require.NoError(t, err)

	rr := serveRequest(t, h, http.MethodGet, "/runs?kind=pipeline")
	require.Equal(t, http.StatusOK, rr.Code)
	var runs []model.Run
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	rr = serveRequest(t, h, http.MethodGet, "/runs/"+run.ID)
	require.Equal(t, http.StatusOK, rr.Code)
	var got model.Run
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, model.RunStatusRunning, got.Status)

	rr = serveRequest(t, h, http.MethodGet, "/runs/missing")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestBuildRouter_Prices(t *testing.T) {
	useTestConfig(t)
	h := buildRouter(seedAPIStore(t))

	t.Run("nearest prior day", func(t *testing.T) {
		rr := serveRequest(t, h, http.MethodGet, "/prices/spy?date=2025-01-11")
		require.Equal(t, http.StatusOK, rr.Code)
		var l model.PriceLookup
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &l))
		assert.Equal(t, model.LookupNearest, l.Status)
		require.NotNil(t, l.Bar)
		assert.Equal(t, date(2025, 1, 7), l.Bar.Date.UTC())
	})

	t.Run("range", func(t *testing.T) {
		rr := serveRequest(t, h, http.MethodGet, "/prices/SPY?start=2025-01-06&end=2025-01-07")
		require.Equal(t, http.StatusOK, rr.Code)
		var bars []model.PriceBar
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &bars))
		assert.Len(t, bars, 2)
	})

	t.Run("missing range", func(t *testing.T) {
		rr := serveRequest(t, h, http.MethodGet, "/prices/SPY")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("inverted range", func(t *testing.T) {
		rr := serveRequest(t, h, http.MethodGet, "/prices/SPY?start=2025-01-07&end=2025-01-06")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestBuildRouter_CoverageAndFailures(t *testing.T) {
	useTestConfig(t)
	h := buildRouter(seedAPIStore(t))

	rr := serveRequest(t, h, http.MethodGet, "/coverage")
	require.Equal(t, http.StatusOK, rr.Code)
	var cov []model.Coverage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &cov))
	require.Len(t, cov, 1)
	assert.Equal(t, 3, cov[0].Bars)

	rr = serveRequest(t, h, http.MethodGet, "/failures")
	require.Equal(t, http.StatusOK, rr.Code)
	var failures []model.SymbolFailure
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &failures))
	require.Len(t, failures, 1)
	assert.True(t, failures[0].Permanent)
}

func TestBuildRouter_CORSPreflight(t *testing.T) {
	useTestConfig(t)
	h := buildRouter(newTestStore(t))

	req := httptest.NewRequest(http.MethodOptions, "/report", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.NotEmpty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestIntParam(t *testing.T) {
	n, err := intParam("")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = intParam("25")
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	_, err = intParam("-3")
	assert.Error(t, err)
}

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/signal-outcomes/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := NewPostgresFromPool(mock)
	s.nowFunc = func() time.Time { return time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC) }
	return s, mock
}

func barRow(symbol string, date time.Time, close *float64) []any {
	return []any{symbol, date, 1.0, 2.0, 0.5, close, int64(100), (*float64)(nil), "yahoo", date}
}

func TestPostgresStore_GetPrice_Exact(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	target := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM price_bars WHERE symbol = \$1 AND date <= \$2 AND date >= \$3 ORDER BY date DESC LIMIT 1`).
		WithArgs("SPY", target, target.AddDate(0, 0, -7)).
		WillReturnRows(pgxmock.NewRows(barColumns).AddRow(barRow("SPY", target, model.Float(101.5))...))

	l, err := s.GetPrice(context.Background(), "spy", target, 7)
	require.NoError(t, err)
	assert.Equal(t, model.LookupExact, l.Status)
	assert.InDelta(t, 101.5, l.Price(), 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetPrice_Nearest(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	target := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	friday := target.AddDate(0, 0, -3)

	mock.ExpectQuery(`FROM price_bars WHERE symbol = \$1`).
		WithArgs("SPY", target, target.AddDate(0, 0, -7)).
		WillReturnRows(pgxmock.NewRows(barColumns).AddRow(barRow("SPY", friday, model.Float(99))...))

	l, err := s.GetPrice(context.Background(), "SPY", target, 7)
	require.NoError(t, err)
	assert.Equal(t, model.LookupNearest, l.Status)
	assert.Equal(t, friday, l.Bar.Date)
}

func TestPostgresStore_GetPrice_Unavailable(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM price_bars`).WillReturnError(pgx.ErrNoRows)

	l, err := s.GetPrice(context.Background(), "SPY", time.Now(), 7)
	require.NoError(t, err)
	assert.Equal(t, model.LookupUnavailable, l.Status)
}

func TestPostgresStore_GetPrice_StorageError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM price_bars`).WillReturnError(errors.New("connection refused"))

	_, err := s.GetPrice(context.Background(), "SPY", time.Now(), 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: get price")
}

func TestPostgresStore_Coverage_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT MIN\(date\), MAX\(date\), COUNT\(\*\) FROM price_bars WHERE symbol = \$1`).
		WithArgs("QQQ").
		WillReturnRows(pgxmock.NewRows([]string{"min", "max", "count"}).AddRow((*time.Time)(nil), (*time.Time)(nil), 0))

	c, err := s.Coverage(context.Background(), "QQQ")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestPostgresStore_FetchedFrom(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	from := time.Date(2024, 12, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT fetched_from FROM history_requests WHERE symbol = \$1`).
		WithArgs("IPO").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`(?s)INSERT INTO history_requests .* LEAST\(history_requests.fetched_from, EXCLUDED.fetched_from\)`).
		WithArgs("IPO", from, s.now().UTC()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT fetched_from FROM history_requests`).
		WithArgs("IPO").
		WillReturnRows(pgxmock.NewRows([]string{"fetched_from"}).AddRow(from))

	ctx := context.Background()
	got, err := s.FetchedFrom(ctx, "ipo")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	require.NoError(t, s.MarkFetchedFrom(ctx, "ipo", from.Add(15*time.Hour)))

	got, err = s.FetchedFrom(ctx, "IPO")
	require.NoError(t, err)
	assert.Equal(t, from, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertBars(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "stage_price_bars"`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"stage_price_bars"}, barColumns).WillReturnResult(2)
	mock.ExpectExec(`DELETE FROM "stage_price_bars"`).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`INSERT INTO "price_bars" .* ON CONFLICT \("symbol", "date"\) DO UPDATE SET .*"fetched_at" = EXCLUDED."fetched_at"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	d := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	n, err := s.UpsertBars(context.Background(), "SPY", []model.PriceBar{
		{Date: d, Close: model.Float(100), Source: "yahoo"},
		{Date: d.AddDate(0, 0, 1), Close: model.Float(101), Source: "yahoo"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestPostgresStore_GetOutcome_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM outcomes WHERE prediction_id = \$1 AND symbol = \$2`).
		WithArgs("pred-1", "SPY").
		WillReturnError(pgx.ErrNoRows)

	o, err := s.GetOutcome(context.Background(), "pred-1", "spy")
	require.NoError(t, err)
	assert.Nil(t, o)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertOutcome_ReportsInsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO outcomes .* ON CONFLICT \(prediction_id, symbol\) DO UPDATE SET .* RETURNING \(xmax = 0\)`).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(true))

	o := &model.Outcome{
		PredictionID:      "pred-1",
		Symbol:            "spy",
		PredictionDate:    time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
		Sentiment:         model.SentimentBullish,
		Confidence:        0.8,
		PriceAtPrediction: 100,
		Horizons:          model.NewHorizons(),
	}
	created, err := s.UpsertOutcome(context.Background(), o)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "SPY", o.Symbol)
	assert.False(t, o.CreatedAt.IsZero())
}

func TestPostgresStore_ListPredictions_DropsNullSentiment(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ts := time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM predictions WHERE analysis_status = \$1 AND predicted_at >= \$2 ORDER BY predicted_at, id`).
		WithArgs("completed", ts.Add(-time.Hour)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "assets", "confidence", "predicted_at", "analysis_status"}).
			AddRow("p1", []byte(`[{"asset":"spy","sentiment":"bullish"},{"asset":"QQQ","sentiment":null}]`), 0.9, ts, "completed").
			AddRow("p2", []byte(`[{"asset":"TSLA","sentiment":null}]`), 0.4, ts, "completed"))

	preds, err := s.ListPredictions(context.Background(), PredictionFilter{Since: ts.Add(-time.Hour)})
	require.NoError(t, err)
	require.Len(t, preds, 1)
	assert.Equal(t, "p1", preds[0].ID)
	assert.Equal(t, []model.AssetSentiment{{Asset: "SPY", Sentiment: model.SentimentBullish}}, preds[0].Assets)
}

func TestPostgresStore_FinishRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status = \$1, summary = \$2, error = \$3, completed_at = \$4 WHERE id = \$5`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.FinishRun(context.Background(), "missing", model.RunStatusComplete, map[string]any{"created": 1}, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs \(id, kind, status, started_at\)`).
		WithArgs(pgxmock.AnyArg(), "pipeline", "running", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	r, err := s.CreateRun(context.Background(), model.RunKindPipeline)
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, model.RunStatusRunning, r.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate_AppliesPending(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SELECT pg_advisory_lock`).WithArgs(migrationLockID).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectQuery(`SELECT filename FROM schema_migrations`).
		WillReturnRows(pgxmock.NewRows([]string{"filename"}).AddRow("001_init.sql"))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS predictions`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec(`INSERT INTO schema_migrations`).WithArgs("002_predictions_mirror.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS history_requests`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec(`INSERT INTO schema_migrations`).WithArgs("003_history_requests.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`SELECT pg_advisory_unlock`).WithArgs(migrationLockID).WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Ping(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`SELECT 1`).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	assert.NoError(t, s.Ping(context.Background()))
}

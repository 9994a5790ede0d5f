package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/signal-outcomes/internal/db"
	"github.com/sells-group/signal-outcomes/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	nowFunc func() time.Time
}

// NewPostgres connects a PostgresStore.
func NewPostgres(ctx context.Context, cfg db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return NewPostgresFromPool(pool), nil
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, nowFunc: time.Now}
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) now() time.Time {
	if s.nowFunc == nil {
		return time.Now().UTC()
	}
	return s.nowFunc().UTC()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return migratePostgres(ctx, s.pool)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// --- Prices ---

func (s *PostgresStore) UpsertBars(ctx context.Context, symbol string, bars []model.PriceBar) (int64, error) {
	symbol = model.NormalizeSymbol(symbol)
	now := s.now()
	rows := make([][]any, 0, len(bars))
	for _, b := range bars {
		fetched := b.FetchedAt
		if fetched.IsZero() {
			fetched = now
		}
		rows = append(rows, []any{
			symbol, model.Day(b.Date), b.Open, b.High, b.Low, b.Close,
			b.Volume, b.AdjustedClose, b.Source, fetched,
		})
	}
	n, err := db.MergeRows(ctx, s.pool, db.Merge{
		Table:   "price_bars",
		Columns: barColumns,
		Keys:    []string{"symbol", "date"},
	}, rows)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: upsert bars for %s", symbol)
	}
	return n, nil
}

const pgBarSelect = `SELECT symbol, date, open, high, low, close, volume, adjusted_close, source, fetched_at FROM price_bars`

func (s *PostgresStore) GetPrice(ctx context.Context, symbol string, date time.Time, lookbackDays int) (*model.PriceLookup, error) {
	symbol = model.NormalizeSymbol(symbol)
	target := model.Day(date)
	row := s.pool.QueryRow(ctx,
		pgBarSelect+` WHERE symbol = $1 AND date <= $2 AND date >= $3 ORDER BY date DESC LIMIT 1`,
		symbol, target, model.AddDays(target, -max(lookbackDays, 0)),
	)
	bar, err := scanPgBar(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ResolveLookup(symbol, target, nil), nil
		}
		return nil, eris.Wrapf(err, "postgres: get price %s %s", symbol, model.FormatDate(target))
	}
	return model.ResolveLookup(symbol, target, bar), nil
}

func (s *PostgresStore) GetRange(ctx context.Context, symbol string, start, end time.Time) ([]model.PriceBar, error) {
	symbol = model.NormalizeSymbol(symbol)
	rows, err := s.pool.Query(ctx,
		pgBarSelect+` WHERE symbol = $1 AND date >= $2 AND date <= $3 ORDER BY date`,
		symbol, model.Day(start), model.Day(end),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get range %s", symbol)
	}
	defer rows.Close()

	var bars []model.PriceBar
	for rows.Next() {
		b, err := scanPgBar(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan bar")
		}
		bars = append(bars, *b)
	}
	return bars, eris.Wrap(rows.Err(), "postgres: get range iterate")
}

func scanPgBar(row scannable) (*model.PriceBar, error) {
	var b model.PriceBar
	if err := row.Scan(&b.Symbol, &b.Date, &b.Open, &b.High, &b.Low, &b.Close,
		&b.Volume, &b.AdjustedClose, &b.Source, &b.FetchedAt); err != nil {
		return nil, err
	}
	b.Date = model.Day(b.Date)
	return &b, nil
}

func (s *PostgresStore) Coverage(ctx context.Context, symbol string) (*model.Coverage, error) {
	symbol = model.NormalizeSymbol(symbol)
	var first, last *time.Time
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT MIN(date), MAX(date), COUNT(*) FROM price_bars WHERE symbol = $1`, symbol,
	).Scan(&first, &last, &n)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: coverage %s", symbol)
	}
	if n == 0 || first == nil || last == nil {
		return nil, nil
	}
	return &model.Coverage{Symbol: symbol, First: model.Day(*first), Last: model.Day(*last), Bars: n}, nil
}

func (s *PostgresStore) ListCoverage(ctx context.Context) ([]model.Coverage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT symbol, MIN(date), MAX(date), COUNT(*) FROM price_bars GROUP BY symbol ORDER BY symbol`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list coverage")
	}
	defer rows.Close()

	var out []model.Coverage
	for rows.Next() {
		var c model.Coverage
		if err := rows.Scan(&c.Symbol, &c.First, &c.Last, &c.Bars); err != nil {
			return nil, eris.Wrap(err, "postgres: scan coverage")
		}
		c.First, c.Last = model.Day(c.First), model.Day(c.Last)
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list coverage iterate")
}

func (s *PostgresStore) FetchedFrom(ctx context.Context, symbol string) (time.Time, error) {
	var from time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT fetched_from FROM history_requests WHERE symbol = $1`, model.NormalizeSymbol(symbol),
	).Scan(&from)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "postgres: fetched from %s", symbol)
	}
	return model.Day(from), nil
}

func (s *PostgresStore) MarkFetchedFrom(ctx context.Context, symbol string, from time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO history_requests (symbol, fetched_from, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (symbol) DO UPDATE SET
			fetched_from = LEAST(history_requests.fetched_from, EXCLUDED.fetched_from),
			updated_at = EXCLUDED.updated_at`,
		model.NormalizeSymbol(symbol), model.Day(from), s.now().UTC(),
	)
	return eris.Wrapf(err, "postgres: mark fetched from %s", symbol)
}

// --- Predictions ---

func (s *PostgresStore) ListPredictions(ctx context.Context, filter PredictionFilter) ([]model.Prediction, error) {
	query := `SELECT id, assets, confidence, predicted_at, analysis_status FROM predictions WHERE analysis_status = $1`
	args := []any{string(model.AnalysisCompleted)}
	argIdx := 2

	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND predicted_at >= $%d`, argIdx)
		args = append(args, filter.Since.UTC())
		argIdx++
	}
	if !filter.Until.IsZero() {
		query += fmt.Sprintf(` AND predicted_at < $%d`, argIdx)
		args = append(args, filter.Until.UTC())
		argIdx++
	}
	if len(filter.IDs) > 0 {
		query += fmt.Sprintf(` AND id = ANY($%d)`, argIdx)
		args = append(args, filter.IDs)
		argIdx++
	}
	query += ` ORDER BY predicted_at, id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list predictions")
	}
	defer rows.Close()

	var out []model.Prediction
	for rows.Next() {
		var p model.Prediction
		var assets []byte
		var status string
		if err := rows.Scan(&p.ID, &assets, &p.Confidence, &p.Timestamp, &status); err != nil {
			return nil, eris.Wrap(err, "postgres: scan prediction")
		}
		p.AnalysisStatus = model.AnalysisStatus(status)
		if p.Assets, err = decodeAssets(assets); err != nil {
			return nil, eris.Wrapf(err, "postgres: prediction %s", p.ID)
		}
		if len(p.Assets) == 0 {
			continue
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list predictions iterate")
}

// --- Outcomes ---

func (s *PostgresStore) outcomeSelect() string {
	return `SELECT ` + strings.Join(outcomeColumns(), ", ") + ` FROM outcomes`
}

func scanPgOutcome(row scannable) (*model.Outcome, error) {
	var o model.Outcome
	var sentiment string
	hTargets, apply := horizonTargets(&o)
	dest := []any{&o.PredictionID, &o.Symbol, &o.PredictionDate, &sentiment, &o.Confidence, &o.PriceAtPrediction}
	dest = append(dest, hTargets...)
	dest = append(dest, &o.IsComplete, &o.CreatedAt, &o.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	apply()
	o.Sentiment = model.Sentiment(sentiment)
	o.PredictionDate = model.Day(o.PredictionDate)
	return &o, nil
}

func (s *PostgresStore) GetOutcome(ctx context.Context, predictionID, symbol string) (*model.Outcome, error) {
	row := s.pool.QueryRow(ctx,
		s.outcomeSelect()+` WHERE prediction_id = $1 AND symbol = $2`,
		predictionID, model.NormalizeSymbol(symbol),
	)
	o, err := scanPgOutcome(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get outcome %s/%s", predictionID, symbol)
	}
	return o, nil
}

func (s *PostgresStore) UpsertOutcome(ctx context.Context, o *model.Outcome) (bool, error) {
	now := s.now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	o.Symbol = model.NormalizeSymbol(o.Symbol)

	cols := outcomeColumns()
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	var sets []string
	for _, c := range outcomeUpdateColumns() {
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	query := fmt.Sprintf(
		`INSERT INTO outcomes (%s) VALUES (%s) ON CONFLICT (prediction_id, symbol) DO UPDATE SET %s RETURNING (xmax = 0) AS inserted`,
		strings.Join(cols, ", "), strings.Join(placeholders, ", "), strings.Join(sets, ", "),
	)

	args := []any{o.PredictionID, o.Symbol, model.Day(o.PredictionDate), string(o.Sentiment), o.Confidence, o.PriceAtPrediction}
	args = append(args, horizonArgs(o)...)
	args = append(args, o.IsComplete, o.CreatedAt, o.UpdatedAt)

	var inserted bool
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&inserted); err != nil {
		return false, eris.Wrapf(err, "postgres: upsert outcome %s/%s", o.PredictionID, o.Symbol)
	}
	return inserted, nil
}

func (s *PostgresStore) ListOutcomes(ctx context.Context, filter model.OutcomeFilter) ([]model.Outcome, error) {
	query := s.outcomeSelect() + ` WHERE true`
	args := []any{}
	argIdx := 1

	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND prediction_date >= $%d`, argIdx)
		args = append(args, model.Day(filter.Since))
		argIdx++
	}
	if !filter.Until.IsZero() {
		query += fmt.Sprintf(` AND prediction_date <= $%d`, argIdx)
		args = append(args, model.Day(filter.Until))
		argIdx++
	}
	if filter.Symbol != "" {
		query += fmt.Sprintf(` AND symbol = $%d`, argIdx)
		args = append(args, model.NormalizeSymbol(filter.Symbol))
		argIdx++
	}
	if filter.Complete != nil {
		query += fmt.Sprintf(` AND is_complete = $%d`, argIdx)
		args = append(args, *filter.Complete)
		argIdx++
	}
	query += ` ORDER BY prediction_date, prediction_id, symbol`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list outcomes")
	}
	defer rows.Close()

	var out []model.Outcome
	for rows.Next() {
		o, err := scanPgOutcome(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan outcome")
		}
		out = append(out, *o)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list outcomes iterate")
}

func (s *PostgresStore) IncompletePredictionIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT prediction_id FROM outcomes WHERE NOT is_complete ORDER BY prediction_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: incomplete predictions")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan prediction id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "postgres: incomplete predictions iterate")
}

// --- Failure ledger ---

const pgFailureSelect = `SELECT symbol, kind, message, attempts, permanent, first_failed_at, last_failed_at FROM symbol_failures`

func scanPgFailure(row scannable) (*model.SymbolFailure, error) {
	var f model.SymbolFailure
	var kind string
	if err := row.Scan(&f.Symbol, &kind, &f.Message, &f.Attempts, &f.Permanent, &f.FirstFailedAt, &f.LastFailedAt); err != nil {
		return nil, err
	}
	f.Kind = model.FailureKind(kind)
	return &f, nil
}

func (s *PostgresStore) GetFailure(ctx context.Context, symbol string) (*model.SymbolFailure, error) {
	f, err := scanPgFailure(s.pool.QueryRow(ctx, pgFailureSelect+` WHERE symbol = $1`, model.NormalizeSymbol(symbol)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get failure %s", symbol)
	}
	return f, nil
}

func (s *PostgresStore) SaveFailure(ctx context.Context, f *model.SymbolFailure) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO symbol_failures (symbol, kind, message, attempts, permanent, first_failed_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (symbol) DO UPDATE SET kind = $2, message = $3, attempts = $4, permanent = $5, last_failed_at = $7`,
		model.NormalizeSymbol(f.Symbol), string(f.Kind), f.Message, f.Attempts, f.Permanent,
		f.FirstFailedAt.UTC(), f.LastFailedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: save failure %s", f.Symbol)
}

func (s *PostgresStore) ClearFailure(ctx context.Context, symbol string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM symbol_failures WHERE symbol = $1`, model.NormalizeSymbol(symbol))
	return eris.Wrapf(err, "postgres: clear failure %s", symbol)
}

func (s *PostgresStore) ListFailures(ctx context.Context) ([]model.SymbolFailure, error) {
	rows, err := s.pool.Query(ctx, pgFailureSelect+` ORDER BY symbol`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list failures")
	}
	defer rows.Close()

	var out []model.SymbolFailure
	for rows.Next() {
		f, err := scanPgFailure(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan failure")
		}
		out = append(out, *f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list failures iterate")
}

// --- Runs ---

func (s *PostgresStore) CreateRun(ctx context.Context, kind model.RunKind) (*model.Run, error) {
	r := &model.Run{
		ID:        uuid.New().String(),
		Kind:      kind,
		Status:    model.RunStatusRunning,
		StartedAt: s.now(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, kind, status, started_at) VALUES ($1, $2, $3, $4)`,
		r.ID, string(r.Kind), string(r.Status), r.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return r, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, summary map[string]any, errMsg string) error {
	summaryJSON, err := encodeSummary(summary)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, summary = $2, error = $3, completed_at = $4 WHERE id = $5`,
		string(status), summaryJSON, errMsg, s.now(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return notFound("run", runID)
	}
	return nil
}

const pgRunSelect = `SELECT id, kind, status, summary, error, started_at, completed_at FROM runs`

func scanPgRun(row scannable) (*model.Run, error) {
	var r model.Run
	var kind, status string
	var summary []byte
	if err := row.Scan(&r.ID, &kind, &status, &summary, &r.Error, &r.StartedAt, &r.CompletedAt); err != nil {
		return nil, err
	}
	r.Kind, r.Status = model.RunKind(kind), model.RunStatus(status)
	var err error
	if r.Summary, err = decodeSummary(summary); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanPgRun(s.pool.QueryRow(ctx, pgRunSelect+` WHERE id = $1`, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("run", runID)
		}
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := pgRunSelect + ` WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Kind != "" {
		query += fmt.Sprintf(` AND kind = $%d`, argIdx)
		args = append(args, string(filter.Kind))
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY started_at DESC`
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/signal-outcomes/internal/model"
)

// sqliteTimeLayout is fixed width so stored timestamps sort lexicographically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000Z"

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db      *sql.DB
	nowFunc func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, nowFunc: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS price_bars (
	symbol         TEXT NOT NULL,
	date           TEXT NOT NULL,
	open           REAL NOT NULL DEFAULT 0,
	high           REAL NOT NULL DEFAULT 0,
	low            REAL NOT NULL DEFAULT 0,
	close          REAL,
	volume         INTEGER NOT NULL DEFAULT 0,
	adjusted_close REAL,
	source         TEXT NOT NULL,
	fetched_at     TEXT NOT NULL,
	PRIMARY KEY (symbol, date)
);

CREATE TABLE IF NOT EXISTS outcomes (
	prediction_id       TEXT NOT NULL,
	symbol              TEXT NOT NULL,
	prediction_date     TEXT NOT NULL,
	sentiment           TEXT NOT NULL,
	confidence          REAL NOT NULL,
	price_at_prediction REAL NOT NULL,
	price_t1            REAL,
	return_t1           REAL,
	correct_t1          INTEGER,
	pnl_t1              REAL,
	price_t3            REAL,
	return_t3           REAL,
	correct_t3          INTEGER,
	pnl_t3              REAL,
	price_t7            REAL,
	return_t7           REAL,
	correct_t7          INTEGER,
	pnl_t7              REAL,
	price_t30           REAL,
	return_t30          REAL,
	correct_t30         INTEGER,
	pnl_t30             REAL,
	is_complete         INTEGER NOT NULL DEFAULT 0,
	created_at          TEXT NOT NULL,
	updated_at          TEXT NOT NULL,
	PRIMARY KEY (prediction_id, symbol)
);

CREATE INDEX IF NOT EXISTS idx_outcomes_prediction_date ON outcomes(prediction_date);
CREATE INDEX IF NOT EXISTS idx_outcomes_complete ON outcomes(is_complete);

CREATE TABLE IF NOT EXISTS symbol_failures (
	symbol          TEXT PRIMARY KEY,
	kind            TEXT NOT NULL,
	message         TEXT NOT NULL DEFAULT '',
	attempts        INTEGER NOT NULL DEFAULT 1,
	permanent       INTEGER NOT NULL DEFAULT 0,
	first_failed_at TEXT NOT NULL,
	last_failed_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	summary      TEXT,
	error        TEXT NOT NULL DEFAULT '',
	started_at   TEXT NOT NULL,
	completed_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

CREATE TABLE IF NOT EXISTS history_requests (
	symbol       TEXT PRIMARY KEY,
	fetched_from TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS predictions (
	id              TEXT PRIMARY KEY,
	assets          TEXT NOT NULL DEFAULT '[]',
	confidence      REAL NOT NULL DEFAULT 0,
	predicted_at    TEXT NOT NULL,
	analysis_status TEXT NOT NULL DEFAULT 'pending'
);

CREATE INDEX IF NOT EXISTS idx_predictions_status_time ON predictions(analysis_status, predicted_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) now() time.Time {
	if s.nowFunc == nil {
		return time.Now().UTC()
	}
	return s.nowFunc().UTC()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "sqlite: parse time %q", s)
	}
	return t, nil
}

// --- Prices ---

func (s *SQLiteStore) UpsertBars(ctx context.Context, symbol string, bars []model.PriceBar) (int64, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	symbol = model.NormalizeSymbol(symbol)
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert bars")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO price_bars (symbol, date, open, high, low, close, volume, adjusted_close, source, fetched_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (symbol, date) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low, close = excluded.close,
			volume = excluded.volume, adjusted_close = excluded.adjusted_close,
			source = excluded.source, fetched_at = excluded.fetched_at`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert bars")
	}
	defer stmt.Close() //nolint:errcheck

	var n int64
	for _, b := range bars {
		fetched := b.FetchedAt
		if fetched.IsZero() {
			fetched = now
		}
		if _, err := stmt.ExecContext(ctx,
			symbol, model.FormatDate(b.Date), b.Open, b.High, b.Low, b.Close,
			b.Volume, b.AdjustedClose, b.Source, formatTime(fetched),
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert bar %s %s", symbol, model.FormatDate(b.Date))
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert bars")
	}
	return n, nil
}

const sqliteBarSelect = `SELECT symbol, date, open, high, low, close, volume, adjusted_close, source, fetched_at FROM price_bars`

func scanSQLiteBar(row scannable) (*model.PriceBar, error) {
	var b model.PriceBar
	var date, fetched string
	if err := row.Scan(&b.Symbol, &date, &b.Open, &b.High, &b.Low, &b.Close,
		&b.Volume, &b.AdjustedClose, &b.Source, &fetched); err != nil {
		return nil, err
	}
	var err error
	if b.Date, err = model.ParseDate(date); err != nil {
		return nil, err
	}
	if b.FetchedAt, err = parseTime(fetched); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *SQLiteStore) GetPrice(ctx context.Context, symbol string, date time.Time, lookbackDays int) (*model.PriceLookup, error) {
	symbol = model.NormalizeSymbol(symbol)
	target := model.Day(date)
	row := s.db.QueryRowContext(ctx,
		sqliteBarSelect+` WHERE symbol = ? AND date <= ? AND date >= ? ORDER BY date DESC LIMIT 1`,
		symbol, model.FormatDate(target), model.FormatDate(model.AddDays(target, -max(lookbackDays, 0))),
	)
	bar, err := scanSQLiteBar(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ResolveLookup(symbol, target, nil), nil
		}
		return nil, eris.Wrapf(err, "sqlite: get price %s %s", symbol, model.FormatDate(target))
	}
	return model.ResolveLookup(symbol, target, bar), nil
}

func (s *SQLiteStore) GetRange(ctx context.Context, symbol string, start, end time.Time) ([]model.PriceBar, error) {
	symbol = model.NormalizeSymbol(symbol)
	rows, err := s.db.QueryContext(ctx,
		sqliteBarSelect+` WHERE symbol = ? AND date >= ? AND date <= ? ORDER BY date`,
		symbol, model.FormatDate(start), model.FormatDate(end),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get range %s", symbol)
	}
	defer rows.Close() //nolint:errcheck

	var bars []model.PriceBar
	for rows.Next() {
		b, err := scanSQLiteBar(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan bar")
		}
		bars = append(bars, *b)
	}
	return bars, eris.Wrap(rows.Err(), "sqlite: get range iterate")
}

func (s *SQLiteStore) Coverage(ctx context.Context, symbol string) (*model.Coverage, error) {
	symbol = model.NormalizeSymbol(symbol)
	var first, last sql.NullString
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(date), MAX(date), COUNT(*) FROM price_bars WHERE symbol = ?`, symbol,
	).Scan(&first, &last, &n)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: coverage %s", symbol)
	}
	if n == 0 || !first.Valid || !last.Valid {
		return nil, nil
	}
	return coverageFromStrings(symbol, first.String, last.String, n)
}

func (s *SQLiteStore) FetchedFrom(ctx context.Context, symbol string) (time.Time, error) {
	var from string
	err := s.db.QueryRowContext(ctx,
		`SELECT fetched_from FROM history_requests WHERE symbol = ?`, model.NormalizeSymbol(symbol),
	).Scan(&from)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "sqlite: fetched from %s", symbol)
	}
	return model.ParseDate(from)
}

func (s *SQLiteStore) MarkFetchedFrom(ctx context.Context, symbol string, from time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history_requests (symbol, fetched_from, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(symbol) DO UPDATE SET
			fetched_from = MIN(history_requests.fetched_from, excluded.fetched_from),
			updated_at = excluded.updated_at`,
		model.NormalizeSymbol(symbol), model.FormatDate(from), s.now().UTC().Format(sqliteTimeLayout),
	)
	return eris.Wrapf(err, "sqlite: mark fetched from %s", symbol)
}

func coverageFromStrings(symbol, first, last string, n int) (*model.Coverage, error) {
	c := &model.Coverage{Symbol: symbol, Bars: n}
	var err error
	if c.First, err = model.ParseDate(first); err != nil {
		return nil, err
	}
	if c.Last, err = model.ParseDate(last); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *SQLiteStore) ListCoverage(ctx context.Context) ([]model.Coverage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, MIN(date), MAX(date), COUNT(*) FROM price_bars GROUP BY symbol ORDER BY symbol`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list coverage")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Coverage
	for rows.Next() {
		var symbol, first, last string
		var n int
		if err := rows.Scan(&symbol, &first, &last, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan coverage")
		}
		c, err := coverageFromStrings(symbol, first, last, n)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: parse coverage")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list coverage iterate")
}

// --- Predictions ---

// InsertPrediction writes a prediction row. Production predictions come from
// the analyzer; this is for fixtures and local development databases.
func (s *SQLiteStore) InsertPrediction(ctx context.Context, p model.Prediction) error {
	assets, err := encodeAssets(p.Assets)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO predictions (id, assets, confidence, predicted_at, analysis_status) VALUES (?, ?, ?, ?, ?)`,
		p.ID, string(assets), p.Confidence, formatTime(p.Timestamp), string(p.AnalysisStatus),
	)
	return eris.Wrapf(err, "sqlite: insert prediction %s", p.ID)
}

// InsertRawPrediction writes a prediction with an assets document as-is.
func (s *SQLiteStore) InsertRawPrediction(ctx context.Context, id, assetsJSON string, confidence float64, at time.Time, status model.AnalysisStatus) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO predictions (id, assets, confidence, predicted_at, analysis_status) VALUES (?, ?, ?, ?, ?)`,
		id, assetsJSON, confidence, formatTime(at), string(status),
	)
	return eris.Wrapf(err, "sqlite: insert prediction %s", id)
}

func (s *SQLiteStore) ListPredictions(ctx context.Context, filter PredictionFilter) ([]model.Prediction, error) {
	query := `SELECT id, assets, confidence, predicted_at, analysis_status FROM predictions WHERE analysis_status = ?`
	args := []any{string(model.AnalysisCompleted)}

	if !filter.Since.IsZero() {
		query += ` AND predicted_at >= ?`
		args = append(args, formatTime(filter.Since))
	}
	if !filter.Until.IsZero() {
		query += ` AND predicted_at < ?`
		args = append(args, formatTime(filter.Until))
	}
	if len(filter.IDs) > 0 {
		query += ` AND id IN (` + strings.TrimSuffix(strings.Repeat("?, ", len(filter.IDs)), ", ") + `)`
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY predicted_at, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list predictions")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Prediction
	for rows.Next() {
		var p model.Prediction
		var assets, at, status string
		if err := rows.Scan(&p.ID, &assets, &p.Confidence, &at, &status); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan prediction")
		}
		if p.Timestamp, err = parseTime(at); err != nil {
			return nil, err
		}
		p.AnalysisStatus = model.AnalysisStatus(status)
		if p.Assets, err = decodeAssets([]byte(assets)); err != nil {
			return nil, eris.Wrapf(err, "sqlite: prediction %s", p.ID)
		}
		if len(p.Assets) == 0 {
			continue
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list predictions iterate")
}

// --- Outcomes ---

func sqliteOutcomeSelect() string {
	return `SELECT ` + strings.Join(outcomeColumns(), ", ") + ` FROM outcomes`
}

func scanSQLiteOutcome(row scannable) (*model.Outcome, error) {
	var o model.Outcome
	var sentiment, predDate, created, updated string
	hTargets, apply := horizonTargets(&o)
	dest := []any{&o.PredictionID, &o.Symbol, &predDate, &sentiment, &o.Confidence, &o.PriceAtPrediction}
	dest = append(dest, hTargets...)
	dest = append(dest, &o.IsComplete, &created, &updated)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	apply()
	o.Sentiment = model.Sentiment(sentiment)
	var err error
	if o.PredictionDate, err = model.ParseDate(predDate); err != nil {
		return nil, err
	}
	if o.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if o.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *SQLiteStore) GetOutcome(ctx context.Context, predictionID, symbol string) (*model.Outcome, error) {
	row := s.db.QueryRowContext(ctx,
		sqliteOutcomeSelect()+` WHERE prediction_id = ? AND symbol = ?`,
		predictionID, model.NormalizeSymbol(symbol),
	)
	o, err := scanSQLiteOutcome(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get outcome %s/%s", predictionID, symbol)
	}
	return o, nil
}

func (s *SQLiteStore) UpsertOutcome(ctx context.Context, o *model.Outcome) (bool, error) {
	now := s.now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	o.Symbol = model.NormalizeSymbol(o.Symbol)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: begin upsert outcome")
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outcomes WHERE prediction_id = ? AND symbol = ?`,
		o.PredictionID, o.Symbol,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: check outcome %s/%s", o.PredictionID, o.Symbol)
	}

	cols := outcomeColumns()
	var sets []string
	for _, c := range outcomeUpdateColumns() {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	query := fmt.Sprintf(
		`INSERT INTO outcomes (%s) VALUES (%s) ON CONFLICT (prediction_id, symbol) DO UPDATE SET %s`,
		strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "),
		strings.Join(sets, ", "),
	)

	args := []any{o.PredictionID, o.Symbol, model.FormatDate(o.PredictionDate), string(o.Sentiment), o.Confidence, o.PriceAtPrediction}
	args = append(args, horizonArgs(o)...)
	args = append(args, o.IsComplete, formatTime(o.CreatedAt), formatTime(o.UpdatedAt))

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return false, eris.Wrapf(err, "sqlite: upsert outcome %s/%s", o.PredictionID, o.Symbol)
	}
	if err := tx.Commit(); err != nil {
		return false, eris.Wrap(err, "sqlite: commit upsert outcome")
	}
	return exists == 0, nil
}

func (s *SQLiteStore) ListOutcomes(ctx context.Context, filter model.OutcomeFilter) ([]model.Outcome, error) {
	query := sqliteOutcomeSelect() + ` WHERE 1=1`
	var args []any

	if !filter.Since.IsZero() {
		query += ` AND prediction_date >= ?`
		args = append(args, model.FormatDate(filter.Since))
	}
	if !filter.Until.IsZero() {
		query += ` AND prediction_date <= ?`
		args = append(args, model.FormatDate(filter.Until))
	}
	if filter.Symbol != "" {
		query += ` AND symbol = ?`
		args = append(args, model.NormalizeSymbol(filter.Symbol))
	}
	if filter.Complete != nil {
		query += ` AND is_complete = ?`
		args = append(args, *filter.Complete)
	}
	query += ` ORDER BY prediction_date, prediction_id, symbol`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list outcomes")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Outcome
	for rows.Next() {
		o, err := scanSQLiteOutcome(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan outcome")
		}
		out = append(out, *o)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list outcomes iterate")
}

func (s *SQLiteStore) IncompletePredictionIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT prediction_id FROM outcomes WHERE is_complete = 0 ORDER BY prediction_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: incomplete predictions")
	}
	defer rows.Close() //nolint:errcheck

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan prediction id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: incomplete predictions iterate")
}

// --- Failure ledger ---

const sqliteFailureSelect = `SELECT symbol, kind, message, attempts, permanent, first_failed_at, last_failed_at FROM symbol_failures`

func scanSQLiteFailure(row scannable) (*model.SymbolFailure, error) {
	var f model.SymbolFailure
	var kind, first, last string
	if err := row.Scan(&f.Symbol, &kind, &f.Message, &f.Attempts, &f.Permanent, &first, &last); err != nil {
		return nil, err
	}
	f.Kind = model.FailureKind(kind)
	var err error
	if f.FirstFailedAt, err = parseTime(first); err != nil {
		return nil, err
	}
	if f.LastFailedAt, err = parseTime(last); err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *SQLiteStore) GetFailure(ctx context.Context, symbol string) (*model.SymbolFailure, error) {
	f, err := scanSQLiteFailure(s.db.QueryRowContext(ctx, sqliteFailureSelect+` WHERE symbol = ?`, model.NormalizeSymbol(symbol)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get failure %s", symbol)
	}
	return f, nil
}

func (s *SQLiteStore) SaveFailure(ctx context.Context, f *model.SymbolFailure) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO symbol_failures (symbol, kind, message, attempts, permanent, first_failed_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (symbol) DO UPDATE SET
			kind = excluded.kind, message = excluded.message, attempts = excluded.attempts,
			permanent = excluded.permanent, last_failed_at = excluded.last_failed_at`,
		model.NormalizeSymbol(f.Symbol), string(f.Kind), f.Message, f.Attempts, f.Permanent,
		formatTime(f.FirstFailedAt), formatTime(f.LastFailedAt),
	)
	return eris.Wrapf(err, "sqlite: save failure %s", f.Symbol)
}

func (s *SQLiteStore) ClearFailure(ctx context.Context, symbol string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM symbol_failures WHERE symbol = ?`, model.NormalizeSymbol(symbol))
	return eris.Wrapf(err, "sqlite: clear failure %s", symbol)
}

func (s *SQLiteStore) ListFailures(ctx context.Context) ([]model.SymbolFailure, error) {
	rows, err := s.db.QueryContext(ctx, sqliteFailureSelect+` ORDER BY symbol`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list failures")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.SymbolFailure
	for rows.Next() {
		f, err := scanSQLiteFailure(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan failure")
		}
		out = append(out, *f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list failures iterate")
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, kind model.RunKind) (*model.Run, error) {
	r := &model.Run{
		ID:        uuid.New().String(),
		Kind:      kind,
		Status:    model.RunStatusRunning,
		StartedAt: s.now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, kind, status, started_at) VALUES (?, ?, ?, ?)`,
		r.ID, string(r.Kind), string(r.Status), formatTime(r.StartedAt),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return r, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, summary map[string]any, errMsg string) error {
	summaryJSON, err := encodeSummary(summary)
	if err != nil {
		return err
	}
	var summaryArg any
	if summaryJSON != nil {
		summaryArg = string(summaryJSON)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, summary = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(status), summaryArg, errMsg, formatTime(s.now()), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

const sqliteRunSelect = `SELECT id, kind, status, summary, error, started_at, completed_at FROM runs`

func scanSQLiteRun(row scannable) (*model.Run, error) {
	var r model.Run
	var kind, status, started string
	var summary, completed sql.NullString
	if err := row.Scan(&r.ID, &kind, &status, &summary, &r.Error, &started, &completed); err != nil {
		return nil, err
	}
	r.Kind, r.Status = model.RunKind(kind), model.RunStatus(status)
	var err error
	if r.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if completed.Valid {
		t, err := parseTime(completed.String)
		if err != nil {
			return nil, err
		}
		r.CompletedAt = &t
	}
	if summary.Valid {
		if r.Summary, err = decodeSummary([]byte(summary.String)); err != nil {
			return nil, err
		}
	}
	return &r, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanSQLiteRun(s.db.QueryRowContext(ctx, sqliteRunSelect+` WHERE id = ?`, runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("run", runID)
		}
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := sqliteRunSelect + ` WHERE 1=1`
	var args []any

	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return notFound(entity, id)
	}
	return nil
}

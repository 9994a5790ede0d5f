// Package store persists price bars, outcomes, the backfill failure ledger,
// and the run log, and reads the analyzer-owned predictions table.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/signal-outcomes/internal/model"
)

// ErrNotFound is returned when a run lookup or update matches no row.
var ErrNotFound = eris.New("not found")

func notFound(entity, id string) error {
	return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
}

// PriceStore persists daily bars keyed by (symbol, date).
type PriceStore interface {
	// UpsertBars writes bars for symbol. Existing (symbol, date) rows have
	// their price fields replaced and fetched_at refreshed.
	UpsertBars(ctx context.Context, symbol string, bars []model.PriceBar) (int64, error)
	// GetPrice resolves the bar for date, falling back to the most recent bar
	// at most lookbackDays calendar days earlier. Missing data is reported in
	// the lookup status; the error is for storage failures only.
	GetPrice(ctx context.Context, symbol string, date time.Time, lookbackDays int) (*model.PriceLookup, error)
	GetRange(ctx context.Context, symbol string, start, end time.Time) ([]model.PriceBar, error)
	// Coverage returns nil when the symbol has no bars.
	Coverage(ctx context.Context, symbol string) (*model.Coverage, error)
	ListCoverage(ctx context.Context) ([]model.Coverage, error)
	// FetchedFrom returns the earliest date the provider has been asked for
	// symbol, or the zero time when it never has.
	FetchedFrom(ctx context.Context, symbol string) (time.Time, error)
	// MarkFetchedFrom records that history from date onward has been
	// requested. The stored date only moves earlier.
	MarkFetchedFrom(ctx context.Context, symbol string, from time.Time) error
}

// PredictionFilter selects predictions. Zero times leave that side open.
type PredictionFilter struct {
	Since time.Time
	Until time.Time
	IDs   []string
	Limit int
}

// PredictionSource reads completed predictions with at least one asset.
// Assets with a null sentiment are dropped.
type PredictionSource interface {
	ListPredictions(ctx context.Context, filter PredictionFilter) ([]model.Prediction, error)
}

// OutcomeStore persists outcomes keyed by (prediction_id, symbol).
type OutcomeStore interface {
	// GetOutcome returns nil when no outcome exists.
	GetOutcome(ctx context.Context, predictionID, symbol string) (*model.Outcome, error)
	// UpsertOutcome inserts or replaces o and reports whether it was created.
	UpsertOutcome(ctx context.Context, o *model.Outcome) (bool, error)
	ListOutcomes(ctx context.Context, filter model.OutcomeFilter) ([]model.Outcome, error)
	// IncompletePredictionIDs lists predictions with at least one incomplete outcome.
	IncompletePredictionIDs(ctx context.Context) ([]string, error)
}

// FailureStore is the backfill failure ledger.
type FailureStore interface {
	// GetFailure returns nil when the symbol has no ledger entry.
	GetFailure(ctx context.Context, symbol string) (*model.SymbolFailure, error)
	SaveFailure(ctx context.Context, f *model.SymbolFailure) error
	ClearFailure(ctx context.Context, symbol string) error
	ListFailures(ctx context.Context) ([]model.SymbolFailure, error)
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Kind   model.RunKind   `json:"kind,omitempty"`
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// RunLog records each backfill, calculate, and pipeline invocation.
type RunLog interface {
	CreateRun(ctx context.Context, kind model.RunKind) (*model.Run, error)
	FinishRun(ctx context.Context, runID string, status model.RunStatus, summary map[string]any, errMsg string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
}

// Store is the full persistence interface.
type Store interface {
	PriceStore
	PredictionSource
	OutcomeStore
	FailureStore
	RunLog

	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

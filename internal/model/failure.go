package model

import "time"

// FailureKind classifies why a symbol could not be backfilled.
type FailureKind string

const (
	FailureInvalidSymbol FailureKind = "invalid_symbol"
	FailureNoData        FailureKind = "no_data"
	FailureProvider      FailureKind = "provider"
)

// SymbolFailure is a ledger entry for a symbol that failed to backfill.
// Permanent entries are skipped by later runs unless forced.
type SymbolFailure struct {
	Symbol        string      `json:"symbol"`
	Kind          FailureKind `json:"kind"`
	Message       string      `json:"message"`
	Attempts      int         `json:"attempts"`
	Permanent     bool        `json:"permanent"`
	FirstFailedAt time.Time   `json:"first_failed_at"`
	LastFailedAt  time.Time   `json:"last_failed_at"`
}

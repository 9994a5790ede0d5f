package resilience

import (
	"errors"

	"github.com/rotisserie/eris"
)

// Kind classifies a failure by how the pipeline reacts to it.
type Kind string

const (
	// KindProviderUnavailable is a transient market-data failure, retried next run.
	KindProviderUnavailable Kind = "provider_unavailable"
	// KindInvalidSymbol is permanent; the symbol is skipped.
	KindInvalidSymbol Kind = "invalid_symbol"
	// KindDataGap means a price is missing; the affected horizon stays pending.
	KindDataGap Kind = "data_gap"
	// KindComputationError skips and logs a single (prediction, asset) pair.
	KindComputationError Kind = "computation_error"
)

// KindError attaches a Kind to an error.
type KindError struct {
	Kind Kind
	Err  error
}

func (e *KindError) Error() string {
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *KindError) Unwrap() error {
	return e.Err
}

// WithKind wraps err with kind. A nil err stays nil.
func WithKind(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &KindError{Kind: kind, Err: err}
}

// Errorf builds a new error of the given kind.
func Errorf(kind Kind, format string, args ...any) error {
	return &KindError{Kind: kind, Err: eris.Errorf(format, args...)}
}

// KindOf returns the kind attached to err. Untagged transient errors are
// provider outages; anything else untagged is a computation error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	if IsTransient(err) || errors.Is(err, ErrCircuitOpen) {
		return KindProviderUnavailable
	}
	return KindComputationError
}

// IsPermanent reports whether retrying err on a later run cannot help.
func IsPermanent(err error) bool {
	return KindOf(err) == KindInvalidSymbol
}

// ClassifyError categorizes an error as "transient" or "permanent".
func ClassifyError(err error) string {
	if IsPermanent(err) {
		return "permanent"
	}
	if IsTransient(err) || KindOf(err) == KindProviderUnavailable {
		return "transient"
	}
	return "permanent"
}

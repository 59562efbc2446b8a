package source

import (
	"errors"
	"fmt"
)

// Kind classifies adapter failures so the orchestrator can report an
// actionable per-source status.
type Kind string

const (
	// KindNotAvailable means the backing store is not installed or present.
	KindNotAvailable Kind = "not_available"
	// KindNotAuthorized means the store exists but the OS denied access.
	KindNotAuthorized Kind = "not_authorized"
	// KindSchemaError means the store was readable but its format was not
	// recognized, typically after an external app update.
	KindSchemaError Kind = "schema_error"
	// KindTimeout means the source exceeded its per-cycle time budget.
	KindTimeout Kind = "timeout"
	// KindPersistence means the cadence store itself failed to commit.
	KindPersistence Kind = "persistence"
)

// Error is a classified source failure.
type Error struct {
	Kind   Kind
	Source string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Source, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NotAvailable wraps err as a missing-store failure.
func NotAvailable(source string, err error) *Error {
	return &Error{Kind: KindNotAvailable, Source: source, Err: err}
}

// NotAuthorized wraps err as a permission failure.
func NotAuthorized(source string, err error) *Error {
	return &Error{Kind: KindNotAuthorized, Source: source, Err: err}
}

// SchemaError wraps err as an unrecognized-format failure.
func SchemaError(source string, err error) *Error {
	return &Error{Kind: KindSchemaError, Source: source, Err: err}
}

// Timeout wraps err as a time-budget failure.
func Timeout(source string, err error) *Error {
	return &Error{Kind: KindTimeout, Source: source, Err: err}
}

// Persistence wraps err as a cadence-store commit failure.
func Persistence(err error) *Error {
	return &Error{Kind: KindPersistence, Source: "store", Err: err}
}

// KindOf extracts the failure kind, defaulting to schema_error for
// unclassified errors (the least recoverable assumption).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindSchemaError
}

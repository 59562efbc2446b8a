// Package source holds the per-source adapters that read external local
// stores and surface them as raw, not-yet-matched communication records.
// Adapters are stateless: every fetch opens, reads, and closes its backing
// store, so nothing mutable survives between sync cycles.
package source

import (
	"context"

	"github.com/ewhitley/cadence/internal/normalize"
	"github.com/ewhitley/cadence/internal/store"
)

// RawEvent is one source record before normalization and identity matching.
// RawTimestamp stays in the source's native representation; the per-source
// Converter owns the conversion to absolute time.
type RawEvent struct {
	RowID        string
	RawTimestamp float64
	Phone        string
	Email        string
	Name         string
	Channel      store.Channel
	Direction    store.Direction
	DurationSec  int
	Summary      string
}

// Source is the capability contract every adapter implements.
type Source interface {
	// Name returns the configured instance name.
	Name() string

	// Tag returns the stable tag used to build source identifiers.
	Tag() string

	// Converter returns the source's fixed timestamp conversion constants.
	Converter() normalize.Converter

	// CheckAvailability probes the backing store without throwing. For
	// database-backed sources it attempts an actual read-only query, not a
	// file stat: OS permission layers can deny access to files that look
	// present.
	CheckAvailability() bool

	// FetchRecent returns raw events newer than sinceDays. Failures are
	// *Error values so the orchestrator can report an actionable status.
	FetchRecent(ctx context.Context, sinceDays int) ([]RawEvent, error)
}

// Card is one entry from the contact directory: the identity signals a
// linked contact contributes to the lookup table.
type Card struct {
	UID    string
	Name   string
	Phones []string
	Emails []string
}

// Directory is the contact-directory adapter. It produces no events; it
// feeds the per-cycle identity lookup table.
type Directory interface {
	CheckAvailability() bool
	FetchCards(ctx context.Context) ([]Card, error)
}

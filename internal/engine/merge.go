package engine

import (
	"time"

	"github.com/ewhitley/cadence/internal/identity"
	"github.com/ewhitley/cadence/internal/normalize"
	"github.com/ewhitley/cadence/internal/source"
	"github.com/ewhitley/cadence/internal/store"
)

// buildCandidates normalizes one source's raw events and resolves each to a
// tracked contact. Unmatched events are dropped silently: communication with
// people the user does not track is never recorded, not even as a count in
// the store.
func buildCandidates(src source.Source, raws []source.RawEvent, table *identity.Table) []store.Event {
	conv := src.Converter()
	out := make([]store.Event, 0, len(raws))
	for _, raw := range raws {
		contactID, ok := table.Match(raw.Phone, raw.Email, raw.Name)
		if !ok {
			continue
		}

		ev := store.Event{
			ContactID:    contactID,
			Channel:      raw.Channel,
			Direction:    raw.Direction,
			Timestamp:    conv.Canonical(raw.RawTimestamp),
			Summary:      raw.Summary,
			AutoDetected: true,
			SourceID:     normalize.SourceID(src.Tag(), raw.RowID),
		}
		if raw.DurationSec > 0 {
			d := raw.DurationSec
			ev.DurationSec = &d
		}
		out = append(out, ev)
	}
	return out
}

// MergeResult summarizes one merge pass.
type MergeResult struct {
	Inserted int
	Skipped  int
	Purged   int
}

// Merge applies matched candidates to the store in a single commit:
// candidates whose source identifier is already present are skipped, new
// ones are inserted, events dated in the future are purged, and every
// contact's last-contact date is recomputed over its full event history.
// The existing set is the snapshot loaded at cycle start; Merge never
// re-reads it, which keeps the pass order-independent and idempotent.
func Merge(st *store.Store, existing map[string]struct{}, candidates []store.Event, now time.Time) (MergeResult, error) {
	var res MergeResult

	tx, err := st.Begin()
	if err != nil {
		return res, source.Persistence(err)
	}
	defer tx.Rollback()

	seen := make(map[string]struct{}, len(candidates))
	for _, ev := range candidates {
		if _, dup := existing[ev.SourceID]; dup {
			res.Skipped++
			continue
		}
		if _, dup := seen[ev.SourceID]; dup {
			res.Skipped++
			continue
		}
		seen[ev.SourceID] = struct{}{}

		if _, err := store.InsertEventTx(tx, ev); err != nil {
			return res, source.Persistence(err)
		}
		res.Inserted++
	}

	// A future-dated event would pin last-contact past "now" forever; purge
	// before recomputing.
	purged, err := store.PurgeFutureEventsTx(tx, now)
	if err != nil {
		return res, source.Persistence(err)
	}
	res.Purged = purged

	if err := store.RecomputeLastContactsTx(tx, now); err != nil {
		return res, source.Persistence(err)
	}

	if err := tx.Commit(); err != nil {
		return res, source.Persistence(err)
	}
	return res, nil
}

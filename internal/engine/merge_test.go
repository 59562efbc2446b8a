package engine

import (
	"context"
	"testing"
	"time"

	"github.com/ewhitley/cadence/internal/identity"
	"github.com/ewhitley/cadence/internal/normalize"
	"github.com/ewhitley/cadence/internal/source"
	"github.com/ewhitley/cadence/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	t.Setenv("CADENCE_DATA_DIR", t.TempDir())
	if err := store.Init(); err != nil {
		t.Fatalf("store.Init: %v", err)
	}
	st, err := store.Open()
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func mustContact(t *testing.T, st *store.Store, first, last string) store.Contact {
	t.Helper()
	c, err := st.CreateContact(store.Contact{FirstName: first, LastName: last})
	if err != nil {
		t.Fatalf("CreateContact: %v", err)
	}
	return c
}

func TestMergeIdempotent(t *testing.T) {
	st := openTestStore(t)
	c := mustContact(t, st, "Ada", "Lovelace")

	now := time.Now()
	candidates := []store.Event{
		{
			ContactID:    c.ID,
			Channel:      store.ChannelSMS,
			Direction:    store.DirectionIncoming,
			Timestamp:    now.Add(-24 * time.Hour),
			AutoDetected: true,
			SourceID:     "sms-GUID-1",
		},
		{
			ContactID:    c.ID,
			Channel:      store.ChannelPhone,
			Direction:    store.DirectionOutgoing,
			Timestamp:    now.Add(-48 * time.Hour),
			AutoDetected: true,
			SourceID:     "call-77",
		},
	}

	existing, err := st.FetchEventSourceIdentifiers()
	if err != nil {
		t.Fatalf("FetchEventSourceIdentifiers: %v", err)
	}
	res, err := Merge(st, existing, candidates, now)
	if err != nil {
		t.Fatalf("first Merge: %v", err)
	}
	if res.Inserted != 2 {
		t.Fatalf("first Merge inserted %d, want 2", res.Inserted)
	}

	// Second pass with the identical candidate set must be a no-op.
	existing, err = st.FetchEventSourceIdentifiers()
	if err != nil {
		t.Fatalf("FetchEventSourceIdentifiers: %v", err)
	}
	res, err = Merge(st, existing, candidates, now)
	if err != nil {
		t.Fatalf("second Merge: %v", err)
	}
	if res.Inserted != 0 || res.Skipped != 2 {
		t.Errorf("second Merge inserted=%d skipped=%d, want 0/2", res.Inserted, res.Skipped)
	}

	events, err := st.ListEvents(c.ID, 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("store holds %d events, want 2", len(events))
	}
}

func TestMergeDuplicateWithinCycle(t *testing.T) {
	st := openTestStore(t)
	c := mustContact(t, st, "Ada", "Lovelace")

	now := time.Now()
	ev := store.Event{
		ContactID: c.ID, Channel: store.ChannelEmail,
		Timestamp: now.Add(-time.Hour), AutoDetected: true, SourceID: "mail-x",
	}
	res, err := Merge(st, map[string]struct{}{}, []store.Event{ev, ev}, now)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if res.Inserted != 1 || res.Skipped != 1 {
		t.Errorf("inserted=%d skipped=%d, want 1/1", res.Inserted, res.Skipped)
	}
}

func TestMergePurgesFutureAndRecomputes(t *testing.T) {
	st := openTestStore(t)
	c := mustContact(t, st, "Ada", "Lovelace")

	now := time.Now()
	yesterday := now.Add(-24 * time.Hour)
	nextYear := now.AddDate(1, 0, 0)

	// A corrupted source left a future-dated event in the store.
	if _, err := st.InsertEvent(store.Event{
		ContactID: c.ID, Channel: store.ChannelChatApp,
		Timestamp: nextYear, AutoDetected: true, SourceID: "chat-future",
	}); err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}

	existing, err := st.FetchEventSourceIdentifiers()
	if err != nil {
		t.Fatalf("FetchEventSourceIdentifiers: %v", err)
	}
	res, err := Merge(st, existing, []store.Event{{
		ContactID: c.ID, Channel: store.ChannelSMS,
		Timestamp: yesterday, AutoDetected: true, SourceID: "sms-y",
	}}, now)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if res.Purged != 1 {
		t.Errorf("purged %d future events, want 1", res.Purged)
	}

	events, err := st.ListEvents(c.ID, 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	for _, ev := range events {
		if ev.Timestamp.After(now) {
			t.Errorf("future event %s survived the purge", ev.SourceID)
		}
	}

	got, err := st.GetContact(c.ID)
	if err != nil {
		t.Fatalf("GetContact: %v", err)
	}
	if got.LastContactAt == nil {
		t.Fatal("LastContactAt not set")
	}
	if got.LastContactAt.Unix() != yesterday.Unix() {
		t.Errorf("LastContactAt = %v, want %v", got.LastContactAt, yesterday)
	}
}

func TestMergeCountsManualHistory(t *testing.T) {
	st := openTestStore(t)
	c := mustContact(t, st, "Ada", "Lovelace")

	now := time.Now()
	manual := now.Add(-72 * time.Hour)

	// A manually logged meetup, no source identifier.
	if _, err := st.InsertEvent(store.Event{
		ContactID: c.ID, Channel: store.ChannelInPerson, Timestamp: manual,
	}); err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}

	// A cycle with no new candidates must still pick the manual event up.
	if _, err := Merge(st, map[string]struct{}{}, nil, now); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	got, err := st.GetContact(c.ID)
	if err != nil {
		t.Fatalf("GetContact: %v", err)
	}
	if got.LastContactAt == nil || got.LastContactAt.Unix() != manual.Unix() {
		t.Errorf("LastContactAt = %v, want %v", got.LastContactAt, manual)
	}
}

func TestBuildCandidatesDropsUnmatched(t *testing.T) {
	st := openTestStore(t)
	c := mustContact(t, st, "Ada", "Lovelace")

	table, err := identity.Build(context.Background(), []store.Contact{c}, nil)
	if err != nil {
		t.Fatalf("identity.Build: %v", err)
	}

	src := &fakeSource{name: "messages", tag: "sms", conv: normalize.UnixSeconds}
	raws := []source.RawEvent{
		{RowID: "1", RawTimestamp: 1700000000, Name: "Ada Lovelace", Channel: store.ChannelSMS},
		{RowID: "2", RawTimestamp: 1700000001, Phone: "5550001111", Channel: store.ChannelSMS},
	}

	got := buildCandidates(src, raws, table)
	if len(got) != 1 {
		t.Fatalf("buildCandidates kept %d events, want 1 (unmatched dropped silently)", len(got))
	}
	if got[0].SourceID != "sms-1" {
		t.Errorf("SourceID = %q, want sms-1", got[0].SourceID)
	}
	if !got[0].AutoDetected {
		t.Error("candidate not flagged auto-detected")
	}
}

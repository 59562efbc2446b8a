package store

import (
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	t.Setenv("CADENCE_DATA_DIR", t.TempDir())
	if err := Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	s, err := Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateGroupRejectsBadInterval(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.CreateGroup("friends", 0, 7, 1); err == nil {
		t.Error("CreateGroup accepted interval_days of 0")
	}
	if _, err := s.CreateGroup("friends", -3, 7, 1); err == nil {
		t.Error("CreateGroup accepted a negative interval_days")
	}
}

func TestDeleteGroupDetachesMembers(t *testing.T) {
	s := openTestStore(t)
	g, err := s.CreateGroup("family", 14, 3, 2)
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	c, err := s.CreateContact(Contact{FirstName: "Ada", LastName: "Lovelace", GroupID: &g.ID})
	if err != nil {
		t.Fatalf("CreateContact: %v", err)
	}

	if err := s.DeleteGroup(g.ID); err != nil {
		t.Fatalf("DeleteGroup: %v", err)
	}

	got, err := s.GetContact(c.ID)
	if err != nil {
		t.Fatalf("GetContact after group delete: %v", err)
	}
	if got.GroupID != nil {
		t.Errorf("contact still references deleted group %q", *got.GroupID)
	}

	if err := s.DeleteGroup(g.ID); err == nil {
		t.Error("deleting an unknown group did not error")
	}
}

func TestDeleteContactCascadesEvents(t *testing.T) {
	s := openTestStore(t)
	c, err := s.CreateContact(Contact{FirstName: "Ada", LastName: "Lovelace"})
	if err != nil {
		t.Fatalf("CreateContact: %v", err)
	}
	if _, err := s.InsertEvent(Event{
		ContactID: c.ID,
		Channel:   ChannelInPerson,
		Timestamp: time.Now().Add(-time.Hour),
	}); err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}

	if err := s.DeleteContact(c.ID); err != nil {
		t.Fatalf("DeleteContact: %v", err)
	}

	evs, err := s.ListEvents(c.ID, 10)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(evs) != 0 {
		t.Errorf("found %d events after contact delete, want 0", len(evs))
	}
}

func TestFetchContactsSkipsInactive(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.CreateContact(Contact{FirstName: "Ada"}); err != nil {
		t.Fatalf("CreateContact: %v", err)
	}
	c2, err := s.CreateContact(Contact{FirstName: "Grace"})
	if err != nil {
		t.Fatalf("CreateContact: %v", err)
	}
	if _, err := s.db.Exec(`UPDATE contacts SET active = 0 WHERE id = ?`, c2.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	got, err := s.FetchContacts()
	if err != nil {
		t.Fatalf("FetchContacts: %v", err)
	}
	if len(got) != 1 || got[0].FirstName != "Ada" {
		t.Errorf("FetchContacts = %v, want only Ada", got)
	}
}

func TestDuplicateSourceIDRejected(t *testing.T) {
	s := openTestStore(t)
	c, err := s.CreateContact(Contact{FirstName: "Ada"})
	if err != nil {
		t.Fatalf("CreateContact: %v", err)
	}
	ev := Event{
		ContactID:    c.ID,
		Channel:      ChannelSMS,
		Timestamp:    time.Now().Add(-time.Hour),
		AutoDetected: true,
		SourceID:     "sms-41",
	}
	if _, err := s.InsertEvent(ev); err != nil {
		t.Fatalf("first InsertEvent: %v", err)
	}
	ev.ID = ""
	if _, err := s.InsertEvent(ev); err == nil {
		t.Error("second insert with the same source_id did not error")
	}

	// Manual events have no source_id; any number may coexist.
	for i := 0; i < 2; i++ {
		if _, err := s.InsertEvent(Event{
			ContactID: c.ID,
			Channel:   ChannelManual,
			Timestamp: time.Now().Add(-time.Hour),
		}); err != nil {
			t.Fatalf("manual InsertEvent %d: %v", i, err)
		}
	}
}

func TestOverdue(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	g, err := s.CreateGroup("close", 7, 2, 5)
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	never, _ := s.CreateContact(Contact{FirstName: "Never"})
	fresh, _ := s.CreateContact(Contact{FirstName: "Fresh"})
	grouped, _ := s.CreateContact(Contact{FirstName: "Grouped", GroupID: &g.ID})
	override := 3
	custom, _ := s.CreateContact(Contact{FirstName: "Custom", GroupID: &g.ID, IntervalOverrideDays: &override})

	logAt := func(id string, daysAgo int) {
		t.Helper()
		if _, err := s.InsertEvent(Event{
			ContactID: id,
			Channel:   ChannelPhone,
			Timestamp: now.Add(-time.Duration(daysAgo) * 24 * time.Hour),
		}); err != nil {
			t.Fatalf("InsertEvent: %v", err)
		}
		tx, err := s.Begin()
		if err != nil {
			t.Fatalf("Begin: %v", err)
		}
		if err := RecomputeLastContactsTx(tx, now); err != nil {
			t.Fatalf("RecomputeLastContactsTx: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("Commit: %v", err)
		}
	}
	logAt(fresh.ID, 2)    // within the 30-day default
	logAt(grouped.ID, 10) // past the 7-day group interval
	logAt(custom.ID, 5)   // past the 3-day override, within the group interval

	out, err := s.Overdue(now, 30)
	if err != nil {
		t.Fatalf("Overdue: %v", err)
	}
	byID := make(map[string]OverdueContact, len(out))
	for _, oc := range out {
		byID[oc.Contact.ID] = oc
	}

	if oc, ok := byID[never.ID]; !ok {
		t.Error("contact with no history is not overdue")
	} else if oc.DaysSince != -1 {
		t.Errorf("no-history DaysSince = %d, want -1", oc.DaysSince)
	}
	if _, ok := byID[fresh.ID]; ok {
		t.Error("recently contacted person reported overdue")
	}
	if oc, ok := byID[grouped.ID]; !ok {
		t.Error("group-interval contact not reported overdue")
	} else if oc.IntervalDays != 7 {
		t.Errorf("group interval = %d, want 7", oc.IntervalDays)
	}
	if oc, ok := byID[custom.ID]; !ok {
		t.Error("override-interval contact not reported overdue")
	} else if oc.IntervalDays != 3 {
		t.Errorf("override interval = %d, want 3", oc.IntervalDays)
	}
}

func TestCycleHistoryRetention(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().Add(-time.Duration(cycleHistoryKeep+10) * time.Minute)
	for i := 0; i < cycleHistoryKeep+10; i++ {
		rec := CycleRecord{
			StartedAt:     base.Add(time.Duration(i) * time.Minute),
			State:         "completed",
			EventsCreated: i,
			Counts:        map[string]int{"messages": i},
		}
		if err := s.AppendCycle(rec); err != nil {
			t.Fatalf("AppendCycle %d: %v", i, err)
		}
	}

	recs, err := s.RecentCycles(0)
	if err != nil {
		t.Fatalf("RecentCycles: %v", err)
	}
	if len(recs) != cycleHistoryKeep {
		t.Fatalf("retained %d cycles, want %d", len(recs), cycleHistoryKeep)
	}
	// Newest first, and the oldest records were the ones trimmed.
	if recs[0].EventsCreated != cycleHistoryKeep+9 {
		t.Errorf("newest record EventsCreated = %d, want %d", recs[0].EventsCreated, cycleHistoryKeep+9)
	}
	if recs[0].Counts["messages"] != cycleHistoryKeep+9 {
		t.Errorf("counts did not round-trip: %v", recs[0].Counts)
	}
}

func TestPurgeFutureEventsTx(t *testing.T) {
	s := openTestStore(t)
	c, err := s.CreateContact(Contact{FirstName: "Ada"})
	if err != nil {
		t.Fatalf("CreateContact: %v", err)
	}
	now := time.Now()
	if _, err := s.InsertEvent(Event{ContactID: c.ID, Channel: ChannelEmail, Timestamp: now.Add(-time.Hour)}); err != nil {
		t.Fatalf("InsertEvent past: %v", err)
	}
	if _, err := s.InsertEvent(Event{ContactID: c.ID, Channel: ChannelEmail, Timestamp: now.Add(48 * time.Hour)}); err != nil {
		t.Fatalf("InsertEvent future: %v", err)
	}

	tx, err := s.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	n, err := PurgeFutureEventsTx(tx, now)
	if err != nil {
		t.Fatalf("PurgeFutureEventsTx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d events, want 1", n)
	}

	evs, err := s.ListEvents(c.ID, 10)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(evs) != 1 || evs[0].Timestamp.After(now) {
		t.Errorf("events after purge = %v, want only the past one", evs)
	}
}

package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Channel classifies how a communication happened.
type Channel string

const (
	ChannelPhone    Channel = "phone"
	ChannelVideo    Channel = "video-call"
	ChannelSMS      Channel = "short-message"
	ChannelChatApp  Channel = "chat-app"
	ChannelEmail    Channel = "email"
	ChannelCalendar Channel = "calendar-meeting"
	ChannelInPerson Channel = "in-person"
	ChannelManual   Channel = "manual"
)

// Direction classifies who initiated a communication.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
	DirectionMutual   Direction = "mutual"
	DirectionUnknown  Direction = "unknown"
)

// Event is one communication with a tracked contact. Auto-detected events
// carry a SourceID unique across the whole store; manual events carry none.
type Event struct {
	ID           string    `json:"id"`
	ContactID    string    `json:"contact_id"`
	Channel      Channel   `json:"channel"`
	Direction    Direction `json:"direction"`
	Timestamp    time.Time `json:"timestamp"`
	DurationSec  *int      `json:"duration_seconds,omitempty"`
	Summary      string    `json:"summary,omitempty"`
	AutoDetected bool      `json:"auto_detected"`
	SourceID     string    `json:"source_id,omitempty"`
}

// InsertEvent persists a single event outside a sync cycle (manual logging).
func (s *Store) InsertEvent(ev Event) (Event, error) {
	tx, err := s.Begin()
	if err != nil {
		return Event{}, err
	}
	ev, err = InsertEventTx(tx, ev)
	if err != nil {
		tx.Rollback()
		return Event{}, err
	}
	if err := tx.Commit(); err != nil {
		return Event{}, fmt.Errorf("failed to commit event: %w", err)
	}
	return ev, nil
}

// InsertEventTx persists one event within a transaction.
func InsertEventTx(tx *sql.Tx, ev Event) (Event, error) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Direction == "" {
		ev.Direction = DirectionUnknown
	}
	auto := 0
	if ev.AutoDetected {
		auto = 1
	}
	_, err := tx.Exec(`
		INSERT INTO events (
			id, contact_id, channel, direction, timestamp,
			duration_seconds, summary, auto_detected, source_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.ContactID, string(ev.Channel), string(ev.Direction), ev.Timestamp.Unix(),
		ev.DurationSec, ev.Summary, auto, nullIfEmpty(ev.SourceID), time.Now().Unix())
	if err != nil {
		return Event{}, fmt.Errorf("failed to insert event: %w", err)
	}
	return ev, nil
}

// FetchEventSourceIdentifiers returns every persisted dedup key. Loaded once
// per sync cycle and treated as a read-only snapshot.
func (s *Store) FetchEventSourceIdentifiers() (map[string]struct{}, error) {
	rows, err := s.db.Query(`SELECT source_id FROM events WHERE source_id IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to query source identifiers: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan source identifier: %w", err)
		}
		out[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating source identifiers: %w", err)
	}
	return out, nil
}

// ListEvents returns a contact's events newest-first.
func (s *Store) ListEvents(contactID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, contact_id, channel, direction, timestamp,
		       duration_seconds, summary, auto_detected, source_id
		FROM events
		WHERE contact_id = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, contactID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var channel, direction string
		var ts int64
		var duration sql.NullInt64
		var sourceID sql.NullString
		var auto int
		if err := rows.Scan(&ev.ID, &ev.ContactID, &channel, &direction, &ts,
			&duration, &ev.Summary, &auto, &sourceID); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		ev.Channel = Channel(channel)
		ev.Direction = Direction(direction)
		ev.Timestamp = time.Unix(ts, 0).UTC()
		if duration.Valid {
			d := int(duration.Int64)
			ev.DurationSec = &d
		}
		ev.SourceID = sourceID.String
		ev.AutoDetected = auto == 1
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating event rows: %w", err)
	}
	return out, nil
}

// PurgeFutureEventsTx deletes events dated strictly after now. A corrupted or
// mis-zoned source timestamp must never make a contact look freshly reached.
func PurgeFutureEventsTx(tx *sql.Tx, now time.Time) (int, error) {
	res, err := tx.Exec(`DELETE FROM events WHERE timestamp > ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to purge future events: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// RecomputeLastContactsTx sets each contact's last_contact_at to the maximum
// past-or-present timestamp over ALL of its events (manual history included).
// The stored value only moves forward; it is written when absent or earlier
// than the recomputed maximum.
func RecomputeLastContactsTx(tx *sql.Tx, now time.Time) error {
	_, err := tx.Exec(`
		UPDATE contacts
		SET last_contact_at = (
			SELECT MAX(e.timestamp) FROM events e
			WHERE e.contact_id = contacts.id AND e.timestamp <= ?1
		)
		WHERE (
			SELECT MAX(e.timestamp) FROM events e
			WHERE e.contact_id = contacts.id AND e.timestamp <= ?1
		) IS NOT NULL
		AND (
			last_contact_at IS NULL
			OR last_contact_at < (
				SELECT MAX(e.timestamp) FROM events e
				WHERE e.contact_id = contacts.id AND e.timestamp <= ?1
			)
		)
	`, now.Unix())
	if err != nil {
		return fmt.Errorf("failed to recompute last contact dates: %w", err)
	}
	return nil
}

package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CycleRecord is one persisted sync cycle outcome. Failures are additive
// across cycles and inspectable within a bounded recent window.
type CycleRecord struct {
	ID            string            `json:"id"`
	StartedAt     time.Time         `json:"started_at"`
	FinishedAt    *time.Time        `json:"finished_at,omitempty"`
	State         string            `json:"state"`
	EventsCreated int               `json:"events_created"`
	Counts        map[string]int    `json:"counts,omitempty"`
	Failures      map[string]string `json:"failures,omitempty"`
}

// cycleHistoryKeep bounds the recent window of retained cycle records.
const cycleHistoryKeep = 50

// AppendCycle persists a finished cycle report and trims records beyond the
// retention window.
func (s *Store) AppendCycle(rec CycleRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	var countsJSON, failuresJSON any
	if len(rec.Counts) > 0 {
		b, err := json.Marshal(rec.Counts)
		if err != nil {
			return fmt.Errorf("failed to marshal cycle counts: %w", err)
		}
		countsJSON = string(b)
	}
	if len(rec.Failures) > 0 {
		b, err := json.Marshal(rec.Failures)
		if err != nil {
			return fmt.Errorf("failed to marshal cycle failures: %w", err)
		}
		failuresJSON = string(b)
	}

	var finished any
	if rec.FinishedAt != nil {
		finished = rec.FinishedAt.Unix()
	}

	_, err := s.db.Exec(`
		INSERT INTO sync_cycles (id, started_at, finished_at, state, events_created, counts_json, failures_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.StartedAt.Unix(), finished, rec.State, rec.EventsCreated, countsJSON, failuresJSON)
	if err != nil {
		return fmt.Errorf("failed to insert cycle record: %w", err)
	}

	_, err = s.db.Exec(`
		DELETE FROM sync_cycles WHERE id NOT IN (
			SELECT id FROM sync_cycles ORDER BY started_at DESC LIMIT ?
		)
	`, cycleHistoryKeep)
	if err != nil {
		return fmt.Errorf("failed to trim cycle history: %w", err)
	}
	return nil
}

// RecentCycles returns the newest cycle records, newest first.
func (s *Store) RecentCycles(limit int) ([]CycleRecord, error) {
	if limit <= 0 || limit > cycleHistoryKeep {
		limit = cycleHistoryKeep
	}
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, state, events_created, counts_json, failures_json
		FROM sync_cycles
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycle records: %w", err)
	}
	defer rows.Close()

	var out []CycleRecord
	for rows.Next() {
		var rec CycleRecord
		var started int64
		var finished sql.NullInt64
		var countsJSON, failuresJSON sql.NullString
		if err := rows.Scan(&rec.ID, &started, &finished, &rec.State, &rec.EventsCreated, &countsJSON, &failuresJSON); err != nil {
			return nil, fmt.Errorf("failed to scan cycle row: %w", err)
		}
		rec.StartedAt = time.Unix(started, 0).UTC()
		if finished.Valid {
			t := time.Unix(finished.Int64, 0).UTC()
			rec.FinishedAt = &t
		}
		if countsJSON.Valid && countsJSON.String != "" {
			_ = json.Unmarshal([]byte(countsJSON.String), &rec.Counts)
		}
		if failuresJSON.Valid && failuresJSON.String != "" {
			_ = json.Unmarshal([]byte(failuresJSON.String), &rec.Failures)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating cycle rows: %w", err)
	}
	return out, nil
}

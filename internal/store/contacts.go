package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Contact is a person the engine tracks communication with.
type Contact struct {
	ID                   string     `json:"id"`
	FirstName            string     `json:"first_name"`
	LastName             string     `json:"last_name,omitempty"`
	DirectoryID          string     `json:"directory_id,omitempty"`
	Birthday             string     `json:"birthday,omitempty"`
	GroupID              *string    `json:"group_id,omitempty"`
	IntervalOverrideDays *int       `json:"interval_override_days,omitempty"`
	LastContactAt        *time.Time `json:"last_contact_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	Active               bool       `json:"active"`
}

// Group is a named bucket of contacts sharing a contact cadence.
type Group struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	IntervalDays int    `json:"interval_days"`
	WarningDays  int    `json:"warning_days"`
	Priority     int    `json:"priority"`
}

// OverdueContact pairs a contact with its effective interval and how far past
// it the contact is.
type OverdueContact struct {
	Contact      Contact `json:"contact"`
	IntervalDays int     `json:"interval_days"`
	DaysSince    int     `json:"days_since"`
}

// CreateGroup inserts a new group. interval_days must be >= 1.
func (s *Store) CreateGroup(name string, intervalDays, warningDays, priority int) (Group, error) {
	if intervalDays < 1 {
		return Group{}, fmt.Errorf("interval_days must be >= 1, got %d", intervalDays)
	}
	g := Group{
		ID:           uuid.New().String(),
		Name:         name,
		IntervalDays: intervalDays,
		WarningDays:  warningDays,
		Priority:     priority,
	}
	_, err := s.db.Exec(`
		INSERT INTO groups (id, name, interval_days, warning_days, priority, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, g.ID, g.Name, g.IntervalDays, g.WarningDays, g.Priority, time.Now().Unix())
	if err != nil {
		return Group{}, fmt.Errorf("failed to insert group: %w", err)
	}
	return g, nil
}

// ListGroups returns all groups ordered by priority.
func (s *Store) ListGroups() ([]Group, error) {
	rows, err := s.db.Query(`
		SELECT id, name, interval_days, warning_days, priority
		FROM groups
		ORDER BY priority DESC, name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	var out []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name, &g.IntervalDays, &g.WarningDays, &g.Priority); err != nil {
			return nil, fmt.Errorf("failed to scan group row: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating group rows: %w", err)
	}
	return out, nil
}

// DeleteGroup removes a group. Members are detached (group_id set NULL by the
// schema), never deleted.
func (s *Store) DeleteGroup(id string) error {
	res, err := s.db.Exec(`DELETE FROM groups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("group %s not found", id)
	}
	return nil
}

// CreateContact inserts a new tracked contact.
func (s *Store) CreateContact(c Contact) (Contact, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.Active = true

	_, err := s.db.Exec(`
		INSERT INTO contacts (
			id, first_name, last_name, directory_id, birthday,
			group_id, interval_override_days, last_contact_at, created_at, active
		) VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?, 1)
	`, c.ID, c.FirstName, c.LastName, nullIfEmpty(c.DirectoryID), nullIfEmpty(c.Birthday),
		c.GroupID, c.IntervalOverrideDays, c.CreatedAt.Unix())
	if err != nil {
		return Contact{}, fmt.Errorf("failed to insert contact: %w", err)
	}
	return c, nil
}

// DeleteContact removes a contact; its events cascade.
func (s *Store) DeleteContact(id string) error {
	res, err := s.db.Exec(`DELETE FROM contacts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete contact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("contact %s not found", id)
	}
	return nil
}

// FetchContacts returns all active contacts.
func (s *Store) FetchContacts() ([]Contact, error) {
	rows, err := s.db.Query(`
		SELECT id, first_name, last_name, directory_id, birthday,
		       group_id, interval_override_days, last_contact_at, created_at, active
		FROM contacts
		WHERE active = 1
		ORDER BY last_name, first_name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query contacts: %w", err)
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating contact rows: %w", err)
	}
	return out, nil
}

// GetContact returns a single contact by id.
func (s *Store) GetContact(id string) (Contact, error) {
	row := s.db.QueryRow(`
		SELECT id, first_name, last_name, directory_id, birthday,
		       group_id, interval_override_days, last_contact_at, created_at, active
		FROM contacts WHERE id = ?
	`, id)
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return Contact{}, fmt.Errorf("contact %s not found", id)
	}
	return c, err
}

// Overdue returns active contacts whose days since last contact exceed their
// effective interval: custom override, else group interval, else defaultDays.
// Contacts with no last contact at all are always overdue.
func (s *Store) Overdue(now time.Time, defaultDays int) ([]OverdueContact, error) {
	contacts, err := s.FetchContacts()
	if err != nil {
		return nil, err
	}
	groups, err := s.ListGroups()
	if err != nil {
		return nil, err
	}
	groupInterval := make(map[string]int, len(groups))
	for _, g := range groups {
		groupInterval[g.ID] = g.IntervalDays
	}

	var out []OverdueContact
	for _, c := range contacts {
		interval := defaultDays
		if c.GroupID != nil {
			if d, ok := groupInterval[*c.GroupID]; ok {
				interval = d
			}
		}
		if c.IntervalOverrideDays != nil {
			interval = *c.IntervalOverrideDays
		}

		daysSince := -1
		if c.LastContactAt != nil {
			daysSince = int(now.Sub(*c.LastContactAt).Hours() / 24)
			if daysSince <= interval {
				continue
			}
		}
		out = append(out, OverdueContact{Contact: c, IntervalDays: interval, DaysSince: daysSince})
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (Contact, error) {
	var c Contact
	var directoryID, birthday, groupID sql.NullString
	var override, lastContact sql.NullInt64
	var createdAt int64
	var active int
	if err := row.Scan(&c.ID, &c.FirstName, &c.LastName, &directoryID, &birthday,
		&groupID, &override, &lastContact, &createdAt, &active); err != nil {
		if err == sql.ErrNoRows {
			return Contact{}, err
		}
		return Contact{}, fmt.Errorf("failed to scan contact row: %w", err)
	}
	c.DirectoryID = directoryID.String
	c.Birthday = birthday.String
	if groupID.Valid {
		c.GroupID = &groupID.String
	}
	if override.Valid {
		v := int(override.Int64)
		c.IntervalOverrideDays = &v
	}
	if lastContact.Valid {
		t := time.Unix(lastContact.Int64, 0).UTC()
		c.LastContactAt = &t
	}
	c.CreatedAt = time.Unix(createdAt, 0).UTC()
	c.Active = active == 1
	return c, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

package source

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/ewhitley/cadence/internal/normalize"
	"github.com/ewhitley/cadence/internal/store"
)

// Messages reads the short-message store (chat.db). Timestamps are
// 2001-origin nanoseconds; handles are phone numbers or email addresses.
type Messages struct {
	name string
	path string
}

func NewMessages(name, path string) *Messages {
	if path == "" {
		path = defaultMessagesPath()
	}
	return &Messages{name: name, path: path}
}

func defaultMessagesPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "Library", "Messages", "chat.db")
}

func (m *Messages) Name() string { return m.name }
func (m *Messages) Tag() string  { return "sms" }

func (m *Messages) Converter() normalize.Converter { return normalize.AppleNanoseconds }

func (m *Messages) CheckAvailability() bool {
	return canOpenExternal(m.name, m.path, "message")
}

func (m *Messages) FetchRecent(ctx context.Context, sinceDays int) ([]RawEvent, error) {
	db, err := openExternal(m.name, m.path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	cutoff := float64(time.Now().AddDate(0, 0, -sinceDays).Unix()-normalize.AppleEpochOffset) * 1e9

	// Metadata only: guid, date, direction, and the counterpart handle.
	// Message text is never selected.
	rows, err := db.QueryContext(ctx, `
		SELECT m.guid, m.date, m.is_from_me, h.id
		FROM message m
		JOIN handle h ON m.handle_id = h.ROWID
		WHERE m.date >= ?
	`, cutoff)
	if err != nil {
		return nil, SchemaError(m.name, err)
	}
	defer rows.Close()

	var out []RawEvent
	for rows.Next() {
		var guid, handle string
		var date float64
		var isFromMe int
		if err := rows.Scan(&guid, &date, &isFromMe, &handle); err != nil {
			return nil, SchemaError(m.name, err)
		}
		if guid == "" || handle == "" {
			continue
		}

		direction := store.DirectionIncoming
		if isFromMe == 1 {
			direction = store.DirectionOutgoing
		}
		phone, email := handleAddress(handle)
		out = append(out, RawEvent{
			RowID:        guid,
			RawTimestamp: date,
			Phone:        phone,
			Email:        email,
			Channel:      store.ChannelSMS,
			Direction:    direction,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, SchemaError(m.name, err)
	}
	return out, nil
}

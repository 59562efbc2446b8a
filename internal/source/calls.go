package source

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ewhitley/cadence/internal/normalize"
	"github.com/ewhitley/cadence/internal/store"
)

// Calls reads the call-history store. Timestamps are 2001-origin seconds.
// Phone and video calls share the store; the call-type column separates them.
type Calls struct {
	name string
	path string
}

// videoCallType is the discriminator value for video calls in the call
// record table; every other value is treated as a plain phone call.
const videoCallType = 8

func NewCalls(name, path string) *Calls {
	if path == "" {
		path = defaultCallsPath()
	}
	return &Calls{name: name, path: path}
}

func defaultCallsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "Library", "Application Support", "CallHistoryDB", "CallHistory.storedata")
}

func (c *Calls) Name() string { return c.name }
func (c *Calls) Tag() string  { return "call" }

func (c *Calls) Converter() normalize.Converter { return normalize.AppleSeconds }

func (c *Calls) CheckAvailability() bool {
	return canOpenExternal(c.name, c.path, "ZCALLRECORD")
}

func (c *Calls) FetchRecent(ctx context.Context, sinceDays int) ([]RawEvent, error) {
	db, err := openExternal(c.name, c.path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	// Cutoff expressed in the store's own epoch.
	cutoff := float64(time.Now().AddDate(0, 0, -sinceDays).Unix() - normalize.AppleEpochOffset)

	rows, err := db.QueryContext(ctx, `
		SELECT Z_PK, ZDATE, ZDURATION, ZADDRESS, ZORIGINATED, ZCALLTYPE
		FROM ZCALLRECORD
		WHERE ZDATE >= ?
	`, cutoff)
	if err != nil {
		return nil, SchemaError(c.name, err)
	}
	defer rows.Close()

	var out []RawEvent
	for rows.Next() {
		var pk int64
		var date, duration sql.NullFloat64
		var address sql.NullString
		var originated, callType sql.NullInt64
		if err := rows.Scan(&pk, &date, &duration, &address, &originated, &callType); err != nil {
			return nil, SchemaError(c.name, err)
		}
		if !date.Valid || address.String == "" {
			continue
		}

		channel := store.ChannelPhone
		if callType.Int64 == videoCallType {
			channel = store.ChannelVideo
		}
		direction := store.DirectionIncoming
		if originated.Int64 == 1 {
			direction = store.DirectionOutgoing
		}

		phone, email := handleAddress(address.String)
		out = append(out, RawEvent{
			RowID:        fmt.Sprintf("%d", pk),
			RawTimestamp: date.Float64,
			Phone:        phone,
			Email:        email,
			Channel:      channel,
			Direction:    direction,
			DurationSec:  int(duration.Float64),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, SchemaError(c.name, err)
	}
	return out, nil
}

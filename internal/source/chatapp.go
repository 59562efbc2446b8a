package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ewhitley/cadence/internal/normalize"
	"github.com/ewhitley/cadence/internal/store"
)

// ChatApp reads a chat application's message store. Timestamps are
// 1970-origin milliseconds; the remote party is a phone-number jid.
type ChatApp struct {
	name string
	path string
}

func NewChatApp(name, path string) *ChatApp {
	return &ChatApp{name: name, path: path}
}

func (c *ChatApp) Name() string { return c.name }
func (c *ChatApp) Tag() string  { return "chat" }

func (c *ChatApp) Converter() normalize.Converter { return normalize.UnixMilliseconds }

func (c *ChatApp) CheckAvailability() bool {
	return canOpenExternal(c.name, c.path, "messages")
}

func (c *ChatApp) FetchRecent(ctx context.Context, sinceDays int) ([]RawEvent, error) {
	db, err := openExternal(c.name, c.path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	cutoff := time.Now().AddDate(0, 0, -sinceDays).UnixMilli()

	rows, err := db.QueryContext(ctx, `
		SELECT _id, timestamp, key_remote_jid, key_from_me
		FROM messages
		WHERE timestamp >= ?
	`, cutoff)
	if err != nil {
		return nil, SchemaError(c.name, err)
	}
	defer rows.Close()

	var out []RawEvent
	for rows.Next() {
		var id, ts int64
		var jid sql.NullString
		var fromMe int
		if err := rows.Scan(&id, &ts, &jid, &fromMe); err != nil {
			return nil, SchemaError(c.name, err)
		}
		phone := jidPhone(jid.String)
		if phone == "" {
			// Group chats and status broadcasts carry no single remote party.
			continue
		}

		direction := store.DirectionIncoming
		if fromMe == 1 {
			direction = store.DirectionOutgoing
		}
		out = append(out, RawEvent{
			RowID:        fmt.Sprintf("%d", id),
			RawTimestamp: float64(ts),
			Phone:        phone,
			Channel:      store.ChannelChatApp,
			Direction:    direction,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, SchemaError(c.name, err)
	}
	return out, nil
}

// jidPhone extracts the phone-number half of a user jid
// ("4917212345678@s.whatsapp.net" -> "4917212345678"). Group jids ("...@g.us")
// yield no usable single counterpart and return "".
func jidPhone(jid string) string {
	at := strings.Index(jid, "@")
	if at <= 0 {
		return ""
	}
	if !strings.HasSuffix(jid, "@s.whatsapp.net") {
		return ""
	}
	return jid[:at]
}

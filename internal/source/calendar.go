package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/ewhitley/cadence/internal/normalize"
	"github.com/ewhitley/cadence/internal/store"
)

// Calendar reads meetings from a local .ics file. One raw event is emitted
// per foreign attendee: a meeting is a contact touchpoint with each person
// in the room, and each pairing needs its own dedup identifier.
type Calendar struct {
	name     string
	path     string
	meEmails map[string]struct{}
}

func NewCalendar(name, path string, meEmails []string) *Calendar {
	me := make(map[string]struct{}, len(meEmails))
	for _, e := range meEmails {
		if v := normalize.Email(e); v != "" {
			me[v] = struct{}{}
		}
	}
	return &Calendar{name: name, path: path, meEmails: me}
}

func (c *Calendar) Name() string { return c.name }
func (c *Calendar) Tag() string  { return "cal" }

// DTSTART values are parsed to unix seconds before they reach the normalizer.
func (c *Calendar) Converter() normalize.Converter { return normalize.UnixSeconds }

func (c *Calendar) CheckAvailability() bool {
	f, err := os.Open(c.path)
	if err != nil {
		return false
	}
	defer f.Close()
	var one [1]byte
	_, err = f.Read(one[:])
	return err == nil || err == io.EOF
}

func (c *Calendar) FetchRecent(ctx context.Context, sinceDays int) ([]RawEvent, error) {
	if c.path == "" {
		return nil, NotAvailable(c.name, fmt.Errorf("no path configured"))
	}
	f, err := os.Open(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NotAvailable(c.name, err)
		}
		return nil, NotAuthorized(c.name, err)
	}
	defer f.Close()

	cal, err := ical.NewDecoder(f).Decode()
	if err != nil {
		return nil, SchemaError(c.name, err)
	}

	cutoff := time.Now().AddDate(0, 0, -sinceDays)

	var out []RawEvent
	for _, ev := range cal.Events() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		uidProp := ev.Props.Get(ical.PropUID)
		if uidProp == nil || strings.TrimSpace(uidProp.Value) == "" {
			continue
		}
		uid := strings.TrimSpace(uidProp.Value)

		start, err := ev.DateTimeStart(time.UTC)
		if err != nil || start.Before(cutoff) {
			continue
		}

		summary := ""
		if p := ev.Props.Get(ical.PropSummary); p != nil {
			summary = p.Value
		}

		for _, att := range c.foreignParticipants(&ev) {
			out = append(out, RawEvent{
				RowID:        fmt.Sprintf("%s/%s", uid, normalize.Email(att.email)),
				RawTimestamp: float64(start.Unix()),
				Email:        att.email,
				Name:         att.name,
				Channel:      store.ChannelCalendar,
				Direction:    store.DirectionMutual,
				Summary:      summary,
			})
		}
	}
	return out, nil
}

type calParticipant struct {
	email string
	name  string
}

// foreignParticipants collects attendee + organizer addresses, minus the
// user's own, deduplicated per meeting.
func (c *Calendar) foreignParticipants(ev *ical.Event) []calParticipant {
	props := ev.Props.Values(ical.PropAttendee)
	if org := ev.Props.Get(ical.PropOrganizer); org != nil {
		props = append(props, *org)
	}

	seen := make(map[string]struct{})
	var out []calParticipant
	for _, p := range props {
		email := strings.TrimPrefix(strings.TrimSpace(p.Value), "mailto:")
		key := normalize.Email(email)
		if key == "" {
			continue
		}
		if _, mine := c.meEmails[key]; mine {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, calParticipant{
			email: email,
			name:  p.Params.Get(ical.ParamCommonName),
		})
	}
	return out
}

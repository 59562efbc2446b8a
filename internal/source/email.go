package source

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/mail"
	"os"
	"strings"
	"time"

	"github.com/ewhitley/cadence/internal/normalize"
	"github.com/ewhitley/cadence/internal/store"
)

// Email reads message headers from a local mbox file. Only metadata is
// consumed: Date, From, To, Message-ID. Bodies are skipped outright, never
// buffered.
type Email struct {
	name     string
	path     string
	meEmails map[string]struct{}
}

func NewEmail(name, path string, meEmails []string) *Email {
	me := make(map[string]struct{}, len(meEmails))
	for _, e := range meEmails {
		if v := normalize.Email(e); v != "" {
			me[v] = struct{}{}
		}
	}
	return &Email{name: name, path: path, meEmails: me}
}

func (e *Email) Name() string { return e.name }
func (e *Email) Tag() string  { return "mail" }

// Date headers are parsed to unix seconds before they reach the normalizer.
func (e *Email) Converter() normalize.Converter { return normalize.UnixSeconds }

func (e *Email) CheckAvailability() bool {
	f, err := os.Open(e.path)
	if err != nil {
		return false
	}
	defer f.Close()
	// An actual read, in case the permission layer allows stat but not read.
	var one [1]byte
	_, err = f.Read(one[:])
	return err == nil || err == io.EOF
}

func (e *Email) FetchRecent(ctx context.Context, sinceDays int) ([]RawEvent, error) {
	if e.path == "" {
		return nil, NotAvailable(e.name, fmt.Errorf("no path configured"))
	}
	f, err := os.Open(e.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NotAvailable(e.name, err)
		}
		return nil, NotAuthorized(e.name, err)
	}
	defer f.Close()

	cutoff := time.Now().AddDate(0, 0, -sinceDays)

	var out []RawEvent
	var hdr bytes.Buffer
	inHeaders := false

	flush := func() {
		if hdr.Len() == 0 {
			return
		}
		raw := append(hdr.Bytes(), '\n')
		hdr.Reset()
		if ev, ok := e.eventFromHeaders(raw, cutoff); ok {
			out = append(out, ev)
		}
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := scanner.Text()

		// MBOX separator: line begins with "From " at column 0.
		if strings.HasPrefix(line, "From ") {
			flush()
			inHeaders = true
			continue
		}
		if !inHeaders {
			continue
		}
		if line == "" {
			// End of header block; the body that follows is never read.
			inHeaders = false
			continue
		}
		hdr.WriteString(line)
		hdr.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, SchemaError(e.name, err)
	}
	flush()

	return out, nil
}

func (e *Email) eventFromHeaders(raw []byte, cutoff time.Time) (RawEvent, bool) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		// Skip unparseable message, but keep going.
		return RawEvent{}, false
	}
	h := msg.Header

	t, err := mail.ParseDate(h.Get("Date"))
	if err != nil || t.Before(cutoff) {
		return RawEvent{}, false
	}

	fromAddr, fromName := firstAddress(h.Get("From"))
	if fromAddr == "" {
		return RawEvent{}, false
	}

	direction := store.DirectionIncoming
	counterpart, counterName := fromAddr, fromName
	if _, mine := e.meEmails[normalize.Email(fromAddr)]; mine {
		direction = store.DirectionOutgoing
		counterpart, counterName = e.firstForeignRecipient(h.Get("To"))
		if counterpart == "" {
			return RawEvent{}, false
		}
	}

	rowID := strings.Trim(strings.TrimSpace(h.Get("Message-ID")), "<>")
	if rowID == "" {
		sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s|%s", t.Unix(), fromAddr, h.Get("To"))))
		rowID = hex.EncodeToString(sum[:])
	}

	return RawEvent{
		RowID:        rowID,
		RawTimestamp: float64(t.Unix()),
		Email:        counterpart,
		Name:         counterName,
		Channel:      store.ChannelEmail,
		Direction:    direction,
	}, true
}

// firstForeignRecipient returns the first To address that is not the user,
// so outgoing mail is credited to the person written to.
func (e *Email) firstForeignRecipient(to string) (string, string) {
	addrs, err := mail.ParseAddressList(to)
	if err != nil {
		return "", ""
	}
	for _, a := range addrs {
		if a == nil || a.Address == "" {
			continue
		}
		if _, mine := e.meEmails[normalize.Email(a.Address)]; mine {
			continue
		}
		return a.Address, a.Name
	}
	return "", ""
}

func firstAddress(s string) (string, string) {
	addrs, err := mail.ParseAddressList(s)
	if err != nil || len(addrs) == 0 || addrs[0] == nil {
		return "", ""
	}
	return addrs[0].Address, addrs[0].Name
}

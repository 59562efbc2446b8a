// Package identity resolves raw participant signals (phone, email, display
// name) to tracked contacts. The lookup table is rebuilt from scratch every
// sync cycle and never persisted; within a cycle it is a read-only snapshot
// shared by all source tasks.
package identity

import (
	"context"

	"github.com/ewhitley/cadence/internal/normalize"
	"github.com/ewhitley/cadence/internal/source"
	"github.com/ewhitley/cadence/internal/store"
)

// Table maps normalized identity keys to contact ids.
type Table struct {
	byPhone map[string]string
	byEmail map[string]string
	byName  map[string]string
}

// Build constructs the lookup table from the tracked contacts and, when a
// directory adapter is available, the phone/email identifiers of each
// contact's linked directory card.
func Build(ctx context.Context, contacts []store.Contact, dir source.Directory) (*Table, error) {
	t := &Table{
		byPhone: make(map[string]string),
		byEmail: make(map[string]string),
		byName:  make(map[string]string),
	}

	for _, c := range contacts {
		if key := normalize.Name(c.FirstName + c.LastName); key != "" {
			t.addName(key, c.ID)
		}
	}

	if dir == nil {
		return t, nil
	}
	cards, err := dir.FetchCards(ctx)
	if err != nil {
		return nil, err
	}

	byUID := make(map[string]source.Card, len(cards))
	for _, card := range cards {
		if card.UID != "" {
			byUID[card.UID] = card
		}
	}

	for _, c := range contacts {
		if c.DirectoryID == "" {
			continue
		}
		card, ok := byUID[c.DirectoryID]
		if !ok {
			continue
		}
		for _, p := range card.Phones {
			t.addPhone(normalize.Phone(p), c.ID)
		}
		for _, e := range card.Emails {
			t.addEmail(normalize.Email(e), c.ID)
		}
	}
	return t, nil
}

func (t *Table) addPhone(key, id string) {
	if key == "" {
		return
	}
	if _, taken := t.byPhone[key]; !taken {
		t.byPhone[key] = id
	}
}

func (t *Table) addEmail(key, id string) {
	if key == "" {
		return
	}
	if _, taken := t.byEmail[key]; !taken {
		t.byEmail[key] = id
	}
}

func (t *Table) addName(key, id string) {
	if _, taken := t.byName[key]; !taken {
		t.byName[key] = id
	}
}

// Match resolves participant signals to a contact id. Strategies run in
// precedence order phone > email > name: phone and email are high-precision
// identifiers, free-text display names collide easily. The first strategy
// with a non-empty normalized input that hits wins. A miss on every provided
// field means the event belongs to someone untracked; callers drop it
// without recording anything.
func (t *Table) Match(phone, email, name string) (string, bool) {
	if key := normalize.Phone(phone); key != "" {
		if id, ok := t.byPhone[key]; ok {
			return id, true
		}
	}
	if key := normalize.Email(email); key != "" {
		if id, ok := t.byEmail[key]; ok {
			return id, true
		}
	}
	if key := normalize.Name(name); key != "" {
		if id, ok := t.byName[key]; ok {
			return id, true
		}
	}
	return "", false
}

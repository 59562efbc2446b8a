package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/emersion/go-vcard"
)

// VCardDirectory reads the contact directory from a local .vcf file. It is
// the identity side of the sync: each card contributes the phone numbers and
// email addresses a tracked contact can be recognized by.
type VCardDirectory struct {
	name string
	path string
}

func NewVCardDirectory(name, path string) *VCardDirectory {
	return &VCardDirectory{name: name, path: path}
}

func (d *VCardDirectory) Name() string { return d.name }

func (d *VCardDirectory) CheckAvailability() bool {
	f, err := os.Open(d.path)
	if err != nil {
		return false
	}
	defer f.Close()
	var one [1]byte
	_, err = f.Read(one[:])
	return err == nil || err == io.EOF
}

func (d *VCardDirectory) FetchCards(ctx context.Context) ([]Card, error) {
	if d.path == "" {
		return nil, NotAvailable(d.name, fmt.Errorf("no path configured"))
	}
	f, err := os.Open(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NotAvailable(d.name, err)
		}
		return nil, NotAuthorized(d.name, err)
	}
	defer f.Close()

	dec := vcard.NewDecoder(f)
	var out []Card
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		card, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Skip the malformed card to maximize data recovery.
			continue
		}

		c := Card{
			UID:    card.Value(vcard.FieldUID),
			Name:   card.PreferredValue(vcard.FieldFormattedName),
			Phones: card.Values(vcard.FieldTelephone),
			Emails: card.Values(vcard.FieldEmail),
		}
		if c.UID == "" && c.Name == "" {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// Package normalize converts source-specific raw values into the canonical
// shapes the rest of the engine reasons about: absolute timestamps, dedup
// identifiers, and comparable phone/email/name keys.
package normalize

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// AppleEpochOffset is the number of seconds between the unix epoch
// (1970-01-01) and the Apple reference date (2001-01-01T00:00:00Z).
const AppleEpochOffset int64 = 978307200

// Converter maps one source's raw timestamp representation onto absolute
// time: canonical = raw/Scale + EpochOffset seconds since 1970.
// An off-by-one epoch here silently corrupts every days-since computation
// for the source, so each source's constants get their own literal test.
type Converter struct {
	Scale       float64
	EpochOffset int64
}

var (
	// UnixSeconds covers sources that already speak unix seconds.
	UnixSeconds = Converter{Scale: 1, EpochOffset: 0}
	// UnixMilliseconds covers 1970-origin millisecond stores.
	UnixMilliseconds = Converter{Scale: 1e3, EpochOffset: 0}
	// AppleSeconds covers 2001-origin second stores (call history).
	AppleSeconds = Converter{Scale: 1, EpochOffset: AppleEpochOffset}
	// AppleNanoseconds covers 2001-origin nanosecond stores (message store).
	AppleNanoseconds = Converter{Scale: 1e9, EpochOffset: AppleEpochOffset}
)

// Canonical converts a raw source timestamp to absolute time (UTC, second
// precision).
func (c Converter) Canonical(raw float64) time.Time {
	secs := int64(raw / c.Scale)
	return time.Unix(c.EpochOffset+secs, 0).UTC()
}

// SourceID builds the globally unique dedup key for an auto-detected event.
func SourceID(sourceTag, rowID string) string {
	return fmt.Sprintf("%s-%s", sourceTag, rowID)
}

// Phone reduces a phone number to its comparable core: digits only, at most
// the last 10, which tolerates country-code prefix variance.
func Phone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) > 10 {
		digits = digits[len(digits)-10:]
	}
	return digits
}

// Email lower-cases and trims an email address.
func Email(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Name reduces a display name to a comparable key: lower-cased with all
// whitespace removed, so "Ada  Lovelace" and "ada lovelace" collide on
// "adalovelace". Free-text names are low-precision by nature; the matcher
// only consults them after phone and email.
func Name(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

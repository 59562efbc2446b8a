package normalize

import (
	"testing"
	"time"
)

func TestConverterEpochOrigins(t *testing.T) {
	tests := []struct {
		name string
		conv Converter
		raw  float64
		want time.Time
	}{
		{
			name: "unix seconds zero is the unix epoch",
			conv: UnixSeconds,
			raw:  0,
			want: time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "apple seconds zero is the apple reference date",
			conv: AppleSeconds,
			raw:  0,
			want: time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "apple nanoseconds zero is the apple reference date",
			conv: AppleNanoseconds,
			raw:  0,
			want: time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "unix milliseconds scale",
			conv: UnixMilliseconds,
			raw:  86400000,
			want: time.Date(1970, 1, 2, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "apple seconds one day in",
			conv: AppleSeconds,
			raw:  86400,
			want: time.Date(2001, 1, 2, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "apple nanoseconds one hour in",
			conv: AppleNanoseconds,
			raw:  3600e9,
			want: time.Date(2001, 1, 1, 1, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.conv.Canonical(tt.raw)
			if !got.Equal(tt.want) {
				t.Errorf("Canonical(%v) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestSourceID(t *testing.T) {
	if got := SourceID("calls", "42"); got != "calls-42" {
		t.Errorf("SourceID = %q, want %q", got, "calls-42")
	}
}

func TestPhone(t *testing.T) {
	cases := map[string]string{
		"":                     "",
		"  +1 (707) 287-4936 ": "7072874936",
		"6376797":              "6376797",
		"+17079276461":         "7079276461",
		"0049 160 1234567":     "1601234567",
		"call me maybe":        "",
	}
	for in, want := range cases {
		if got := Phone(in); got != want {
			t.Fatalf("Phone(%q)=%q want %q", in, got, want)
		}
	}
}

func TestEmail(t *testing.T) {
	cases := map[string]string{
		"  Ada@Example.COM ": "ada@example.com",
		"bob@example.com":    "bob@example.com",
		"":                   "",
	}
	for in, want := range cases {
		if got := Email(in); got != want {
			t.Fatalf("Email(%q)=%q want %q", in, got, want)
		}
	}
}

func TestName(t *testing.T) {
	cases := map[string]string{
		"Ada Lovelace":     "adalovelace",
		"  ada  LOVELACE ": "adalovelace",
		"":                 "",
	}
	for in, want := range cases {
		if got := Name(in); got != want {
			t.Fatalf("Name(%q)=%q want %q", in, got, want)
		}
	}
}

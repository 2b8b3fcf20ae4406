package guardian

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseDecimalLocales(t *testing.T) {
	cases := []struct {
		text   string
		locale string
		want   string
	}{
		{"1.500,50", "ES", "1500.50"},
		{"1,500.50", "US", "1500.50"},
		{"1.000.000,25", "DE", "1000000.25"},
		{"2,000", "UK", "2000"},
		{"2.000", "FR", "2000"},
		{" 55 ", "US", "55"},
		{"-1.000,25", "IT", "-1000.25"},
		{"+42", "US", "42"},
		{"1.500,50 EUR", "ES", "1500.50"},
		{"99%", "US", "99"},
	}
	for _, tc := range cases {
		got, err := ParseDecimal(tc.text, tc.locale)
		if err != nil {
			t.Fatalf("ParseDecimal(%q, %s): %v", tc.text, tc.locale, err)
		}
		want := decimal.RequireFromString(tc.want)
		if !got.Equal(want) {
			t.Fatalf("ParseDecimal(%q, %s) = %s, want %s", tc.text, tc.locale, got, want)
		}
	}
}

func TestParseDecimalRejects(t *testing.T) {
	cases := []struct {
		text   string
		locale string
	}{
		{"1.5.0", "US"},
		{"1,5,0", "ES"},
		{"", "US"},
		{"   ", "US"},
		{"-", "US"},
		{"12#34", "US"},
	}
	for _, tc := range cases {
		if _, err := ParseDecimal(tc.text, tc.locale); !errors.Is(err, ErrMalformedNumber) {
			t.Fatalf("ParseDecimal(%q, %s): expected MalformedNumber, got %v", tc.text, tc.locale, err)
		}
	}
}

func TestParseDecimalUnknownLocale(t *testing.T) {
	if _, err := ParseDecimal("1.5", "XX"); !errors.Is(err, ErrUnknownLocale) {
		t.Fatalf("expected UnknownLocale, got %v", err)
	}
}

func TestFormatDecimalRoundTrip(t *testing.T) {
	cases := []struct {
		text   string
		locale string
	}{
		{"1.500,50", "ES"},
		{"1,500.50", "US"},
		{"-1.000,25", "DE"},
		{"999", "US"},
		{"1,000,000.00", "US"},
	}
	for _, tc := range cases {
		d, err := ParseDecimal(tc.text, tc.locale)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.text, err)
		}
		got, err := FormatDecimal(d, tc.locale)
		if err != nil {
			t.Fatalf("format %q: %v", tc.text, err)
		}
		if got != tc.text {
			t.Fatalf("round-trip %q (%s) = %q", tc.text, tc.locale, got)
		}
	}
}

func TestToUTCZoned(t *testing.T) {
	tm, err := ToUTC("2026-08-29T12:00:00+02:00", "UTC")
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	if !tm.Equal(want) {
		t.Fatalf("got %s, want %s", tm, want)
	}
	if tm.Location() != time.UTC {
		t.Fatalf("result not in UTC: %s", tm.Location())
	}
}

func TestToUTCNaive(t *testing.T) {
	tm, err := ToUTC("2026-08-29 12:00:00", "Asia/Tokyo")
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 8, 29, 3, 0, 0, 0, time.UTC)
	if !tm.Equal(want) {
		t.Fatalf("got %s, want %s", tm, want)
	}
}

func TestToUTCUnknownZone(t *testing.T) {
	if _, err := ToUTC("2026-08-29 12:00:00", "Mars/Olympus"); !errors.Is(err, ErrUnknownZone) {
		t.Fatalf("expected UnknownZone, got %v", err)
	}
}

func TestToUTCMalformed(t *testing.T) {
	if _, err := ToUTC("yesterday-ish", "UTC"); !errors.Is(err, ErrMalformedTimestamp) {
		t.Fatalf("expected MalformedTimestamp, got %v", err)
	}
}

package guardian

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrMalformedNumber    = errors.New("MalformedNumber")
	ErrMalformedTimestamp = errors.New("MalformedTimestamp")
	ErrUnknownZone        = errors.New("UnknownZone")
	ErrUnknownLocale      = errors.New("UnknownLocale")
)

// commaDecimalLocales use '.' as thousands separator and ',' as decimal mark.
var commaDecimalLocales = map[string]bool{
	"ES": true,
	"DE": true,
	"FR": true,
	"IT": true,
}

var knownLocales = map[string]bool{
	"US": true, "UK": true, "GB": true, "CA": true, "AU": true,
	"NZ": true, "IE": true, "IN": true, "JP": true,
	"ES": true, "DE": true, "FR": true, "IT": true,
}

func localeSeparators(locale string) (thousands string, dec string, err error) {
	loc := strings.ToUpper(strings.TrimSpace(locale))
	if !knownLocales[loc] {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownLocale, locale)
	}
	if commaDecimalLocales[loc] {
		return ".", ",", nil
	}
	return ",", ".", nil
}

// ParseDecimal normalizes a locale-formatted decimal string.
// Tolerated: surrounding whitespace, a leading sign, a trailing unit token
// ("1.500,50 EUR"). More than one decimal mark or any stray character fails.
func ParseDecimal(text string, locale string) (decimal.Decimal, error) {
	thou, dec, err := localeSeparators(locale)
	if err != nil {
		return decimal.Zero, err
	}

	s := strings.TrimSpace(text)
	s = trimUnitSuffix(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty input", ErrMalformedNumber)
	}

	body := s
	if strings.HasPrefix(body, "+") || strings.HasPrefix(body, "-") {
		body = body[1:]
	}
	if body == "" {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrMalformedNumber, text)
	}
	for _, r := range body {
		if r >= '0' && r <= '9' {
			continue
		}
		if string(r) == thou || string(r) == dec {
			continue
		}
		return decimal.Zero, fmt.Errorf("%w: unexpected character %q in %q", ErrMalformedNumber, r, text)
	}
	if strings.Count(body, dec) > 1 {
		return decimal.Zero, fmt.Errorf("%w: multiple decimal marks in %q", ErrMalformedNumber, text)
	}

	cleaned := strings.ReplaceAll(s, thou, "")
	cleaned = strings.Replace(cleaned, dec, ".", 1)
	d, perr := decimal.NewFromString(cleaned)
	if perr != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrMalformedNumber, text)
	}
	return d, nil
}

// FormatDecimal is the inverse of ParseDecimal: thousands grouping plus the
// locale's decimal mark, preserving the decimal places carried by d.
func FormatDecimal(d decimal.Decimal, locale string) (string, error) {
	thou, dec, err := localeSeparators(locale)
	if err != nil {
		return "", err
	}

	places := int32(0)
	if d.Exponent() < 0 {
		places = -d.Exponent()
	}
	s := d.StringFixed(places)

	sign := ""
	if strings.HasPrefix(s, "-") {
		sign = "-"
		s = s[1:]
	}
	intPart := s
	fracPart := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
	}

	var b strings.Builder
	b.WriteString(sign)
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteString(thou)
		}
		b.WriteRune(r)
	}
	if fracPart != "" {
		b.WriteString(dec)
		b.WriteString(fracPart)
	}
	return b.String(), nil
}

// trimUnitSuffix drops a trailing unit token (letters, %, currency signs).
func trimUnitSuffix(s string) string {
	isUnitRune := func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			return true
		case r == '%' || r == '$' || r == '€' || r == '£' || r == '¥':
			return true
		}
		return false
	}
	rs := []rune(s)
	i := len(rs)
	for i > 0 && isUnitRune(rs[i-1]) {
		i--
	}
	return strings.TrimSpace(string(rs[:i]))
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ToUTC normalizes an optionally-zoned timestamp string to UTC. Naive
// timestamps are interpreted in the IANA zone sourceZone.
func ToUTC(text string, sourceZone string) (time.Time, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty timestamp", ErrMalformedTimestamp)
	}

	var loc *time.Location
	var lastErr error
	for _, layout := range timestampLayouts {
		if strings.Contains(layout, "Z07") {
			tm, err := time.Parse(layout, s)
			if err == nil {
				return tm.UTC(), nil
			}
			lastErr = err
			continue
		}
		if loc == nil {
			l, err := time.LoadLocation(sourceZone)
			if err != nil {
				return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownZone, sourceZone)
			}
			loc = l
		}
		tm, err := time.ParseInLocation(layout, s, loc)
		if err == nil {
			return tm.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("%w: %q: %v", ErrMalformedTimestamp, text, lastErr)
}

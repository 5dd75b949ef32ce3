package extract

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var currencyReplacer = strings.NewReplacer(
	"￥", "", "¥", "", "$", "", "€", "", "£", "",
	" ", "", " ", "", "\t", "",
)

// NormalizeAmount turns an OCR'd money figure into a canonical fixed-point
// decimal. It strips currency symbols and thousands separators and resolves
// locale-specific decimal markers ("10,600.00", "10.600,00", "1 234,56" all
// become 10600.00 / 1234.56). Amounts are parsed as decimals, never floats.
func NormalizeAmount(s string) (decimal.Decimal, error) {
	s = currencyReplacer.Replace(strings.TrimSpace(s))
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		// Both present: the later one is the decimal marker, the other is a
		// thousands separator.
		if lastDot > lastComma {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.ReplaceAll(s, ",", ".")
		}
	case lastComma >= 0:
		// Comma only: decimal marker when followed by 1-2 digits at the end,
		// thousands separator otherwise.
		frac := s[lastComma+1:]
		if len(frac) >= 1 && len(frac) <= 2 && strings.Count(s, ",") == 1 {
			s = strings.ReplaceAll(s, ",", ".")
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case strings.Count(s, ".") > 1:
		// Multiple dots: all but the last are thousands separators.
		s = strings.Replace(s, ".", "", strings.Count(s, ".")-1)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative amount %q", s)
	}
	return d, nil
}

var dateReplacer = strings.NewReplacer("年", "-", "月", "-", "日", "", "/", "-")

// NormalizeDate converts the date forms seen on invoices (2024年01月01日,
// 2024/1/1, 2024-01-01) to zero-padded YYYY-MM-DD. Values that do not
// resolve to a real calendar date are rejected.
func NormalizeDate(s string) (string, error) {
	s = dateReplacer.Replace(strings.TrimSpace(s))
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return "", fmt.Errorf("unrecognized date %q", s)
	}
	for i := 1; i < 3; i++ {
		if len(parts[i]) == 1 {
			parts[i] = "0" + parts[i]
		}
	}
	s = strings.Join(parts, "-")
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return "", fmt.Errorf("invalid date %q: %w", s, err)
	}
	return s, nil
}

// normalizeValue applies the kind-appropriate normalization and reports
// whether the value survives validation.
func normalizeValue(kind FieldKind, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	switch kind {
	case KindDate:
		v, err := NormalizeDate(raw)
		return v, err == nil
	case KindAmount:
		d, err := NormalizeAmount(raw)
		if err != nil {
			return "", false
		}
		return d.String(), true
	default:
		if len([]rune(raw)) < 2 {
			return "", false
		}
		return raw, true
	}
}

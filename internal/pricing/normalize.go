// Package pricing turns scraped price text into exact decimal values.
package pricing

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// Unparseable is the zero NullDecimal returned when no price can be read.
var Unparseable = decimal.NullDecimal{}

// Normalize strips currency symbols, thousands separators and surrounding
// whitespace, then parses what remains. Malformed input yields Unparseable.
func Normalize(text string) decimal.NullDecimal {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == ',':
			return -1
		case unicode.Is(unicode.Sc, r):
			return -1
		case unicode.IsSpace(r):
			return -1
		}
		return r
	}, text)
	if cleaned == "" {
		return Unparseable
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return Unparseable
	}
	return decimal.NewNullDecimal(d)
}

// FromFloat accepts already-numeric input. It goes through the shortest
// decimal representation so 19.99 stays 19.99.
func FromFloat(f float64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromFloat(f))
}

// Format renders a price with two decimals, or "n/a".
func Format(p decimal.NullDecimal) string {
	if !p.Valid {
		return "n/a"
	}
	return p.Decimal.StringFixed(2)
}

// Package money converts between exported price text and integer cents.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidPrice is returned when a price cell has no parseable amount.
var ErrInvalidPrice = errors.New("invalid price")

var hundred = decimal.NewFromInt(100)

// ParseCents keeps only digits and '.', parses the remainder as a decimal
// amount and returns it in cents, rounded half away from zero.
//
// Currency symbols, thousands separators and signs are all discarded, so
// "$1,234.565" is 123457 and "-3.00" is 300.
func ParseCents(s string) (int64, error) {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' {
			return r
		}
		return -1
	}, s)

	if cleaned == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, s)
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, s)
	}

	return d.Mul(hundred).Round(0).IntPart(), nil
}

// FormatCents renders cents as a plain two-decimal amount ("12.50").
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

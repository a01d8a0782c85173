// Package upc normalizes free-form barcode text into canonical 12-digit UPC-A
// identifiers.
//
// The check digit is never trusted from input. It is always recomputed from
// the first 11 digits, so two codes that agree on those 11 digits compare
// equal even when one of them was mistyped in the last position.
package upc

import (
	"errors"
	"strings"
)

// Length is the number of digits in a canonical UPC-A code.
const Length = 12

// prefixLength is the number of digits the check digit is computed from.
const prefixLength = Length - 1

var (
	// ErrInvalidLength is returned when fewer than 11 digits are available.
	ErrInvalidLength = errors.New("upc: invalid length")

	// ErrNonNumericCharacter is returned by ParseStrict when the input
	// contains anything other than digits.
	ErrNonNumericCharacter = errors.New("upc: non-numeric character")
)

// UPC is a canonical UPC-A code stored as digit values (0-9), not ASCII.
type UPC [Length]byte

// String returns the 12 digits as text.
func (u UPC) String() string {
	var b [Length]byte
	for i, d := range u {
		b[i] = '0' + d
	}
	return string(b[:])
}

// IsZero reports whether u is the zero value (all digits 0).
func (u UPC) IsZero() bool {
	return u == UPC{}
}

// CheckDigit computes the UPC-A check digit for the first 11 digits of prefix.
// Digits at even 0-indexed positions are weighted 3, odd positions 1.
func CheckDigit(prefix []byte) (byte, error) {
	if len(prefix) < prefixLength {
		return 0, ErrInvalidLength
	}

	var sum int
	for i := 0; i < prefixLength; i++ {
		d := prefix[i]
		if d > 9 {
			return 0, ErrNonNumericCharacter
		}
		if i%2 == 0 {
			sum += int(d) * 3
		} else {
			sum += int(d)
		}
	}
	return byte((10 - sum%10) % 10), nil
}

// Normalize drops every non-digit from raw, keeps the trailing 12 digits when
// more remain, and repairs the check digit. It returns false when fewer than
// 11 digits are left.
func Normalize(raw string) (UPC, bool) {
	digits := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c >= '0' && c <= '9' {
			digits = append(digits, c-'0')
		}
	}

	u, err := fromDigits(digits)
	if err != nil {
		return UPC{}, false
	}
	return u, true
}

// ParseStrict is Normalize with reasons: any non-digit (after trimming
// surrounding whitespace) fails with ErrNonNumericCharacter before the
// length is checked, and fewer than 11 digits fails with ErrInvalidLength.
func ParseStrict(raw string) (UPC, error) {
	raw = strings.TrimSpace(raw)

	digits := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c < '0' || c > '9' {
			return UPC{}, ErrNonNumericCharacter
		}
		digits = append(digits, c-'0')
	}

	return fromDigits(digits)
}

// SplitList splits a comma-separated cell and normalizes each entry on its
// own. Entries that do not normalize are dropped, so a cell may yield none.
func SplitList(raw string) []UPC {
	parts := strings.Split(raw, ",")
	out := make([]UPC, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if u, ok := Normalize(p); ok {
			out = append(out, u)
		}
	}
	return out
}

// fromDigits builds a UPC from digit values, keeping only the last 12.
func fromDigits(digits []byte) (UPC, error) {
	if len(digits) > Length {
		digits = digits[len(digits)-Length:]
	}
	if len(digits) < prefixLength {
		return UPC{}, ErrInvalidLength
	}

	check, err := CheckDigit(digits)
	if err != nil {
		return UPC{}, err
	}

	var u UPC
	copy(u[:prefixLength], digits[:prefixLength])
	u[prefixLength] = check
	return u, nil
}

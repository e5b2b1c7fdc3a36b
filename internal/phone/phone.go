// Package phone canonicalizes and validates raw phone strings.
package phone

import "strings"

// Recognized calling codes that pass through Normalize unchanged.
var knownCountryCodes = []string{"52", "1", "44", "34"}

// Length bounds for a plausible E.164 number, in digits.
const (
	MinDigits = 10
	MaxDigits = 15
)

// Digits strips everything that is not an ASCII digit.
func Digits(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Normalize returns an E.164-like representation of raw.
// Ten-digit numbers are treated as Mexican and prefixed with +52; anything longer
// is assumed to already carry its calling code.
func Normalize(raw string) string {
	digits := Digits(raw)
	switch {
	case digits == "":
		return ""
	case len(digits) == MinDigits:
		return "+52" + digits
	default:
		return "+" + digits
	}
}

// IsValid reports whether raw looks like a dialable number. The check is purely
// syntactic: no checksum or carrier lookup is performed.
func IsValid(raw string) bool {
	digits := Digits(raw)
	if len(digits) < MinDigits || len(digits) > MaxDigits {
		return false
	}
	// Covers both the all-zero and repeated-digit spam patterns.
	return strings.Count(digits, digits[:1]) != len(digits)
}

// CountryCode returns the recognized calling code of a number, or "" when the
// prefix is not one of the known codes.
func CountryCode(raw string) string {
	digits := Digits(Normalize(raw))
	for _, cc := range knownCountryCodes {
		if strings.HasPrefix(digits, cc) {
			return cc
		}
	}
	return ""
}

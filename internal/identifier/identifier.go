// Package identifier converts between raw phone-like identifiers and the
// addressing scheme used by the external chat session.
package identifier

import (
	"strings"
)

const (
	// PersonalSuffix is the domain suffix of one-to-one chat addresses.
	PersonalSuffix = "@c.us"
)

// ToDigits strips every non-digit character from raw.
func ToDigits(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ToExternalAddress returns the session address for raw, or "" when raw
// contains no digits.
func ToExternalAddress(raw string) string {
	digits := ToDigits(raw)
	if digits == "" {
		return ""
	}
	return digits + PersonalSuffix
}

// FromExternalAddress returns the digit-only counterpart id of a session address.
func FromExternalAddress(address string) string {
	return ToDigits(strings.TrimSuffix(address, PersonalSuffix))
}

// IsDirect reports whether address names a single person rather than a group
// or broadcast list.
func IsDirect(address string) bool {
	at := strings.IndexByte(address, '@')
	if at < 0 {
		return ToDigits(address) != ""
	}
	return strings.HasSuffix(address, PersonalSuffix) && ToDigits(address[:at]) != ""
}

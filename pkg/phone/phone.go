// Package phone maps between local and international MSISDN formats and
// builds WhatsApp protocol addresses (JIDs) from them.
package phone

import (
	"strings"
)

const (
	// CountryPrefix is the international prefix of the deployment's
	// numbering plan (Indonesia).
	CountryPrefix = "62"

	// UserServer is the WhatsApp JID server for end-user accounts.
	UserServer = "s.whatsapp.net"
)

// Clean strips every non-digit rune from s. A leading "+" is dropped.
func Clean(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ToInternational converts a local number ("08123...") to international
// form without the plus sign ("628123..."). Numbers already in
// international form are returned cleaned. Empty or non-numeric input
// yields "".
func ToInternational(s string) string {
	n := Clean(s)
	switch {
	case n == "":
		return ""
	case strings.HasPrefix(n, CountryPrefix):
		return n
	case strings.HasPrefix(n, "0"):
		return CountryPrefix + n[1:]
	default:
		return CountryPrefix + n
	}
}

// ToLocal converts an international number ("628123...") to the local
// dialing form ("08123...").
func ToLocal(s string) string {
	n := Clean(s)
	switch {
	case n == "":
		return ""
	case strings.HasPrefix(n, CountryPrefix):
		return "0" + n[len(CountryPrefix):]
	case strings.HasPrefix(n, "0"):
		return n
	default:
		return "0" + n
	}
}

// IsValid reports whether s cleans up to a plausible MSISDN: digits
// only, between 9 and 15 digits in international form.
func IsValid(s string) bool {
	n := ToInternational(s)
	return len(n) >= 9 && len(n) <= 15
}

// JID builds the protocol address for a number, e.g.
// "628123456789@s.whatsapp.net". Returns "" for invalid input.
func JID(s string) string {
	if !IsValid(s) {
		return ""
	}
	return ToInternational(s) + "@" + UserServer
}

// BareNumber extracts the MSISDN part from a JID string, or cleans a
// plain number. "628123@s.whatsapp.net" -> "628123".
func BareNumber(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		jid = jid[:i]
	}
	return Clean(jid)
}

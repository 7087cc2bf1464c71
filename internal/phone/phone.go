// Package phone canonicalizes Argentine phone numbers into comparable keys.
//
// Two policies coexist. TenDigit produces the persisted key and rejects
// anything that does not end up as exactly ten digits. Recency is the looser
// rule applied to the previous day's contact report; it never rejects. Keys
// produced by one policy are only compared against keys produced by the other
// in the recently-contacted filter, so the two are kept separate on purpose.
package phone

import (
	"strings"
	"unicode"
)

// KeyLength is the length of every accepted canonical key.
const KeyLength = 10

// mobileMarker is the "15" infix that precedes the subscriber number in
// locally dialed mobile numbers.
const mobileMarker = "15"

// Canonicalizer turns a raw phone string into a comparable key.
type Canonicalizer interface {
	Canonicalize(raw string) (string, bool)
}

// TenDigit is the strict policy used for persisted keys.
type TenDigit struct{}

// Canonicalize implements Canonicalizer.
func (TenDigit) Canonicalize(raw string) (string, bool) { return Canonical(raw) }

// Recency is the best-effort policy used for the recently-contacted set.
type Recency struct{}

// Canonicalize implements Canonicalizer. The result is never rejected, but an
// empty input yields an empty key and false.
func (Recency) Canonicalize(raw string) (string, bool) {
	k := RecencyKey(raw)
	return k, k != ""
}

var punctuation = strings.NewReplacer("-", "", "(", "", ")", "")

// Canonical returns the 10-digit key for raw, or false when raw cannot be
// reduced to exactly ten digits.
func Canonical(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	s = punctuation.Replace(s)
	if s == "" || !isDigits(s) {
		return "", false
	}

	switch {
	case strings.HasPrefix(s, "90"):
		s = s[2:]
	case strings.HasPrefix(s, "0"):
		s = s[1:]
	}

	if len(s) > 4 {
		switch {
		case s[2:4] == mobileMarker:
			s = s[:2] + s[4:]
		case len(s) > 5 && s[3:5] == mobileMarker:
			s = s[:3] + s[5:]
		case len(s) > 6 && s[4:6] == mobileMarker:
			s = s[:4] + s[6:]
		}
	}

	if len(s) != KeyLength {
		return "", false
	}
	return s, true
}

// RecencyKey applies the lenient rule: trim, drop a leading "0", then a
// leading "90", then remove the "15" marker after a 2, 3 or 4 digit area code.
func RecencyKey(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "0")
	s = strings.TrimPrefix(s, "90")

	if strings.HasPrefix(s, "11") {
		if len(s) > 3 && s[2:4] == mobileMarker {
			s = "11" + s[4:]
		}
		return s
	}
	if len(s) >= 5 {
		switch {
		case s[3:5] == mobileMarker:
			s = s[:3] + s[5:]
		case len(s) > 5 && isDigits(s[:4]) && s[4:6] == mobileMarker:
			s = s[:4] + s[6:]
		}
	}
	return s
}

// StripDecimal removes the ".0" suffix spreadsheets add to numeric text.
func StripDecimal(s string) string {
	s = strings.TrimSpace(s)
	return strings.TrimSuffix(s, ".0")
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

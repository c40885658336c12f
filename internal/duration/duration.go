// Package duration parses human-readable duration tokens like "30m", "2d"
// or "6M" and turns countdowns into coarse labels for the list UI.
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	apperrors "phone-gate-bot/internal/errors"
)

var tokenRe = regexp.MustCompile(`^(\d+)([smhdwMY])$`)

// Approximate seconds per unit. Used for the 100-year cap check, sweep
// intervals and leftover labels; the actual expiry of M and Y tokens is
// calendar-aware (see Token.ExpiryFrom).
var unitSeconds = map[byte]int64{
	's': 1,
	'm': 60,
	'h': 3600,
	'd': 86400,
	'w': 604800,
	'M': 2592000,  // 30 days
	'Y': 31536000, // 365 days
}

// labelUnits is unitSeconds in ascending order, for leftover labels.
var labelUnits = []byte{'s', 'm', 'h', 'd', 'w', 'M', 'Y'}

// maxSeconds caps tokens at 100 years (365-day years for the check only).
const maxSeconds = 100 * 365 * 86400

// Token is a parsed duration token: a count and a unit letter.
type Token struct {
	Value int64
	Unit  byte
}

// Parse parses a token of the form digits+unit, where the unit is one of
// s, m, h, d, w, M, Y. Tokens that do not match, or whose approximate
// length exceeds 100 years, fail with ErrInvalidDuration.
func Parse(s string) (Token, error) {
	m := tokenRe.FindStringSubmatch(s)
	if m == nil {
		return Token{}, fmt.Errorf("%w: %q", apperrors.ErrInvalidDuration, s)
	}
	v, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %q", apperrors.ErrInvalidDuration, s)
	}
	unit := m[2][0]
	if v > maxSeconds/unitSeconds[unit] {
		return Token{}, fmt.Errorf("%w: %q exceeds 100 years", apperrors.ErrInvalidDuration, s)
	}
	return Token{Value: v, Unit: unit}, nil
}

// ExpiryFrom resolves the token into an absolute expiry. Calendar units add
// calendar months or years; everything else is a fixed offset.
func (t Token) ExpiryFrom(now time.Time) time.Time {
	switch t.Unit {
	case 'M':
		return now.AddDate(0, int(t.Value), 0)
	case 'Y':
		return now.AddDate(int(t.Value), 0, 0)
	default:
		return now.Add(time.Duration(t.Value*unitSeconds[t.Unit]) * time.Second)
	}
}

// Interval resolves the token into a fixed time.Duration, approximating
// calendar units as 30 and 365 days. Suitable for ticker intervals, not
// for expiry timestamps.
func (t Token) Interval() time.Duration {
	return time.Duration(t.Value*unitSeconds[t.Unit]) * time.Second
}

// ParseInterval parses a token and returns it as a fixed duration.
func ParseInterval(s string) (time.Duration, error) {
	t, err := Parse(s)
	if err != nil {
		return 0, err
	}
	return t.Interval(), nil
}

// LeftoverLabel renders the time left until expiry as a coarse countdown
// like "(< 2m)". It walks units small to large and picks the first one
// whose rounded-up count is at most 9; anything past 9 years collapses to
// "(> 9Y)". An already-passed expiry yields an empty label.
func LeftoverLabel(expiry, now time.Time) string {
	rem := expiry.Sub(now)
	if rem <= 0 {
		return ""
	}
	secs := int64(rem / time.Second)
	if rem%time.Second != 0 {
		secs++
	}
	for _, u := range labelUnits {
		per := unitSeconds[u]
		n := (secs + per - 1) / per
		if n <= 9 {
			return fmt.Sprintf("(< %d%c)", n, u)
		}
	}
	return "(> 9Y)"
}

// Package phone canonicalizes and validates phone numbers.
//
// The canonical form is "+" followed by 7 to 15 digits. Equality anywhere
// else in the program is exact string equality of canonical forms.
package phone

import "regexp"

var (
	stripRe = regexp.MustCompile(`[\s\-()]`)
	validRe = regexp.MustCompile(`^\+\d{7,15}$`)
)

// Normalize removes spaces, dashes, and parentheses and ensures the number
// starts with a plus. It is idempotent and does not validate.
func Normalize(raw string) string {
	p := stripRe.ReplaceAllString(raw, "")
	if len(p) == 0 || p[0] != '+' {
		p = "+" + p
	}
	return p
}

// IsValid reports whether p is a canonical phone number: a plus sign
// followed by 7 to 15 digits.
func IsValid(p string) bool {
	return validRe.MatchString(p)
}

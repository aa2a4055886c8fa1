package identity

import (
	"net/mail"
	"strings"
)

// Identifiers compare case-insensitively after trimming. Emails and usernames
// share one login field and are told apart by "@", which usernames may not
// contain.

// NormalizeEmail returns the lookup form of an email address.
func NormalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// NormalizeUsername returns the lookup form of a username.
func NormalizeUsername(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func normalizeIdentifier(identifier string) (norm string, isEmail bool) {
	id := strings.TrimSpace(identifier)
	if strings.Contains(id, "@") {
		return NormalizeEmail(id), true
	}
	return NormalizeUsername(id), false
}

// validEmail accepts a bare address ("a@example.com"), not the
// "Name <a@example.com>" form.
func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Name == "" && addr.Address == s
}

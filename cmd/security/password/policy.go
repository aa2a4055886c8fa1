package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// minIdentifierLen keeps short usernames like "al" from rejecting most passwords.
const minIdentifierLen = 4

// Validate applies the registration policy to secret. identifiers are the
// principal's own email and username; a secret containing either (or the
// email's local part) is rejected.
func (c Config) Validate(secret string, identifiers ...string) error {
	n := utf8.RuneCountInString(secret)
	switch {
	case n < c.Policy.MinLength:
		return ErrPasswordTooShort
	case n > c.Policy.MaxLength:
		return ErrPasswordTooLong
	}

	lower := strings.ToLower(secret)
	if c.Policy.RejectVeryWeak && guessable(lower) {
		return ErrWeakPassword
	}
	for _, id := range identifiers {
		if containsIdentifier(lower, id) {
			return ErrPasswordContainsIdentifier
		}
	}
	return nil
}

var commonPasswords = map[string]struct{}{
	"password": {}, "password1": {}, "password123": {}, "passw0rd": {},
	"123456": {}, "12345678": {}, "123456789": {}, "1234567890": {},
	"qwerty": {}, "qwerty123": {}, "qwertyuiop": {}, "letmein": {},
	"iloveyou": {}, "admin123": {}, "welcome1": {}, "11111111": {},
}

// guessable catches only the worst choices: common passwords, one or two
// repeated characters, short digit strings and keyboard-order runs.
func guessable(s string) bool {
	s = strings.TrimSpace(s)
	if _, ok := commonPasswords[s]; ok {
		return true
	}

	distinct := map[rune]struct{}{}
	digits := true
	for _, r := range s {
		distinct[r] = struct{}{}
		if !unicode.IsDigit(r) {
			digits = false
		}
	}
	if len(distinct) <= 2 {
		return true
	}
	if digits && utf8.RuneCountInString(s) < 12 {
		return true
	}
	return sequential(s)
}

// sequential reports a strictly ascending or descending run like "abcdefgh".
func sequential(s string) bool {
	rs := []rune(s)
	if len(rs) < 3 {
		return false
	}
	step := rs[1] - rs[0]
	if step != 1 && step != -1 {
		return false
	}
	for i := 2; i < len(rs); i++ {
		if rs[i]-rs[i-1] != step {
			return false
		}
	}
	return true
}

func containsIdentifier(lowerSecret, id string) bool {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return false
	}
	candidates := []string{id}
	if local, _, ok := strings.Cut(id, "@"); ok {
		candidates = append(candidates, local)
	}
	for _, c := range candidates {
		if utf8.RuneCountInString(c) >= minIdentifierLen && strings.Contains(lowerSecret, c) {
			return true
		}
	}
	return false
}

// Package password hashes and verifies principal credentials.
//
// New hashes are argon2id in PHC string form. Stored hashes are untrusted
// input: Verify refuses parameters far above the configured cost. bcrypt
// hashes imported from older systems still verify and are reported by
// NeedsRehash so the caller can upgrade them after a successful login.
//
// Validate is the registration policy (length, guessable choices, the
// principal's own identifiers). It is separate from Hash so that rehashing
// an existing credential never fails on a policy tightened later.
package password

// Package identity implements gatekeeper's principal model and credential verification.
//
// It owns principals (accounts, roles, credential material) and the Credential
// Verifier used by the session lifecycle. Sessions live in internal/auth/session.
package identity

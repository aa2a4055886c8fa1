// Package token provides refresh-token hashing primitives for gatekeeper.
//
// It is the single source of truth for the at-rest form of refresh tokens.
//
// Design goals:
// - Dev mode: SHA-256(token) when no HMAC key is configured.
// - Production mode: HMAC-SHA256(token, key), with a minimum key size enforced at construction.
// - Stable 64-char hex output for storage and constant-time comparison.
//
// The key is always passed in explicitly; this package never reads the environment.
package token

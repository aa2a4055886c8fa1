// Package session implements gatekeeper's Session Store and Token Issuer.
//
// A session is one server-side record per signed-in device. It holds the hash
// of the current refresh token; the plaintext is handed out once and never
// stored. Rotation replaces the hash in place with a compare-and-swap, and the
// superseded hash is retired into a history used for reuse detection.
//
// Access tokens are short-lived and stateless: PASETO v4.public by default, or
// JWT HS256. Refresh tokens are opaque random strings.
//
// Three Store implementations share one contract: MemoryStore (tests, single
// process), PostgresStore (row lock + transaction) and RedisStore (Lua CAS).
package session

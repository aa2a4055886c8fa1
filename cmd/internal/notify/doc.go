// Package notify pushes session revocations to connected clients over
// websockets so other tabs and devices of a principal can sign out promptly.
//
// Clients connect to the gateway with an access token. The hub fans out every
// lifecycle.Revocation to the principal's connections; a connection whose own
// session was revoked receives the event and is then closed.
package notify

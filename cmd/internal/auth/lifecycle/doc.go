// Package lifecycle is the session lifecycle controller.
//
// Controller composes credential verification, risk evaluation, the session
// store and the token issuer into Login, Refresh and Logout. Every failure
// path returns one of the sentinel errors in this package, so the same
// methods serve the HTTP API, the admin CLI and tests.
//
// Session states:
//
//	NONE -> ACTIVE -> (ROTATING) -> ACTIVE -> REVOKED | EXPIRED
//
// Rotation is a compare-and-swap in the store: the controller reads the
// session, evaluates risk without holding any lock, then swaps the refresh
// hash only if it is still the one it read. A superseded hash presented
// again revokes the session, except for a retry from the rotating device
// within ReuseGracePeriod.
package lifecycle

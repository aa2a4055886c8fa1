// Package device derives stable device/context fingerprints.
//
// A fingerprint lets the risk engine recognize a returning client. It is never
// an authorization credential.
package device

import (
	"net"
	"net/netip"
	"strings"

	"gatekeeper/cmd/security/token"
)

// Fingerprinter hashes user agent and network origin into an opaque identifier.
type Fingerprinter struct {
	hasher token.Hasher
}

// NewFingerprinter returns a Fingerprinter keyed by hasher (SHA-256 when unkeyed).
func NewFingerprinter(hasher token.Hasher) Fingerprinter {
	return Fingerprinter{hasher: hasher}
}

// Fingerprint returns a deterministic 64-char hex digest of the normalized inputs.
func (f Fingerprinter) Fingerprint(userAgent, networkOrigin string) string {
	return f.hasher.HashHex(NormalizeUserAgent(userAgent) + "\x00" + CanonicalIP(networkOrigin))
}

// NormalizeUserAgent trims and collapses internal whitespace.
func NormalizeUserAgent(ua string) string {
	return strings.Join(strings.Fields(ua), " ")
}

// CanonicalIP returns the canonical text form of an IP (stripping any port and
// IPv4-in-IPv6 mapping). Unparseable input is returned trimmed.
func CanonicalIP(origin string) string {
	s := strings.TrimSpace(origin)
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.Trim(s, "[]")
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return s
	}
	return addr.Unmap().String()
}

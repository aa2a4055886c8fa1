package device

import (
	"strings"
	"testing"

	"gatekeeper/cmd/security/token"
)

func TestFingerprint_Deterministic(t *testing.T) {
	f := NewFingerprinter(token.Hasher{})

	a := f.Fingerprint("Mozilla/5.0 (X11)", "203.0.113.7")
	b := f.Fingerprint("Mozilla/5.0 (X11)", "203.0.113.7")
	if a != b {
		t.Fatalf("same inputs must produce the same fingerprint")
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
}

func TestFingerprint_Normalization(t *testing.T) {
	f := NewFingerprinter(token.Hasher{})

	base := f.Fingerprint("Mozilla/5.0 (X11)", "203.0.113.7")
	cases := []struct {
		ua, ip string
	}{
		{"  Mozilla/5.0   (X11) ", "203.0.113.7"},
		{"Mozilla/5.0 (X11)", "203.0.113.7:51234"},
		{"Mozilla/5.0 (X11)", "::ffff:203.0.113.7"},
	}
	for _, tc := range cases {
		if got := f.Fingerprint(tc.ua, tc.ip); got != base {
			t.Fatalf("Fingerprint(%q, %q) differs from base", tc.ua, tc.ip)
		}
	}
}

func TestFingerprint_Distinguishes(t *testing.T) {
	f := NewFingerprinter(token.Hasher{})

	base := f.Fingerprint("Mozilla/5.0 (X11)", "203.0.113.7")
	if f.Fingerprint("curl/8.0", "203.0.113.7") == base {
		t.Fatalf("different UA must change fingerprint")
	}
	if f.Fingerprint("Mozilla/5.0 (X11)", "198.51.100.1") == base {
		t.Fatalf("different IP must change fingerprint")
	}

	keyed, err := token.NewHasher(strings.Repeat("s", token.MinHMACKeyBytes), true)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	if NewFingerprinter(keyed).Fingerprint("Mozilla/5.0 (X11)", "203.0.113.7") == base {
		t.Fatalf("keyed fingerprint must differ from unkeyed")
	}
}

func TestCanonicalIP(t *testing.T) {
	cases := map[string]string{
		"203.0.113.7":        "203.0.113.7",
		" 203.0.113.7:443 ":  "203.0.113.7",
		"[2001:db8::1]:8443": "2001:db8::1",
		"2001:DB8:0:0::1":    "2001:db8::1",
		"::ffff:203.0.113.7": "203.0.113.7",
		"not-an-ip":          "not-an-ip",
	}
	for in, want := range cases {
		if got := CanonicalIP(in); got != want {
			t.Fatalf("CanonicalIP(%q) = %q, want %q", in, got, want)
		}
	}
}

package password

import (
	"errors"
	"strings"
	"testing"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func TestHashVerify(t *testing.T) {
	cfg := fastConfig()

	h, err := cfg.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(h, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected encoding %q", h)
	}

	if ok, err := cfg.Verify(h, "correct horse battery"); err != nil || !ok {
		t.Fatalf("expected match, ok=%v err=%v", ok, err)
	}
	if ok, err := cfg.Verify(h, "correct horse battery!"); err != nil || ok {
		t.Fatalf("expected mismatch, ok=%v err=%v", ok, err)
	}

	again, _ := cfg.Hash("correct horse battery")
	if again == h {
		t.Fatalf("salts must differ between hashes")
	}
}

func TestHash_IgnoresPolicy(t *testing.T) {
	cfg := fastConfig()
	cfg.Policy.MinLength = 64

	if _, err := cfg.Hash("short"); err != nil {
		t.Fatalf("Hash must not apply the policy: %v", err)
	}
}

func TestVerify_InvalidHash(t *testing.T) {
	cfg := fastConfig()

	for _, stored := range []string{
		"",
		"not-a-hash",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=8192,t=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=8192,t=1,p=0$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$a2V5a2V5a2V5a2V5a2V5a2V5",
	} {
		ok, err := cfg.Verify(stored, "whatever")
		if !errors.Is(err, ErrInvalidHash) || ok {
			t.Fatalf("Verify(%q): ok=%v err=%v", stored, ok, err)
		}
	}
}

func TestVerify_RefusesOversizedParams(t *testing.T) {
	cfg := fastConfig()

	h, err := cfg.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	// Same salt and key, but a claimed cost far above the configured one.
	tampered := strings.Replace(h, "m=8192,t=1", "m=1048576,t=1", 1)

	if _, err := cfg.Verify(tampered, "correct horse battery"); !errors.Is(err, ErrInvalidHash) {
		t.Fatalf("expected ErrInvalidHash, got %v", err)
	}
}

func TestPHC_RoundTrip(t *testing.T) {
	in := phc{
		params: Argon2idParams{MemoryKiB: 65536, Iterations: 3, Parallelism: 2, SaltLength: 4, KeyLength: 5},
		salt:   []byte("salt"),
		key:    []byte("key!!"),
	}
	out, err := parsePHC(in.String())
	if err != nil {
		t.Fatalf("parsePHC: %v", err)
	}
	if out.params != in.params || string(out.salt) != "salt" || string(out.key) != "key!!" {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.MinLength = 10
	cfg.Policy.MaxLength = 40
	cfg.Policy.RejectVeryWeak = true

	cases := []struct {
		name   string
		secret string
		ids    []string
		want   error
	}{
		{"ok", "correct horse battery", []string{"alice@example.com", "alice"}, nil},
		{"too short", "short", nil, ErrPasswordTooShort},
		{"too long", strings.Repeat("x", 41), nil, ErrPasswordTooLong},
		{"runes not bytes", "ééééééééééé-ok", nil, nil},
		{"common", "password123", nil, ErrWeakPassword},
		{"repeated", "abababababab", nil, ErrWeakPassword},
		{"digits", "0123987654", nil, ErrWeakPassword},
		{"sequence", "abcdefghijk", nil, ErrWeakPassword},
		{"contains email local part", "Alice-in-wonderland", []string{"alice@example.com"}, ErrPasswordContainsIdentifier},
		{"contains username", "my name is bobcat!", []string{"b@example.com", "BobCat"}, ErrPasswordContainsIdentifier},
		{"short identifier ignored", "correct horse battery", []string{"al"}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := cfg.Validate(tc.secret, tc.ids...)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("expected ok, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) || !errors.Is(err, ErrPolicy) {
				t.Fatalf("expected %v (policy), got %v", tc.want, err)
			}
		})
	}
}

func TestValidate_WeakCheckOptional(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.MinLength = 8
	cfg.Policy.RejectVeryWeak = false

	if err := cfg.Validate("password123"); err != nil {
		t.Fatalf("weak check disabled, got %v", err)
	}
}

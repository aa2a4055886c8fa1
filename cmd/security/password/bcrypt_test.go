package password

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestVerify_LegacyBcrypt(t *testing.T) {
	cfg := DefaultConfig()

	legacy, err := bcrypt.GenerateFromPassword([]byte("imported password 42"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	ok, err := cfg.Verify(string(legacy), "imported password 42")
	if err != nil || !ok {
		t.Fatalf("expected legacy match, ok=%v err=%v", ok, err)
	}

	ok, err = cfg.Verify(string(legacy), "wrong")
	if err != nil || ok {
		t.Fatalf("expected legacy mismatch, ok=%v err=%v", ok, err)
	}

	if !cfg.NeedsRehash(string(legacy)) {
		t.Fatalf("bcrypt hashes must be flagged for rehash")
	}
}

func TestNeedsRehash_Argon2id(t *testing.T) {
	weak := DefaultConfig()
	weak.Params.MemoryKiB = 8 * 1024
	weak.Params.Iterations = 1

	h, err := weak.Hash("this is a strong password 123!")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	if !DefaultConfig().NeedsRehash(h) {
		t.Fatalf("weaker params must be flagged for rehash")
	}
	if weak.NeedsRehash(h) {
		t.Fatalf("hash at current params must not be flagged")
	}
	if DefaultConfig().NeedsRehash("not-a-hash") {
		t.Fatalf("garbage must not be flagged")
	}
}

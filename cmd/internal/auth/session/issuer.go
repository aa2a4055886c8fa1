package session

import (
	"strings"
	"time"

	"gatekeeper/cmd/security/token"
)

// Issuer mints access tokens and opaque refresh tokens. Refresh tokens are
// only ever persisted as hashes.
type Issuer struct {
	access     AccessTokenManager
	hasher     token.Hasher
	tokenBytes int
}

// NewIssuer validates cfg and builds the access-token manager it selects.
func NewIssuer(cfg Config, hasher token.Hasher) (*Issuer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		m   AccessTokenManager
		err error
	)
	switch cfg.Signer {
	case SignerJWTHS256:
		m, err = NewJWTHS256Manager(cfg)
	default:
		m, err = NewPasetoV4PublicManager(cfg)
	}
	if err != nil {
		return nil, err
	}

	return &Issuer{access: m, hasher: hasher, tokenBytes: cfg.RefreshTokenBytes}, nil
}

// MintAccessToken issues a signed access token for sub bound to sessionID.
func (i *Issuer) MintAccessToken(sub Subject, sessionID string, now time.Time) (string, time.Time, error) {
	return i.access.Issue(sub, sessionID, now)
}

// VerifyAccessToken checks signature, issuer and expiry. It performs no
// store lookup; revocation is observed at the next refresh.
func (i *Issuer) VerifyAccessToken(tok string, now time.Time) (AccessClaims, error) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return AccessClaims{}, ErrInvalidToken
	}
	return i.access.Verify(tok, now)
}

// MintRefreshToken returns a fresh opaque token and its storage hash.
func (i *Issuer) MintRefreshToken() (plain, hash string, err error) {
	plain, err = newOpaqueToken(i.tokenBytes)
	if err != nil {
		return "", "", err
	}
	return plain, i.hasher.HashHex(plain), nil
}

// HashRefreshToken hashes a presented refresh token. Empty or oversized
// input returns ErrInvalidToken.
func (i *Issuer) HashRefreshToken(plain string) (string, error) {
	plain = strings.TrimSpace(plain)
	if plain == "" || len(plain) > maxRefreshTokenLen {
		return "", ErrInvalidToken
	}
	return i.hasher.HashHex(plain), nil
}

// PublicKeyHex exposes the access-token verification key, if any.
func (i *Issuer) PublicKeyHex() string {
	return i.access.PublicKeyHex()
}

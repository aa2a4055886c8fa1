package session

import (
	"errors"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// Subject is the identity an access token is minted for.
type Subject struct {
	ID    string
	Email string
	Role  string
}

// AccessClaims is the identity envelope propagated across HTTP/WS.
type AccessClaims struct {
	PrincipalID string
	Email       string
	Role        string
	SessionID   string
	ExpiresAt   time.Time
	IssuedAt    time.Time
	Issuer      string
}

// AccessTokenManager issues and verifies short-lived access tokens.
type AccessTokenManager interface {
	Issue(sub Subject, sessionID string, now time.Time) (token string, exp time.Time, err error)
	Verify(token string, now time.Time) (AccessClaims, error)
	// PublicKeyHex returns the verification key for asymmetric signers, or "".
	PublicKeyHex() string
}

type pasetoV4PublicManager struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewPasetoV4PublicManager builds an AccessTokenManager based on PASETO v4.public.
//
// It uses an Ed25519 asymmetric keypair and enforces issuer and expiration rules.
// Clock skew loosens only the not-before check; expiry is exact.
func NewPasetoV4PublicManager(cfg Config) (AccessTokenManager, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.PasetoV4SecretKeyHex)
	if err != nil {
		return nil, ErrConfig
	}

	return &pasetoV4PublicManager{
		issuer:    cfg.Issuer,
		ttl:       cfg.AccessTokenTTL,
		clockSkew: cfg.ClockSkew,
		secret:    secret,
		public:    secret.Public(),
	}, nil
}

// NewPasetoV4SecretKeyHex generates a fresh Ed25519 secret key in hex.
func NewPasetoV4SecretKeyHex() string {
	return paseto.NewV4AsymmetricSecretKey().ExportHex()
}

func (m *pasetoV4PublicManager) PublicKeyHex() string {
	return m.public.ExportHex()
}

func (m *pasetoV4PublicManager) Issue(sub Subject, sessionID string, now time.Time) (string, time.Time, error) {
	if sub.ID == "" || sessionID == "" {
		return "", time.Time{}, ErrInvalidToken
	}
	exp := now.Add(m.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetSubject(sub.ID)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)

	_ = tok.Set("sid", sessionID)
	_ = tok.Set("email", sub.Email)
	_ = tok.Set("role", sub.Role)

	return tok.V4Sign(m.secret, nil), exp, nil
}

func (m *pasetoV4PublicManager) Verify(token string, now time.Time) (AccessClaims, error) {
	// NewParser's built-in expiry rule reads the wall clock; validity is
	// checked against now instead. Fresh parser per call; rules accumulate.
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(m.issuer))
	p.AddRule(validAt(now, m.clockSkew))

	parsed, err := p.ParseV4Public(m.public, token, nil)
	if err != nil {
		return AccessClaims{}, ErrInvalidToken
	}

	iss, _ := parsed.GetIssuer()
	exp, _ := parsed.GetExpiration()
	iat, _ := parsed.GetIssuedAt()

	sub, err := parsed.GetSubject()
	if err != nil || sub == "" {
		return AccessClaims{}, ErrInvalidToken
	}
	sid, err := parsed.GetString("sid")
	if err != nil || sid == "" {
		return AccessClaims{}, ErrInvalidToken
	}
	email, _ := parsed.GetString("email")
	role, _ := parsed.GetString("role")

	return AccessClaims{
		PrincipalID: sub,
		Email:       email,
		Role:        role,
		SessionID:   sid,
		ExpiresAt:   exp,
		IssuedAt:    iat,
		Issuer:      iss,
	}, nil
}

var (
	errTokenNotYetValid = errors.New("token not yet valid")
	errTokenExpired     = errors.New("token expired")
)

// validAt accepts tokens with nbf <= now+skew and now < exp.
func validAt(now time.Time, skew time.Duration) paseto.Rule {
	return func(tok paseto.Token) error {
		nbf, err := tok.GetNotBefore()
		if err != nil {
			return err
		}
		if now.Add(skew).Before(nbf) {
			return errTokenNotYetValid
		}
		exp, err := tok.GetExpiration()
		if err != nil {
			return err
		}
		if !now.Before(exp) {
			return errTokenExpired
		}
		return nil
	}
}

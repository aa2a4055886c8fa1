package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatekeeper/cmd/security/password"
)

// dummyPassword seeds the hash verified when an identifier is unknown.
const dummyPassword = "gatekeeper-dummy-password-for-timing"

// Service registers principals and verifies their credentials.
type Service struct {
	store     Store
	passwords password.Config
	dummyHash string
	now       func() time.Time
}

// NewService builds a Service. It hashes a dummy password once so that
// unknown identifiers cost the same as wrong passwords.
func NewService(store Store, passwords password.Config) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("identity: nil store")
	}
	if err := passwords.Check(); err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}

	dummy, err := passwords.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("identity: dummy hash: %w", err)
	}

	return &Service{
		store:     store,
		passwords: passwords,
		dummyHash: dummy,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Store exposes the underlying principal store.
func (s *Service) Store() Store { return s.store }

// RegisterInput describes a new principal with a plaintext password.
type RegisterInput struct {
	Email    string
	Username string
	Password string
	Role     Role
}

// Register validates the password policy, hashes it, and creates the principal.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Principal, error) {
	const op = "identity.Register"

	if err := s.passwords.Validate(in.Password, in.Email, in.Username); err != nil {
		if errors.Is(err, password.ErrPolicy) {
			return Principal{}, invalid(op, "password", err.Error())
		}
		return Principal{}, err
	}
	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return Principal{}, err
	}

	return s.store.CreatePrincipal(ctx, CreatePrincipalInput{
		Email:        in.Email,
		Username:     in.Username,
		Role:         in.Role,
		PasswordHash: hash,
		Now:          s.now(),
	})
}

// Verify checks secret against the credentials of the principal named by
// identifier (email or username, case-insensitive).
//
// Unknown identifiers and wrong secrets both return ErrInvalidCredentials after
// an equivalent amount of hashing work. Legacy or weak hashes are upgraded in
// place after a successful match.
func (s *Service) Verify(ctx context.Context, identifier, secret string) (Principal, error) {
	const op = "identity.Verify"

	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}

	identifier = strings.TrimSpace(identifier)
	if identifier == "" || secret == "" {
		s.burn(secret)
		return Principal{}, ErrInvalidCredentials
	}

	p, err := s.store.FindByIdentifier(ctx, identifier)
	if err != nil {
		if IsNotFound(err) {
			s.burn(secret)
			if err := ctx.Err(); err != nil {
				return Principal{}, err
			}
			return Principal{}, ErrInvalidCredentials
		}
		return Principal{}, fmt.Errorf("%s: %w", op, err)
	}

	ok, err := s.passwords.Verify(p.PasswordHash, secret)
	if err != nil {
		return Principal{}, fmt.Errorf("%s: stored hash: %w", op, err)
	}
	// argon2 is not cancellable; honor the deadline once it returns.
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}
	if !ok {
		return Principal{}, ErrInvalidCredentials
	}

	if s.passwords.NeedsRehash(p.PasswordHash) {
		if upgraded, err := s.passwords.Hash(secret); err == nil {
			// Best effort: the old hash keeps working if this fails.
			if s.store.SetPasswordHash(ctx, p.ID, upgraded, s.now()) == nil {
				p.PasswordHash = upgraded
			}
		}
	}

	return p, nil
}

// Promote changes the role of a principal.
func (s *Service) Promote(ctx context.Context, id string, role Role) error {
	return s.store.SetRole(ctx, id, role, s.now())
}

// SetTOTPSecret stores a TOTP secret for the principal ("" disables TOTP).
func (s *Service) SetTOTPSecret(ctx context.Context, id, secret string) error {
	return s.store.SetTOTPSecret(ctx, id, strings.TrimSpace(secret), s.now())
}

func (s *Service) burn(secret string) {
	_, _ = s.passwords.Verify(s.dummyHash, secret)
}

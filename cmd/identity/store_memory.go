package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"gatekeeper/cmd/identity/ids"
)

// MemoryStore is an in-process Store for tests and single-node development.
type MemoryStore struct {
	mu         sync.RWMutex
	byID       map[string]Principal
	byEmail    map[string]string
	byUsername map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:       make(map[string]Principal),
		byEmail:    make(map[string]string),
		byUsername: make(map[string]string),
	}
}

func (s *MemoryStore) CreatePrincipal(ctx context.Context, in CreatePrincipalInput) (Principal, error) {
	const op = "identity.CreatePrincipal"

	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}
	in, err := validateCreate(op, in)
	if err != nil {
		return Principal{}, err
	}

	id, err := ids.New(in.Now)
	if err != nil {
		return Principal{}, err
	}

	p := Principal{
		ID:           id,
		Email:        in.Email,
		EmailNorm:    NormalizeEmail(in.Email),
		Username:     in.Username,
		Role:         in.Role,
		PasswordHash: in.PasswordHash,
		CreatedAt:    in.Now,
		UpdatedAt:    in.Now,
	}
	if in.Username != "" {
		p.UsernameNorm = NormalizeUsername(in.Username)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[p.EmailNorm]; ok {
		return Principal{}, conflict(op, "email")
	}
	if p.UsernameNorm != "" {
		if _, ok := s.byUsername[p.UsernameNorm]; ok {
			return Principal{}, conflict(op, "username")
		}
		s.byUsername[p.UsernameNorm] = p.ID
	}
	s.byEmail[p.EmailNorm] = p.ID
	s.byID[p.ID] = p

	return p, nil
}

func (s *MemoryStore) GetPrincipal(ctx context.Context, id string) (Principal, error) {
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return Principal{}, notFound("identity.GetPrincipal")
	}
	return p, nil
}

func (s *MemoryStore) FindByIdentifier(ctx context.Context, identifier string) (Principal, error) {
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}

	norm, isEmail := normalizeIdentifier(identifier)

	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.byUsername
	if isEmail {
		idx = s.byEmail
	}
	id, ok := idx[norm]
	if !ok || norm == "" {
		return Principal{}, notFound("identity.FindByIdentifier")
	}
	return s.byID[id], nil
}

func (s *MemoryStore) SetRole(ctx context.Context, id string, role Role, now time.Time) error {
	if !role.Valid() {
		return invalid("identity.SetRole", "role", "")
	}
	return s.update(ctx, "identity.SetRole", id, now, func(p *Principal) { p.Role = role })
}

func (s *MemoryStore) SetPasswordHash(ctx context.Context, id string, hash string, now time.Time) error {
	if hash == "" {
		return invalid("identity.SetPasswordHash", "password", "empty hash")
	}
	return s.update(ctx, "identity.SetPasswordHash", id, now, func(p *Principal) { p.PasswordHash = hash })
}

func (s *MemoryStore) SetTOTPSecret(ctx context.Context, id string, secret string, now time.Time) error {
	return s.update(ctx, "identity.SetTOTPSecret", id, now, func(p *Principal) { p.TOTPSecret = secret })
}

func (s *MemoryStore) update(ctx context.Context, op, id string, now time.Time, fn func(*Principal)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return notFound(op)
	}
	fn(&p)
	p.UpdatedAt = now
	s.byID[p.ID] = p
	return nil
}

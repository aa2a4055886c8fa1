package identity

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Role is a principal's authorization tier. The set is closed.
type Role string

const (
	RoleUser    Role = "user"
	RoleCreator Role = "creator"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleCreator, RoleAdmin:
		return true
	default:
		return false
	}
}

// ParseRole parses a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", invalid("identity.ParseRole", "role", fmt.Sprintf("unknown role %q", s))
	}
	return r, nil
}

// Principal is gatekeeper's canonical security principal.
// PasswordHash and TOTPSecret are credential material and must never be logged.
type Principal struct {
	ID           string
	Email        string
	EmailNorm    string
	Username     string
	UsernameNorm string
	Role         Role

	PasswordHash string
	TOTPSecret   string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasTOTP reports whether the principal enrolled a TOTP authenticator.
func (p Principal) HasTOTP() bool { return p.TOTPSecret != "" }

// CreatePrincipalInput describes a new principal. Email is required; Username is optional.
// PasswordHash is an already encoded hash (see Service.Register).
type CreatePrincipalInput struct {
	Email        string
	Username     string
	Role         Role
	PasswordHash string
	Now          time.Time
}

// Store is the principal persistence boundary.
type Store interface {
	CreatePrincipal(ctx context.Context, in CreatePrincipalInput) (Principal, error)
	GetPrincipal(ctx context.Context, id string) (Principal, error)

	// FindByIdentifier looks a principal up by normalized email or username.
	// Returns ErrNotFound when neither matches.
	FindByIdentifier(ctx context.Context, identifier string) (Principal, error)

	SetRole(ctx context.Context, id string, role Role, now time.Time) error
	SetPasswordHash(ctx context.Context, id string, hash string, now time.Time) error
	SetTOTPSecret(ctx context.Context, id string, secret string, now time.Time) error
}

func validateCreate(op string, in CreatePrincipalInput) (CreatePrincipalInput, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.Username = strings.TrimSpace(in.Username)

	if !validEmail(in.Email) {
		return in, invalid(op, "email", "valid email is required")
	}
	if strings.Contains(in.Username, "@") {
		return in, invalid(op, "username", "must not contain @")
	}
	if in.PasswordHash == "" {
		return in, invalid(op, "password", "hash is required")
	}
	if in.Role == "" {
		in.Role = RoleUser
	}
	if !in.Role.Valid() {
		return in, invalid(op, "role", "")
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	return in, nil
}

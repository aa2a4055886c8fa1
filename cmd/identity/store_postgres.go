package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gatekeeper/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements principal persistence over PostgreSQL.
//
// Design notes:
// - The pgx pool is owned by the caller; this store must NOT close it.
// - Schema/table identifiers are safely quoted to avoid SQL injection via identifiers.
// - Errors are mapped to identity sentinel kinds where appropriate.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultSchema is the schema created by the embedded migrations.
const DefaultSchema = "gatekeeper"

// WithSchema sets the Postgres schema used by the store (default "gatekeeper").
// The schema name is validated to be a legal PostgreSQL identifier.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !ValidSchemaName(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// ValidSchemaName reports whether s is a safe unquoted Postgres identifier.
func ValidSchemaName(s string) bool {
	return pgIdentRe.MatchString(s)
}

// NewPostgresStore constructs a PostgresStore with secure defaults.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: DefaultSchema,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

// CreatePrincipal creates a new principal and its credentials transactionally.
func (s *PostgresStore) CreatePrincipal(ctx context.Context, in CreatePrincipalInput) (Principal, error) {
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

	out := Principal{
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
		out.UsernameNorm = NormalizeUsername(in.Username)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Principal{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	principals := pgIdent(s.schema, "principals")
	creds := pgIdent(s.schema, "principal_credentials")

	_, err = tx.Exec(ctx,
		`INSERT INTO `+principals+` (
		     id, email, email_norm, username, username_norm, role, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		out.ID,
		out.Email,
		out.EmailNorm,
		nullIfEmpty(out.Username),
		nullIfEmpty(out.UsernameNorm),
		string(out.Role),
		in.Now,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return Principal{}, conflict(op, field)
		}
		return Principal{}, err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO `+creds+` (principal_id, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $3)`,
		out.ID, out.PasswordHash, in.Now,
	)
	if err != nil {
		// FK failure here means schema inconsistency.
		return Principal{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Principal{}, err
	}
	return out, nil
}

// GetPrincipal loads a principal by id.
func (s *PostgresStore) GetPrincipal(ctx context.Context, id string) (Principal, error) {
	const op = "identity.GetPrincipal"

	id = strings.TrimSpace(id)
	if id == "" {
		return Principal{}, invalid(op, "principal", "missing id")
	}
	return s.selectOne(ctx, op, `p.id = $1`, id)
}

// FindByIdentifier loads a principal by normalized email or username.
func (s *PostgresStore) FindByIdentifier(ctx context.Context, identifier string) (Principal, error) {
	const op = "identity.FindByIdentifier"

	norm, isEmail := normalizeIdentifier(identifier)
	if norm == "" {
		return Principal{}, notFound(op)
	}
	if isEmail {
		return s.selectOne(ctx, op, `p.email_norm = $1`, norm)
	}
	return s.selectOne(ctx, op, `p.username_norm = $1`, norm)
}

func (s *PostgresStore) selectOne(ctx context.Context, op, where string, arg any) (Principal, error) {
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}

	principals := pgIdent(s.schema, "principals")
	creds := pgIdent(s.schema, "principal_credentials")

	var (
		out          Principal
		username     *string
		usernameNorm *string
		role         string
		totp         *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT p.id, p.email, p.email_norm, p.username, p.username_norm, p.role,
		        c.password_hash, c.totp_secret, p.created_at, p.updated_at
		   FROM `+principals+` p
		   JOIN `+creds+` c ON c.principal_id = p.id
		  WHERE `+where,
		arg,
	).Scan(
		&out.ID,
		&out.Email,
		&out.EmailNorm,
		&username,
		&usernameNorm,
		&role,
		&out.PasswordHash,
		&totp,
		&out.CreatedAt,
		&out.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Principal{}, notFound(op)
		}
		return Principal{}, err
	}

	if username != nil {
		out.Username = *username
	}
	if usernameNorm != nil {
		out.UsernameNorm = *usernameNorm
	}
	if totp != nil {
		out.TOTPSecret = *totp
	}
	out.Role = Role(role)
	return out, nil
}

// SetRole changes a principal's role.
func (s *PostgresStore) SetRole(ctx context.Context, id string, role Role, now time.Time) error {
	const op = "identity.SetRole"

	if !role.Valid() {
		return invalid(op, "role", "")
	}
	principals := pgIdent(s.schema, "principals")
	return s.execOne(ctx, op,
		`UPDATE `+principals+` SET role = $2, updated_at = $3 WHERE id = $1`,
		id, string(role), nowOrUTC(now),
	)
}

// SetPasswordHash replaces the stored password hash.
func (s *PostgresStore) SetPasswordHash(ctx context.Context, id string, hash string, now time.Time) error {
	const op = "identity.SetPasswordHash"

	if hash == "" {
		return invalid(op, "password", "empty hash")
	}
	creds := pgIdent(s.schema, "principal_credentials")
	return s.execOne(ctx, op,
		`UPDATE `+creds+` SET password_hash = $2, updated_at = $3 WHERE principal_id = $1`,
		id, hash, nowOrUTC(now),
	)
}

// SetTOTPSecret stores (or clears, with "") the TOTP secret.
func (s *PostgresStore) SetTOTPSecret(ctx context.Context, id string, secret string, now time.Time) error {
	const op = "identity.SetTOTPSecret"

	creds := pgIdent(s.schema, "principal_credentials")
	return s.execOne(ctx, op,
		`UPDATE `+creds+` SET totp_secret = $2, updated_at = $3 WHERE principal_id = $1`,
		id, nullIfEmpty(secret), nowOrUTC(now),
	)
}

func (s *PostgresStore) execOne(ctx context.Context, op, sql string, id string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return invalid(op, "principal", "missing id")
	}

	ct, err := s.pool.Exec(ctx, sql, append([]any{id}, args...)...)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return notFound(op)
	}
	return nil
}

// ---- helpers ----

func nowOrUTC(now time.Time) time.Time {
	if now.IsZero() {
		return time.Now().UTC()
	}
	return now
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	// Prefer stable schema constraint names. Fall back to heuristic substring matching.
	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))

	switch c {
	case "uq_principals_username_norm":
		return "username", true
	case "uq_principals_email_norm":
		return "email", true
	default:
		switch {
		case strings.Contains(c, "username"):
			return "username", true
		case strings.Contains(c, "email"):
			return "email", true
		default:
			return "unique", true
		}
	}
}

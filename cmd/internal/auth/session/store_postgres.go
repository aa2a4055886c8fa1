package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gatekeeper/cmd/security/token"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL (<schema>.sessions and
// <schema>.session_refresh_history). The pool is owned by the caller.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// NewPostgresStore creates a Postgres-backed session store in schema.
func NewPostgresStore(pool *pgxpool.Pool, schema string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("session: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if !pgIdentRe.MatchString(schema) {
		return nil, fmt.Errorf("session: invalid schema identifier")
	}
	return &PostgresStore{pool: pool, schema: schema}, nil
}

func (s *PostgresStore) table(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

const sessionColumns = `id, principal_id, refresh_token_hash, fingerprint, platform, ip, user_agent, country,
	risk_score, created_at, last_active_at, expires_at`

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec      Record
		platform string
	)
	err := row.Scan(
		&rec.ID,
		&rec.PrincipalID,
		&rec.RefreshHash,
		&rec.Fingerprint,
		&platform,
		&rec.IP,
		&rec.UserAgent,
		&rec.Country,
		&rec.RiskScore,
		&rec.CreatedAt,
		&rec.LastActiveAt,
		&rec.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrSessionNotFound
	}
	if err != nil {
		return Record{}, err
	}
	rec.Platform = Platform(platform)
	return rec, nil
}

// Create inserts a new session row.
func (s *PostgresStore) Create(ctx context.Context, rec Record) (Record, error) {
	rec, err := prepareCreate(rec)
	if err != nil {
		return Record{}, err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO `+s.table("sessions")+` (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		rec.ID, rec.PrincipalID, rec.RefreshHash, rec.Fingerprint, string(rec.Platform),
		rec.IP, rec.UserAgent, rec.Country, rec.RiskScore,
		rec.CreatedAt, rec.LastActiveAt, rec.ExpiresAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && (pgErr.Code == "23505" || pgErr.Code == "23503") { // unique or FK violation
			return Record{}, ErrInvalidRecord
		}
		return Record{}, err
	}
	return rec, nil
}

// Get loads a session row by ID.
func (s *PostgresStore) Get(ctx context.Context, id string) (Record, error) {
	return scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM `+s.table("sessions")+` WHERE id = $1`, id))
}

// FindByRefreshHash loads a session by its current refresh hash.
func (s *PostgresStore) FindByRefreshHash(ctx context.Context, hash string) (Record, error) {
	return scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM `+s.table("sessions")+` WHERE refresh_token_hash = $1`, hash))
}

// FindRetired resolves a retired hash. History rows cascade with their session.
func (s *PostgresStore) FindRetired(ctx context.Context, hash string) (Retired, error) {
	var r Retired
	err := s.pool.QueryRow(ctx, `
		SELECT refresh_token_hash, session_id, principal_id, retired_at
		  FROM `+s.table("session_refresh_history")+`
		 WHERE refresh_token_hash = $1
	`, hash).Scan(&r.Hash, &r.SessionID, &r.PrincipalID, &r.RetiredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Retired{}, ErrSessionNotFound
	}
	if err != nil {
		return Retired{}, err
	}
	return r, nil
}

// Rotate performs the compare-and-swap inside one transaction.
//
// Concurrency model:
//   - Lock the session row by id (SELECT ... FOR UPDATE); concurrent rotations queue here.
//   - Compare the stored hash with ExpectedHash in constant time. The loser of a race
//     sees the winner's hash and gets ErrHashMismatch.
//   - Update in place and insert the retired hash before commit.
func (s *PostgresStore) Rotate(ctx context.Context, rot Rotation) (Record, error) {
	if err := checkRotation(rot); err != nil {
		return Record{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Record{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rec, err := scanRecord(tx.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM `+s.table("sessions")+` WHERE id = $1 FOR UPDATE`, rot.SessionID))
	if err != nil {
		return Record{}, err
	}
	if !token.EqualHex64(rec.RefreshHash, rot.ExpectedHash) {
		return Record{}, ErrHashMismatch
	}

	next := rot.apply(rec)
	_, err = tx.Exec(ctx, `
		UPDATE `+s.table("sessions")+`
		   SET refresh_token_hash = $2,
		       fingerprint = $3,
		       ip = $4,
		       user_agent = $5,
		       country = $6,
		       risk_score = $7,
		       last_active_at = $8
		 WHERE id = $1
	`, next.ID, next.RefreshHash, next.Fingerprint, next.IP, next.UserAgent, next.Country, next.RiskScore, next.LastActiveAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, ErrInvalidRecord
		}
		return Record{}, err
	}

	history := s.table("session_refresh_history")
	_, err = tx.Exec(ctx, `
		INSERT INTO `+history+` (refresh_token_hash, session_id, principal_id, retired_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (refresh_token_hash) DO NOTHING
	`, rot.ExpectedHash, rec.ID, rec.PrincipalID, rot.Now)
	if err != nil {
		return Record{}, err
	}

	if rot.HistoryRetention > 0 {
		_, err = tx.Exec(ctx,
			`DELETE FROM `+history+` WHERE session_id = $1 AND retired_at <= $2`,
			rec.ID, rot.Now.Add(-rot.HistoryRetention),
		)
		if err != nil {
			return Record{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, err
	}
	return next, nil
}

// Delete removes a session (history cascades). Idempotent.
func (s *PostgresStore) Delete(ctx context.Context, id string) (bool, error) {
	ct, err := s.pool.Exec(ctx, `DELETE FROM `+s.table("sessions")+` WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// DeleteByRefreshHash removes the session whose current hash is hash.
func (s *PostgresStore) DeleteByRefreshHash(ctx context.Context, hash string) (Record, error) {
	return scanRecord(s.pool.QueryRow(ctx,
		`DELETE FROM `+s.table("sessions")+` WHERE refresh_token_hash = $1 RETURNING `+sessionColumns, hash))
}

// ListByPrincipal returns a principal's sessions, newest first.
func (s *PostgresStore) ListByPrincipal(ctx context.Context, principalID string) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		  FROM `+s.table("sessions")+`
		 WHERE principal_id = $1
		 ORDER BY created_at DESC, id DESC
	`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteByPrincipal removes all sessions of a principal.
func (s *PostgresStore) DeleteByPrincipal(ctx context.Context, principalID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`DELETE FROM `+s.table("sessions")+` WHERE principal_id = $1 RETURNING id`, principalID)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// DeleteExpired removes sessions whose expires_at is at or before now.
func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	ct, err := s.pool.Exec(ctx, `DELETE FROM `+s.table("sessions")+` WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}

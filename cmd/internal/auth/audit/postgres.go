package audit

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresLog writes entries to <schema>.risk_log.
type PostgresLog struct {
	pool  *pgxpool.Pool
	table string
}

func NewPostgresLog(pool *pgxpool.Pool, schema string) (*PostgresLog, error) {
	if pool == nil {
		return nil, fmt.Errorf("audit: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if !pgIdentRe.MatchString(schema) {
		return nil, fmt.Errorf("audit: invalid schema identifier")
	}
	return &PostgresLog{pool: pool, table: pgx.Identifier{schema, "risk_log"}.Sanitize()}, nil
}

func (l *PostgresLog) Append(ctx context.Context, e Entry) error {
	e, err := prepare(e)
	if err != nil {
		return err
	}

	var sessionID any
	if e.SessionID != "" {
		sessionID = e.SessionID
	}

	_, err = l.pool.Exec(ctx, `
		INSERT INTO `+l.table+` (id, session_id, principal_id, event, score, action, factors, ip, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, sessionID, e.PrincipalID, string(e.Event), e.Score, e.Action, e.Factors, e.IP, e.UserAgent, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}
	return nil
}

func (l *PostgresLog) List(ctx context.Context, f Filter) ([]Entry, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id::text, COALESCE(session_id, ''), principal_id, event, score, action, factors, ip, user_agent, created_at
		  FROM `+l.table+`
		 WHERE ($1 = '' OR principal_id = $1)
		   AND ($2 = '' OR session_id = $2)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3
	`, f.PrincipalID, f.SessionID, f.limit())
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e     Entry
			event string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.PrincipalID, &event, &e.Score, &e.Action, &e.Factors, &e.IP, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: list: %w", err)
		}
		e.Event = Event(event)
		out = append(out, e)
	}
	return out, rows.Err()
}

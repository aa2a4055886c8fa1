package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS risk_log (
  id TEXT PRIMARY KEY,
  session_id TEXT NOT NULL DEFAULT '',
  principal_id TEXT NOT NULL,
  event TEXT NOT NULL,
  score INTEGER NOT NULL,
  action TEXT NOT NULL,
  factors TEXT NOT NULL DEFAULT '[]',
  ip TEXT NOT NULL DEFAULT '',
  user_agent TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_risk_log_principal_created ON risk_log (principal_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_risk_log_session ON risk_log (session_id);
`

// SQLiteLog stores entries in a local SQLite file.
type SQLiteLog struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the audit database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite: %w", err)
	}
	// SQLite allows one writer; serialize through a single connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("audit: %s: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: create schema: %w", err)
	}
	return &SQLiteLog{db: db}, nil
}

func (l *SQLiteLog) Close() error { return l.db.Close() }

func (l *SQLiteLog) Append(ctx context.Context, e Entry) error {
	e, err := prepare(e)
	if err != nil {
		return err
	}
	factors, err := json.Marshal(e.Factors)
	if err != nil {
		return err
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO risk_log (id, session_id, principal_id, event, score, action, factors, ip, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.SessionID, e.PrincipalID, string(e.Event), e.Score, e.Action, string(factors), e.IP, e.UserAgent, e.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}
	return nil
}

func (l *SQLiteLog) List(ctx context.Context, f Filter) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, session_id, principal_id, event, score, action, factors, ip, user_agent, created_at
		  FROM risk_log
		 WHERE (? = '' OR principal_id = ?)
		   AND (? = '' OR session_id = ?)
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT ?
	`, f.PrincipalID, f.PrincipalID, f.SessionID, f.SessionID, f.limit())
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			event   string
			factors string
			created int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.PrincipalID, &event, &e.Score, &e.Action, &factors, &e.IP, &e.UserAgent, &created); err != nil {
			return nil, fmt.Errorf("audit: list: %w", err)
		}
		if err := json.Unmarshal([]byte(factors), &e.Factors); err != nil {
			return nil, fmt.Errorf("audit: corrupt factors for %s: %w", e.ID, err)
		}
		e.Event = Event(event)
		e.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event names the decision an entry records.
type Event string

const (
	EventLogin            Event = "LOGIN"
	EventLoginBlock       Event = "LOGIN_BLOCK"
	EventRefreshSuccess   Event = "REFRESH_SUCCESS"
	EventRefreshBlock     Event = "REFRESH_BLOCK"
	EventRefreshChallenge Event = "REFRESH_CHALLENGE"
	EventTokenReuse       Event = "TOKEN_REUSE_DETECTED"
)

var (
	// ErrInvalidEntry is returned for entries without a principal or event.
	ErrInvalidEntry = errors.New("invalid audit entry")
)

// Entry is one immutable audit record. SessionID is empty when no session
// exists, as for a blocked login.
type Entry struct {
	ID          string
	SessionID   string
	PrincipalID string
	Event       Event
	Score       int
	Action      string
	Factors     []string
	IP          string
	UserAgent   string
	CreatedAt   time.Time
}

// Filter narrows List. Zero fields match everything; Limit <= 0 means DefaultListLimit.
type Filter struct {
	PrincipalID string
	SessionID   string
	Limit       int
}

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// Log is an append-only audit sink.
type Log interface {
	Append(ctx context.Context, e Entry) error
	// List returns matching entries, newest first.
	List(ctx context.Context, f Filter) ([]Entry, error)
}

func prepare(e Entry) (Entry, error) {
	e.PrincipalID = strings.TrimSpace(e.PrincipalID)
	if e.PrincipalID == "" || e.Event == "" {
		return Entry{}, ErrInvalidEntry
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC()
	if e.Factors == nil {
		e.Factors = []string{}
	}
	e.Factors = append([]string(nil), e.Factors...)
	return e, nil
}

func (f Filter) limit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return f.Limit
	}
}

func (f Filter) match(e Entry) bool {
	if f.PrincipalID != "" && e.PrincipalID != f.PrincipalID {
		return false
	}
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	return true
}

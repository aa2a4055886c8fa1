package session

import (
	"context"
	"strings"
	"time"
)

// Platform represents the client platform associated with a session.
type Platform string

const (
	// PlatformWeb is a browser-based session.
	PlatformWeb Platform = "web"
	// PlatformIOS is an iOS native session.
	PlatformIOS Platform = "ios"
	// PlatformAndroid is an Android native session.
	PlatformAndroid Platform = "android"
	// PlatformDesktop is a desktop (macOS/Windows/Linux) session.
	PlatformDesktop Platform = "desktop"
	// PlatformUnknown is used when the client platform is not known.
	PlatformUnknown Platform = "unknown"
)

// ParsePlatform maps free-form input to a Platform, defaulting to PlatformUnknown.
func ParsePlatform(s string) Platform {
	switch p := Platform(strings.ToLower(strings.TrimSpace(s))); p {
	case PlatformWeb, PlatformIOS, PlatformAndroid, PlatformDesktop:
		return p
	default:
		return PlatformUnknown
	}
}

// Native reports whether the platform is a native app.
func (p Platform) Native() bool {
	return p == PlatformIOS || p == PlatformAndroid || p == PlatformDesktop
}

// Record is one active session.
type Record struct {
	ID          string
	PrincipalID string
	RefreshHash string
	Fingerprint string

	Platform  Platform
	IP        string
	UserAgent string
	Country   string
	RiskScore int

	CreatedAt    time.Time
	LastActiveAt time.Time
	ExpiresAt    time.Time
}

// Expired reports whether the session is expired at now. Expiry is inclusive:
// a session whose ExpiresAt equals now is expired.
func (r Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// Rotation is a compare-and-swap of a session's refresh hash plus the context
// observed on the refresh. ExpiresAt is never changed by a rotation.
type Rotation struct {
	SessionID    string
	ExpectedHash string
	NewHash      string

	Fingerprint string
	IP          string
	UserAgent   string
	Country     string
	RiskScore   int
	Now         time.Time

	// HistoryRetention bounds how long ExpectedHash stays resolvable through
	// FindRetired. Zero keeps it until the session is deleted or expires.
	HistoryRetention time.Duration
}

// Retired is a superseded refresh hash.
type Retired struct {
	Hash        string
	SessionID   string
	PrincipalID string
	RetiredAt   time.Time
}

// Store abstracts persistence for session state.
//
// The Store is the only shared mutable resource of the auth core. Rotate is
// the single write path for refreshes and must be atomic per session: it
// succeeds for exactly one caller holding the current hash.
type Store interface {
	// Create inserts rec. An empty rec.ID is assigned a new ULID.
	Create(ctx context.Context, rec Record) (Record, error)

	// Get loads a session by id. Returns ErrSessionNotFound when absent.
	Get(ctx context.Context, id string) (Record, error)

	// FindByRefreshHash loads the session whose current hash is hash.
	FindByRefreshHash(ctx context.Context, hash string) (Record, error)

	// FindRetired resolves a superseded hash whose session still exists.
	FindRetired(ctx context.Context, hash string) (Retired, error)

	// Rotate swaps ExpectedHash for NewHash and retires ExpectedHash.
	// Returns ErrSessionNotFound if the session is gone and ErrHashMismatch if
	// its current hash differs from ExpectedHash.
	Rotate(ctx context.Context, rot Rotation) (Record, error)

	// Delete removes a session and its retired hashes. Deleting a missing
	// session is not an error; the bool reports whether anything was removed.
	Delete(ctx context.Context, id string) (bool, error)

	// DeleteByRefreshHash removes the session whose current hash is hash and
	// returns it. Returns ErrSessionNotFound when nothing matches.
	DeleteByRefreshHash(ctx context.Context, hash string) (Record, error)

	// ListByPrincipal returns the principal's sessions, newest first.
	ListByPrincipal(ctx context.Context, principalID string) ([]Record, error)

	// DeleteByPrincipal removes every session of the principal and returns their ids.
	DeleteByPrincipal(ctx context.Context, principalID string) ([]string, error)

	// DeleteExpired removes sessions with ExpiresAt <= now and returns how many.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

func prepareCreate(rec Record) (Record, error) {
	if strings.TrimSpace(rec.PrincipalID) == "" || len(rec.RefreshHash) != 64 {
		return Record{}, ErrInvalidRecord
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.LastActiveAt.IsZero() {
		rec.LastActiveAt = rec.CreatedAt
	}
	if !rec.ExpiresAt.After(rec.CreatedAt) {
		return Record{}, ErrInvalidRecord
	}
	if rec.Platform == "" {
		rec.Platform = PlatformUnknown
	}
	if rec.RiskScore < 0 {
		rec.RiskScore = 0
	}
	if rec.ID == "" {
		rec.ID = newSessionID(rec.CreatedAt)
	}
	return rec, nil
}

func checkRotation(rot Rotation) error {
	if strings.TrimSpace(rot.SessionID) == "" || len(rot.ExpectedHash) != 64 || len(rot.NewHash) != 64 {
		return ErrInvalidRecord
	}
	if rot.Now.IsZero() {
		return ErrInvalidRecord
	}
	return nil
}

func (rot Rotation) apply(rec Record) Record {
	rec.RefreshHash = rot.NewHash
	rec.Fingerprint = rot.Fingerprint
	rec.IP = rot.IP
	rec.UserAgent = rot.UserAgent
	rec.Country = rot.Country
	rec.RiskScore = max(rot.RiskScore, 0)
	rec.LastActiveAt = rot.Now
	return rec
}

// historyExpiry is when a hash retired by rot at rot.Now stops being resolvable.
func (rot Rotation) historyExpiry(sessionExpiresAt time.Time) time.Time {
	if rot.HistoryRetention <= 0 {
		return sessionExpiresAt
	}
	until := rot.Now.Add(rot.HistoryRetention)
	if until.After(sessionExpiresAt) {
		return sessionExpiresAt
	}
	return until
}

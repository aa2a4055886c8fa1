package session

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memRetired struct {
	Retired
	until time.Time
}

// MemoryStore is an in-process Store. A single mutex makes Rotate atomic.
// Retired hashes past their retention are pruned on the next rotation of
// their session, as in PostgresStore.
type MemoryStore struct {
	mu      sync.Mutex
	byID    map[string]Record
	byHash  map[string]string
	retired map[string]memRetired
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]Record),
		byHash:  make(map[string]string),
		retired: make(map[string]memRetired),
	}
}

func (s *MemoryStore) Create(ctx context.Context, rec Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	rec, err := prepareCreate(rec)
	if err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byHash[rec.RefreshHash]; ok {
		return Record{}, ErrInvalidRecord
	}
	s.byID[rec.ID] = rec
	s.byHash[rec.RefreshHash] = rec.ID
	return rec, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return Record{}, ErrSessionNotFound
	}
	return rec, nil
}

func (s *MemoryStore) FindByRefreshHash(ctx context.Context, hash string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[hash]
	if !ok {
		return Record{}, ErrSessionNotFound
	}
	return s.byID[id], nil
}

func (s *MemoryStore) FindRetired(ctx context.Context, hash string) (Retired, error) {
	if err := ctx.Err(); err != nil {
		return Retired{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.retired[hash]
	if !ok {
		return Retired{}, ErrSessionNotFound
	}
	if _, alive := s.byID[r.SessionID]; !alive {
		return Retired{}, ErrSessionNotFound
	}
	return r.Retired, nil
}

func (s *MemoryStore) Rotate(ctx context.Context, rot Rotation) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if err := checkRotation(rot); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[rot.SessionID]
	if !ok {
		return Record{}, ErrSessionNotFound
	}
	if rec.RefreshHash != rot.ExpectedHash {
		return Record{}, ErrHashMismatch
	}
	if _, taken := s.byHash[rot.NewHash]; taken {
		return Record{}, ErrInvalidRecord
	}

	next := rot.apply(rec)
	delete(s.byHash, rot.ExpectedHash)
	s.byHash[next.RefreshHash] = next.ID
	s.byID[next.ID] = next
	s.retired[rot.ExpectedHash] = memRetired{
		Retired: Retired{
			Hash:        rot.ExpectedHash,
			SessionID:   rec.ID,
			PrincipalID: rec.PrincipalID,
			RetiredAt:   rot.Now,
		},
		until: rot.historyExpiry(rec.ExpiresAt),
	}
	s.pruneRetiredLocked(rec.ID, rot.Now)

	return next, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.deleteLocked(strings.TrimSpace(id)), nil
}

func (s *MemoryStore) DeleteByRefreshHash(ctx context.Context, hash string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[hash]
	if !ok {
		return Record{}, ErrSessionNotFound
	}
	rec := s.byID[id]
	s.deleteLocked(id)
	return rec, nil
}

func (s *MemoryStore) ListByPrincipal(ctx context.Context, principalID string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	out := make([]Record, 0, 4)
	for _, rec := range s.byID {
		if rec.PrincipalID == principalID {
			out = append(out, rec)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteByPrincipal(ctx context.Context, principalID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, rec := range s.byID {
		if rec.PrincipalID == principalID {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		s.deleteLocked(id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, rec := range s.byID {
		if rec.Expired(now) {
			s.deleteLocked(id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) deleteLocked(id string) bool {
	rec, ok := s.byID[id]
	if !ok {
		return false
	}
	delete(s.byID, id)
	delete(s.byHash, rec.RefreshHash)
	for h, r := range s.retired {
		if r.SessionID == id {
			delete(s.retired, h)
		}
	}
	return true
}

func (s *MemoryStore) pruneRetiredLocked(sessionID string, now time.Time) {
	for h, r := range s.retired {
		if r.SessionID == sessionID && !r.until.After(now) {
			delete(s.retired, h)
		}
	}
}

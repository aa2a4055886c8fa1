package audit

import (
	"context"
	"sync"
)

// MemoryLog keeps entries in process memory.
type MemoryLog struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryLog() *MemoryLog { return &MemoryLog{} }

func (l *MemoryLog) Append(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e, err := prepare(e)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
	return nil
}

func (l *MemoryLog) List(ctx context.Context, f Filter) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	limit := f.limit()
	var out []Entry
	for i := len(l.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if f.match(l.entries[i]) {
			e := l.entries[i]
			e.Factors = append([]string(nil), e.Factors...)
			out = append(out, e)
		}
	}
	return out, nil
}

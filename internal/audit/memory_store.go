package audit

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore keeps entries in process memory. It backs tests and local runs
// without a database.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Insert(_ context.Context, entry Entry) error {
	entry.Details = copyDetails(entry.Details)

	m.mu.Lock()
	m.entries = append(m.entries, entry)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) ListByActor(_ context.Context, actorID int64, limit int) ([]Entry, error) {
	return m.collect(limit, func(e Entry) bool {
		return e.ActorID != nil && *e.ActorID == actorID
	}), nil
}

func (m *MemoryStore) ListByActions(_ context.Context, actions []Action, since time.Time, limit int) ([]Entry, error) {
	return m.collect(limit, func(e Entry) bool {
		return !e.CreatedAt.Before(since) && slices.Contains(actions, e.Action)
	}), nil
}

// All returns every entry in insertion order.
func (m *MemoryStore) All() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.entries)
}

func (m *MemoryStore) collect(limit int, match func(Entry) bool) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entry, 0, limit)
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if match(m.entries[i]) {
			out = append(out, m.entries[i])
		}
	}
	return out
}

func copyDetails(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		out[k] = v
	}
	return out
}

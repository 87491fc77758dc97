package repository

import (
	"context"
	"sync"

	"collab-sync/backend/internal/audit/domain"
)

// MemoryRepository keeps entries per session in insertion order. Used by tests and
// STORE_DRIVER=memory runs.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries map[string][]domain.Entry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{entries: make(map[string][]domain.Entry)}
}

func (r *MemoryRepository) Create(_ context.Context, e *domain.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.SessionID] = append(r.entries[e.SessionID], *e)
	return nil
}

func (r *MemoryRepository) ListBySession(_ context.Context, sessionID string, limit int) ([]*domain.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.entries[sessionID]
	out := make([]*domain.Entry, 0, min(limit, len(list)))
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		e := list[i]
		out = append(out, &e)
	}
	return out, nil
}

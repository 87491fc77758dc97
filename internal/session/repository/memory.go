package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"collab-sync/backend/internal/session/domain"
)

// MemoryRepository keeps sessions and participants in maps guarded by one mutex. Values are cloned
// on the way in and out so callers never share state with the store.
type MemoryRepository struct {
	mu           sync.RWMutex
	sessions     map[string]*domain.Session
	participants map[string]*domain.Participant // by participant id
	now          func() time.Time
}

// NewMemoryRepository returns an empty in-memory session repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sessions:     make(map[string]*domain.Session),
		participants: make(map[string]*domain.Participant),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepository) Create(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return errDuplicate("session", s.ID)
	}
	r.sessions[s.ID] = s.Clone()
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id].Clone(), nil
}

func (r *MemoryRepository) ListByStatus(_ context.Context, status domain.Status) ([]*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Session
	for _, s := range r.sessions {
		if s.Status == status {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepository) Update(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.sessions[s.ID]
	if !ok {
		return nil
	}
	next := s.Clone()
	next.HostID = cur.HostID
	next.RoomID = cur.RoomID
	next.CreatedAt = cur.CreatedAt
	r.sessions[s.ID] = next
	return nil
}

func (r *MemoryRepository) UpdateCode(_ context.Context, id, code string, version int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.IsEnded() {
		return false, nil
	}
	s.Code = code
	if version > s.Version {
		s.Version = version
	}
	s.UpdatedAt = r.now()
	return true, nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	for pid, p := range r.participants {
		if p.SessionID == id {
			delete(r.participants, pid)
		}
	}
	return nil
}

func (r *MemoryRepository) GetParticipant(_ context.Context, sessionID, userID string) (*domain.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findParticipant(sessionID, userID).Clone(), nil
}

func (r *MemoryRepository) CreateParticipant(_ context.Context, p *domain.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findParticipant(p.SessionID, p.UserID) != nil {
		return errDuplicate("participant", p.SessionID+"/"+p.UserID)
	}
	r.participants[p.ID] = p.Clone()
	return nil
}

func (r *MemoryRepository) UpdateParticipant(_ context.Context, p *domain.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.participants[p.ID]; !ok {
		return nil
	}
	r.participants[p.ID] = p.Clone()
	return nil
}

func (r *MemoryRepository) ListActiveParticipants(_ context.Context, sessionID string) ([]*domain.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*domain.Participant{}
	for _, p := range r.participants {
		if p.SessionID == sessionID && p.IsActive {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepository) DeleteParticipants(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for pid, p := range r.participants {
		if p.SessionID == sessionID {
			delete(r.participants, pid)
		}
	}
	return nil
}

func (r *MemoryRepository) FindActiveParticipantByConnection(_ context.Context, connectionID string) (*domain.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.participants {
		if p.IsActive && p.ConnectionID != nil && *p.ConnectionID == connectionID {
			return p.Clone(), nil
		}
	}
	return nil, nil
}

// findParticipant must be called with r.mu held.
func (r *MemoryRepository) findParticipant(sessionID, userID string) *domain.Participant {
	for _, p := range r.participants {
		if p.SessionID == sessionID && p.UserID == userID {
			return p
		}
	}
	return nil
}

package repository

import (
	"context"

	"collab-sync/backend/internal/session/domain"
)

// Repository defines persistence for sessions and their participants.
// Lookups return (nil, nil) when the row does not exist.
type Repository interface {
	Create(ctx context.Context, s *domain.Session) error
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	// ListByStatus returns sessions with the given status, newest first.
	ListByStatus(ctx context.Context, status domain.Status) ([]*domain.Session, error)
	// Update writes every mutable session column (name, description, language, code, version, status).
	Update(ctx context.Context, s *domain.Session) error
	// UpdateCode writes only the buffer and version. It does not touch an ended session and reports
	// false in that case or when the session is gone.
	UpdateCode(ctx context.Context, id, code string, version int64) (bool, error)
	Delete(ctx context.Context, id string) error

	GetParticipant(ctx context.Context, sessionID, userID string) (*domain.Participant, error)
	CreateParticipant(ctx context.Context, p *domain.Participant) error
	UpdateParticipant(ctx context.Context, p *domain.Participant) error
	ListActiveParticipants(ctx context.Context, sessionID string) ([]*domain.Participant, error)
	DeleteParticipants(ctx context.Context, sessionID string) error
	FindActiveParticipantByConnection(ctx context.Context, connectionID string) (*domain.Participant, error)
}

package repository

import (
	"context"

	"collab-sync/backend/internal/audit/domain"
)

// Repository defines persistence for session audit entries.
type Repository interface {
	Create(ctx context.Context, e *domain.Entry) error
	// ListBySession returns up to limit entries for sessionID, newest first.
	ListBySession(ctx context.Context, sessionID string, limit int) ([]*domain.Entry, error)
}

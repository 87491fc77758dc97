package repository

import (
	"context"

	"collab-sync/backend/internal/user/domain"
)

// Repository defines read access to the user directory plus the upsert used by the seeder.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	// Upsert inserts the user or refreshes email and names of an existing row with the same id.
	Upsert(ctx context.Context, u *domain.User) error
}

package repository

import (
	"context"
	"database/sql"

	"collab-sync/backend/internal/audit/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the entry. The entry must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, e *domain.Entry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO session_audit_log (id, session_id, user_id, action, source, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.SessionID, sql.NullString{String: e.UserID, Valid: e.UserID != ""}, e.Action, e.Source,
		sql.NullString{String: e.Metadata, Valid: e.Metadata != ""}, e.CreatedAt)
	return err
}

func (r *PostgresRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]*domain.Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, user_id, action, source, metadata, created_at
		FROM session_audit_log WHERE session_id = $1
		ORDER BY created_at DESC, id DESC LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Entry
	for rows.Next() {
		var (
			e            domain.Entry
			userID, meta sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &userID, &e.Action, &e.Source, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.UserID = userID.String
		e.Metadata = meta.String
		out = append(out, &e)
	}
	return out, rows.Err()
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"collab-sync/backend/internal/ot"
	"collab-sync/backend/internal/session/domain"
)

const (
	sessionColumns     = `id, name, description, language, code, version, status, host_id, room_id, created_at, updated_at`
	participantColumns = `id, session_id, user_id, is_active, connection_id, cursor_line, cursor_column, selection, created_at, updated_at`
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the session. The session must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO collab_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.ID, s.Name, stringToNull(s.Description), s.Language, s.Code, s.Version, string(s.Status),
		s.HostID, s.RoomID, s.CreatedAt, s.UpdatedAt)
	return err
}

// GetByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM collab_sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// ListByStatus returns sessions with the given status, newest first.
func (r *PostgresRepository) ListByStatus(ctx context.Context, status domain.Status) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM collab_sessions WHERE status = $1 ORDER BY created_at DESC`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Update writes the mutable columns of s.
func (r *PostgresRepository) Update(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE collab_sessions
		SET name = $2, description = $3, language = $4, code = $5, version = $6, status = $7, updated_at = $8
		WHERE id = $1`,
		s.ID, s.Name, stringToNull(s.Description), s.Language, s.Code, s.Version, string(s.Status), s.UpdatedAt)
	return err
}

// UpdateCode replaces the buffer of a session that has not ended. The version column only moves forward.
func (r *PostgresRepository) UpdateCode(ctx context.Context, id, code string, version int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE collab_sessions
		SET code = $2, version = GREATEST(version, $3), updated_at = $4
		WHERE id = $1 AND status <> 'ended'`,
		id, code, version, time.Now().UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delete removes the session. Participant rows go with it through the foreign key cascade.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM collab_sessions WHERE id = $1`, id)
	return err
}

// GetParticipant returns the participant row for the pair, or nil if not found.
func (r *PostgresRepository) GetParticipant(ctx context.Context, sessionID, userID string) (*domain.Participant, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM session_participants WHERE session_id = $1 AND user_id = $2`,
		sessionID, userID)
	return scanParticipantRow(row)
}

// CreateParticipant inserts p. A concurrent insert for the same (session, user) pair loses to the
// unique constraint; the caller re-reads and updates instead.
func (r *PostgresRepository) CreateParticipant(ctx context.Context, p *domain.Participant) error {
	sel, err := selectionToJSON(p.Selection)
	if err != nil {
		return err
	}
	line, col := cursorToNull(p.Cursor)
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO session_participants (`+participantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.SessionID, p.UserID, p.IsActive, stringToNull(p.ConnectionID), line, col, sel, p.CreatedAt, p.UpdatedAt)
	return err
}

// UpdateParticipant writes activity, connection and presence columns of p.
func (r *PostgresRepository) UpdateParticipant(ctx context.Context, p *domain.Participant) error {
	sel, err := selectionToJSON(p.Selection)
	if err != nil {
		return err
	}
	line, col := cursorToNull(p.Cursor)
	_, err = r.db.ExecContext(ctx, `
		UPDATE session_participants
		SET is_active = $2, connection_id = $3, cursor_line = $4, cursor_column = $5, selection = $6, updated_at = $7
		WHERE id = $1`,
		p.ID, p.IsActive, stringToNull(p.ConnectionID), line, col, sel, p.UpdatedAt)
	return err
}

// ListActiveParticipants returns active participants in join order. A missing session yields an empty list.
func (r *PostgresRepository) ListActiveParticipants(ctx context.Context, sessionID string) ([]*domain.Participant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+participantColumns+` FROM session_participants
		WHERE session_id = $1 AND is_active
		ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*domain.Participant{}
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteParticipants removes every participant row of the session.
func (r *PostgresRepository) DeleteParticipants(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM session_participants WHERE session_id = $1`, sessionID)
	return err
}

// FindActiveParticipantByConnection returns the active participant bound to connectionID, or nil.
func (r *PostgresRepository) FindActiveParticipantByConnection(ctx context.Context, connectionID string) (*domain.Participant, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM session_participants WHERE connection_id = $1 AND is_active LIMIT 1`,
		connectionID)
	return scanParticipantRow(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (*domain.Session, error) {
	var (
		s      domain.Session
		desc   sql.NullString
		status string
	)
	if err := sc.Scan(&s.ID, &s.Name, &desc, &s.Language, &s.Code, &s.Version, &status,
		&s.HostID, &s.RoomID, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Description = nullToString(desc)
	s.Status = domain.Status(status)
	return &s, nil
}

func scanParticipantRow(row *sql.Row) (*domain.Participant, error) {
	p, err := scanParticipant(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

func scanParticipant(sc scanner) (*domain.Participant, error) {
	var (
		p         domain.Participant
		conn      sql.NullString
		line, col sql.NullInt64
		sel       []byte
	)
	if err := sc.Scan(&p.ID, &p.SessionID, &p.UserID, &p.IsActive, &conn, &line, &col, &sel,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.ConnectionID = nullToString(conn)
	if line.Valid && col.Valid {
		p.Cursor = &ot.Position{Line: int(line.Int64), Column: int(col.Int64)}
	}
	if len(sel) > 0 {
		var r ot.Range
		if err := json.Unmarshal(sel, &r); err != nil {
			return nil, fmt.Errorf("decode selection of participant %s: %w", p.ID, err)
		}
		p.Selection = &r
	}
	return &p, nil
}

func stringToNull(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullToString(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	return &n.String
}

func cursorToNull(p *ot.Position) (sql.NullInt64, sql.NullInt64) {
	if p == nil {
		return sql.NullInt64{}, sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(p.Line), Valid: true}, sql.NullInt64{Int64: int64(p.Column), Valid: true}
}

func selectionToJSON(r *ot.Range) (any, error) {
	if r == nil {
		return nil, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

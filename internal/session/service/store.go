// Package service implements the session store operations on top of the session repository,
// the access policy and the presence tracker.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"collab-sync/backend/internal/ot"
	"collab-sync/backend/internal/platform/apperr"
	"collab-sync/backend/internal/policy/engine"
	"collab-sync/backend/internal/presence"
	"collab-sync/backend/internal/session/domain"
	"collab-sync/backend/internal/session/repository"
	userrepo "collab-sync/backend/internal/user/repository"
)

// Store is the session store. Every mutation writes through to the repository; nothing is cached.
type Store struct {
	repo     repository.Repository
	users    userrepo.Repository
	policy   engine.Evaluator
	presence *presence.Tracker
	now      func() time.Time
	newID    func() string
}

// Option configures a Store.
type Option func(*Store)

// WithUsers attaches public profiles from the user directory to listed participants.
func WithUsers(users userrepo.Repository) Option { return func(s *Store) { s.users = users } }

// WithPolicy routes host-only and edit checks through the given evaluator.
func WithPolicy(p engine.Evaluator) Option { return func(s *Store) { s.policy = p } }

// WithPresence overlays live cursors on listed participants and clears them on leave.
func WithPresence(t *presence.Tracker) Option { return func(s *Store) { s.presence = t } }

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// NewStore returns a Store backed by repo.
func NewStore(repo repository.Repository, opts ...Option) *Store {
	s := &Store{
		repo:  repo,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession creates an active session at version 0 hosted by hostUserID, and the host's
// participant row (active, no connection yet).
func (s *Store) CreateSession(ctx context.Context, meta domain.Meta, hostUserID string) (*domain.Session, error) {
	if hostUserID == "" {
		return nil, apperr.Unauthenticated("host identity required")
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	sess := &domain.Session{
		ID:          s.newID(),
		Name:        meta.Name,
		Description: meta.Description,
		Language:    meta.Language,
		Code:        meta.Code,
		Status:      domain.StatusActive,
		HostID:      hostUserID,
		RoomID:      s.newID(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	host := &domain.Participant{
		ID:        s.newID(),
		SessionID: sess.ID,
		UserID:    hostUserID,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateParticipant(ctx, host); err != nil {
		return nil, fmt.Errorf("create host participant: %w", err)
	}
	return sess, nil
}

// ListActiveSessions returns sessions with status active, newest first.
func (s *Store) ListActiveSessions(ctx context.Context) ([]*domain.Session, error) {
	list, err := s.repo.ListByStatus(ctx, domain.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if list == nil {
		list = []*domain.Session{}
	}
	return list, nil
}

// GetSession returns the session or a NotFound error.
func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	if id == "" {
		return nil, apperr.Validation("sessionId is required")
	}
	sess, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if sess == nil {
		return nil, apperr.NotFound("session not found")
	}
	return sess, nil
}

// UpdateSessionMetadata applies patch on behalf of requesterID, who must be allowed to update the
// session. A code change bumps the version and is refused once the session has ended.
func (s *Store) UpdateSessionMetadata(ctx context.Context, id string, patch domain.Patch, requesterID string) (*domain.Session, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, engine.ActionUpdate, requesterID, sess); err != nil {
		return nil, err
	}
	if sess.IsEnded() {
		if patch.Code != nil {
			return nil, apperr.Forbidden("session has ended")
		}
		if patch.Status != nil && *patch.Status != domain.StatusEnded {
			return nil, apperr.Validation("an ended session cannot be reopened")
		}
	}
	if patch.Empty() {
		return sess, nil
	}
	patch.ApplyTo(sess)
	sess.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, sess); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	if sess.IsEnded() {
		s.clearPresence(sess.ID)
	}
	return sess, nil
}

// EndSession marks the session ended. Ending an ended session is a no-op.
func (s *Store) EndSession(ctx context.Context, id, requesterID string) (*domain.Session, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, engine.ActionEnd, requesterID, sess); err != nil {
		return nil, err
	}
	if sess.IsEnded() {
		return sess, nil
	}
	sess.Status = domain.StatusEnded
	sess.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, sess); err != nil {
		return nil, fmt.Errorf("end session: %w", err)
	}
	s.clearPresence(sess.ID)
	return sess, nil
}

// DeleteSession removes the session's participants and then the session itself.
func (s *Store) DeleteSession(ctx context.Context, id, requesterID string) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, engine.ActionDelete, requesterID, sess); err != nil {
		return err
	}
	if err := s.repo.DeleteParticipants(ctx, id); err != nil {
		return fmt.Errorf("delete participants: %w", err)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	s.clearPresence(id)
	return nil
}

// AddParticipant activates userID in the session with the given connection. The existing row for
// the pair is reused when there is one, so repeated joins never create duplicates.
func (s *Store) AddParticipant(ctx context.Context, sessionID, userID string, connectionID *string) (*domain.Participant, error) {
	if userID == "" {
		return nil, apperr.Unauthenticated("user identity required")
	}
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	now := s.now()
	p, err := s.repo.GetParticipant(ctx, sessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("get participant: %w", err)
	}
	if p == nil {
		p = &domain.Participant{
			ID:        s.newID(),
			SessionID: sessionID,
			UserID:    userID,
			CreatedAt: now,
		}
		p.Activate(connectionID, now)
		createErr := s.repo.CreateParticipant(ctx, p)
		if createErr == nil {
			return p, nil
		}
		// Lost a race with a concurrent join for the same pair; fall through to reactivate that row.
		p, err = s.repo.GetParticipant(ctx, sessionID, userID)
		if err != nil || p == nil {
			return nil, fmt.Errorf("create participant: %w", createErr)
		}
	}
	p.Activate(connectionID, now)
	if err := s.repo.UpdateParticipant(ctx, p); err != nil {
		return nil, fmt.Errorf("activate participant: %w", err)
	}
	return p, nil
}

// RemoveParticipant deactivates userID's row, clears its connection and presence. Removing a user
// who never joined is a no-op.
func (s *Store) RemoveParticipant(ctx context.Context, sessionID, userID string) error {
	s.removePresence(sessionID, userID)
	p, err := s.repo.GetParticipant(ctx, sessionID, userID)
	if err != nil {
		return fmt.Errorf("get participant: %w", err)
	}
	if p == nil || !p.IsActive {
		return nil
	}
	p.Deactivate(s.now())
	if err := s.repo.UpdateParticipant(ctx, p); err != nil {
		return fmt.Errorf("deactivate participant: %w", err)
	}
	return nil
}

// ReleaseConnection deactivates whichever participant is still bound to connectionID and returns it,
// or nil when none is.
func (s *Store) ReleaseConnection(ctx context.Context, connectionID string) (*domain.Participant, error) {
	p, err := s.repo.FindActiveParticipantByConnection(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("find participant by connection: %w", err)
	}
	if p == nil {
		return nil, nil
	}
	s.removePresence(p.SessionID, p.UserID)
	p.Deactivate(s.now())
	if err := s.repo.UpdateParticipant(ctx, p); err != nil {
		return nil, fmt.Errorf("deactivate participant: %w", err)
	}
	return p, nil
}

// SetCursor persists the last known cursor and selection of userID.
func (s *Store) SetCursor(ctx context.Context, sessionID, userID string, position ot.Position, selection *ot.Range) error {
	p, err := s.repo.GetParticipant(ctx, sessionID, userID)
	if err != nil {
		return fmt.Errorf("get participant: %w", err)
	}
	if p == nil {
		return apperr.NotFound("participant not found")
	}
	pos := position
	p.Cursor = &pos
	p.Selection = selection
	p.UpdatedAt = s.now()
	if err := s.repo.UpdateParticipant(ctx, p); err != nil {
		return fmt.Errorf("update cursor: %w", err)
	}
	return nil
}

// ReplaceCode stores code as the session's buffer. The stored version is one above the current
// version, or newVersion when that is higher, so it strictly increases with every write.
func (s *Store) ReplaceCode(ctx context.Context, sessionID, code string, newVersion *int64) (*domain.Session, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, engine.ActionEdit, "", sess); err != nil {
		return nil, err
	}
	var submitted int64
	if newVersion != nil {
		submitted = *newVersion
	}
	return s.writeCode(ctx, sess, code, submitted)
}

// ApplyOperations applies ops to the session's current buffer and persists the result. Any op that
// does not fit the buffer rejects the whole batch with a ValidationError and nothing is written.
func (s *Store) ApplyOperations(ctx context.Context, sessionID string, ops []ot.Operation, submittedVersion int64) (*domain.Session, error) {
	if err := ot.CheckAll(ops); err != nil {
		return nil, err
	}
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, engine.ActionEdit, "", sess); err != nil {
		return nil, err
	}
	code, err := ot.Apply(sess.Code, ops)
	if err != nil {
		return nil, err
	}
	return s.writeCode(ctx, sess, code, submittedVersion)
}

// ListActiveParticipants returns the active participants with live presence and public profiles
// filled in. A deleted session has none.
func (s *Store) ListActiveParticipants(ctx context.Context, sessionID string) ([]*domain.Participant, error) {
	list, err := s.repo.ListActiveParticipants(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	if list == nil {
		list = []*domain.Participant{}
	}
	for _, p := range list {
		if s.presence != nil {
			if e, ok := s.presence.Get(sessionID, p.UserID); ok {
				cur := e.Cursor
				p.Cursor = &cur
				p.Selection = e.Selection
			}
		}
		p.User = s.profile(ctx, p.UserID)
	}
	return list, nil
}

// Profile returns the public profile of userID from the directory, or a bare one when the user is
// unknown or the lookup fails.
func (s *Store) Profile(ctx context.Context, userID string) domain.PublicProfile {
	return *s.profile(ctx, userID)
}

func (s *Store) profile(ctx context.Context, userID string) *domain.PublicProfile {
	if s.users != nil {
		if u, err := s.users.GetByID(ctx, userID); err == nil && u != nil {
			p := u.Profile()
			return &p
		}
	}
	return &domain.PublicProfile{ID: userID}
}

func (s *Store) writeCode(ctx context.Context, sess *domain.Session, code string, submitted int64) (*domain.Session, error) {
	next := sess.Version + 1
	if submitted > next {
		next = submitted
	}
	ok, err := s.repo.UpdateCode(ctx, sess.ID, code, next)
	if err != nil {
		return nil, fmt.Errorf("update code: %w", err)
	}
	if !ok {
		// Ended or deleted between the read and the write.
		if _, err := s.GetSession(ctx, sess.ID); err != nil {
			return nil, err
		}
		return nil, apperr.Forbidden("session has ended")
	}
	sess.Code = code
	sess.Version = next
	sess.UpdatedAt = s.now()
	return sess, nil
}

func (s *Store) authorize(ctx context.Context, action engine.Action, userID string, sess *domain.Session) error {
	if s.policy == nil {
		return fallbackAuthorize(action, userID, sess)
	}
	d, err := s.policy.Authorize(ctx, action, userID, sess)
	if err != nil {
		return fmt.Errorf("authorize %s: %w", action, err)
	}
	if !d.Allowed {
		return apperr.Forbidden(d.Reason)
	}
	return nil
}

func fallbackAuthorize(action engine.Action, userID string, sess *domain.Session) error {
	switch action {
	case engine.ActionEdit:
		if sess.IsEnded() {
			return apperr.Forbidden("session has ended")
		}
		return nil
	default:
		if !sess.IsHost(userID) {
			return apperr.Forbidden("only the session host can do this")
		}
		return nil
	}
}

func (s *Store) removePresence(sessionID, userID string) {
	if s.presence != nil {
		s.presence.Remove(sessionID, userID)
	}
}

func (s *Store) clearPresence(sessionID string) {
	if s.presence != nil {
		s.presence.Clear(sessionID)
	}
}

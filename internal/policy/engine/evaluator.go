package engine

import (
	"context"

	"collab-sync/backend/internal/session/domain"
)

// Action is a session operation subject to access control.
type Action string

const (
	ActionUpdate Action = "update"
	ActionEnd    Action = "end"
	ActionDelete Action = "delete"
	ActionEdit   Action = "edit"
)

// Decision is the outcome of a session access check. Reason is set when access is denied.
type Decision struct {
	Allowed bool
	Reason  string
}

// Evaluator decides whether a user may perform an action on a session.
type Evaluator interface {
	Authorize(ctx context.Context, action Action, userID string, s *domain.Session) (Decision, error)
}

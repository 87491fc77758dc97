// Package audit keeps a durable trail of session lifecycle events: creation, joins and leaves,
// document replacements, ending and deletion. Individual edits are not recorded.
package audit

import (
	"context"

	"github.com/google/uuid"

	"collab-sync/backend/internal/audit/domain"
	auditrepo "collab-sync/backend/internal/audit/repository"
	"collab-sync/backend/internal/telemetry"
)

// recorded lists the event types written to the trail.
var recorded = map[telemetry.EventType]bool{
	telemetry.EventSessionCreated:   true,
	telemetry.EventSessionJoined:    true,
	telemetry.EventSessionLeft:      true,
	telemetry.EventDocumentReplaced: true,
	telemetry.EventSessionEnded:     true,
	telemetry.EventSessionDeleted:   true,
}

// Logger is a telemetry.EventEmitter that persists lifecycle events to the audit repository.
type Logger struct {
	repo auditrepo.Repository
}

// NewLogger returns a Logger writing to repo.
func NewLogger(repo auditrepo.Repository) *Logger {
	return &Logger{repo: repo}
}

// Emit records event if it is a lifecycle event. Other events and events without a session are ignored.
func (l *Logger) Emit(ctx context.Context, event *telemetry.Event) error {
	if l == nil || l.repo == nil || event == nil || event.SessionID == "" || !recorded[event.Type] {
		return nil
	}
	return l.repo.Create(ctx, &domain.Entry{
		ID:        uuid.NewString(),
		SessionID: event.SessionID,
		UserID:    event.UserID,
		Action:    string(event.Type),
		Source:    event.Source,
		Metadata:  string(event.Metadata),
		CreatedAt: event.CreatedAt,
	})
}

package telemetry

import (
	"encoding/json"
	"time"
)

// EventType names a session activity event.
type EventType string

const (
	EventSessionCreated   EventType = "session_created"
	EventSessionJoined    EventType = "session_joined"
	EventSessionLeft      EventType = "session_left"
	EventDocumentEdited   EventType = "document_edited"
	EventDocumentReplaced EventType = "document_replaced"
	EventSessionEnded     EventType = "session_ended"
	EventSessionDeleted   EventType = "session_deleted"
)

// SourceGateway and SourceHTTP identify which surface produced an event.
const (
	SourceGateway = "gateway"
	SourceHTTP    = "http"
)

// Event is one session activity record. It is serialized as JSON for Kafka and Loki.
type Event struct {
	Type         EventType       `json:"eventType"`
	SessionID    string          `json:"sessionId,omitempty"`
	UserID       string          `json:"userId,omitempty"`
	ConnectionID string          `json:"connectionId,omitempty"`
	Source       string          `json:"source,omitempty"`
	Version      int64           `json:"version,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// NewEvent returns an event stamped with the current UTC time.
func NewEvent(t EventType, source, sessionID, userID string) *Event {
	return &Event{
		Type:      t,
		Source:    source,
		SessionID: sessionID,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
}

// WithMetadata sets Metadata to the JSON encoding of v. Values that fail to encode are dropped.
func (e *Event) WithMetadata(v any) *Event {
	if b, err := json.Marshal(v); err == nil {
		e.Metadata = b
	}
	return e
}

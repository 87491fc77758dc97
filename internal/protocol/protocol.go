// Package protocol defines the JSON messages exchanged over the sync WebSocket.
//
// Clients send requests {"id", "type", "data"}. The server answers each with an ack carrying the same id,
// and pushes events {"type", "data"} that carry no id.
package protocol

import (
	"encoding/json"
	"time"

	"collab-sync/backend/internal/ot"
	"collab-sync/backend/internal/session/domain"
)

// Request types.
const (
	TypeJoinSession      = "joinSession"
	TypeLeaveSession     = "leaveSession"
	TypeUpdateCursor     = "updateCursor"
	TypeSubmitEdit       = "submitEdit"
	TypeReplaceDocument  = "replaceDocument"
	TypeHeartbeat        = "heartbeat"
	TypeQuerySession     = "querySession"
	TypeQueryServerStats = "queryServerStats"
)

// Server message types.
const (
	TypeAck                    = "ack"
	TypeConnectionAcknowledged = "connectionAcknowledged"
	TypeSessionJoined          = "sessionJoined"
	TypeParticipantJoined      = "participantJoined"
	TypeParticipantLeft        = "participantLeft"
	TypeCursorUpdated          = "cursorUpdated"
	TypeDocumentEdited         = "documentEdited"
	TypeDocumentReplaced       = "documentReplaced"
	TypeSessionEnded           = "sessionEnded"
)

// Request is a client-initiated message. ID is echoed verbatim in the ack.
type Request struct {
	ID   json.RawMessage `json:"id,omitempty"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Message is anything the server sends: acks (with ID) and pushed events (without).
type Message struct {
	Type string          `json:"type"`
	ID   json.RawMessage `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode marshals a message whose data is v.
func Encode(typ string, id json.RawMessage, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: typ, ID: id, Data: data})
}

// Error is the error half of a failed ack. Code is an apperr kind.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Ack is the acknowledgment payload. Only the fields relevant to the request are set.
type Ack struct {
	Success           bool                  `json:"success"`
	Error             *Error                `json:"error,omitempty"`
	ParticipantsCount int                   `json:"participantsCount,omitempty"`
	Version           int64                 `json:"version,omitempty"`
	ServerTimestamp   int64                 `json:"serverTimestamp,omitempty"`
	Latency           int64                 `json:"latency,omitempty"`
	Session           *domain.Session       `json:"session,omitempty"`
	Participants      []*domain.Participant `json:"participants,omitempty"`
	ConnectionCount   int                   `json:"connectionCount,omitempty"`
	RoomCount         int                   `json:"roomCount,omitempty"`
}

// Request payloads.

type SessionRef struct {
	SessionID string `json:"sessionId"`
}

type UpdateCursor struct {
	SessionID string      `json:"sessionId"`
	Position  ot.Position `json:"position"`
	Selection *ot.Range   `json:"selection,omitempty"`
}

type SubmitEdit struct {
	SessionID  string         `json:"sessionId"`
	Operations []ot.Operation `json:"operations"`
	Version    int64          `json:"version"`
}

// ReplaceDocument carries the whole buffer. FullText is a pointer so an empty document is distinguishable
// from a missing field. Version is optional.
type ReplaceDocument struct {
	SessionID string  `json:"sessionId"`
	FullText  *string `json:"fullText"`
	Version   *int64  `json:"version,omitempty"`
}

type Heartbeat struct {
	ClientTimestamp int64 `json:"clientTimestamp"`
}

// Event payloads. Timestamps are Unix milliseconds.

type ConnectionAcknowledged struct {
	ConnectionID string `json:"connectionId"`
	Timestamp    int64  `json:"timestamp"`
}

type SessionJoined struct {
	Session      *domain.Session       `json:"session"`
	Participants []*domain.Participant `json:"participants"`
}

type ParticipantJoined struct {
	User         domain.PublicProfile  `json:"user"`
	Participants []*domain.Participant `json:"participants"`
}

type ParticipantLeft struct {
	UserID    string `json:"userId"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type CursorUpdated struct {
	UserID    string      `json:"userId"`
	Name      string      `json:"name"`
	FirstName string      `json:"firstName"`
	LastName  string      `json:"lastName"`
	Position  ot.Position `json:"position"`
	Selection *ot.Range   `json:"selection,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type DocumentEdited struct {
	UserID     string         `json:"userId"`
	Name       string         `json:"name"`
	Operations []ot.Operation `json:"operations"`
	Version    int64          `json:"version"`
	Timestamp  int64          `json:"timestamp"`
}

type DocumentReplaced struct {
	UserID    string `json:"userId"`
	Name      string `json:"name"`
	FullText  string `json:"fullText"`
	Version   int64  `json:"version"`
	Timestamp int64  `json:"timestamp"`
}

type SessionEnded struct {
	SessionID string `json:"sessionId"`
	EndedBy   string `json:"endedBy,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Millis converts t to the Unix-millisecond timestamps used on the wire.
func Millis(t time.Time) int64 { return t.UnixMilli() }

package domain

import "time"

// Entry is one recorded session lifecycle event. Entries outlive the session they describe.
type Entry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId,omitempty"`
	Action    string    `json:"action"`
	Source    string    `json:"source"`
	Metadata  string    `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

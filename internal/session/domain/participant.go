package domain

import (
	"time"

	"collab-sync/backend/internal/ot"
)

// Participant is the single membership record of a user in a session. Leaving flips IsActive
// instead of deleting the row, and re-joining reactivates it.
type Participant struct {
	ID           string         `json:"id"`
	SessionID    string         `json:"sessionId"`
	UserID       string         `json:"userId"`
	IsActive     bool           `json:"isActive"`
	ConnectionID *string        `json:"connectionId,omitempty"`
	Cursor       *ot.Position   `json:"cursorPosition,omitempty"`
	Selection    *ot.Range      `json:"selection,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	User         *PublicProfile `json:"user,omitempty"`
}

// PublicProfile is the part of a user that other participants may see.
type PublicProfile struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// DisplayName joins first and last name, falling back to the id.
func (p PublicProfile) DisplayName() string {
	switch {
	case p.FirstName != "" && p.LastName != "":
		return p.FirstName + " " + p.LastName
	case p.FirstName != "":
		return p.FirstName
	case p.LastName != "":
		return p.LastName
	}
	return p.ID
}

// Activate marks the participant connected on connectionID (nil keeps it active without a connection).
func (p *Participant) Activate(connectionID *string, at time.Time) {
	p.IsActive = true
	p.ConnectionID = cloneString(connectionID)
	p.UpdatedAt = at
}

// Deactivate marks the participant as gone and clears its connection and presence.
func (p *Participant) Deactivate(at time.Time) {
	p.IsActive = false
	p.ConnectionID = nil
	p.Cursor = nil
	p.Selection = nil
	p.UpdatedAt = at
}

// Clone returns a deep copy of p.
func (p *Participant) Clone() *Participant {
	if p == nil {
		return nil
	}
	c := *p
	c.ConnectionID = cloneString(p.ConnectionID)
	if p.Cursor != nil {
		cur := *p.Cursor
		c.Cursor = &cur
	}
	if p.Selection != nil {
		sel := *p.Selection
		c.Selection = &sel
	}
	if p.User != nil {
		u := *p.User
		c.User = &u
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

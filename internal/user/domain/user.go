package domain

import (
	"errors"
	"strings"
	"time"

	sessiondomain "collab-sync/backend/internal/session/domain"
)

// User mirrors an account owned by the external auth service. The sync core only reads it to show
// names next to cursors and edits.
type User struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.ID == "" {
		return errors.New("id is required")
	}
	if strings.TrimSpace(u.Email) == "" {
		return errors.New("email is required")
	}
	return nil
}

// Profile returns the public part of the user.
func (u *User) Profile() sessiondomain.PublicProfile {
	return sessiondomain.PublicProfile{ID: u.ID, FirstName: u.FirstName, LastName: u.LastName}
}

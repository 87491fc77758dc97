package domain

import (
	"strings"
	"time"

	"collab-sync/backend/internal/platform/apperr"
)

// Status is the lifecycle state of a collaborative session.
type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
	StatusEnded  Status = "ended"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusEnded:
		return true
	}
	return false
}

// Session is a named collaborative editing context with one shared code buffer.
// HostID never changes after creation and Version never decreases.
type Session struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	Language    string    `json:"language"`
	Code        string    `json:"code"`
	Version     int64     `json:"version"`
	Status      Status    `json:"status"`
	HostID      string    `json:"hostId"`
	RoomID      string    `json:"roomId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// IsEnded reports whether the session no longer accepts edits.
func (s *Session) IsEnded() bool { return s.Status == StatusEnded }

// IsHost reports whether userID created the session.
func (s *Session) IsHost(userID string) bool { return userID != "" && s.HostID == userID }

// Clone returns a copy that shares no pointers with s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Description != nil {
		d := *s.Description
		c.Description = &d
	}
	return &c
}

// Meta is the caller-supplied part of a new session.
type Meta struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	Language    string  `json:"language"`
	Code        string  `json:"code"`
}

// Validate requires a name and a language tag.
func (m Meta) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return apperr.Validation("name is required")
	}
	if strings.TrimSpace(m.Language) == "" {
		return apperr.Validation("language is required")
	}
	return nil
}

// Patch is a partial metadata update. Nil fields are left unchanged. Setting Code replaces the
// buffer and bumps the version.
type Patch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Language    *string `json:"language,omitempty"`
	Code        *string `json:"code,omitempty"`
	Status      *Status `json:"status,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.Language == nil && p.Code == nil && p.Status == nil
}

// Validate rejects blank names and languages and unknown statuses.
func (p Patch) Validate() error {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return apperr.Validation("name must not be empty")
	}
	if p.Language != nil && strings.TrimSpace(*p.Language) == "" {
		return apperr.Validation("language must not be empty")
	}
	if p.Status != nil && !p.Status.Valid() {
		return apperr.Newf(apperr.KindValidation, "unknown status %q", *p.Status)
	}
	return nil
}

// ApplyTo writes the patch onto s and reports whether the code buffer changed.
// The version is bumped by one when it did.
func (p Patch) ApplyTo(s *Session) bool {
	if p.Name != nil {
		s.Name = strings.TrimSpace(*p.Name)
	}
	if p.Description != nil {
		d := *p.Description
		s.Description = &d
	}
	if p.Language != nil {
		s.Language = strings.TrimSpace(*p.Language)
	}
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.Code != nil && *p.Code != s.Code {
		s.Code = *p.Code
		s.Version++
		return true
	}
	return false
}

package domain

import (
	"errors"
	"testing"

	"collab-sync/backend/internal/platform/apperr"
)

func strPtr(s string) *string { return &s }

func TestMeta_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		meta    Meta
		wantErr bool
	}{
		{"valid", Meta{Name: "pairing", Language: "go"}, false},
		{"missing name", Meta{Language: "go"}, true},
		{"blank name", Meta{Name: "  ", Language: "go"}, true},
		{"missing language", Meta{Name: "pairing"}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.meta.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil && !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("Validate() kind = %q, want ValidationError", apperr.KindOf(err))
			}
		})
	}
}

func TestPatch_Validate(t *testing.T) {
	bad := Status("archived")
	testCases := []struct {
		name    string
		patch   Patch
		wantErr bool
	}{
		{"empty", Patch{}, false},
		{"rename", Patch{Name: strPtr("new")}, false},
		{"blank name", Patch{Name: strPtr(" ")}, true},
		{"blank language", Patch{Language: strPtr("")}, true},
		{"unknown status", Patch{Status: &bad}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.patch.Validate(); (err != nil) != tc.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestPatch_ApplyTo(t *testing.T) {
	s := &Session{Name: "old", Language: "go", Code: "a", Version: 3}

	if changed := (Patch{Name: strPtr(" renamed ")}).ApplyTo(s); changed {
		t.Error("metadata-only patch reported a code change")
	}
	if s.Name != "renamed" || s.Version != 3 {
		t.Errorf("after rename: name = %q, version = %d", s.Name, s.Version)
	}

	if changed := (Patch{Code: strPtr("a")}).ApplyTo(s); changed {
		t.Error("patch with identical code reported a change")
	}
	if changed := (Patch{Code: strPtr("b")}).ApplyTo(s); !changed {
		t.Error("code patch not reported")
	}
	if s.Code != "b" || s.Version != 4 {
		t.Errorf("after code patch: code = %q, version = %d, want b, 4", s.Code, s.Version)
	}
}

func TestSession_Clone(t *testing.T) {
	s := &Session{ID: "s1", Description: strPtr("desc")}
	c := s.Clone()
	*c.Description = "changed"
	if *s.Description != "desc" {
		t.Error("Clone shares Description with the original")
	}
	if (*Session)(nil).Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}

func TestSession_IsHost(t *testing.T) {
	s := &Session{HostID: "u1"}
	if !s.IsHost("u1") || s.IsHost("u2") || s.IsHost("") {
		t.Error("IsHost mismatch")
	}
}

func TestParticipant_Deactivate(t *testing.T) {
	p := &Participant{IsActive: true}
	p.Activate(strPtr("conn-1"), p.UpdatedAt)
	p.Deactivate(p.UpdatedAt)
	if p.IsActive || p.ConnectionID != nil || p.Cursor != nil || p.Selection != nil {
		t.Errorf("Deactivate left state behind: %+v", p)
	}
}

func TestPublicProfile_DisplayName(t *testing.T) {
	testCases := []struct {
		p    PublicProfile
		want string
	}{
		{PublicProfile{ID: "u1", FirstName: "Ada", LastName: "Lovelace"}, "Ada Lovelace"},
		{PublicProfile{ID: "u1", FirstName: "Ada"}, "Ada"},
		{PublicProfile{ID: "u1", LastName: "Lovelace"}, "Lovelace"},
		{PublicProfile{ID: "u1"}, "u1"},
	}
	for _, tc := range testCases {
		if got := tc.p.DisplayName(); got != tc.want {
			t.Errorf("DisplayName() = %q, want %q", got, tc.want)
		}
	}
}

package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"collab-sync/backend/internal/ot"
	"collab-sync/backend/internal/session/domain"
)

func newSession(id string, status domain.Status, created time.Time) *domain.Session {
	return &domain.Session{ID: id, Name: id, Language: "go", Status: status, HostID: "host", RoomID: "room-" + id,
		CreatedAt: created, UpdatedAt: created}
}

func TestMemoryRepository_GetReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	if err := repo.Create(ctx, newSession("s1", domain.StatusActive, time.Now())); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, _ := repo.GetByID(ctx, "s1")
	got.Code = "mutated"
	again, _ := repo.GetByID(ctx, "s1")
	if again.Code != "" {
		t.Error("GetByID returned a shared pointer")
	}
	missing, err := repo.GetByID(ctx, "nope")
	if missing != nil || err != nil {
		t.Errorf("GetByID(missing) = %v, %v, want nil, nil", missing, err)
	}
}

func TestMemoryRepository_CreateDuplicate(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	s := newSession("s1", domain.StatusActive, time.Now())
	_ = repo.Create(ctx, s)
	var dup *DuplicateError
	if err := repo.Create(ctx, s); !errors.As(err, &dup) {
		t.Fatalf("Create twice err = %v, want DuplicateError", err)
	}
}

func TestMemoryRepository_ListByStatusNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	_ = repo.Create(ctx, newSession("old", domain.StatusActive, base))
	_ = repo.Create(ctx, newSession("new", domain.StatusActive, base.Add(time.Hour)))
	_ = repo.Create(ctx, newSession("done", domain.StatusEnded, base.Add(2*time.Hour)))

	list, err := repo.ListByStatus(ctx, domain.StatusActive)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(list) != 2 || list[0].ID != "new" || list[1].ID != "old" {
		t.Errorf("ListByStatus = %v", ids(list))
	}
}

func TestMemoryRepository_UpdateCode(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	_ = repo.Create(ctx, newSession("s1", domain.StatusActive, time.Now()))

	ok, err := repo.UpdateCode(ctx, "s1", "v5", 5)
	if err != nil || !ok {
		t.Fatalf("UpdateCode = %v, %v", ok, err)
	}
	ok, _ = repo.UpdateCode(ctx, "s1", "older", 2)
	if !ok {
		t.Fatal("UpdateCode with lower version should still write the code")
	}
	s, _ := repo.GetByID(ctx, "s1")
	if s.Code != "older" || s.Version != 5 {
		t.Errorf("code = %q version = %d, want older 5", s.Code, s.Version)
	}

	ended := newSession("s2", domain.StatusEnded, time.Now())
	_ = repo.Create(ctx, ended)
	if ok, _ := repo.UpdateCode(ctx, "s2", "x", 1); ok {
		t.Error("UpdateCode on an ended session should report false")
	}
	if ok, _ := repo.UpdateCode(ctx, "missing", "x", 1); ok {
		t.Error("UpdateCode on a missing session should report false")
	}
}

func TestMemoryRepository_ParticipantLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	_ = repo.Create(ctx, newSession("s1", domain.StatusActive, time.Now()))

	conn := "c1"
	p := &domain.Participant{ID: "p1", SessionID: "s1", UserID: "u1", IsActive: true, ConnectionID: &conn,
		Cursor: &ot.Position{Line: 1, Column: 2}, CreatedAt: time.Now()}
	if err := repo.CreateParticipant(ctx, p); err != nil {
		t.Fatalf("CreateParticipant: %v", err)
	}
	if err := repo.CreateParticipant(ctx, &domain.Participant{ID: "p2", SessionID: "s1", UserID: "u1"}); err == nil {
		t.Fatal("second participant row for the same pair should be rejected")
	}

	found, _ := repo.FindActiveParticipantByConnection(ctx, "c1")
	if found == nil || found.ID != "p1" {
		t.Fatalf("FindActiveParticipantByConnection = %v", found)
	}

	p.Deactivate(time.Now())
	if err := repo.UpdateParticipant(ctx, p); err != nil {
		t.Fatalf("UpdateParticipant: %v", err)
	}
	if found, _ := repo.FindActiveParticipantByConnection(ctx, "c1"); found != nil {
		t.Error("inactive participant still found by connection")
	}
	active, _ := repo.ListActiveParticipants(ctx, "s1")
	if len(active) != 0 {
		t.Errorf("ListActiveParticipants = %d rows, want 0", len(active))
	}

	if err := repo.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, _ := repo.GetParticipant(ctx, "s1", "u1"); got != nil {
		t.Error("participant survived session delete")
	}
}

func TestMemoryRepository_ListActiveParticipantsMissingSession(t *testing.T) {
	list, err := NewMemoryRepository().ListActiveParticipants(context.Background(), "nope")
	if err != nil {
		t.Fatalf("ListActiveParticipants: %v", err)
	}
	if list == nil || len(list) != 0 {
		t.Errorf("ListActiveParticipants = %#v, want empty non-nil slice", list)
	}
}

func ids(list []*domain.Session) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.ID
	}
	return out
}

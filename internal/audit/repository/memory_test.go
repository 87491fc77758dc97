package repository

import (
	"context"
	"testing"

	"collab-sync/backend/internal/audit/domain"
)

func TestMemoryRepository_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	for _, id := range []string{"a", "b", "c"} {
		if err := repo.Create(ctx, &domain.Entry{ID: id, SessionID: "s1", Action: "session_joined"}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	_ = repo.Create(ctx, &domain.Entry{ID: "other", SessionID: "s2"})

	got, err := repo.ListBySession(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Errorf("ListBySession = %+v, want c then b", got)
	}

	none, err := repo.ListBySession(ctx, "missing", 10)
	if err != nil || len(none) != 0 {
		t.Errorf("ListBySession(missing) = %v, %v", none, err)
	}
}

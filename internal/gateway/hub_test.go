package gateway

import (
	"context"
	"testing"

	"collab-sync/backend/internal/security"
)

// testConn returns a Conn without a socket; only its queue is used.
func testConn(id, userID string, buffer int) *Conn {
	return newConn(id, security.Identity{UserID: userID}, nil, buffer)
}

func drain(c *Conn) [][]byte {
	var out [][]byte
	for {
		select {
		case m := <-c.send:
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestHub_DeliverExcludesSender(t *testing.T) {
	h := NewHub(nil, nil)
	a, b, c := testConn("a", "u1", 4), testConn("b", "u2", 4), testConn("c", "u3", 4)
	h.Join("s1", a)
	h.Join("s1", b)
	h.Join("s2", c)

	n := h.Deliver(context.Background(), "s1", []byte("hi"), "a")
	if n != 1 {
		t.Errorf("delivered = %d, want 1", n)
	}
	if got := drain(a); len(got) != 0 {
		t.Errorf("sender received %d messages", len(got))
	}
	if got := drain(b); len(got) != 1 || string(got[0]) != "hi" {
		t.Errorf("b received %q", got)
	}
	if got := drain(c); len(got) != 0 {
		t.Errorf("other room received %d messages", len(got))
	}
}

func TestHub_LeaveDropsEmptyRoom(t *testing.T) {
	h := NewHub(nil, nil)
	a := testConn("a", "u1", 1)
	h.Join("s1", a)
	if h.RoomCount() != 1 {
		t.Fatalf("RoomCount = %d", h.RoomCount())
	}
	h.Leave("s1", "a")
	h.Leave("s1", "a")
	if h.RoomCount() != 0 || hasUser(h, "s1", "u1") {
		t.Errorf("room should be gone: count=%d", h.RoomCount())
	}
}

func TestHub_FullQueueDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub(nil, nil)
	slow := testConn("slow", "u1", 1)
	h.Join("s1", slow)
	h.Deliver(context.Background(), "s1", []byte("1"), "")
	if n := h.Deliver(context.Background(), "s1", []byte("2"), ""); n != 0 {
		t.Errorf("delivered to full queue = %d", n)
	}
	if got := drain(slow); len(got) != 1 || string(got[0]) != "1" {
		t.Errorf("queue = %q", got)
	}
}

func TestHub_ClosedConnReceivesNothing(t *testing.T) {
	h := NewHub(nil, nil)
	c := testConn("c", "u1", 4)
	h.Join("s1", c)
	c.close()
	if n := h.Deliver(context.Background(), "s1", []byte("x"), ""); n != 0 {
		t.Errorf("delivered to closed conn = %d", n)
	}
}

func hasUser(h *Hub, sessionID, userID string) bool {
	_, ok := h.UserConn(sessionID, userID, "")
	return ok
}

func TestHub_UserConnAndEvict(t *testing.T) {
	h := NewHub(nil, nil)
	tab1, tab2 := testConn("t1", "u1", 1), testConn("t2", "u1", 1)
	h.Join("s1", tab1)
	h.Join("s1", tab2)
	if id, ok := h.UserConn("s1", "u1", "t1"); !ok || id != "t2" {
		t.Errorf("UserConn = %q, %v; want the second tab", id, ok)
	}
	h.Leave("s1", "t2")
	if _, ok := h.UserConn("s1", "u1", "t1"); ok {
		t.Error("no other connection of u1 remains")
	}
	evicted := h.Evict("s1")
	if len(evicted) != 1 || evicted[0].ID() != "t1" {
		t.Errorf("evicted = %v", evicted)
	}
	if h.RoomCount() != 0 {
		t.Errorf("RoomCount after evict = %d", h.RoomCount())
	}
}

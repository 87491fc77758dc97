package gateway

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"collab-sync/backend/internal/telemetry"
)

// Hub owns the rooms: for each session, the local connections that receive its broadcasts.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[string]*Conn // sessionID -> connID -> conn
	metrics *telemetry.Metrics
	log     *zap.Logger
}

func NewHub(metrics *telemetry.Metrics, log *zap.Logger) *Hub {
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{rooms: make(map[string]map[string]*Conn), metrics: metrics, log: log}
}

// Join adds c to sessionID's room.
func (h *Hub) Join(sessionID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[sessionID]
	if !ok {
		room = make(map[string]*Conn)
		h.rooms[sessionID] = room
	}
	room[c.id] = c
}

// Leave removes connID from sessionID's room; empty rooms are dropped.
func (h *Hub) Leave(sessionID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[sessionID]
	if !ok {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(h.rooms, sessionID)
	}
}

// UserConn returns a connection of userID other than exceptConnID in sessionID's room, if any.
func (h *Hub) UserConn(sessionID, userID, exceptConnID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.rooms[sessionID] {
		if id != exceptConnID && c.UserID() == userID {
			return id, true
		}
	}
	return "", false
}

// Deliver queues msg for every local member of sessionID except excludeConnID.
// Members whose queue is full miss the message; it is counted as dropped.
func (h *Hub) Deliver(ctx context.Context, sessionID string, msg []byte, excludeConnID string) int {
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.rooms[sessionID]))
	for id, c := range h.rooms[sessionID] {
		if id != excludeConnID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.enqueue(msg) {
			delivered++
			continue
		}
		if !c.closed() {
			h.metrics.MessageDropped(ctx)
			h.log.Warn("send buffer full, message dropped",
				zap.String("session_id", sessionID),
				zap.String("connection_id", c.id))
		}
	}
	return delivered
}

// Evict removes sessionID's room and returns its former members.
func (h *Hub) Evict(sessionID string) []*Conn {
	h.mu.Lock()
	room := h.rooms[sessionID]
	delete(h.rooms, sessionID)
	h.mu.Unlock()
	out := make([]*Conn, 0, len(room))
	for _, c := range room {
		out = append(out, c)
	}
	return out
}

// RoomCount returns the number of non-empty rooms on this instance.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

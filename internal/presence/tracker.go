// Package presence holds ephemeral cursor and selection state per session participant.
// Nothing here is durable; a participant's entry is dropped when they leave.
package presence

import (
	"sort"
	"sync"
	"time"

	"collab-sync/backend/internal/ot"
)

// Entry is the last known presence of one user in one session.
type Entry struct {
	UserID    string      `json:"userId"`
	Cursor    ot.Position `json:"position"`
	Selection *ot.Range   `json:"selection,omitempty"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Tracker is an in-memory presence map keyed by session then user. Safe for concurrent use.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]map[string]Entry
	nowF     func() time.Time
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		sessions: make(map[string]map[string]Entry),
		nowF:     func() time.Time { return time.Now().UTC() },
	}
}

// Update records the cursor and optional selection of userID in sessionID and returns the stored entry.
func (t *Tracker) Update(sessionID, userID string, cursor ot.Position, selection *ot.Range) Entry {
	e := Entry{UserID: userID, Cursor: cursor, UpdatedAt: t.nowF()}
	if selection != nil {
		sel := *selection
		e.Selection = &sel
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	users, ok := t.sessions[sessionID]
	if !ok {
		users = make(map[string]Entry)
		t.sessions[sessionID] = users
	}
	users[userID] = e
	return e
}

// Get returns the entry for userID in sessionID.
func (t *Tracker) Get(sessionID, userID string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.sessions[sessionID][userID]
	return e, ok
}

// Snapshot returns every entry of sessionID ordered by user id.
func (t *Tracker) Snapshot(sessionID string) []Entry {
	t.mu.RLock()
	out := make([]Entry, 0, len(t.sessions[sessionID]))
	for _, e := range t.sessions[sessionID] {
		out = append(out, e)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Remove clears userID's presence in sessionID.
func (t *Tracker) Remove(sessionID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	users, ok := t.sessions[sessionID]
	if !ok {
		return
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(t.sessions, sessionID)
	}
}

// Clear drops all presence for sessionID.
func (t *Tracker) Clear(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionID)
}

package gateway

import "sync"

// Registry records each open connection and which session, if any, it is in.
// A connection is in at most one session. The gateway owns its Registry; nothing else mutates it.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*registration
}

type registration struct {
	sessionID string
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*registration)}
}

// Register records an authenticated connection with no session.
func (r *Registry) Register(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[connID] = &registration{}
}

// Unregister forgets connID and returns the session it was in ("" for none).
func (r *Registry) Unregister(connID string) (sessionID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.conns[connID]
	if !ok {
		return "", false
	}
	delete(r.conns, connID)
	return reg.sessionID, true
}

// Session returns the session connID is in, or "".
func (r *Registry) Session(connID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if reg, ok := r.conns[connID]; ok {
		return reg.sessionID
	}
	return ""
}

// SetSession moves connID into sessionID and returns the session it was in before.
// Unknown connections are ignored.
func (r *Registry) SetSession(connID, sessionID string) (previous string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.conns[connID]
	if !ok {
		return ""
	}
	previous = reg.sessionID
	reg.sessionID = sessionID
	return previous
}

// ClearSession takes connID out of sessionID. It reports false, and changes nothing, when connID is
// not currently in that session.
func (r *Registry) ClearSession(connID, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.conns[connID]
	if !ok || sessionID == "" || reg.sessionID != sessionID {
		return false
	}
	reg.sessionID = ""
	return true
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

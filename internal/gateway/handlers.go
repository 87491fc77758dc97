package gateway

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"collab-sync/backend/internal/ot"
	"collab-sync/backend/internal/platform/apperr"
	"collab-sync/backend/internal/protocol"
	"collab-sync/backend/internal/telemetry"
)

type handlerFunc func(ctx context.Context, c *Conn, data json.RawMessage) (protocol.Ack, error)

func (g *Gateway) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		protocol.TypeJoinSession:      g.handleJoin,
		protocol.TypeLeaveSession:     g.handleLeave,
		protocol.TypeUpdateCursor:     g.handleUpdateCursor,
		protocol.TypeSubmitEdit:       g.handleSubmitEdit,
		protocol.TypeReplaceDocument:  g.handleReplaceDocument,
		protocol.TypeHeartbeat:        g.handleHeartbeat,
		protocol.TypeQuerySession:     g.handleQuerySession,
		protocol.TypeQueryServerStats: g.handleQueryServerStats,
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return apperr.Validation("missing data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.Wrap(apperr.KindValidation, "malformed data", err)
	}
	return nil
}

func requireSessionID(id string) error {
	if id == "" {
		return apperr.Validation("sessionId is required")
	}
	return nil
}

// requireMember refuses requests for a session c has not joined.
func (g *Gateway) requireMember(c *Conn, sessionID string) error {
	if g.registry.Session(c.id) != sessionID {
		return apperr.Forbidden("join the session first")
	}
	return nil
}

func (g *Gateway) handleJoin(ctx context.Context, c *Conn, data json.RawMessage) (protocol.Ack, error) {
	var req protocol.SessionRef
	if err := decode(data, &req); err != nil {
		return protocol.Ack{}, err
	}
	if err := requireSessionID(req.SessionID); err != nil {
		return protocol.Ack{}, err
	}
	sess, err := g.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return protocol.Ack{}, err
	}
	if sess.IsEnded() {
		return protocol.Ack{}, apperr.Forbidden("session has ended")
	}
	if prev := g.registry.Session(c.id); prev != "" && prev != req.SessionID {
		g.leave(ctx, c, prev)
	}

	connID := c.id
	if _, err := g.store.AddParticipant(ctx, req.SessionID, c.UserID(), &connID); err != nil {
		return protocol.Ack{}, err
	}
	g.registry.SetSession(c.id, req.SessionID)
	g.hub.Join(req.SessionID, c)

	participants, err := g.store.ListActiveParticipants(ctx, req.SessionID)
	if err != nil {
		return protocol.Ack{}, err
	}
	participants = publicParticipants(participants)

	g.push(c, protocol.TypeSessionJoined, protocol.SessionJoined{Session: sess, Participants: participants})
	g.replayCursors(ctx, c, req.SessionID)
	g.broadcast(ctx, req.SessionID, c.id, protocol.TypeParticipantJoined, protocol.ParticipantJoined{
		User:         g.profile(ctx, c),
		Participants: participants,
	})
	g.emit(ctx, c, telemetry.EventSessionJoined, req.SessionID, sess.Version)
	return protocol.Ack{ParticipantsCount: len(participants)}, nil
}

// replayCursors sends c the live cursor of every other user already in sessionID.
func (g *Gateway) replayCursors(ctx context.Context, c *Conn, sessionID string) {
	for _, e := range g.presence.Snapshot(sessionID) {
		if e.UserID == c.UserID() {
			continue
		}
		p := g.store.Profile(ctx, e.UserID)
		g.push(c, protocol.TypeCursorUpdated, protocol.CursorUpdated{
			UserID:    e.UserID,
			Name:      p.DisplayName(),
			FirstName: p.FirstName,
			LastName:  p.LastName,
			Position:  e.Cursor,
			Selection: e.Selection,
			Timestamp: protocol.Millis(e.UpdatedAt),
		})
	}
}

func (g *Gateway) handleLeave(ctx context.Context, c *Conn, data json.RawMessage) (protocol.Ack, error) {
	var req protocol.SessionRef
	if err := decode(data, &req); err != nil {
		return protocol.Ack{}, err
	}
	if err := requireSessionID(req.SessionID); err != nil {
		return protocol.Ack{}, err
	}
	if g.registry.Session(c.id) == req.SessionID {
		g.leave(ctx, c, req.SessionID)
	}
	return protocol.Ack{}, nil
}

// leave takes c out of sessionID: room, registry, participant row and presence, then tells the room.
// The participant row stays active, rebound to the remaining connection, while the same user still has
// another connection in the room.
func (g *Gateway) leave(ctx context.Context, c *Conn, sessionID string) {
	g.hub.Leave(sessionID, c.id)
	g.registry.ClearSession(c.id, sessionID)
	if other, ok := g.hub.UserConn(sessionID, c.UserID(), c.id); ok {
		if _, err := g.store.AddParticipant(ctx, sessionID, c.UserID(), &other); err != nil {
			g.log.Warn("rebind participant", zap.String("session_id", sessionID), zap.String("user_id", c.UserID()), zap.Error(err))
		}
		return
	}
	g.presence.Remove(sessionID, c.UserID())
	if err := g.store.RemoveParticipant(ctx, sessionID, c.UserID()); err != nil {
		g.log.Warn("deactivate participant", zap.String("session_id", sessionID), zap.String("user_id", c.UserID()), zap.Error(err))
	}
	p := g.profile(ctx, c)
	g.broadcast(ctx, sessionID, c.id, protocol.TypeParticipantLeft, protocol.ParticipantLeft{
		UserID:    c.UserID(),
		FirstName: p.FirstName,
		LastName:  p.LastName,
	})
	g.emit(ctx, c, telemetry.EventSessionLeft, sessionID, 0)
}

func (g *Gateway) handleUpdateCursor(ctx context.Context, c *Conn, data json.RawMessage) (protocol.Ack, error) {
	var req protocol.UpdateCursor
	if err := decode(data, &req); err != nil {
		return protocol.Ack{}, err
	}
	if err := requireSessionID(req.SessionID); err != nil {
		return protocol.Ack{}, err
	}
	if err := g.requireMember(c, req.SessionID); err != nil {
		return protocol.Ack{}, err
	}
	if req.Position.Line < 1 || req.Position.Column < 1 {
		return protocol.Ack{}, apperr.Validation("position must be >= 1")
	}
	if req.Selection != nil {
		if err := (ot.Operation{Range: *req.Selection}).Check(); err != nil {
			return protocol.Ack{}, err
		}
	}

	entry := g.presence.Update(req.SessionID, c.UserID(), req.Position, req.Selection)
	if err := g.store.SetCursor(ctx, req.SessionID, c.UserID(), req.Position, req.Selection); err != nil {
		g.log.Debug("persist cursor", zap.String("session_id", req.SessionID), zap.Error(err))
	}
	p := g.profile(ctx, c)
	g.broadcast(ctx, req.SessionID, c.id, protocol.TypeCursorUpdated, protocol.CursorUpdated{
		UserID:    c.UserID(),
		Name:      p.DisplayName(),
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Position:  entry.Cursor,
		Selection: entry.Selection,
		Timestamp: protocol.Millis(entry.UpdatedAt),
	})
	return protocol.Ack{}, nil
}

func (g *Gateway) handleSubmitEdit(ctx context.Context, c *Conn, data json.RawMessage) (protocol.Ack, error) {
	var req protocol.SubmitEdit
	if err := decode(data, &req); err != nil {
		return protocol.Ack{}, err
	}
	if err := requireSessionID(req.SessionID); err != nil {
		return protocol.Ack{}, err
	}
	if err := g.requireMember(c, req.SessionID); err != nil {
		return protocol.Ack{}, err
	}
	if len(req.Operations) == 0 {
		return protocol.Ack{}, apperr.Validation("operations are required")
	}
	if err := ot.CheckAll(req.Operations); err != nil {
		g.metrics.EditRejected(ctx)
		return protocol.Ack{}, err
	}
	sess, err := g.store.ApplyOperations(ctx, req.SessionID, req.Operations, req.Version)
	if err != nil {
		g.metrics.EditRejected(ctx)
		return protocol.Ack{}, err
	}
	g.metrics.EditApplied(ctx)
	g.broadcast(ctx, req.SessionID, c.id, protocol.TypeDocumentEdited, protocol.DocumentEdited{
		UserID:     c.UserID(),
		Name:       g.profile(ctx, c).DisplayName(),
		Operations: req.Operations,
		Version:    sess.Version,
		Timestamp:  protocol.Millis(g.now()),
	})
	g.emit(ctx, c, telemetry.EventDocumentEdited, req.SessionID, sess.Version)
	return protocol.Ack{Version: sess.Version}, nil
}

func (g *Gateway) handleReplaceDocument(ctx context.Context, c *Conn, data json.RawMessage) (protocol.Ack, error) {
	var req protocol.ReplaceDocument
	if err := decode(data, &req); err != nil {
		return protocol.Ack{}, err
	}
	if err := requireSessionID(req.SessionID); err != nil {
		return protocol.Ack{}, err
	}
	if err := g.requireMember(c, req.SessionID); err != nil {
		return protocol.Ack{}, err
	}
	if req.FullText == nil {
		return protocol.Ack{}, apperr.Validation("fullText is required")
	}
	sess, err := g.store.ReplaceCode(ctx, req.SessionID, *req.FullText, req.Version)
	if err != nil {
		g.metrics.EditRejected(ctx)
		return protocol.Ack{}, err
	}
	g.metrics.EditApplied(ctx)
	g.broadcast(ctx, req.SessionID, c.id, protocol.TypeDocumentReplaced, protocol.DocumentReplaced{
		UserID:    c.UserID(),
		Name:      g.profile(ctx, c).DisplayName(),
		FullText:  sess.Code,
		Version:   sess.Version,
		Timestamp: protocol.Millis(g.now()),
	})
	g.emit(ctx, c, telemetry.EventDocumentReplaced, req.SessionID, sess.Version)
	return protocol.Ack{Version: sess.Version}, nil
}

func (g *Gateway) handleHeartbeat(ctx context.Context, c *Conn, data json.RawMessage) (protocol.Ack, error) {
	var req protocol.Heartbeat
	if len(data) > 0 {
		if err := decode(data, &req); err != nil {
			return protocol.Ack{}, err
		}
	}
	now := protocol.Millis(g.now())
	ack := protocol.Ack{ServerTimestamp: now}
	if req.ClientTimestamp > 0 && now > req.ClientTimestamp {
		ack.Latency = now - req.ClientTimestamp
	}
	return ack, nil
}

func (g *Gateway) handleQuerySession(ctx context.Context, c *Conn, data json.RawMessage) (protocol.Ack, error) {
	var req protocol.SessionRef
	if err := decode(data, &req); err != nil {
		return protocol.Ack{}, err
	}
	if err := requireSessionID(req.SessionID); err != nil {
		return protocol.Ack{}, err
	}
	sess, err := g.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return protocol.Ack{}, err
	}
	participants, err := g.store.ListActiveParticipants(ctx, req.SessionID)
	if err != nil {
		return protocol.Ack{}, err
	}
	return protocol.Ack{Session: sess, Participants: publicParticipants(participants)}, nil
}

func (g *Gateway) handleQueryServerStats(ctx context.Context, c *Conn, data json.RawMessage) (protocol.Ack, error) {
	conns, rooms := g.Stats()
	return protocol.Ack{ConnectionCount: conns, RoomCount: rooms}, nil
}

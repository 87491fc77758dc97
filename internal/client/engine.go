// Package client is the peer side of the sync protocol: a reconciliation engine that keeps a local
// editor in step with the session, and a reconnecting connection that feeds it.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"collab-sync/backend/internal/ot"
	"collab-sync/backend/internal/platform/apperr"
	"collab-sync/backend/internal/protocol"
	"collab-sync/backend/internal/session/domain"
)

// DefaultBatchWindow coalesces keystrokes that arrive within it into one submitEdit.
const DefaultBatchWindow = 50 * time.Millisecond

// Palette holds the cursor colors handed out to remote participants.
var Palette = []string{"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4", "#FFEAA7", "#DDA0DD", "#98D8C8", "#F7DC6F"}

// Editor is the local editing widget.
type Editor interface {
	// ApplyEdits applies ops programmatically. A widget that reports its own changes back to
	// LocalEdit may do so synchronously; the engine ignores them while applying.
	ApplyEdits(ops []ot.Operation) error
	// SetText replaces the whole buffer.
	SetText(text string) error
	Text() string
}

// Sender delivers a request to the gateway and waits for its ack.
type Sender interface {
	Send(ctx context.Context, typ string, data any) (protocol.Ack, error)
}

// Cursor is a remote participant's last known position.
type Cursor struct {
	UserID    string
	Name      string
	Position  ot.Position
	Selection *ot.Range
	Color     string
	UpdatedAt time.Time
}

type batch struct {
	version int64
	ops     []ot.Operation
}

// EngineOptions configures an Engine. UserID and SessionID are required.
type EngineOptions struct {
	UserID    string
	SessionID string
	// BatchWindow is how long local edits are held before sending. Zero sends each edit at once.
	BatchWindow time.Duration
	// RequestTimeout bounds one submit or resync round trip. Defaults to 10s.
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// Engine reconciles local and remote edits for one session. Safe for concurrent use.
type Engine struct {
	opts   EngineOptions
	editor Editor
	sender Sender
	log    *zap.Logger

	// suppress is set for the duration of a programmatic apply.
	suppress atomic.Bool
	// applyMu serializes remote applies.
	applyMu sync.Mutex
	// sendMu keeps batches in submission order.
	sendMu sync.Mutex

	mu        sync.Mutex
	version   int64
	lastSent  int64
	current   []ot.Operation
	timer     *time.Timer
	pending   []batch
	cursors   map[string]*Cursor
	order     []string
	errHandle func(error)
}

// NewEngine returns an Engine driving editor and sending through sender.
func NewEngine(editor Editor, sender Sender, opts EngineOptions) *Engine {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{
		opts:    opts,
		editor:  editor,
		sender:  sender,
		log:     opts.Logger,
		cursors: make(map[string]*Cursor),
	}
}

// OnError registers a callback for failures that happen off the caller's goroutine, such as a
// rejected batch.
func (e *Engine) OnError(fn func(error)) {
	e.mu.Lock()
	e.errHandle = fn
	e.mu.Unlock()
}

func (e *Engine) Version() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version
}

func (e *Engine) LastSentVersion() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSent
}

// Pending returns the local operations not yet acknowledged, sent batches first.
func (e *Engine) Pending() []ot.Operation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pendingOpsLocked()
}

func (e *Engine) pendingOpsLocked() []ot.Operation {
	var out []ot.Operation
	for _, b := range e.pending {
		out = append(out, b.ops...)
	}
	return append(out, e.current...)
}

// applyingRemote runs fn with local edit reporting suppressed. The flag is cleared however fn exits.
func (e *Engine) applyingRemote(fn func() error) error {
	e.suppress.Store(true)
	defer e.suppress.Store(false)
	return fn()
}

// LocalEdit records ops the user just made. It returns false when they were ignored because a
// remote change is being applied.
func (e *Engine) LocalEdit(ops []ot.Operation) bool {
	if len(ops) == 0 || e.suppress.Load() {
		return false
	}
	e.mu.Lock()
	e.version++
	e.current = append(e.current, ops...)
	window := e.opts.BatchWindow
	if window > 0 && e.timer == nil {
		e.timer = time.AfterFunc(window, func() { e.flushAsync() })
	}
	e.mu.Unlock()
	if window <= 0 {
		go e.flushAsync()
	}
	return true
}

func (e *Engine) flushAsync() {
	ctx, cancel := context.WithTimeout(context.Background(), e.opts.RequestTimeout)
	defer cancel()
	if err := e.Flush(ctx); err != nil {
		e.report(err)
	}
}

// Flush sends the current batch now and waits for its ack. A rejected batch means the local buffer
// no longer matches the server, so the engine reloads the server copy.
func (e *Engine) Flush(ctx context.Context) error {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if len(e.current) == 0 {
		e.mu.Unlock()
		return nil
	}
	b := batch{version: e.version, ops: e.current}
	e.current = nil
	e.lastSent = b.version
	e.pending = append(e.pending, b)
	e.mu.Unlock()

	ack, err := e.sender.Send(ctx, protocol.TypeSubmitEdit, protocol.SubmitEdit{
		SessionID:  e.opts.SessionID,
		Operations: b.ops,
		Version:    b.version,
	})
	if err != nil {
		e.dropPending()
		if apperr.KindOf(err) == apperr.KindConnection {
			return err
		}
		if rerr := e.Refresh(ctx); rerr != nil {
			return fmt.Errorf("submit edit: %w (reload failed: %v)", err, rerr)
		}
		return fmt.Errorf("submit edit: %w", err)
	}
	e.Ack(ack.Version)
	return nil
}

// Ack marks the oldest submitted batch as acknowledged at the server's version.
func (e *Engine) Ack(version int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pending) > 0 {
		e.pending = e.pending[1:]
	}
	if version > e.version {
		e.version = version
	}
}

func (e *Engine) dropPending() {
	e.mu.Lock()
	e.pending = nil
	e.mu.Unlock()
}

// RemoteEdit applies another participant's edit. Incoming ops are transformed against every local
// op the server has not confirmed yet. If they still do not fit the buffer the engine reloads the
// server copy and returns an UnreconciledEdit error.
func (e *Engine) RemoteEdit(ctx context.Context, evt protocol.DocumentEdited) error {
	if evt.UserID == e.opts.UserID {
		return nil
	}
	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	e.mu.Lock()
	ops := ot.TransformAll(evt.Operations, e.pendingOpsLocked())
	e.mu.Unlock()

	err := e.applyingRemote(func() error { return e.editor.ApplyEdits(ops) })
	if err != nil {
		e.log.Warn("remote edit did not apply, reloading", zap.String("user_id", evt.UserID), zap.Error(err))
		e.mu.Lock()
		e.pending, e.current = nil, nil
		e.mu.Unlock()
		if rerr := e.refreshLocked(ctx); rerr != nil {
			e.log.Warn("reload failed", zap.Error(rerr))
		}
		return apperr.Wrap(apperr.KindUnreconciledEdit, "remote edit could not be applied", err)
	}
	e.advance(evt.Version)
	return nil
}

// RemoteReplace replaces the local buffer with another participant's full text. Local edits that
// were not yet confirmed are discarded.
func (e *Engine) RemoteReplace(evt protocol.DocumentReplaced) error {
	if evt.UserID == e.opts.UserID {
		return nil
	}
	e.applyMu.Lock()
	defer e.applyMu.Unlock()
	if err := e.applyingRemote(func() error { return e.editor.SetText(evt.FullText) }); err != nil {
		return fmt.Errorf("replace buffer: %w", err)
	}
	e.mu.Lock()
	e.pending, e.current = nil, nil
	e.mu.Unlock()
	e.advance(evt.Version)
	return nil
}

// Load resets the engine to a freshly joined session snapshot.
func (e *Engine) Load(evt protocol.SessionJoined) error {
	if evt.Session == nil {
		return apperr.Validation("sessionJoined without a session")
	}
	e.applyMu.Lock()
	err := e.applyingRemote(func() error { return e.editor.SetText(evt.Session.Code) })
	e.applyMu.Unlock()
	if err != nil {
		return fmt.Errorf("load buffer: %w", err)
	}
	e.mu.Lock()
	e.version = evt.Session.Version
	e.lastSent = evt.Session.Version
	e.pending, e.current = nil, nil
	e.mu.Unlock()
	e.SetParticipants(evt.Participants)
	return nil
}

// Resync pushes the whole local buffer to the session. Used when the user decides their copy is right.
func (e *Engine) Resync(ctx context.Context) error {
	if err := e.Flush(ctx); err != nil {
		e.log.Debug("flush before resync", zap.Error(err))
	}
	text := e.editor.Text()
	e.mu.Lock()
	v := e.version + 1
	e.mu.Unlock()
	ack, err := e.sender.Send(ctx, protocol.TypeReplaceDocument, protocol.ReplaceDocument{
		SessionID: e.opts.SessionID,
		FullText:  &text,
		Version:   &v,
	})
	if err != nil {
		return fmt.Errorf("resync: %w", err)
	}
	e.mu.Lock()
	e.pending, e.current = nil, nil
	e.mu.Unlock()
	e.advance(ack.Version)
	return nil
}

// Refresh replaces the local buffer with the server's copy.
func (e *Engine) Refresh(ctx context.Context) error {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()
	return e.refreshLocked(ctx)
}

func (e *Engine) refreshLocked(ctx context.Context) error {
	ack, err := e.sender.Send(ctx, protocol.TypeQuerySession, protocol.SessionRef{SessionID: e.opts.SessionID})
	if err != nil {
		return fmt.Errorf("query session: %w", err)
	}
	if ack.Session == nil {
		return apperr.NotFound("session not found")
	}
	if err := e.applyingRemote(func() error { return e.editor.SetText(ack.Session.Code) }); err != nil {
		return fmt.Errorf("replace buffer: %w", err)
	}
	e.mu.Lock()
	e.pending, e.current = nil, nil
	if ack.Session.Version > e.version {
		e.version = ack.Session.Version
	}
	e.mu.Unlock()
	return nil
}

func (e *Engine) advance(version int64) {
	e.mu.Lock()
	if version > e.version {
		e.version = version
	}
	e.mu.Unlock()
}

func (e *Engine) report(err error) {
	e.mu.Lock()
	fn := e.errHandle
	e.mu.Unlock()
	if fn != nil {
		fn(err)
		return
	}
	e.log.Warn("sync error", zap.Error(err))
}

// SetParticipants replaces the known participant order and seeds cursors from stored positions.
func (e *Engine) SetParticipants(list []*domain.Participant) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.order = e.order[:0]
	live := make(map[string]bool, len(list))
	for _, p := range list {
		e.order = append(e.order, p.UserID)
		live[p.UserID] = true
	}
	for id := range e.cursors {
		if !live[id] {
			delete(e.cursors, id)
		}
	}
	for _, p := range list {
		if p.UserID == e.opts.UserID || p.Cursor == nil {
			continue
		}
		c := e.cursorLocked(p.UserID)
		c.Position = *p.Cursor
		c.Selection = p.Selection
		if p.User != nil {
			c.Name = p.User.DisplayName()
		}
		c.UpdatedAt = p.UpdatedAt
	}
}

// PresenceUpdate upserts a remote cursor. The local user's own updates are ignored.
func (e *Engine) PresenceUpdate(evt protocol.CursorUpdated) {
	if evt.UserID == e.opts.UserID {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.cursorLocked(evt.UserID)
	c.Name = evt.Name
	c.Position = evt.Position
	c.Selection = evt.Selection
	c.UpdatedAt = time.UnixMilli(evt.Timestamp)
}

// ParticipantLeft removes the participant's cursor.
func (e *Engine) ParticipantLeft(evt protocol.ParticipantLeft) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cursors, evt.UserID)
	for i, id := range e.order {
		if id == evt.UserID {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

// Cursors returns the remote cursors ordered by user id.
func (e *Engine) Cursors() []Cursor {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Cursor, 0, len(e.cursors))
	for _, c := range e.cursors {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// cursorLocked returns the cursor for userID, creating it with its color on first sight.
func (e *Engine) cursorLocked(userID string) *Cursor {
	if c, ok := e.cursors[userID]; ok {
		return c
	}
	c := &Cursor{UserID: userID, Color: e.colorLocked(userID)}
	e.cursors[userID] = c
	return c
}

func (e *Engine) colorLocked(userID string) string {
	for i, id := range e.order {
		if id == userID {
			return Palette[i%len(Palette)]
		}
	}
	return ColorFor(userID)
}

// ColorFor returns the palette color derived from a hash of userID.
func ColorFor(userID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return Palette[h.Sum32()%uint32(len(Palette))]
}

// HandleEvent routes a server event into the engine. Unknown events are ignored.
func (e *Engine) HandleEvent(ctx context.Context, m protocol.Message) error {
	switch m.Type {
	case protocol.TypeSessionJoined:
		var evt protocol.SessionJoined
		if err := json.Unmarshal(m.Data, &evt); err != nil {
			return apperr.Wrap(apperr.KindValidation, "decode sessionJoined", err)
		}
		return e.Load(evt)
	case protocol.TypeDocumentEdited:
		var evt protocol.DocumentEdited
		if err := json.Unmarshal(m.Data, &evt); err != nil {
			return apperr.Wrap(apperr.KindValidation, "decode documentEdited", err)
		}
		return e.RemoteEdit(ctx, evt)
	case protocol.TypeDocumentReplaced:
		var evt protocol.DocumentReplaced
		if err := json.Unmarshal(m.Data, &evt); err != nil {
			return apperr.Wrap(apperr.KindValidation, "decode documentReplaced", err)
		}
		return e.RemoteReplace(evt)
	case protocol.TypeCursorUpdated:
		var evt protocol.CursorUpdated
		if err := json.Unmarshal(m.Data, &evt); err != nil {
			return apperr.Wrap(apperr.KindValidation, "decode cursorUpdated", err)
		}
		e.PresenceUpdate(evt)
	case protocol.TypeParticipantJoined:
		var evt protocol.ParticipantJoined
		if err := json.Unmarshal(m.Data, &evt); err != nil {
			return apperr.Wrap(apperr.KindValidation, "decode participantJoined", err)
		}
		e.SetParticipants(evt.Participants)
	case protocol.TypeParticipantLeft:
		var evt protocol.ParticipantLeft
		if err := json.Unmarshal(m.Data, &evt); err != nil {
			return apperr.Wrap(apperr.KindValidation, "decode participantLeft", err)
		}
		e.ParticipantLeft(evt)
	}
	return nil
}

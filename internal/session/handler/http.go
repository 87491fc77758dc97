// Package handler exposes session management over HTTP. Live editing goes through the gateway.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"collab-sync/backend/internal/platform/apperr"
	"collab-sync/backend/internal/server/interceptors"
	"collab-sync/backend/internal/session/domain"
	"collab-sync/backend/internal/telemetry"
)

// maxBodyBytes caps request bodies. Session code travels in create and patch bodies.
const maxBodyBytes = 4 << 20

// Sessions is the part of the session store the HTTP surface needs.
type Sessions interface {
	CreateSession(ctx context.Context, meta domain.Meta, hostUserID string) (*domain.Session, error)
	ListActiveSessions(ctx context.Context) ([]*domain.Session, error)
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	UpdateSessionMetadata(ctx context.Context, id string, patch domain.Patch, requesterID string) (*domain.Session, error)
	EndSession(ctx context.Context, id, requesterID string) (*domain.Session, error)
	DeleteSession(ctx context.Context, id, requesterID string) error
	ListActiveParticipants(ctx context.Context, sessionID string) ([]*domain.Participant, error)
}

// Notifier tells connected clients that a session is over. Implemented by the gateway.
type Notifier interface {
	CloseSession(ctx context.Context, sessionID, endedBy string)
}

// Handler serves /api/sessions.
type Handler struct {
	sessions Sessions
	notifier Notifier
	emitter  telemetry.EventEmitter
	log      *zap.Logger
}

type Option func(*Handler)

func WithNotifier(n Notifier) Option              { return func(h *Handler) { h.notifier = n } }
func WithEmitter(e telemetry.EventEmitter) Option { return func(h *Handler) { h.emitter = e } }
func WithLogger(l *zap.Logger) Option             { return func(h *Handler) { h.log = l } }

// NewHandler returns a Handler over sessions.
func NewHandler(sessions Sessions, opts ...Option) *Handler {
	h := &Handler{sessions: sessions, emitter: telemetry.NopEmitter{}, log: zap.NewNop()}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register mounts the routes on r. Callers wrap r with the auth middleware.
func (h *Handler) Register(r *mux.Router) {
	const base = "/api/sessions"
	r.Methods(http.MethodPost).Path(base).HandlerFunc(h.create)
	r.Methods(http.MethodGet).Path(base).HandlerFunc(h.list)
	r.Methods(http.MethodGet).Path(base + "/{id}").HandlerFunc(h.get)
	r.Methods(http.MethodPatch).Path(base + "/{id}").HandlerFunc(h.update)
	r.Methods(http.MethodDelete).Path(base + "/{id}").HandlerFunc(h.end)
	r.Methods(http.MethodDelete).Path(base + "/{id}/delete").HandlerFunc(h.delete)
	r.Methods(http.MethodGet).Path(base + "/{id}/participants").HandlerFunc(h.participants)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	var meta domain.Meta
	if !h.decode(w, r, &meta) {
		return
	}
	sess, err := h.sessions.CreateSession(r.Context(), meta, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.emit(r.Context(), telemetry.EventSessionCreated, sess.ID, userID)
	writeJSON(w, http.StatusCreated, sess)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.caller(w, r); !ok {
		return
	}
	list, err := h.sessions.ListActiveSessions(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.caller(w, r); !ok {
		return
	}
	sess, err := h.sessions.GetSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	var patch domain.Patch
	if !h.decode(w, r, &patch) {
		return
	}
	id := mux.Vars(r)["id"]
	before, err := h.sessions.GetSession(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	sess, err := h.sessions.UpdateSessionMetadata(r.Context(), id, patch, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if sess.IsEnded() && !before.IsEnded() {
		h.closeSession(r.Context(), sess.ID, userID)
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) end(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	sess, err := h.sessions.EndSession(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.closeSession(r.Context(), sess.ID, userID)
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	if err := h.sessions.DeleteSession(r.Context(), id, userID); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.closeSession(r.Context(), id, userID)
	h.emit(r.Context(), telemetry.EventSessionDeleted, id, userID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) participants(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.caller(w, r); !ok {
		return
	}
	id := mux.Vars(r)["id"]
	if _, err := h.sessions.GetSession(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	list, err := h.sessions.ListActiveParticipants(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	for i, p := range list {
		cp := p.Clone()
		cp.ConnectionID = nil
		list[i] = cp
	}
	writeJSON(w, http.StatusOK, list)
}

// closeSession runs the gateway side of ending a session. The notifier emits session_ended itself.
func (h *Handler) closeSession(ctx context.Context, sessionID, userID string) {
	if h.notifier == nil {
		h.emit(ctx, telemetry.EventSessionEnded, sessionID, userID)
		return
	}
	h.notifier.CloseSession(context.WithoutCancel(ctx), sessionID, userID)
}

func (h *Handler) emit(ctx context.Context, t telemetry.EventType, sessionID, userID string) {
	telemetry.EmitAsync(ctx, h.log, h.emitter, telemetry.NewEvent(t, telemetry.SourceHTTP, sessionID, userID))
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := interceptors.GetUserID(r.Context())
	if !ok {
		h.writeError(w, r, apperr.Unauthenticated("missing or invalid authorization"))
		return "", false
	}
	return userID, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.writeError(w, r, apperr.Wrap(apperr.KindValidation, "malformed request body", err))
		return false
	}
	return true
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.HTTPStatus(err)
	if code == http.StatusInternalServerError {
		h.log.Error("session request failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, code, errorBody{Error: errorDetail{Code: string(apperr.KindOf(err)), Message: apperr.MessageOf(err)}})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

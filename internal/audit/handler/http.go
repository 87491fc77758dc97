// Package handler serves a session's audit trail over HTTP.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	auditrepo "collab-sync/backend/internal/audit/repository"
	"collab-sync/backend/internal/platform/apperr"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Handler serves GET /api/sessions/{id}/activity.
type Handler struct {
	repo auditrepo.Repository
	log  *zap.Logger
}

// NewHandler returns a Handler reading from repo. log may be nil.
func NewHandler(repo auditrepo.Repository, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{repo: repo, log: log}
}

// Register mounts the route on r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/api/sessions/{id}/activity", h.list).Methods(http.MethodGet)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit := defaultLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxLimit {
			writeError(w, apperr.Validation("limit must be between 1 and 500"))
			return
		}
		limit = n
	}
	entries, err := h.repo.ListBySession(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		h.log.Error("list audit entries", zap.Error(err))
		writeError(w, apperr.Wrap(apperr.KindInternal, "could not load activity", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"entries": entries})
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": string(apperr.KindOf(err)), "message": apperr.MessageOf(err)},
	})
}

// Package server assembles the HTTP router and the gRPC server.
package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	audithandler "collab-sync/backend/internal/audit/handler"
	healthhandler "collab-sync/backend/internal/health/handler"
	"collab-sync/backend/internal/server/interceptors"
	sessionhandler "collab-sync/backend/internal/session/handler"
)

// Paths served without the auth middleware. The WebSocket endpoint authenticates the upgrade itself
// so it can also accept a ?token= query parameter.
const (
	PathLiveness  = "/healthz"
	PathReadiness = "/readyz"
	PathWebSocket = "/ws"
)

// RouterDeps holds what the HTTP router mounts. Sessions, Activity and Gateway may be nil in tests.
type RouterDeps struct {
	Logger   *zap.Logger
	Verifier interceptors.Verifier
	Health   *healthhandler.Checker
	Sessions *sessionhandler.Handler
	Activity *audithandler.Handler
	Gateway  http.Handler
}

// NewRouter returns the HTTP handler: logging, then auth on everything but the public paths.
func NewRouter(d RouterDeps) http.Handler {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	health := d.Health
	if health == nil {
		health = healthhandler.NewChecker(nil, nil)
	}

	r := mux.NewRouter()
	r.Methods(http.MethodGet).Path(PathLiveness).HandlerFunc(health.Liveness)
	r.Methods(http.MethodGet).Path(PathReadiness).HandlerFunc(health.Readiness)
	if d.Gateway != nil {
		r.Methods(http.MethodGet).Path(PathWebSocket).Handler(d.Gateway)
	}
	if d.Sessions != nil {
		d.Sessions.Register(r)
	}
	if d.Activity != nil {
		d.Activity.Register(r)
	}

	public := map[string]bool{PathLiveness: true, PathReadiness: true, PathWebSocket: true}
	r.Use(mux.MiddlewareFunc(interceptors.Auth(d.Verifier, public)))

	quiet := map[string]bool{PathLiveness: true, PathReadiness: true}
	return interceptors.Logging(log, quiet)(r)
}

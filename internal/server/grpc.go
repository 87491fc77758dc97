package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	healthhandler "collab-sync/backend/internal/health/handler"
	"collab-sync/backend/internal/server/interceptors"
)

// Deps holds optional service dependencies for gRPC handlers.
type Deps struct {
	// Health answers grpc.health.v1. If nil, a checker with no dependencies is used (always SERVING).
	Health *healthhandler.Checker
}

// RegisterServices registers all gRPC services with the given server.
//
//   - grpc.health.v1.Health → internal/health/handler
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	checker := deps.Health
	if checker == nil {
		checker = healthhandler.NewChecker(nil, nil)
	}
	healthpb.RegisterHealthServer(s, healthhandler.NewServerFromChecker(checker))
}

// NewGRPCServer returns a gRPC server with OTel instrumentation and request logging, and the
// services from deps registered.
func NewGRPCServer(log *zap.Logger, deps Deps) *grpc.Server {
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors.LoggingUnary(log)),
	)
	RegisterServices(s, deps)
	return s
}

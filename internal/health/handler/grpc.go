package handler

import (
	"context"

	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// ServiceName is the service name answered besides the empty (whole server) name.
const ServiceName = "collab.sync.v1.Gateway"

// Server implements the grpc.health.v1 Health service for load balancers and Kubernetes probes.
// Watch and List are left unimplemented.
type Server struct {
	healthpb.UnimplementedHealthServer
	checker *Checker
}

// NewServer returns a health server over the given dependencies. Either may be nil.
func NewServer(pinger Pinger, policy PolicyChecker) *Server {
	return &Server{checker: NewChecker(pinger, policy)}
}

// NewServerFromChecker shares one Checker between the HTTP and gRPC probes.
func NewServerFromChecker(c *Checker) *Server {
	return &Server{checker: c}
}

// Check reports SERVING when the readiness checks pass. Failing checks are a NOT_SERVING status,
// not an RPC error.
func (s *Server) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if svc := req.GetService(); svc != "" && svc != ServiceName {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", svc)
	}
	if err := s.checker.Ready(ctx); err != nil {
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

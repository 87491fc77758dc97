package server

import (
	"testing"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	healthhandler "collab-sync/backend/internal/health/handler"
)

// mockServiceRegistrar implements grpc.ServiceRegistrar for testing.
type mockServiceRegistrar struct {
	services []string
}

func (m *mockServiceRegistrar) RegisterService(desc *grpc.ServiceDesc, impl interface{}) {
	m.services = append(m.services, desc.ServiceName)
}

func TestRegisterServices_HealthRegistered(t *testing.T) {
	mockReg := &mockServiceRegistrar{}
	RegisterServices(mockReg, Deps{Health: healthhandler.NewChecker(nil, nil)})

	if len(mockReg.services) != 1 || mockReg.services[0] != "grpc.health.v1.Health" {
		t.Errorf("registered services = %v, want [grpc.health.v1.Health]", mockReg.services)
	}
}

func TestRegisterServices_NilDependencies(t *testing.T) {
	mockReg := &mockServiceRegistrar{}
	RegisterServices(mockReg, Deps{})
	if len(mockReg.services) != 1 {
		t.Errorf("registered %d services, want 1", len(mockReg.services))
	}
}

func TestNewGRPCServer_ServiceInfo(t *testing.T) {
	s := NewGRPCServer(zap.NewNop(), Deps{})
	defer s.Stop()
	if _, ok := s.GetServiceInfo()["grpc.health.v1.Health"]; !ok {
		t.Errorf("service info = %v, want health registered", s.GetServiceInfo())
	}
}

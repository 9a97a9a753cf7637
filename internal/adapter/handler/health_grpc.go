package handler

import (
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthGRPC serves the standard gRPC health protocol so orchestrators can
// probe the process without going through the HTTP API.
type HealthGRPC struct {
	server *grpc.Server
	health *health.Server
}

func NewHealthGRPC() *HealthGRPC {
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return &HealthGRPC{server: srv, health: hs}
}

// Serve marks the service as serving and blocks on the listener.
func (g *HealthGRPC) Serve(lis net.Listener) error {
	g.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return g.server.Serve(lis)
}

// Shutdown flips the status to not-serving, then drains in-flight RPCs.
func (g *HealthGRPC) Shutdown() {
	g.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	g.server.GracefulStop()
}

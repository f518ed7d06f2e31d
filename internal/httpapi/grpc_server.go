package httpapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// healthServer exposes the same readiness signal as /readyz over the
// standard gRPC health protocol, for probes that speak gRPC.
type healthServer struct {
	healthpb.UnimplementedHealthServer
	probe ReadyProbe
}

func (h *healthServer) Check(ctx context.Context, _ *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if err := h.probe.Check(ctx); err != nil {
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

func (h *healthServer) Watch(req *healthpb.HealthCheckRequest, stream healthpb.Health_WatchServer) error {
	resp, err := h.Check(stream.Context(), req)
	if err != nil {
		return err
	}
	if err := stream.Send(resp); err != nil {
		return err
	}
	<-stream.Context().Done()
	return status.Error(codes.Canceled, "watch cancelled")
}

// NewGRPCServer builds a gRPC server carrying the health service.
func NewGRPCServer(probe ReadyProbe) *grpc.Server {
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, &healthServer{probe: probe})
	return srv
}

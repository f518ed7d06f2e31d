package httpapi

import (
	"context"
	"errors"
	"testing"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestHealthCheckServing(t *testing.T) {
	h := &healthServer{probe: ReadyProbe{}}
	resp, err := h.Check(context.Background(), &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("status=%v, want SERVING", resp.Status)
	}
}

func TestHealthCheckNotServing(t *testing.T) {
	h := &healthServer{probe: ReadyProbe{
		Ping: func(context.Context) error { return errors.New("db down") },
	}}
	resp, err := h.Check(context.Background(), &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("status=%v, want NOT_SERVING", resp.Status)
	}
}

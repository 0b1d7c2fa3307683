package relay

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/proto"
)

func TestHealthReporterGRPCStatus(t *testing.T) {
	h := NewHealthReporter(zap.NewNop())
	var down error
	h.Register("bus", true, func(context.Context) error { return down })

	h.refresh(context.Background())
	resp, err := h.GRPC().Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatal(err)
	}
	if want := (&healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}); !proto.Equal(resp, want) {
		t.Fatalf("expected %v, got %v", want, resp)
	}

	down = errors.New("closed")
	h.refresh(context.Background())
	resp, err = h.GRPC().Check(context.Background(), &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING, got %s", resp.GetStatus())
	}
}

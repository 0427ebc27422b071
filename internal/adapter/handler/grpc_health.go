package handler

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer implements the gRPC health checking protocol on top of the
// same dependency probes /health runs.
type HealthServer struct {
	grpc_health_v1.UnimplementedHealthServer
	checks   []HealthCheck
	draining atomic.Bool
	log      *zap.Logger
}

func NewHealthServer(log *zap.Logger, checks ...HealthCheck) *HealthServer {
	return &HealthServer{checks: checks, log: log}
}

// Shutdown makes every later Check report NOT_SERVING.
func (h *HealthServer) Shutdown() {
	h.draining.Store(true)
}

func (h *HealthServer) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	if h.draining.Load() {
		return &grpc_health_v1.HealthCheckResponse{
			Status: grpc_health_v1.HealthCheckResponse_NOT_SERVING,
		}, nil
	}

	for _, c := range h.checks {
		if err := c.Check(ctx); err != nil {
			h.log.Error("Health check failed", zap.String("dependency", c.Name), zap.Error(err))
			return &grpc_health_v1.HealthCheckResponse{
				Status: grpc_health_v1.HealthCheckResponse_NOT_SERVING,
			}, nil
		}
	}

	return &grpc_health_v1.HealthCheckResponse{
		Status: grpc_health_v1.HealthCheckResponse_SERVING,
	}, nil
}

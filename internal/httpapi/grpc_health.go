package httpapi

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"restgen.dev/internal/obs"
)

// Pinger is the readiness probe shared by /readyz and the gRPC health service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthServer publishes readiness over grpc.health.v1, both for the empty
// service name and for "restgen".
type HealthServer struct {
	srv   *health.Server
	probe Pinger
	log   *zap.Logger
}

func NewHealthServer(probe Pinger, log *zap.Logger) *HealthServer {
	if log == nil {
		log = obs.Logger()
	}
	return &HealthServer{srv: health.NewServer(), probe: probe, log: log}
}

// Register adds the health service to s.
func (h *HealthServer) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// Refresh probes the store once and publishes the result.
func (h *HealthServer) Refresh(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if err := h.probe.Ping(ctx); err != nil {
		h.log.Warn("readiness probe failed", zap.Error(err))
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	obs.SetReady(status == healthpb.HealthCheckResponse_SERVING)
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(serviceName, status)
}

// Run refreshes every interval until ctx ends, then marks the service as
// shutting down.
func (h *HealthServer) Run(ctx context.Context, interval time.Duration) {
	h.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, interval)
			h.Refresh(probeCtx)
			cancel()
		}
	}
}

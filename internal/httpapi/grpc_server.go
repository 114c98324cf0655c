package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"gatehouse.org/internal/obs"
)

// HealthServer exposes readiness over the standard grpc.health.v1 service,
// both overall ("") and under the service name.
type HealthServer struct {
	*health.Server
	ready ReadyChecker
}

func NewHealthServer(ready ReadyChecker) *HealthServer {
	hs := &HealthServer{Server: health.NewServer(), ready: ready}
	hs.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return hs
}

// Register attaches the health service to srv.
func (hs *HealthServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, hs.Server)
}

// Refresh runs the readiness check once and publishes the result.
func (hs *HealthServer) Refresh(ctx context.Context) bool {
	if hs.ready != nil {
		if err := hs.ready.Ready(ctx); err != nil {
			obs.Logger().WarnContext(ctx, "readiness check failed", "error", err)
			hs.set(healthpb.HealthCheckResponse_NOT_SERVING)
			return false
		}
	}
	hs.set(healthpb.HealthCheckResponse_SERVING)
	return true
}

// Watch refreshes readiness every interval until ctx ends, then reports
// NOT_SERVING so clients drain before shutdown.
func (hs *HealthServer) Watch(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	hs.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return nil
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, interval)
			hs.Refresh(checkCtx)
			cancel()
		}
	}
}

func (hs *HealthServer) set(status healthpb.HealthCheckResponse_ServingStatus) {
	hs.SetServingStatus("", status)
	hs.SetServingStatus(serviceName, status)
}

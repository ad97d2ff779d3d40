package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"kompassi.org/internal/obs"
)

// HealthService is the name reported alongside the overall "" service.
const HealthService = "kompassi.access.Worker"

// NewGRPCHealth returns a health server that starts out NOT_SERVING.
func NewGRPCHealth() *health.Server {
	hs := health.NewServer()
	setServing(hs, false)
	return hs
}

// WatchReadiness re-evaluates probe every interval and mirrors the result
// into hs until ctx is done. On exit every service is marked NOT_SERVING.
func WatchReadiness(ctx context.Context, hs *health.Server, probe ReadyProbe, interval time.Duration) {
	check := func() {
		cctx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		err := probe.Check(cctx)
		if err != nil {
			obs.Logger().Warn("readiness check failed", "error", err)
		}
		obs.SetReady(err == nil)
		setServing(hs, err == nil)
	}

	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-ticker.C:
			check()
		}
	}
}

func setServing(hs *health.Server, ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	hs.SetServingStatus("", status)
	hs.SetServingStatus(HealthService, status)
}

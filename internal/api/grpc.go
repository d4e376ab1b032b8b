package api

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// EngineServiceName is the health service name reported for the engine.
const EngineServiceName = "signaltrader.Engine"

// HealthServer exposes grpc.health.v1 for the process and the engine.
type HealthServer struct {
	grpc   *grpc.Server
	health *health.Server
	log    zerolog.Logger
}

// NewHealthServer registers the standard health service. Both the overall
// and engine statuses start as SERVING.
func NewHealthServer(logger zerolog.Logger) *HealthServer {
	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus(EngineServiceName, healthpb.HealthCheckResponse_SERVING)
	return &HealthServer{
		grpc:   srv,
		health: hs,
		log:    logger.With().Str("component", "grpc-health").Logger(),
	}
}

// SetServing flips the engine status.
func (h *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(EngineServiceName, status)
}

// Serve accepts on lis until ctx ends; statuses go NOT_SERVING on the way out.
func (h *HealthServer) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		h.log.Info().Str("addr", lis.Addr().String()).Msg("grpc health listening")
		errCh <- h.grpc.Serve(lis)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		h.health.Shutdown()
		stopped := make(chan struct{})
		go func() {
			h.grpc.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			h.grpc.Stop()
		}
		return nil
	}
}

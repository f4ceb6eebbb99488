package app

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/LeonardoBeccarini/synlab/internal/model/entities"
	"github.com/LeonardoBeccarini/synlab/pkg/logging"
)

// HealthService is the gRPC health service name that follows device connectivity
const HealthService = "synlab.device"

// HealthBridge exposes device connectivity through grpc.health.v1.
// The overall server ("") is always SERVING; HealthService flips with Online.
type HealthBridge struct {
	server *grpc.Server
	health *health.Server
	logger logging.Logger
}

func NewHealthBridge(logger logging.Logger) *HealthBridge {
	if logger == nil {
		logger = logging.NullLogger{}
	}
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)

	s := grpc.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	return &HealthBridge{server: s, health: hs, logger: logger}
}

// Update is a monitor.ChangeFunc
func (b *HealthBridge) Update(_, cur entities.Snapshot) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if cur.Online {
		status = healthpb.HealthCheckResponse_SERVING
	}
	b.health.SetServingStatus(HealthService, status)
}

// Serve blocks serving on lis until ctx is done, then stops gracefully.
func (b *HealthBridge) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		b.health.Shutdown()
		b.server.GracefulStop()
	}()
	b.logger.Infof("gRPC health listening on %s", lis.Addr())
	return b.server.Serve(lis)
}

// Stop stops the server immediately
func (b *HealthBridge) Stop() {
	b.server.Stop()
}

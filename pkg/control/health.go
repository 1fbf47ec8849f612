package control

import (
	"github.com/core-tools/hsu-node-agent/pkg/logging"
	"github.com/core-tools/hsu-node-agent/pkg/supervisor"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const serverServicePrefix = "server/"

var _ supervisor.StatusListener = (*HealthReporter)(nil)

// ServerServiceName is the health service name reporting one server
func ServerServiceName(id string) string {
	return serverServicePrefix + id
}

// HealthReporter publishes agent and per-server liveness through the
// standard gRPC health service. It receives instance events from the
// supervisor.
type HealthReporter struct {
	server *health.Server
	logger logging.Logger
}

func NewHealthReporter(logger logging.Logger) *HealthReporter {
	server := health.NewServer()
	server.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return &HealthReporter{
		server: server,
		logger: logger,
	}
}

// Track marks every configured server as not serving until it starts
func (h *HealthReporter) Track(ids []string) {
	for _, id := range ids {
		h.server.SetServingStatus(ServerServiceName(id), healthpb.HealthCheckResponse_NOT_SERVING)
	}
}

func (h *HealthReporter) ServerStarted(id string, pid int) {
	h.server.SetServingStatus(ServerServiceName(id), healthpb.HealthCheckResponse_SERVING)
	h.logger.Debugf("Health serving, id: %s, pid: %d", id, pid)
}

func (h *HealthReporter) ServerStopped(id string) {
	h.server.SetServingStatus(ServerServiceName(id), healthpb.HealthCheckResponse_NOT_SERVING)
	h.logger.Debugf("Health not serving, id: %s", id)
}

// Shutdown reports every service as not serving and ignores later updates
func (h *HealthReporter) Shutdown() {
	h.server.Shutdown()
}

func RegisterGRPCHealthHandler(grpcServerRegistrar grpc.ServiceRegistrar, reporter *HealthReporter) {
	healthpb.RegisterHealthServer(grpcServerRegistrar, reporter.server)
}

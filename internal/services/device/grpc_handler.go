package device

import (
	"net"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/LeonardoBeccarini/plant_monitor/pkg/broker"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/logger"
)

// ServiceName is the name reported on the gRPC health service.
const ServiceName = "plant_monitor.Device"

// HealthServer is a gRPC server exposing the standard health service. Its
// status follows the broker connection.
type HealthServer struct {
	srv    *grpc.Server
	health *health.Server
	log    *logrus.Entry
}

func NewHealthServer(log *logrus.Entry, opts ...grpc.ServerOption) *HealthServer {
	h := &HealthServer{
		srv:    grpc.NewServer(opts...),
		health: health.NewServer(),
		log:    logger.OrDefault(log, "health"),
	}
	healthpb.RegisterHealthServer(h.srv, h.health)
	h.SetServing(false)
	return h
}

// SetServing flips both the overall and the device service status.
func (h *HealthServer) SetServing(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
}

// Track reports SERVING while conn is connected.
func (h *HealthServer) Track(conn *broker.Conn) {
	conn.OnConnect(func() { h.SetServing(true) })
	conn.OnConnectionLost(func(error) { h.SetServing(false) })
	h.SetServing(conn.IsConnected())
}

// Serve blocks serving gRPC on lis.
func (h *HealthServer) Serve(lis net.Listener) error {
	h.log.WithField("addr", lis.Addr().String()).Info("health: gRPC listening")
	return h.srv.Serve(lis)
}

// Stop marks everything NOT_SERVING and drains the server.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.srv.GracefulStop()
}

// Package grpcapi serves gRPC health for the call monitor.
package grpcapi

import (
	"fmt"
	"net"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"asr-call-monitor/internal/observability"
	"asr-call-monitor/internal/observability/logging"
	"asr-call-monitor/internal/observability/metrics"
)

// ServiceName is the health service name reported alongside the server-wide status.
const ServiceName = "callmonitor.CallMonitor"

// Server is a gRPC server exposing the standard health service.
type Server struct {
	server *grpc.Server
	health *health.Server
}

// New creates a server whose health starts as NOT_SERVING.
func New(m *metrics.Metrics) *Server {
	logger := logging.WithComponent("grpc")
	server := grpc.NewServer(
		grpc.UnaryInterceptor(observability.UnaryServerInterceptor(m, logger)),
		grpc.StreamInterceptor(observability.StreamServerInterceptor(m, logger)),
	)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(server)

	s := &Server{server: server, health: healthServer}
	s.SetServing(false)
	return s
}

// SetServing flips both the server-wide and the named service status.
func (s *Server) SetServing(serving bool) {
	st := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		st = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Listen binds port and serves in a goroutine.
func (s *Server) Listen(port string) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	s.Serve(lis)
	return nil
}

// Serve serves on lis in a goroutine.
func (s *Server) Serve(lis net.Listener) {
	go func() {
		log.Info().Str("addr", lis.Addr().String()).Msg("gRPC health server started")
		if err := s.server.Serve(lis); err != nil {
			log.Error().Err(err).Msg("grpc serve failed")
		}
	}()
}

// Stop marks the server not serving and stops it gracefully.
func (s *Server) Stop() {
	log.Info().Msg("Shutting down gRPC server")
	s.health.Shutdown()
	s.server.GracefulStop()
}

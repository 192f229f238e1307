package server

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer answers the standard gRPC health checking protocol for
// load balancers and orchestrators.
type HealthServer struct {
	addr   string
	grpc   *grpc.Server
	health *health.Server
	ln     net.Listener
}

// NewHealthServer creates a HealthServer listening on addr once loaded.
func NewHealthServer(addr string) *HealthServer {
	hs := health.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	return &HealthServer{addr: addr, grpc: gs, health: hs}
}

func (s *HealthServer) Name() string { return "grpc-health" }

func (s *HealthServer) Load(_ context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.ln = ln

	go func() {
		if err := s.grpc.Serve(ln); err != nil {
			log.Error().Err(err).Msg("grpc health server stopped")
		}
	}()
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	log.Info().Str("addr", ln.Addr().String()).Msg("grpc health server listening")
	return nil
}

// Addr returns the bound address, or nil before Load.
func (s *HealthServer) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Shutdown reports NOT_SERVING to watchers, then stops gracefully or
// forcefully once ctx expires.
func (s *HealthServer) Shutdown(ctx context.Context) error {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		s.grpc.Stop()
		return ctx.Err()
	}
}

package backend

import (
	"FireDetServer/logger"
	"FireDetServer/monitor"
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health-checked service; "" reports the whole server.
const ServiceName = "firedet.Detector"

type Server struct {
	grpc   *grpc.Server
	health *health.Server
}

// NewServer builds a gRPC server exposing the standard health service. Both
// the server and ServiceName start NOT_SERVING until SetServing(true).
func NewServer() *Server {
	hs := health.NewServer()
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(unaryLogger))
	healthpb.RegisterHealthServer(s, hs)
	srv := &Server{grpc: s, health: hs}
	srv.SetServing(false)
	return srv
}

func unaryLogger(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	monitor.GRPCTotal.Inc()
	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		logger.Log().Warn("gRPC call failed", zap.String("method", info.FullMethod), zap.Duration("latency", time.Since(start)), zap.Error(err))
	} else {
		logger.Log().Debug("gRPC call", zap.String("method", info.FullMethod), zap.Duration("latency", time.Since(start)))
	}
	return resp, err
}

func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Serve blocks until the listener fails or GracefulStop is called.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// StartGRPCServer listens on port and serves in the background.
func StartGRPCServer(port int) (*Server, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %d: %w", port, err)
	}
	s := NewServer()
	go func() {
		if err := s.Serve(lis); err != nil {
			logger.Log().Error("gRPC server stopped", zap.Error(err))
		}
	}()
	logger.Log().Info("gRPC health server started", zap.Int("port", port))
	return s, nil
}

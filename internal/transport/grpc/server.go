package transportgrpc

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/arklim/auth-session-service/internal/transport/grpc/interceptors"
)

// healthCheckMethods never require a bearer token.
var healthCheckMethods = []string{
	"/grpc.health.v1.Health/Check",
	"/grpc.health.v1.Health/List",
}

// SessionManager is the subset of the session service the gRPC layer needs.
type SessionManager interface {
	interceptors.Authorizer
	SessionEnder
}

// ServerDependencies encapsulates services required by the gRPC server layer.
type ServerDependencies struct {
	Sessions   SessionManager
	Logger     *zap.Logger
	Registerer prometheus.Registerer
	Tracing    *interceptors.TracingOptions
	// PublicMethods lists extra methods that skip authentication.
	PublicMethods []string
}

// Server bundles the gRPC server with its health reporter.
type Server struct {
	*grpc.Server
	Health *health.Server
}

// NewServer wires gRPC services with authentication enforced through interceptors.
func NewServer(deps ServerDependencies) (*Server, error) {
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session service is required")
	}

	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	metrics, err := interceptors.NewGRPCMetrics(interceptors.GRPCMetricsOptions{Registerer: deps.Registerer})
	if err != nil {
		return nil, fmt.Errorf("grpc metrics: %w", err)
	}

	public := append(append([]string{}, healthCheckMethods...), deps.PublicMethods...)
	auth := interceptors.NewAuthInterceptor(deps.Sessions, interceptors.AuthOptions{
		Logger:       log,
		AllowMethods: public,
	})

	options := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(metrics.UnaryServerInterceptor(), auth.UnaryServerInterceptor()),
	}
	if deps.Tracing != nil {
		tracing := *deps.Tracing
		tracing.Skip = append(tracing.Skip, healthCheckMethods...)
		options = append(options, interceptors.TracingServerOption(tracing))
	}

	server := grpc.NewServer(options...)
	RegisterSessionServiceServer(server, NewSessionServer(deps.Sessions, log))

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus(SessionServiceName, healthpb.HealthCheckResponse_SERVING)

	// Register reflection service for tools like Postman, grpcurl, etc.
	reflection.Register(server)

	return &Server{Server: server, Health: healthServer}, nil
}

// Shutdown marks every service as not serving and stops the server gracefully.
func (s *Server) Shutdown() {
	s.Health.Shutdown()
	s.GracefulStop()
}

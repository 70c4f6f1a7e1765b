package server

import (
	"OracleMirror/internal/observability"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the gRPC health service name reported alongside "".
const ServiceName = "oracle.mirror"

// Server wraps the gRPC health server and the HTTP surface.
type Server struct {
	grpcServer   *grpc.Server
	healthServer *health.Server
	httpServer   *http.Server
	grpcAddr     string
	httpAddr     string
	logger       zerolog.Logger
}

// Deps holds everything the HTTP handlers need.
type Deps struct {
	Reports       ReportBuilder
	Prices        PriceSubmitter
	HealthChecker *observability.HealthChecker
	Gatherer      prometheus.Gatherer
	Metrics       *observability.Metrics
	Title         string
	Logger        zerolog.Logger
}

// New builds both servers. Nothing listens until StartGRPC / StartHTTP.
func New(grpcAddr, httpAddr string, deps Deps) (*Server, error) {
	handler, err := NewHandler(deps)
	if err != nil {
		return nil, err
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	if deps.HealthChecker != nil {
		deps.HealthChecker.OnChange(func(ready bool) {
			status := healthpb.HealthCheckResponse_NOT_SERVING
			if ready {
				status = healthpb.HealthCheckResponse_SERVING
			}
			healthServer.SetServingStatus("", status)
			healthServer.SetServingStatus(ServiceName, status)
		})
	} else {
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	}

	return &Server{
		grpcServer:   grpcServer,
		healthServer: healthServer,
		httpServer: &http.Server{
			Addr:              httpAddr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		grpcAddr: grpcAddr,
		httpAddr: httpAddr,
		logger:   deps.Logger,
	}, nil
}

// StartGRPC serves gRPC until ctx ends.
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.ServeGRPC(ctx, lis)
}

// ServeGRPC serves gRPC on lis until ctx ends.
func (s *Server) ServeGRPC(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.healthServer.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// StartHTTP serves HTTP until ctx ends.
func (s *Server) StartHTTP(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// NewHandler builds the HTTP routes. API routes live on a grpc-gateway mux;
// health, metrics and the HTML page are plain handlers in front of it.
func NewHandler(deps Deps) (http.Handler, error) {
	h := &handlers{
		reports: deps.Reports,
		prices:  deps.Prices,
		health:  deps.HealthChecker,
		metrics: deps.Metrics,
		title:   deps.Title,
		logger:  deps.Logger,
	}
	if h.health == nil {
		h.health = observability.NewHealthChecker()
	}

	gw := runtime.NewServeMux()
	if err := gw.HandlePath(http.MethodGet, "/v1/dashboard", h.dashboardJSON); err != nil {
		return nil, fmt.Errorf("register dashboard route: %w", err)
	}
	if err := gw.HandlePath(http.MethodPost, "/v1/prices/{price_id}", h.submitPrice); err != nil {
		return nil, fmt.Errorf("register price route: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.dashboardHTML)
	mux.HandleFunc("/healthz", h.health.LivenessHandler)
	mux.HandleFunc("/readyz", h.health.ReadinessHandler)
	if deps.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	mux.Handle("/", gw)
	return mux, nil
}

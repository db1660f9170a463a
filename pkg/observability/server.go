package observability

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// StartMetricsServer starts an HTTP server for Prometheus metrics and health checks
func StartMetricsServer(port string, healthChecker *HealthChecker, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	if healthChecker != nil {
		mux.HandleFunc("/health", healthChecker.HealthHandler())
	}

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server error", zap.Error(err))
		}
	}()

	return server
}

// ShutdownMetricsServer gracefully shuts down the metrics server
func ShutdownMetricsServer(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

// HealthServer exposes the standard gRPC health service for infrastructure health checks.
// The serving status follows HealthChecker on a fixed interval.
type HealthServer struct {
	server  *grpc.Server
	health  *health.Server
	checker *HealthChecker
	logger  *zap.Logger
	stop    chan struct{}
}

// StartGRPCHealthServer listens on port and serves grpc.health.v1.Health
func StartGRPCHealthServer(port string, checker *HealthChecker, interval time.Duration, logger *zap.Logger) (*HealthServer, error) {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return nil, err
	}

	hs := &HealthServer{
		server:  grpc.NewServer(),
		health:  health.NewServer(),
		checker: checker,
		logger:  logger,
		stop:    make(chan struct{}),
	}
	healthpb.RegisterHealthServer(hs.server, hs.health)
	hs.refresh()

	go func() {
		if err := hs.server.Serve(lis); err != nil && err != grpc.ErrServerStopped {
			logger.Error("gRPC health server error", zap.Error(err))
		}
	}()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hs.stop:
				return
			case <-ticker.C:
				hs.refresh()
			}
		}
	}()

	return hs, nil
}

func (hs *HealthServer) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if hs.checker != nil && hs.checker.Check(ctx).Status != "healthy" {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	hs.health.SetServingStatus("", status)
}

// Shutdown marks the service NOT_SERVING and stops the server
func (hs *HealthServer) Shutdown(ctx context.Context) error {
	close(hs.stop)
	hs.health.Shutdown()

	done := make(chan struct{})
	go func() {
		hs.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		hs.server.Stop()
		return ctx.Err()
	}
}

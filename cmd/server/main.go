package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kevin07696/harvest-settlement/internal/bootstrap"
	"github.com/kevin07696/harvest-settlement/internal/config"
	"github.com/kevin07696/harvest-settlement/internal/handlers"
	settlementHandler "github.com/kevin07696/harvest-settlement/internal/handlers/settlement"
	webhookHandler "github.com/kevin07696/harvest-settlement/internal/handlers/webhook"
	"github.com/kevin07696/harvest-settlement/internal/jobs"
	"github.com/kevin07696/harvest-settlement/internal/middleware"
	pkgmw "github.com/kevin07696/harvest-settlement/pkg/middleware"
	"github.com/kevin07696/harvest-settlement/pkg/observability"
	"github.com/kevin07696/harvest-settlement/pkg/shutdown"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	logger, err := bootstrap.Logger(cfg.Logger)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting harvest settlement service",
		zap.Int("port", cfg.Server.Port),
		zap.String("line_mode", cfg.Settlement.LineMode),
	)

	ctx, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize dependencies", zap.Error(err))
	}
	app.DB.StartPoolMonitoring(ctx, bootstrap.PoolMonitorInterval)

	shutdownManager := shutdown.NewManager(logger, 30*time.Second)
	// Registered first so it closes last
	shutdownManager.RegisterNoErr("database", app.Close)
	shutdownManager.RegisterNoErr("background", cancelBackground)

	// Metrics, health and readiness
	healthChecker := observability.NewHealthChecker(app.DB.Pool())
	healthChecker.Register("secrets", func(ctx context.Context) error {
		_, err := app.Secrets.GetSecret(ctx, cfg.Secrets.WebhookSecretPath)
		return err
	})
	metricsServer := observability.StartMetricsServer(strconv.Itoa(cfg.Server.MetricsPort), healthChecker, logger)
	shutdownManager.Register("metrics-server", metricsServer.Shutdown)

	grpcHealth, err := observability.StartGRPCHealthServer(strconv.Itoa(cfg.Server.HealthGRPCPort), healthChecker, 10*time.Second, logger)
	if err != nil {
		logger.Fatal("Failed to start gRPC health server", zap.Error(err))
	}
	shutdownManager.Register("grpc-health", grpcHealth.Shutdown)

	// HTTP API
	rateLimiter := pkgmw.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	shutdownManager.RegisterNoErr("rate-limiter", rateLimiter.Shutdown)

	router := handlers.NewRouter(handlers.RouterDeps{
		Settlement:      settlementHandler.NewHandler(app.Service, logger),
		Webhook:         webhookHandler.NewHandler(app.Service, logger),
		WebhookAuth:     middleware.NewWebhookSignatureAuth(app.Secrets, cfg.Secrets.WebhookSecretPath, logger),
		RateLimiter:     rateLimiter,
		SecurityHeaders: middleware.NewSecurityHeaders(cfg.Logger.Development),
		Timeouts:        app.Timeouts,
	})

	inFlight := shutdown.NewInFlightTracker("http", logger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           inFlight.Middleware(router),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()
	shutdownManager.Register("http-inflight", inFlight.Shutdown)
	shutdownManager.Register("http-server", httpServer.Shutdown)

	// Background jobs
	scheduler, err := jobs.NewScheduler(logger)
	if err != nil {
		logger.Fatal("Failed to create job scheduler", zap.Error(err))
	}

	pollJob, err := jobs.NewReconciliationPollJob(
		app.Service,
		app.Timeouts,
		cfg.Jobs.PollInterval,
		cfg.Jobs.PollMinAge,
		cfg.Jobs.PollWorkers,
		cfg.Jobs.PollBatchLimit,
		logger,
	)
	if err != nil {
		logger.Fatal("Failed to create reconciliation poll job", zap.Error(err))
	}
	shutdownManager.RegisterNoErr("poll-workers", pollJob.Release)

	sweepJob := jobs.NewStaleLeaseSweepJob(app.Service, app.Timeouts, cfg.Jobs.StaleSweepInterval, cfg.Jobs.PollBatchLimit, logger)

	if err := scheduler.Register(pollJob, sweepJob); err != nil {
		logger.Fatal("Failed to register jobs", zap.Error(err))
	}
	scheduler.Start()
	shutdownManager.Register("scheduler", scheduler.Shutdown)

	logger.Info("Harvest settlement service started",
		zap.String("http_addr", httpServer.Addr),
		zap.Int("metrics_port", cfg.Server.MetricsPort),
		zap.Int("grpc_health_port", cfg.Server.HealthGRPCPort),
	)

	shutdownManager.WaitForShutdown()
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	grpcprom "github.com/grpc-ecosystem/go-grpc-middleware/providers/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/f22labs/whatsapp-api/internal/gateway_api/middleware"
	httptransport "github.com/f22labs/whatsapp-api/internal/gateway_api/transport/http"
	"github.com/f22labs/whatsapp-api/internal/instance_service/adapters/connector"
	"github.com/f22labs/whatsapp-api/internal/instance_service/adapters/notifier"
	instanceapp "github.com/f22labs/whatsapp-api/internal/instance_service/app"
	"github.com/f22labs/whatsapp-api/internal/instance_service/repository"
	"github.com/f22labs/whatsapp-api/internal/platform/clock"
	"github.com/f22labs/whatsapp-api/internal/platform/config"
	"github.com/f22labs/whatsapp-api/internal/platform/database"
	"github.com/f22labs/whatsapp-api/internal/platform/eventbus"
	"github.com/f22labs/whatsapp-api/internal/platform/logger"
	"github.com/f22labs/whatsapp-api/internal/platform/messagebroker"
	"github.com/f22labs/whatsapp-api/internal/platform/retry"
	schedulerapp "github.com/f22labs/whatsapp-api/internal/scheduler_service/app"
	"github.com/f22labs/whatsapp-api/internal/scheduler_service/repository/postgres"
)

const (
	serviceName     = "gateway-service"
	startupTimeout  = 30 * time.Second
	shutdownTimeout = 15 * time.Second
)

func main() {
	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	cfg, err := config.Load(serviceName)
	if err != nil {
		logger.New(serviceName, "info").Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(serviceName, cfg.LogLevel)
	log.Info("Starting service...", "storage_backend", cfg.StorageBackend, "auth", cfg.AuthType)

	startupCtx, startupCancel := context.WithTimeout(mainCtx, startupTimeout)
	defer startupCancel()

	dbPool, err := database.NewDBPool(startupCtx, cfg.PostgresDSN, database.PoolOptions{}, log)
	if err != nil {
		log.Error("Failed to initialize database connection pool", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	natsClient, err := messagebroker.NewNATSClient(cfg.NATSURL, log, serviceName)
	if err != nil {
		log.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()

	store, err := repository.OpenArtifactStore(startupCtx, cfg, log)
	if err != nil {
		log.Error("Failed to open session artifact store", "backend", cfg.StorageBackend, "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			log.Warn("Artifact store close failed", "error", err)
		}
	}()

	bus := eventbus.New()
	clk := clock.Real()

	factory := connector.NewFactory(connector.Config{
		BaseURL:      cfg.ConnectorURL,
		Token:        cfg.ConnectorToken,
		SendInterval: cfg.ConnectorSendInterval,
		PollInterval: cfg.ConnectorPollInterval,
	}, bus, store, log)

	var removalNotifier instanceapp.RemovalNotifier
	if n := notifier.NewHTTPNotifier(cfg.RemovalNotifyURL, cfg.RemovalNotifyToken, nil, log); n != nil {
		removalNotifier = n
	}

	registry := instanceapp.NewRegistry(store, factory, removalNotifier, bus, clk, instanceapp.RegistryConfig{
		IdleEviction: cfg.IdleEviction(),
		StatusRetry:  retry.Policy{MaxRetries: cfg.StatusRetryMax, BaseDelay: cfg.StatusRetryBaseDelay},
	}, log)
	messenger := instanceapp.NewMessenger(registry)
	listener := instanceapp.NewLifecycleListener(bus, registry, cfg.EventBuffer, log)
	relay := instanceapp.NewNATSRelay(natsClient, bus, log)
	sweeper, err := instanceapp.NewSweeper(store, cfg.StaleSweepSpec, log)
	if err != nil {
		log.Error("Invalid stale sweep schedule", "spec", cfg.StaleSweepSpec, "error", err)
		os.Exit(1)
	}

	messageRepo := postgres.NewPgScheduledMessageRepository(dbPool, log)
	quotaRepo := postgres.NewPgQuotaRepository(dbPool, log)
	engine := schedulerapp.NewEngine(messageRepo, quotaRepo, messenger, natsClient, clk, log, schedulerapp.EngineConfig{
		DecrementPolicy: cfg.QuotaDecrementPolicy,
	})
	scheduling := schedulerapp.NewSchedulingService(messageRepo, quotaRepo, engine, registry, clk,
		cfg.ScheduleHorizon, cfg.QuotaDecrementPolicy, log)

	g, groupCtx := errgroup.WithContext(mainCtx)

	g.Go(func() error { return listener.Run(groupCtx) })
	select {
	case <-listener.Ready():
	case <-groupCtx.Done():
	}
	g.Go(func() error { return relay.Run(groupCtx) })
	g.Go(func() error { return sweeper.Run(groupCtx) })

	loaded, err := registry.Load(startupCtx)
	if err != nil {
		log.Error("Failed to load instances", "error", err)
		os.Exit(1)
	}
	restored, err := engine.Restore(startupCtx)
	if err != nil {
		log.Error("Failed to restore scheduled messages", "error", err)
		os.Exit(1)
	}
	log.Info("State recovered", "instances", loaded, "scheduled_messages", restored)

	// --- gRPC health ---
	grpcMetrics := grpcprom.NewServerMetrics(
		grpcprom.WithServerHandlingTimeHistogram(),
	)
	if err := prometheus.DefaultRegisterer.Register(grpcMetrics); err != nil {
		log.Warn("Failed to register gRPC Prometheus metrics", "error", err)
	}
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	grpcListenAddress := fmt.Sprintf(":%d", cfg.GRPCPort)
	grpcListener, err := net.Listen("tcp", grpcListenAddress)
	if err != nil {
		log.Error("Failed to listen for gRPC", "address", grpcListenAddress, "error", err)
		os.Exit(1)
	}
	g.Go(func() error {
		log.Info("gRPC health server starting", "address", grpcListenAddress)
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("gRPC server failed to serve", "error", err)
			return err
		}
		return nil
	})

	// --- Public HTTP API ---
	httpServer := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: httptransport.NewRouter(httptransport.RouterDeps{
			Instances: registry,
			Messenger: messenger,
			Scheduler: scheduling,
			Auth: middleware.AuthConfig{
				Type:       cfg.AuthType,
				JWTSecret:  cfg.JWTSecret,
				APIKeyHash: cfg.APIKeyHash,
			},
		}, log),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 70 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	g.Go(func() error {
		log.Info("HTTP server starting", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server ListenAndServe error", "error", err)
			return err
		}
		return nil
	})

	// --- Metrics ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: metricsMux}
	g.Go(func() error {
		log.Info("Metrics HTTP server starting", "address", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics HTTP server ListenAndServe error", "error", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		log.Info("Initiating graceful shutdown of servers...")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var shutdownErrors error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			shutdownErrors = errors.Join(shutdownErrors, fmt.Errorf("http shutdown: %w", err))
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			shutdownErrors = errors.Join(shutdownErrors, fmt.Errorf("metrics http shutdown: %w", err))
		}
		grpcServer.GracefulStop()
		return shutdownErrors
	})

	log.Info("Service is ready and running.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var groupErr error
	select {
	case sig := <-sigCh:
		log.Info("Received termination signal", "signal", sig.String())
	case groupErr = <-watchGroup(g):
		if groupErr != nil {
			log.Error("A critical component failed, initiating shutdown", "error", groupErr)
		}
	}

	mainCancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Error during graceful shutdown of components", "error", err)
	}

	engine.Stop()
	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	registry.Close(closeCtx)

	log.Info("Service shutdown complete.")
}

// watchGroup returns a channel that receives the result of g.Wait().
func watchGroup(g *errgroup.Group) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- g.Wait()
		close(errCh)
	}()
	return errCh
}

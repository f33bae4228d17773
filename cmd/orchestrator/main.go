// Package main is the entry point for the gatewayplane orchestrator.
// It keeps one gateway process alive per tenant sandbox, restarts
// unhealthy gateways and syncs changed files to object storage.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"k8s.io/utils/clock"

	"gatewayplane/internal/breaker"
	"gatewayplane/internal/config"
	"gatewayplane/internal/controller"
	"gatewayplane/internal/controller/handlers"
	"gatewayplane/internal/engine"
	"gatewayplane/internal/gateway"
	"gatewayplane/internal/health"
	"gatewayplane/internal/logger"
	"gatewayplane/internal/monitor"
	"gatewayplane/internal/objectstore"
	"gatewayplane/internal/observability"
	"gatewayplane/internal/presign"
	"gatewayplane/internal/restart"
	"gatewayplane/internal/sandbox"
	"gatewayplane/internal/sandbox/docker"
	"gatewayplane/internal/sandbox/local"
	"gatewayplane/internal/secrets"
	"gatewayplane/internal/store/postgres"
	"gatewayplane/internal/syncqueue"
	"gatewayplane/internal/transfer"
	"gatewayplane/internal/worker"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	configPath := flag.String("config", "", "Path to config file (default: gatewayplane.yaml in current directory)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := run(cfg, *migrateFlag, logger.New(cfg.LogLevel)); err != nil {
		log.Fatalf("Orchestrator failed: %v", err)
	}
}

func run(cfg *config.Config, migrate bool, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to DB: %w", err)
	}
	defer db.Close()

	if migrate {
		logger.Info("running database migrations")
		if err := postgres.Migrate(db.DB()); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		logger.Info("migrations completed")
	}

	service := observability.ServiceInfo{Name: "gatewayplane-orchestrator", Version: version}

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, service, observability.TracerConfig{
		CollectorAddr: cfg.OTELEndpoint,
		SampleRatio:   cfg.OTELSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", "error", err)
		}
	}()

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics(ctx, service)
	if err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			logger.Error("failed to shutdown metrics", "error", err)
		}
	}()
	metrics, err := observability.NewMetrics(observability.Meter())
	if err != nil {
		return err
	}

	// Object storage and grants
	var (
		objects objectstore.Store
		issuer  *presign.Issuer
		creds   presign.Credentials
	)
	if cfg.Storage.Enabled() {
		s3, err := objectstore.NewS3Store(ctx, objectstore.S3Config{
			Endpoint:        cfg.Storage.Endpoint,
			Region:          cfg.Storage.Region,
			Bucket:          cfg.Storage.Bucket,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			ForcePathStyle:  cfg.Storage.ForcePathStyle,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create object store: %w", err)
		}
		objects = s3
		if cfg.Storage.AccessKeyID != "" && cfg.Storage.Endpoint != "" {
			issuer = presign.NewIssuer(presign.Config{
				Endpoint:  cfg.Storage.Endpoint,
				Bucket:    cfg.Storage.Bucket,
				Region:    cfg.Storage.Region,
				PathStyle: cfg.Storage.ForcePathStyle,
			}, clock.RealClock{})
			creds = presign.Credentials{AccessKeyID: cfg.Storage.AccessKeyID, SecretAccessKey: cfg.Storage.SecretAccessKey}
		}
	} else {
		logger.Warn("no storage bucket configured, tenant data is kept in memory only")
		objects = objectstore.NewMemory()
	}
	tr := transfer.New(objects, issuer, creds, cfg.Sync.JobTimeout, logger)

	// Sandboxes
	var provider sandbox.Provider
	switch cfg.Sandbox.Backend {
	case "local":
		provider = local.NewProvider(cfg.Sandbox.Root, logger)
		logger.Info("using local sandboxes", "root", cfg.Sandbox.Root)
	default:
		dp, err := docker.NewProvider(cfg.Sandbox.Image, cfg.Sandbox.Network, logger)
		if err != nil {
			return fmt.Errorf("failed to create docker provider: %w", err)
		}
		provider = dp
		logger.Info("using docker sandboxes", "image", cfg.Sandbox.Image)
	}

	// Gateway lifecycle
	coord := gateway.NewCoordinator(gateway.Config{
		StartupTimeout: cfg.Gateway.StartupTimeout,
		Platform: gateway.Platform{
			GatewayPort:      cfg.Gateway.Port,
			GatewayCommand:   cfg.Gateway.Command,
			DataDir:          cfg.Gateway.DataDir,
			MasterSecret:     cfg.Gateway.MasterSecret,
			AIGatewayAPIKey:  cfg.Gateway.AIGatewayAPIKey,
			AIGatewayBaseURL: cfg.Gateway.AIGatewayBaseURL,
			AnthropicAPIKey:  cfg.Gateway.AnthropicAPIKey,
			AnthropicBaseURL: cfg.Gateway.AnthropicBaseURL,
			OpenAIAPIKey:     cfg.Gateway.OpenAIAPIKey,
		},
	}, secrets.NewStore(objects), objects, logger,
		gateway.WithRegistry(db),
		gateway.WithRestorer(gateway.NewRestorer(objects, tr, cfg.Gateway.DataDir, logger)),
	)
	defer coord.Close()

	clk := clock.RealClock{}
	healthEngine := health.NewEngine(health.Config{
		Port:         cfg.Gateway.Port,
		PortTimeout:  cfg.Health.PortTimeout,
		ProbeCommand: cfg.Health.ProbeCommand,
		ProbeTimeout: cfg.Health.ProbeTimeout,
	}, db, clk, logger)
	circuit := breaker.New(breaker.Config{Window: cfg.Breaker.Window, Threshold: cfg.Breaker.Threshold}, db, clk, logger)
	scheduler := restart.NewScheduler(healthEngine, circuit, restart.Policy{
		FailuresBeforeRestart: cfg.Restart.FailuresBeforeRestart,
		BaseDelay:             cfg.Restart.BaseDelay,
		MaxDelay:              cfg.Restart.MaxDelay,
	}, clk, logger)
	restarter := restart.NewExecutor(restart.ExecutorConfig{
		FlushTimeout: cfg.Restart.FlushTimeout,
		SettleDelay:  cfg.Restart.SettleDelay,
	}, scheduler, restart.NewSandboxFlusher(tr, cfg.Gateway.DataDir), coord, metrics, clk, logger)

	// Sync queue
	queue := syncqueue.New(syncqueue.Config{
		MaxConcurrent: cfg.Sync.Concurrency,
		MaxRetries:    cfg.Sync.MaxRetries,
	}, clk, logger)
	defer queue.Subscribe(metrics.RecordSync)()
	if err := observability.ObserveQueue(observability.Meter(), queue); err != nil {
		return err
	}

	eng := engine.New(engine.Deps{
		Provider:    provider,
		Coordinator: coord,
		Health:      healthEngine,
		Scheduler:   scheduler,
		Restarter:   restarter,
		Queue:       queue,
		Issuer:      issuer,
		Credentials: creds,
		Recorder:    metrics,
		Clock:       clk,
	}, logger)

	// Background loops
	agent := worker.New(queue, worker.NewSandboxExecutor(provider, tr, cfg.Gateway.DataDir, logger), worker.AgentConfig{
		ID:           "sync",
		Concurrency:  cfg.Sync.Concurrency,
		PollInterval: cfg.Sync.PollInterval,
		JobTimeout:   cfg.Sync.JobTimeout,
	}, logger)
	go agent.Run(ctx)

	mon := monitor.New(monitor.Config{
		Interval:    cfg.Health.Interval,
		Parallelism: cfg.Health.Parallelism,
		Timeout:     cfg.TenantStepTimeout(),
	}, db, eng, logger)
	go mon.Run(ctx)

	// API
	srv := controller.New(controller.Config{
		Addr:           fmt.Sprintf(":%d", cfg.HTTPPort),
		InternalSecret: cfg.InternalSecret,
		SyncRateLimit:  cfg.Sync.RateLimit,
		SyncRateBurst:  cfg.Sync.RateBurst,
		WriteTimeout:   cfg.Gateway.StartupTimeout + time.Minute,
	}, handlers.New(eng, db, logger), metricsHandler, logger)

	logger.Info("gatewayplane orchestrator starting", "port", cfg.HTTPPort)
	serverErr := srv.Run(ctx)

	logger.Info("shutting down orchestrator")
	stop()
	<-mon.Done()
	<-agent.Done()
	logger.Info("orchestrator exited properly")
	return serverErr
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aescanero/jobrelay/internal/application/jobs"
	"github.com/aescanero/jobrelay/internal/application/normalizer"
	"github.com/aescanero/jobrelay/internal/application/orchestrator"
	"github.com/aescanero/jobrelay/internal/application/resolver"
	"github.com/aescanero/jobrelay/internal/application/submission"
	"github.com/aescanero/jobrelay/internal/application/workers"
	"github.com/aescanero/jobrelay/internal/config"
	eventsmemory "github.com/aescanero/jobrelay/pkg/adapters/events/memory"
	"github.com/aescanero/jobrelay/pkg/adapters/events/redis"
	"github.com/aescanero/jobrelay/pkg/adapters/execapi"
	"github.com/aescanero/jobrelay/pkg/adapters/metrics/prometheus"
	"github.com/aescanero/jobrelay/pkg/adapters/reporting"
	"github.com/aescanero/jobrelay/pkg/adapters/storage/memory"
	redisstorage "github.com/aescanero/jobrelay/pkg/adapters/storage/redis"
	"github.com/aescanero/jobrelay/pkg/adapters/storage/sqlite"
	"github.com/aescanero/jobrelay/pkg/api/grpc"
	"github.com/aescanero/jobrelay/pkg/api/http"
	"github.com/aescanero/jobrelay/pkg/api/websocket"
	"github.com/aescanero/jobrelay/pkg/ports"

	prom "github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	if len(os.Args) > 1 && os.Args[1] == "submit" {
		code := runSubmit(cfg, logger, os.Args[2:], os.Stdout)
		_ = logger.Sync()
		os.Exit(code)
	}

	serve(cfg, logger)
}

// relay holds the wired components shared by serve and submit
type relay struct {
	orchestrator *orchestrator.Manager
	jobs         *jobs.Manager
	eventBus     ports.EventBus
	metrics      *prometheus.Collector
	closers      []func() error
}

func (r *relay) close(logger *zap.Logger) {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			logger.Error("close error", zap.Error(err))
		}
	}
}

// buildRelay wires stores, adapters and the orchestrator. Local mode keeps
// job records and events in memory and resolves applications from the
// pipeline registry. Metrics are registered with reg.
func buildRelay(ctx context.Context, cfg *config.Config, reg prom.Registerer, logger *zap.Logger) (*relay, error) {
	r := &relay{metrics: prometheus.NewCollectorWith(reg)}

	pipelines, err := sqlite.Open(cfg.Pipelines.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open pipeline registry: %w", err)
	}
	r.closers = append(r.closers, pipelines.Close)

	if cfg.Pipelines.SeedFile != "" {
		if _, err := pipelines.Seed(ctx, cfg.Pipelines.SeedFile); err != nil {
			r.close(logger)
			return nil, err
		}
	}

	remote, err := execapi.NewClient(&execapi.Config{
		BaseURL: cfg.Remote.BaseURL,
		Token:   cfg.Remote.Token,
		Timeout: cfg.Remote.RequestTimeout,
		Logger:  logger,
	})
	if err != nil {
		r.close(logger)
		return nil, err
	}

	var (
		jobStore ports.JobStore
		registry ports.AppRegistry
	)

	if cfg.LocalMode {
		logger.Warn("local mode: job records are kept in memory and runs stop before submission")
		jobStore = memory.NewInMemoryJobStore()
		r.eventBus = eventsmemory.NewInMemoryEventBus()
		registry = pipelines
	} else {
		redisClient := goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		r.closers = append(r.closers, redisClient.Close)

		if err := redisClient.Ping(ctx).Err(); err != nil {
			r.close(logger)
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))

		bus, err := redis.NewStreamsEventBus(
			redisClient,
			"jobrelay-workers",
			fmt.Sprintf("%s-%d", cfg.AgentID, os.Getpid()),
			logger,
		)
		if err != nil {
			r.close(logger)
			return nil, err
		}
		r.eventBus = bus
		jobStore = redisstorage.NewJobStore(redisClient, cfg.Redis.JobTTL, logger)
		registry = remote
	}
	r.closers = append(r.closers, r.eventBus.Close)

	policy, err := submission.ParsePolicy(cfg.Jobs.NotificationPolicy)
	if err != nil {
		r.close(logger)
		return nil, err
	}

	r.jobs = jobs.NewManager(jobStore, r.eventBus, jobs.Settings{
		CallbackBaseURL: cfg.Jobs.CallbackBaseURL,
		UpdatesNonce:    cfg.Jobs.UpdatesNonce,
		ArchiveSystem:   cfg.Jobs.ArchiveSystem,
		ArchiveRoot:     cfg.Jobs.ArchiveRoot,
	}, logger)

	r.orchestrator = orchestrator.NewManager(orchestrator.Dependencies{
		Normalizer: normalizer.New(),
		Resolver:   resolver.New(registry, pipelines, logger),
		Jobs:       r.jobs,
		Builder:    submission.NewBuilder(policy),
		Submitter:  submission.NewSubmitter(remote, logger),
		Reporter:   reporting.NewLogReporter(logger),
		Metrics:    r.metrics,
	}, orchestrator.Settings{
		Session: cfg.Nickname,
		Agent:   cfg.AgentID,
		DryRun:  cfg.LocalMode,
	}, logger)

	return r, nil
}

// serve runs the worker pool and the API servers until a signal arrives
func serve(cfg *config.Config, logger *zap.Logger) {
	logger.Info("starting job relay",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.Bool("local_mode", cfg.LocalMode))

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	r, err := buildRelay(ctx, cfg, prom.DefaultRegisterer, logger)
	if err != nil {
		logger.Fatal("failed to initialize relay", zap.Error(err))
	}
	defer r.close(logger)

	workerPool := workers.NewPool(
		cfg.Workers.PoolSize,
		cfg.Workers.QueueSize,
		r.eventBus,
		r.orchestrator,
		r.metrics,
		logger,
		cfg.Workers.HealthCheckInterval,
	)

	if err := workerPool.Start(); err != nil {
		logger.Fatal("failed to start worker pool", zap.Error(err))
	}

	httpServer := http.NewServer(&http.Config{
		Port:     cfg.HTTPPort,
		Runner:   r.orchestrator,
		Jobs:     r.jobs,
		EventBus: r.eventBus,
		Workers:  workerPool.Health(),
		Metrics:  r.metrics,
		Logger:   logger,
	})

	wsHandler := websocket.NewHandler(r.eventBus, logger)
	httpServer.SetupWebSocket(wsHandler)

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:   cfg.GRPCPort,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}
	go grpcServer.Watch(ctx, workerPool.Health(), cfg.Workers.HealthCheckInterval)

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := grpcServer.Start(); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	logger.Info("job relay started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("worker_pool_size", cfg.Workers.PoolSize))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	if err := workerPool.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker pool shutdown error", zap.Error(err))
	}

	if err := r.orchestrator.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown error", zap.Error(err))
	}

	stop()
	logger.Info("job relay shut down complete")
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(zapLevel)
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapConfig.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}

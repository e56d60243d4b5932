package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"delphi/internal/adapters/ai"
	"delphi/internal/adapters/config"
	"delphi/internal/adapters/embeddings"
	"delphi/internal/adapters/errors/noop"
	"delphi/internal/adapters/errors/sentry"
	"delphi/internal/adapters/kafka"
	"delphi/internal/adapters/postgres"
	"delphi/internal/adapters/redis"
	"delphi/internal/api"
	"delphi/internal/api/health"
	"delphi/internal/deliberation"
	"delphi/internal/events"
	"delphi/internal/metrics"
	repo "delphi/internal/repository/postgres"
	"delphi/internal/tasks"
	"delphi/internal/workers"
	"delphi/pkg/errors"
	"delphi/pkg/logger"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	log := logger.Get()
	log.Infof("Starting %s in %s mode", cfg.App.Name, cfg.App.Env)

	errorTracker := initErrorTracker(cfg, log)
	logger.SetErrorTracker(errorTracker)

	metrics.Register()

	// Databases
	pgClient, err := postgres.NewClient(cfg.Postgres)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer pgClient.Close()

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	// Event bus
	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers})
		defer producer.Close()
	} else {
		log.Info("Kafka disabled, lifecycle events will not be published")
	}

	// AI surface
	chat, err := ai.NewChatClient(cfg.AI.OpenAIKey, cfg.AI.Model, cfg.AI.RequestTimeout, cfg.AI.RatePerMinute)
	if err != nil {
		log.Fatalf("Failed to initialize chat client: %v", err)
	}

	registry := deliberation.NewDefaultRegistry(chat)
	debaters := deliberation.NewDefaultDebaters(chat)

	// Situation memory (optional)
	var situationMemory *deliberation.SituationMemory
	if cfg.Engine.MemoryEnabled {
		embedder, err := embeddings.NewOpenAIProvider(cfg.AI.OpenAIKey, cfg.AI.EmbeddingModel, cfg.AI.RequestTimeout)
		if err != nil {
			log.Fatalf("Failed to initialize embeddings provider: %v", err)
		}
		situationMemory = deliberation.NewSituationMemory(embedder, repo.NewMemoryRepository(pgClient.DB()))
		log.Info("Situation memory enabled")
	} else {
		log.Info("Situation memory disabled")
	}

	// Repositories, progress feed, lifecycle
	taskRepo := repo.NewTaskRepository(pgClient.DB())
	progressLog := repo.NewProgressLog(pgClient.DB())
	reportRepo := repo.NewReportRepository(pgClient.DB())

	broadcaster := events.NewBroadcaster(progressLog, redisClient)
	publisher := events.NewPublisher(producer)

	manager := tasks.NewManager(taskRepo, reportRepo, registry, broadcaster, publisher, redisClient, cfg.Engine)
	runner := tasks.NewRunner(manager, debaters, situationMemory, errorTracker)
	pool := tasks.NewPool(manager, runner, cfg.Engine.PoolSize)

	// Background workers
	scheduler := workers.NewScheduler()
	scheduler.RegisterWorker(workers.NewZombieReaper(manager, cfg.Engine.ZombieThreshold, cfg.Engine.ZombieSweep, true))

	// HTTP surface
	healthHandler := health.New(log, pgClient.DB(), redisClient.Client(), cfg.App.Name, version)
	server := api.NewServer(api.ServerConfig{
		Addr:        cfg.HTTP.Addr,
		ServiceName: cfg.App.Name,
		Version:     version,
	}, manager, healthHandler, log)

	log.Info("System initialized successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	if err := scheduler.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	go func() {
		if err := server.Start(); err != nil {
			log.Errorf("HTTP server error: %v", err)
			cancel()
		}
	}()

	waitForShutdown(ctx, cancel, server, pool, scheduler, cfg.HTTP.ShutdownTimeout, errorTracker, log)
}

// initErrorTracker initializes error tracking (Sentry or no-op)
func initErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return noop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return noop.New()
	}

	log.Info("Error tracking initialized (Sentry)")
	return tracker
}

// waitForShutdown waits for a shutdown signal, then stops the surfaces in
// dependency order: HTTP first, then the worker pool, then background
// workers.
func waitForShutdown(
	ctx context.Context,
	cancel context.CancelFunc,
	server *api.Server,
	pool *tasks.Pool,
	scheduler *workers.Scheduler,
	shutdownTimeout time.Duration,
	errorTracker errors.Tracker,
	log *logger.Logger,
) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case <-ctx.Done():
	}
	log.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("HTTP shutdown: %v", err)
	}

	cancel()
	pool.Stop()

	if err := scheduler.Stop(); err != nil {
		log.Warnf("Scheduler shutdown: %v", err)
	}

	if errorTracker != nil {
		if err := errorTracker.Flush(shutdownCtx); err != nil {
			log.Warnf("Failed to flush error tracker: %v", err)
		}
	}

	log.Info("Shutdown complete")
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/kursadbilgin/invoice-pipeline/internal/automation"
	"github.com/kursadbilgin/invoice-pipeline/internal/config"
	"github.com/kursadbilgin/invoice-pipeline/internal/infra/postgresql"
	"github.com/kursadbilgin/invoice-pipeline/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/invoice-pipeline/internal/infra/redis"
	"github.com/kursadbilgin/invoice-pipeline/internal/integrity"
	"github.com/kursadbilgin/invoice-pipeline/internal/observability"
	"github.com/kursadbilgin/invoice-pipeline/internal/pipeline"
	"github.com/kursadbilgin/invoice-pipeline/internal/queue"
	"github.com/kursadbilgin/invoice-pipeline/internal/recovery"
	"github.com/kursadbilgin/invoice-pipeline/internal/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	stateRepo := repository.NewGormStateRepo(db)
	groupRepo := repository.NewGormGroupRepo(db)
	attemptRepo := repository.NewGormAttemptRepo(db)

	metrics := observability.NewMetrics()

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	httpTransport, err := automation.NewHTTPTransport(cfg.AutomationBaseURL)
	if err != nil {
		logger.Fatal("automation transport initialization failed", zap.Error(err))
	}

	client, err := automation.NewClient(httpTransport, cfg.MaxRetries, logger)
	if err != nil {
		logger.Fatal("automation client initialization failed", zap.Error(err))
	}
	client.SetRateLimiter(limiter)
	client.SetAttemptRecorder(metrics)
	client.SetAttemptSink(attemptRepo)

	recoverer, err := recovery.NewService(stateRepo, recovery.DefaultPolicy(), logger)
	if err != nil {
		logger.Fatal("recovery service initialization failed", zap.Error(err))
	}

	orchestrator, err := pipeline.NewOrchestrator(
		stateRepo,
		groupRepo,
		recoverer,
		client,
		integrity.NewService(),
		pipeline.NewExcelParser(),
		pipeline.Config{
			ArtifactDir:      cfg.ArtifactDir,
			GroupConcurrency: cfg.GroupConcurrency,
		},
		logger,
	)
	if err != nil {
		logger.Fatal("orchestrator initialization failed", zap.Error(err))
	}
	orchestrator.SetMetrics(metrics)

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	consumer := queue.NewRabbitMQConsumer(rabbit, cfg.ConsumerPrefetch, logger)
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("invoice-pipeline worker started",
		zap.String("queue", queue.IngestQueue),
		zap.Int("groupConcurrency", cfg.GroupConcurrency),
	)

	err = consumer.Consume(ctx, queue.IngestQueue, func(ctx context.Context, msg queue.IngestMessage) error {
		summary, runErr := orchestrator.Run(ctx, pipeline.Intake{
			SourceRef: msg.SourceRef,
			Files:     msg.Files,
		})
		if runErr != nil {
			return runErr
		}

		logger.Info("batch processed",
			zap.String("batchId", summary.BatchID),
			zap.String("sourceRef", summary.SourceRef),
			zap.Int("groupsUploaded", summary.GroupsUploaded),
			zap.Int("groupsFailed", summary.GroupsFailed),
			zap.String("runStatus", string(summary.Metrics.Status)),
		)
		return nil
	})
	if err != nil {
		logger.Fatal("consumer stopped", zap.Error(err))
	}

	logger.Info("worker shut down")
}

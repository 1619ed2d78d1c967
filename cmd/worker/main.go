package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/jhossain1509/email-database-manager/internal/classifier"
	"github.com/jhossain1509/email-database-manager/internal/config"
	"github.com/jhossain1509/email-database-manager/internal/db"
	"github.com/jhossain1509/email-database-manager/internal/events"
	"github.com/jhossain1509/email-database-manager/internal/logging"
	"github.com/jhossain1509/email-database-manager/internal/metrics"
	"github.com/jhossain1509/email-database-manager/internal/pipeline"
	"github.com/jhossain1509/email-database-manager/internal/queue"
	"github.com/jhossain1509/email-database-manager/internal/scheduler"
	"github.com/jhossain1509/email-database-manager/internal/smtpverify"
	"github.com/jhossain1509/email-database-manager/internal/storage/artifacts"
	"github.com/jhossain1509/email-database-manager/internal/storage/redis"
	"github.com/jhossain1509/email-database-manager/internal/validator"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Server.Mode)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	database, err := db.NewConnection(cfg.Database.URL, cfg.Database.MaxConnections, cfg.Database.MaxIdleConns)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(database); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
	}

	repo := db.NewRepository(database)

	cache := redis.NewClient(cfg.Redis.URL)
	defer cache.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collector := metrics.NewCollector(cfg.Mimir, logger)
	sink := events.NewRedisSink(cache.Client)
	jobQueue := queue.NewRedisQueue(cache.Client).WithPolling(cfg.Worker.PollInterval)

	mx := validator.NewCachedMXChecker(cache,
		validator.NewDNSResolver(cfg.Validation.DNSServer, cfg.Validation.DNSTimeout),
		cfg.Redis.MXCacheTTL, logger)
	v := validator.New(classifier.New(cfg.Validation.Classifier()), validator.NewStaticIgnoreList(nil), mx)

	prober := smtpverify.NewSMTPProber(cfg.SMTP.HeloName)
	engine := smtpverify.NewEngine(prober, repo, collector, cfg.SMTP.RatePerSecond, logger)

	store, err := artifacts.New(ctx, cfg.Storage.Backend, cfg.Files.ExportDir, artifacts.S3Config{
		Bucket: cfg.Storage.S3Bucket,
		Prefix: cfg.Storage.S3Prefix,
		Region: cfg.Storage.S3Region,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create artifact store", zap.Error(err))
	}

	deps := pipeline.Deps{
		Store:         repo,
		Validator:     v,
		Sink:          sink,
		Observer:      collector,
		EventObserver: collector,
		Logger:        logger,
	}
	health := scheduler.NewHealthChecker(repo, prober, collector, sink, collector, logger)
	dispatcher := scheduler.NewDispatcher(repo,
		pipeline.NewImporter(deps),
		pipeline.NewBatchValidator(deps, engine),
		pipeline.NewExporter(deps, cfg.Files.ExportDir, store),
		health, sink, collector, logger)

	locks := func(key string, ttl time.Duration) scheduler.JobLock {
		return cache.NewLock(key, ttl)
	}
	pool := scheduler.NewPool(scheduler.PoolConfig{
		Concurrency: cfg.Worker.Concurrency,
		PopTimeout:  cfg.Worker.PopTimeout,
		LockTTL:     cfg.Worker.JobLockTTL,
	}, jobQueue, dispatcher, locks, collector, logger)

	done := make(chan struct{})
	go func() {
		pool.Start(ctx)
		close(done)
	}()

	go collector.StartRemoteWrite(ctx)

	logger.Info("Worker started", zap.Int("concurrency", cfg.Worker.Concurrency))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	cancel()
	<-done
	logger.Info("Worker exited")
}

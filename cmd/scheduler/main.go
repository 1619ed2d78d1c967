package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/jhossain1509/email-database-manager/internal/config"
	"github.com/jhossain1509/email-database-manager/internal/db"
	"github.com/jhossain1509/email-database-manager/internal/logging"
	"github.com/jhossain1509/email-database-manager/internal/queue"
	"github.com/jhossain1509/email-database-manager/internal/scheduler"
	"github.com/jhossain1509/email-database-manager/internal/storage/redis"
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

	cache := redis.NewClient(cfg.Redis.URL)
	defer cache.Close()

	sched := scheduler.NewScheduler(db.NewRepository(database), queue.NewRedisQueue(cache.Client), cfg.SMTP.HealthInterval, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Start(ctx)
		close(done)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down scheduler...")
	cancel()
	<-done
	logger.Info("Scheduler stopped")
}

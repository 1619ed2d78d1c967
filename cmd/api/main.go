package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/jhossain1509/email-database-manager/internal/api"
	"github.com/jhossain1509/email-database-manager/internal/api/handlers"
	"github.com/jhossain1509/email-database-manager/internal/config"
	"github.com/jhossain1509/email-database-manager/internal/db"
	"github.com/jhossain1509/email-database-manager/internal/events"
	"github.com/jhossain1509/email-database-manager/internal/logging"
	"github.com/jhossain1509/email-database-manager/internal/metrics"
	"github.com/jhossain1509/email-database-manager/internal/queue"
	"github.com/jhossain1509/email-database-manager/internal/storage/artifacts"
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

	if cfg.Auth.JWTSecret == "" {
		logger.Fatal("JWT secret is not configured")
	}
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

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

	store, err := artifacts.New(ctx, cfg.Storage.Backend, cfg.Files.ExportDir, artifacts.S3Config{
		Bucket: cfg.Storage.S3Bucket,
		Prefix: cfg.Storage.S3Prefix,
		Region: cfg.Storage.S3Region,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create artifact store", zap.Error(err))
	}

	collector := metrics.NewCollector(cfg.Mimir, logger)
	h := handlers.NewHandler(repo,
		queue.NewRedisQueue(cache.Client),
		events.NewRedisSink(cache.Client),
		store, cfg.Files, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           api.NewRouter(h, cfg.Auth.JWTSecret, collector.Handler(), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("API server started", zap.String("port", cfg.Server.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

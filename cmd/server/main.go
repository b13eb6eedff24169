// Package main provides the API server entry point for the extraction service.
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

	"github.com/insta-extractor/internal/api"
	"github.com/insta-extractor/internal/coins"
	"github.com/insta-extractor/internal/config"
	"github.com/insta-extractor/internal/logging"
	"github.com/insta-extractor/internal/pipeline"
	"github.com/insta-extractor/internal/ratelimit"
	"github.com/insta-extractor/internal/service"
	"github.com/insta-extractor/internal/storage"
	"github.com/insta-extractor/internal/upstream"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()

	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	results, closeResults, err := storage.OpenResultStore(&cfg.Database.ClickHouse, postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open result store")
	}
	defer closeResults()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	logger.WithField("clickhouse", cfg.Database.ClickHouse.Enabled).Info("Database connections established")

	// Initialize repositories
	jobRepo := storage.NewJobRepository(postgres)
	userRepo := storage.NewUserRepository(postgres)
	cacheService := storage.NewCacheService(redis, 24*time.Hour)

	// count lookups answer users directly and draw on the reserved budget
	countOpts, err := ratelimit.ClientOptions(redis.Client(), &cfg.Upstream.Budget, ratelimit.PriorityHigh)
	if err != nil {
		logger.WithError(err).Fatal("Invalid upstream budget")
	}
	pageOpts, err := ratelimit.ClientOptions(redis.Client(), &cfg.Upstream.Budget, ratelimit.PriorityLow)
	if err != nil {
		logger.WithError(err).Fatal("Invalid upstream budget")
	}
	countClient := upstream.NewClient(&cfg.Upstream, countOpts...)
	pageClient := upstream.NewClient(&cfg.Upstream, pageOpts...)

	// Initialize services
	estimator := coins.NewEstimator(countClient, cacheService, cfg.Cache.CountTTL, cfg.Coins.FallbackEstimate)
	jobService := service.NewJobService(jobRepo, userRepo, estimator, cacheService)
	exportService := service.NewExportService(jobRepo, results)

	processor := pipeline.NewProcessor(pipeline.Config{
		Store:     jobRepo,
		Source:    pageClient,
		Sink:      results,
		Refunder:  coins.NewLedger(userRepo),
		Publisher: cacheService,
	})

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    3 * time.Minute, // covers one chunk webhook
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		UserRPS:         cfg.Server.UserRPS,
		WebhookSecret:   cfg.Webhook.Secret,
		ChunkTimeout:    2 * time.Minute,
	}
	if serverConfig.WebhookSecret == "" {
		logger.Warn("WEBHOOK_SECRET is empty; chunk webhooks will be rejected")
	}

	server := api.NewServer(serverConfig, jobService, exportService, processor)
	// an open breaker only means upstream calls fail fast, so it is reported
	// without failing the check
	server.AddHealthCheck("upstream", func() (string, bool) {
		return string(pageClient.BreakerState()), true
	})
	server.AddHealthCheck("redis", func() (string, bool) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := redis.Client().Ping(ctx).Err(); err != nil {
			return err.Error(), false
		}
		return "ok", true
	})

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}

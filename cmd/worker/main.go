// Package main provides the extraction worker entry point.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/insta-extractor/internal/coins"
	"github.com/insta-extractor/internal/config"
	"github.com/insta-extractor/internal/logging"
	"github.com/insta-extractor/internal/pipeline"
	"github.com/insta-extractor/internal/ratelimit"
	"github.com/insta-extractor/internal/storage"
	"github.com/insta-extractor/internal/upstream"
	"github.com/insta-extractor/internal/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

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

	jobRepo := storage.NewJobRepository(postgres)
	userRepo := storage.NewUserRepository(postgres)
	cacheService := storage.NewCacheService(redis, 24*time.Hour)

	// extraction pages draw on the shared pool; the gate also pauses polling
	var opts []upstream.Option
	var throttle worker.Throttle
	gate, err := ratelimit.NewGateFromConfig(redis.Client(), &cfg.Upstream.Budget, ratelimit.PriorityLow)
	if err != nil {
		logger.WithError(err).Fatal("Invalid upstream budget")
	}
	if gate != nil {
		opts = append(opts, upstream.WithBudget(gate))
		throttle = gate
		logger.WithField("per_window", cfg.Upstream.Budget.PerWindow).Info("Shared upstream budget enabled")
	}
	client := upstream.NewClient(&cfg.Upstream, opts...)

	processor := pipeline.NewProcessor(pipeline.Config{
		Store:     jobRepo,
		Source:    client,
		Sink:      results,
		Refunder:  coins.NewLedger(userRepo),
		Publisher: cacheService,
	})

	hostname, _ := os.Hostname()
	poller, err := worker.NewPoller(&worker.PollerConfig{
		ID:           hostname,
		Jobs:         jobRepo,
		Runner:       processor,
		Throttle:     throttle,
		PollInterval: cfg.Worker.PollInterval,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create poller")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan error, 1)
	go func() { done <- poller.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			logger.WithError(err).Fatal("Poller failed")
		}
	case <-ctx.Done():
		logger.Info("Shutdown requested, waiting for the current job...")
		// without a timeout the job in hand always runs to its end
		var expired <-chan time.Time
		if cfg.Worker.ShutdownTimeout > 0 {
			expired = time.After(cfg.Worker.ShutdownTimeout)
		}
		select {
		case <-done:
		case <-expired:
			// a job left in processing is never claimed again, so end it here
			abandonCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			id, err := poller.Abandon(abandonCtx, "worker shut down before the job finished")
			cancel()
			log := logger.WithField("job_id", id)
			if err != nil {
				log.WithError(err).Error("Shutdown timeout exceeded, could not fail job in progress")
			} else {
				log.Warn("Shutdown timeout exceeded, job in progress marked failed")
			}
		}
	}

	status := poller.GetStatus()
	logger.WithFields(map[string]interface{}{
		"completed":   status.Completed,
		"failed":      status.Failed,
		"claims_lost": status.ClaimsLost,
	}).Info("Worker exited")
}

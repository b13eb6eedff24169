// Package main runs one extraction directly, without the job queue.
//
// The user's coins are checked and debited up front, unlike queued jobs
// which pay when they are created.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jessevdk/go-flags"

	"github.com/insta-extractor/internal/coins"
	"github.com/insta-extractor/internal/config"
	"github.com/insta-extractor/internal/extraction"
	"github.com/insta-extractor/internal/logging"
	"github.com/insta-extractor/internal/models"
	"github.com/insta-extractor/internal/ratelimit"
	"github.com/insta-extractor/internal/service"
	"github.com/insta-extractor/internal/storage"
	"github.com/insta-extractor/internal/types"
	"github.com/insta-extractor/internal/upstream"
)

type options struct {
	User    string        `long:"user" short:"u" required:"true" description:"User whose coins pay for the extraction"`
	Type    string        `long:"type" short:"t" required:"true" description:"followers, following, likers, commenters, posts or hashtags"`
	Targets []string      `long:"target" description:"Handle or hashtag to read (repeatable, or comma separated)"`
	URLs    []string      `long:"url" description:"Post URL for likers and commenters (repeatable)"`
	Filters string        `long:"filters" default:"{}" description:"Filter JSON for the extraction type"`
	Out     string        `long:"out" short:"o" description:"Write the extracted items to this XLSX file"`
	Timeout time.Duration `long:"timeout" default:"30m" description:"Give up after this long"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return
		}
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()

	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	t, ok := types.ParseExtractionType(opts.Type)
	if !ok {
		logger.Fatalf("Unknown extraction type %q", opts.Type)
	}

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

	budgetOpts, err := ratelimit.ClientOptions(redis.Client(), &cfg.Upstream.Budget, ratelimit.PriorityHigh)
	if err != nil {
		logger.WithError(err).Fatal("Invalid upstream budget")
	}
	client := upstream.NewClient(&cfg.Upstream, budgetOpts...)
	cacheService := storage.NewCacheService(redis, 24*time.Hour)
	estimator := coins.NewEstimator(client, cacheService, cfg.Cache.CountTTL, cfg.Coins.FallbackEstimate)
	ledger := coins.NewLedger(storage.NewUserRepository(postgres))

	targets := opts.Targets
	if t.NeedsURLs() {
		targets = opts.URLs
	}
	job := &models.ExtractionJob{
		ID:              uuid.NewString(),
		UserID:          opts.User,
		ExtractionType:  t,
		TargetUsernames: models.JoinTargets(targets),
		URLs:            opts.URLs,
		Filters:         opts.Filters,
		Status:          types.StatusProcessing,
		RequestedAt:     time.Now().UTC(),
	}
	jc, err := extraction.NewJobContext(job)
	if err != nil {
		logger.WithError(err).Fatal("Invalid extraction")
	}
	jc.SkipCoinCheck = false

	jobLog := logger.ForJob(job.ID, job.UserID, string(t))
	reporter := extraction.ReporterFunc(func(ctx context.Context, jobID string, extracted int64) error {
		jobLog.WithField("extracted", extracted).Info("page done")
		return nil
	})
	runner := extraction.NewRunner(client, results, reporter, extraction.WithCoinCheck(ledger, estimator))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(logging.WithLogger(ctx, jobLog), opts.Timeout)
	defer cancel()

	start := time.Now()
	res, runErr := runner.Run(ctx, jc, extraction.Cursor{})
	if res == nil {
		jobLog.WithError(runErr).Fatal("Extraction did not start")
	}
	if runErr != nil {
		jobLog.WithError(runErr).Error("Extraction stopped early")
	}

	fmt.Printf("job %s: %d items over %d pages in %s\n", job.ID, res.Extracted, res.Pages, time.Since(start).Round(time.Second))
	if res.Next != nil {
		fmt.Printf("stopped at cursor %s\n", res.Next)
	}

	if runErr == nil {
		if due := coins.RefundDue(t, jc.Filters.CoinLimit, res.ActualCoinCost); due > 0 {
			balance, err := ledger.Refund(context.Background(), job.UserID, due)
			if err != nil {
				jobLog.WithError(err).Error("Refund failed")
			} else {
				fmt.Printf("refunded %d coins, balance %d\n", due, balance)
			}
		}
	}

	if opts.Out != "" {
		if err := writeWorkbook(context.Background(), results, job, opts.Out); err != nil {
			jobLog.WithError(err).Fatal("Failed to write workbook")
		}
		fmt.Printf("wrote %s\n", opts.Out)
	}

	if runErr != nil {
		os.Exit(1)
	}
}

func writeWorkbook(ctx context.Context, results storage.ResultStore, job *models.ExtractionJob, path string) error {
	items, err := results.ListByJob(ctx, job.ID, 0)
	if err != nil {
		return err
	}
	data, err := service.RenderWorkbook(job.ExtractionType, items)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

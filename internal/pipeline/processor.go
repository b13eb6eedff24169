// Package pipeline owns the extraction job state machine.
//
// Jobs advance through one of two triggers: the poller runs a claimed job to
// the end (RunJob), while the chunk webhook advances a job one upstream page
// per invocation (ProcessChunk). Both share the transitions, the failure
// handling and the refund reconciliation defined here.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/insta-extractor/internal/coins"
	apperrors "github.com/insta-extractor/internal/errors"
	"github.com/insta-extractor/internal/extraction"
	"github.com/insta-extractor/internal/logging"
	"github.com/insta-extractor/internal/models"
	"github.com/insta-extractor/internal/retry"
	"github.com/insta-extractor/internal/storage"
	"github.com/insta-extractor/internal/types"
)

// JobStore is the job persistence the state machine needs.
// *storage.JobRepository implements it.
type JobStore interface {
	UpdateProgress(ctx context.Context, id string, progress int64) error
	MarkCompleted(ctx context.Context, id string, progress int64) error
	MarkFailed(ctx context.Context, id string, message string) error
	FailChunk(ctx context.Context, id string, expectedPageCount int, message string) (bool, error)
	SaveChunk(ctx context.Context, id string, expectedPageCount int, u storage.ChunkUpdate) (bool, error)
}

// ProgressPublisher announces progress to live subscribers.
// *storage.CacheService implements it.
type ProgressPublisher interface {
	PublishProgress(ctx context.Context, jobID string, progress int64) error
}

// Refunder returns coins to a user. *coins.Ledger implements it.
type Refunder interface {
	Refund(ctx context.Context, userID string, amount int64) (int64, error)
}

// ErrChunkConflict is returned when another invocation advanced the job first
var ErrChunkConflict = errors.New("job was advanced by a concurrent chunk")

// Processor runs extraction jobs and records their state
type Processor struct {
	store     JobStore
	runner    *extraction.Runner
	refunder  Refunder
	publisher ProgressPublisher
	now       func() time.Time
	// terminal retries the final status write of a poller run
	terminal *retry.RetryConfig
}

// terminalWriteRetry retries transient database errors. UpdateFailed means
// the row is already terminal, so repeating the write cannot help.
func terminalWriteRetry() *retry.RetryConfig {
	return &retry.RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		ShouldRetry: func(err error) bool {
			return apperrors.IsRetryable(err) && !apperrors.HasCode(err, apperrors.CodeUpdateFailed)
		},
	}
}

// Config wires a Processor
type Config struct {
	Store     JobStore
	Source    extraction.Source
	Sink      extraction.ResultSink
	Refunder  Refunder          // nil disables refunds
	Publisher ProgressPublisher // nil disables live progress
}

// NewProcessor creates a processor
func NewProcessor(cfg Config) *Processor {
	p := &Processor{
		store:     cfg.Store,
		refunder:  cfg.Refunder,
		publisher: cfg.Publisher,
		now:       time.Now,
		terminal:  terminalWriteRetry(),
	}
	p.runner = extraction.NewRunner(cfg.Source, cfg.Sink, p)
	return p
}

// ReportProgress persists the running item count and publishes it
func (p *Processor) ReportProgress(ctx context.Context, jobID string, extracted int64) error {
	if err := p.store.UpdateProgress(ctx, jobID, extracted); err != nil {
		return err
	}
	p.publish(ctx, jobID, extracted)
	return nil
}

func (p *Processor) publish(ctx context.Context, jobID string, extracted int64) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishProgress(ctx, jobID, extracted); err != nil {
		logging.FromContext(ctx).WithError(err).Debug("progress publish failed")
	}
}

func withJobLogger(ctx context.Context, job *models.ExtractionJob) context.Context {
	log := logging.FromContext(ctx).ForJob(job.ID, job.UserID, string(job.ExtractionType))
	return logging.WithLogger(ctx, log)
}

// RunJob extracts every page of a job claimed by the poller and records the
// terminal state. Progress is the true number of items extracted.
func (p *Processor) RunJob(ctx context.Context, job *models.ExtractionJob) error {
	ctx = withJobLogger(ctx, job)
	log := logging.FromContext(ctx)
	started := p.now()

	jc, err := extraction.NewJobContext(job)
	if err != nil {
		return p.fail(ctx, job, err)
	}
	jc.SkipCoinCheck = true

	from, err := extraction.ParseCursor(job.Cursor())
	if err != nil {
		return p.fail(ctx, job, err)
	}

	log.Info("extraction started")
	res, err := p.runner.Run(ctx, jc, from)
	if err != nil {
		return p.fail(ctx, job, err)
	}

	err = retry.Do(context.WithoutCancel(ctx), p.terminal, func(ctx context.Context, _ int) error {
		return p.store.MarkCompleted(ctx, job.ID, res.Extracted)
	})
	if apperrors.HasCode(err, apperrors.CodeUpdateFailed) {
		// another writer already ended the job, e.g. an abandoning worker
		log.WithError(err).Warn("job was finished elsewhere; completion dropped")
		return err
	}
	if err != nil {
		// the items are stored; a job stuck in processing would never be
		// picked up again, so record a failure and still settle the coins
		p.fail(ctx, job, fmt.Errorf("record completion: %w", err))
		p.reconcile(ctx, job, jc, res.ActualCoinCost)
		return err
	}
	p.publish(ctx, job.ID, res.Extracted)

	log.WithFields(map[string]interface{}{
		"extracted": res.Extracted,
		"pages":     res.Pages,
		"duration":  p.now().Sub(started).String(),
	}).Info("extraction completed")

	p.reconcile(ctx, job, jc, res.ActualCoinCost)
	return nil
}

// ChunkOutcome is the job state after one chunk invocation
type ChunkOutcome struct {
	ID           string          `json:"id"`
	Status       types.JobStatus `json:"status"`
	Progress     int64           `json:"progress"`
	PageCount    int             `json:"page_count"`
	NextPageID   *string         `json:"next_page_id"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at"`
}

func snapshot(job *models.ExtractionJob) *ChunkOutcome {
	return &ChunkOutcome{
		ID:           job.ID,
		Status:       job.Status,
		Progress:     job.Progress,
		PageCount:    job.PageCount,
		NextPageID:   job.NextPageID,
		ErrorMessage: job.ErrorMessage,
		CompletedAt:  job.CompletedAt,
	}
}

// ProcessChunk advances a job by exactly one upstream page starting at its
// stored cursor. Terminal jobs are returned unchanged. The job is done when
// the cursor runs out or the coin limit's item budget is reached.
func (p *Processor) ProcessChunk(ctx context.Context, job *models.ExtractionJob) (*ChunkOutcome, error) {
	if job.Status.IsTerminal() {
		return snapshot(job), nil
	}
	if !types.CanTransition(job.Status, types.StatusInProgress) {
		return nil, apperrors.NewConflictError("job " + job.ID + " is " + string(job.Status) + " and owned by the poller")
	}

	ctx = withJobLogger(ctx, job)

	jc, err := extraction.NewJobContext(job)
	if err != nil {
		return nil, p.failChunk(ctx, job, err)
	}
	jc.SkipCoinCheck = true

	at, err := extraction.ParseCursor(job.Cursor())
	if err != nil {
		return nil, p.failChunk(ctx, job, err)
	}

	res, err := p.runner.Step(ctx, jc, at)
	if err != nil {
		return nil, p.failChunk(ctx, job, err)
	}

	done := res.Next == nil || (jc.Budget >= 0 && res.Extracted >= jc.Budget)
	update := storage.ChunkUpdate{
		Status:   types.StatusInProgress,
		Progress: res.Extracted,
	}
	if done {
		now := p.now().UTC()
		update.Status = types.StatusCompleted
		update.CompletedAt = &now
	} else {
		next := res.Next.String()
		update.NextPageID = &next
	}

	saved, err := p.store.SaveChunk(ctx, job.ID, job.PageCount, update)
	if err != nil {
		return nil, err
	}
	if !saved {
		return nil, ErrChunkConflict
	}
	p.publish(ctx, job.ID, res.Extracted)

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"page":      job.PageCount + 1,
		"extracted": res.Extracted,
		"status":    string(update.Status),
	}).Info("chunk processed")

	if done {
		p.reconcile(ctx, job, jc, res.ActualCoinCost)
	}

	return &ChunkOutcome{
		ID:          job.ID,
		Status:      update.Status,
		Progress:    max(job.Progress, res.Extracted),
		PageCount:   job.PageCount + 1,
		NextPageID:  update.NextPageID,
		CompletedAt: update.CompletedAt,
	}, nil
}

// fail records a terminal failure and returns the cause
func (p *Processor) fail(ctx context.Context, job *models.ExtractionJob, cause error) error {
	log := logging.FromContext(ctx).WithError(cause)
	log.Error("extraction failed")

	// the failure must be recorded even when the trigger's context is gone
	err := retry.Do(context.WithoutCancel(ctx), p.terminal, func(ctx context.Context, _ int) error {
		return p.store.MarkFailed(ctx, job.ID, cause.Error())
	})
	if err != nil {
		log.WithField("markError", err.Error()).Error("could not record job failure")
	}
	return cause
}

// failChunk records a chunk failure under the same guard as SaveChunk. When
// the snapshot is stale the job belongs to someone else and is left alone.
func (p *Processor) failChunk(ctx context.Context, job *models.ExtractionJob, cause error) error {
	log := logging.FromContext(ctx).WithError(cause)

	failed, err := p.store.FailChunk(context.WithoutCancel(ctx), job.ID, job.PageCount, cause.Error())
	if err != nil {
		log.WithField("markError", err.Error()).Error("could not record chunk failure")
		return cause
	}
	if !failed {
		log.WithField("page_count", job.PageCount).Warn("stale chunk failed; job left to its owner")
		return fmt.Errorf("%w: %v", ErrChunkConflict, cause)
	}
	log.Error("extraction failed")
	return cause
}

// reconcile refunds the unspent part of a coin limit. A failed refund is
// logged and never undoes the job's completion.
func (p *Processor) reconcile(ctx context.Context, job *models.ExtractionJob, jc *extraction.JobContext, actual int64) {
	if p.refunder == nil {
		return
	}
	due := coins.RefundDue(job.ExtractionType, jc.Filters.CoinLimit, actual)
	if due <= 0 {
		return
	}

	log := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"coinLimit":  jc.Filters.Limit(),
		"actualCost": actual,
		"refund":     due,
	})
	if _, err := p.refunder.Refund(ctx, job.UserID, due); err != nil {
		log.WithError(err).Error("refund failed")
		return
	}
	log.Info("unused coins refunded")
}

// Package worker runs the pending-job poller.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/insta-extractor/internal/logging"
	"github.com/insta-extractor/internal/models"
	"github.com/insta-extractor/internal/types"
)

// JobSource finds and claims pending jobs, and fails a job the worker has to
// give up. *storage.JobRepository implements it.
type JobSource interface {
	NextPending(ctx context.Context) (*models.ExtractionJob, error)
	Claim(ctx context.Context, id string, from, to types.JobStatus) (bool, error)
	MarkFailed(ctx context.Context, id string, message string) error
}

// JobRunner runs a claimed job to a terminal state. *pipeline.Processor implements it.
type JobRunner interface {
	RunJob(ctx context.Context, job *models.ExtractionJob) error
}

// Throttle holds off new claims while the upstream budget is nearly spent.
// *ratelimit.Gate implements it.
type Throttle interface {
	ShouldPause(ctx context.Context) bool
}

// Poller claims one pending job at a time and runs it
type Poller struct {
	id           string
	jobs         JobSource
	runner       JobRunner
	throttle     Throttle
	pollInterval time.Duration

	mu           sync.RWMutex
	running      bool
	currentJob   string
	lastPollTime time.Time
	completed    int64
	failed       int64
	claimsLost   int64
	paused       int64
}

// PollerConfig holds configuration for a poller
type PollerConfig struct {
	ID           string // shown in logs; several pollers may share a database
	Jobs         JobSource
	Runner       JobRunner
	Throttle     Throttle // optional
	PollInterval time.Duration
}

// NewPoller creates a poller
func NewPoller(cfg *PollerConfig) (*Poller, error) {
	if cfg.Jobs == nil {
		return nil, fmt.Errorf("job source cannot be nil")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("job runner cannot be nil")
	}

	// Default poll interval: 3 seconds
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}

	id := cfg.ID
	if id == "" {
		id = "poller"
	}

	return &Poller{
		id:           id,
		jobs:         cfg.Jobs,
		runner:       cfg.Runner,
		throttle:     cfg.Throttle,
		pollInterval: pollInterval,
	}, nil
}

// Run polls until ctx is cancelled. A job that is already running when ctx
// is cancelled is allowed to finish; Run returns once it has.
func (p *Poller) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("poller %s is already running", p.id)
	}
	p.running = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	log := logging.FromContext(ctx).WithField("poller", p.id)
	log.Infof("poller started with poll interval %v", p.pollInterval)

	for {
		if ctx.Err() != nil {
			log.Info("poller stopped")
			return nil
		}

		busy, err := p.PollOnce(ctx)
		if err != nil {
			log.WithError(err).Warn("poll failed")
		}
		if busy && err == nil {
			continue
		}

		timer := time.NewTimer(p.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info("poller stopped")
			return nil
		case <-timer.C:
		}
	}
}

// PollOnce claims and runs the oldest pending job. busy is false when there
// was nothing to do, so the caller should wait before polling again.
func (p *Poller) PollOnce(ctx context.Context) (busy bool, err error) {
	p.mu.Lock()
	p.lastPollTime = time.Now()
	p.mu.Unlock()

	if p.throttle != nil && p.throttle.ShouldPause(ctx) {
		p.mu.Lock()
		p.paused++
		p.mu.Unlock()
		return false, nil
	}

	job, err := p.jobs.NextPending(ctx)
	if err != nil {
		return false, fmt.Errorf("find pending job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	claimed, err := p.jobs.Claim(ctx, job.ID, types.StatusPending, types.StatusProcessing)
	if err != nil {
		return false, fmt.Errorf("claim job %s: %w", job.ID, err)
	}
	log := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"poller": p.id,
		"job_id": job.ID,
	})
	if !claimed {
		p.mu.Lock()
		p.claimsLost++
		p.mu.Unlock()
		log.Debug("job claimed by another poller")
		return true, nil
	}
	job.Status = types.StatusProcessing

	p.mu.Lock()
	p.currentJob = job.ID
	p.mu.Unlock()

	// shutdown stops new claims, not the job in hand
	runErr := p.runner.RunJob(context.WithoutCancel(ctx), job)

	p.mu.Lock()
	p.currentJob = ""
	if runErr != nil {
		p.failed++
	} else {
		p.completed++
	}
	p.mu.Unlock()

	if runErr != nil {
		log.WithError(runErr).Info("job finished with failure")
	}
	return true, nil
}

// Abandon fails the job in hand, if any, with reason. The worker calls it when
// its shutdown timeout expires, since nothing claims a job left in processing.
// It returns the abandoned job id.
func (p *Poller) Abandon(ctx context.Context, reason string) (string, error) {
	p.mu.RLock()
	id := p.currentJob
	p.mu.RUnlock()
	if id == "" {
		return "", nil
	}
	if err := p.jobs.MarkFailed(ctx, id, reason); err != nil {
		return id, fmt.Errorf("abandon job %s: %w", id, err)
	}
	return id, nil
}

// PollerStatus represents the poller's status
type PollerStatus struct {
	ID           string    `json:"id"`
	Running      bool      `json:"running"`
	CurrentJob   string    `json:"currentJob,omitempty"`
	LastPollTime time.Time `json:"lastPollTime"`
	Completed    int64     `json:"completed"`
	Failed       int64     `json:"failed"`
	ClaimsLost   int64     `json:"claimsLost"`
	Paused       int64     `json:"paused"`
}

// GetStatus returns the current poller status
func (p *Poller) GetStatus() *PollerStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return &PollerStatus{
		ID:           p.id,
		Running:      p.running,
		CurrentJob:   p.currentJob,
		LastPollTime: p.lastPollTime,
		Completed:    p.completed,
		Failed:       p.failed,
		ClaimsLost:   p.claimsLost,
		Paused:       p.paused,
	}
}

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/insta-extractor/internal/logging"
)

// Default gate configuration values.
const (
	DefaultMaxWait        = 30 * time.Second
	DefaultBaseDelay      = 100 * time.Millisecond
	DefaultMaxDelay       = 10 * time.Second
	DefaultPauseThreshold = 90 // percent of the total budget
)

// ErrMaxWaitExceeded is returned when budget did not free up within MaxWait.
var ErrMaxWaitExceeded = errors.New("maximum wait time exceeded waiting for upstream budget")

// Gate blocks upstream calls until the shared budget admits them.
// Low priority gates back off exponentially while the budget stays exhausted.
type Gate struct {
	tracker        *BudgetTracker
	costs          *CostRegistry
	priority       Priority
	maxWait        time.Duration
	baseDelay      time.Duration
	maxDelay       time.Duration
	pauseThreshold float64

	mu               sync.Mutex
	currentDelay     time.Duration
	consecutiveFails int
}

// GateConfig holds configuration for a gate.
type GateConfig struct {
	Tracker  *BudgetTracker
	Costs    *CostRegistry
	Priority Priority

	// MaxWait bounds a single Wait call. Default: 30s.
	MaxWait time.Duration

	// BaseDelay and MaxDelay bound the low priority backoff. Defaults: 100ms, 10s.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// PauseThreshold is the utilization percentage at which ShouldPause
	// reports true. Default: 90.
	PauseThreshold int
}

// Validate checks if the configuration is valid.
func (c *GateConfig) Validate() error {
	if c.Tracker == nil {
		return errors.New("budget tracker is required")
	}
	if c.Costs == nil {
		return errors.New("cost registry is required")
	}
	if c.MaxWait < 0 || c.BaseDelay < 0 || c.MaxDelay < 0 {
		return errors.New("durations cannot be negative")
	}
	if c.MaxDelay > 0 && c.BaseDelay > c.MaxDelay {
		return errors.New("base delay cannot exceed max delay")
	}
	if c.PauseThreshold < 0 || c.PauseThreshold > 100 {
		return errors.New("pause threshold must be between 0 and 100")
	}
	return nil
}

// NewGate creates a gate for one priority level.
func NewGate(cfg *GateConfig) (*Gate, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g := &Gate{
		tracker:        cfg.Tracker,
		costs:          cfg.Costs,
		priority:       cfg.Priority,
		maxWait:        cfg.MaxWait,
		baseDelay:      cfg.BaseDelay,
		maxDelay:       cfg.MaxDelay,
		pauseThreshold: float64(cfg.PauseThreshold),
	}
	if g.maxWait == 0 {
		g.maxWait = DefaultMaxWait
	}
	if g.baseDelay == 0 {
		g.baseDelay = DefaultBaseDelay
	}
	if g.maxDelay == 0 {
		g.maxDelay = DefaultMaxDelay
	}
	if g.pauseThreshold == 0 {
		g.pauseThreshold = DefaultPauseThreshold
	}
	g.currentDelay = g.baseDelay
	return g, nil
}

// Wait consumes the cost of endpoint from the budget, blocking until it is
// available. It fails with ErrMaxWaitExceeded or the context error.
func (g *Gate) Wait(ctx context.Context, endpoint string) error {
	units := g.costs.GetCost(endpoint)
	start := time.Now()
	deadline := start.Add(g.maxWait)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		allowed, wait := g.tracker.TryConsume(ctx, units, g.priority)
		if allowed {
			g.recordSuccess()
			if err := g.tracker.RecordEndpointUsage(ctx, endpoint, units); err != nil {
				logging.FromContext(ctx).WithError(err).Debug("failed to record endpoint usage")
			}
			return nil
		}

		if g.priority == PriorityLow {
			if delay := g.recordFailure(); delay > wait {
				wait = delay
			}
		}

		log := logging.FromContext(ctx).WithFields(map[string]interface{}{
			"endpoint": endpoint,
			"priority": g.priority.String(),
			"units":    units,
		})
		if time.Now().Add(wait).After(deadline) {
			log.WithField("waited", time.Since(start).String()).Warn("upstream budget wait exceeded")
			return fmt.Errorf("%s: %w", endpoint, ErrMaxWaitExceeded)
		}
		log.WithField("wait", wait.String()).Debug("waiting for upstream budget")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// ShouldPause reports whether the total budget is close enough to
// exhaustion that new extraction work should wait. Errors count as pause.
func (g *Gate) ShouldPause(ctx context.Context) bool {
	utilization, err := g.tracker.Utilization(ctx)
	if err != nil {
		return true
	}
	return utilization >= g.pauseThreshold
}

func (g *Gate) recordSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.consecutiveFails = 0
	g.currentDelay = g.baseDelay
}

// recordFailure doubles the backoff up to maxDelay and returns it
func (g *Gate) recordFailure() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.consecutiveFails++
	delay := g.baseDelay
	for i := 0; i < g.consecutiveFails; i++ {
		delay *= 2
		if delay > g.maxDelay {
			delay = g.maxDelay
			break
		}
	}
	g.currentDelay = delay
	return delay
}

// CurrentDelay returns the current low priority backoff.
func (g *Gate) CurrentDelay() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.currentDelay
}

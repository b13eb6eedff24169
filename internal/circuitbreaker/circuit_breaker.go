// Package circuitbreaker fails calls fast while a dependency keeps failing.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/insta-extractor/internal/logging"
)

// State is closed (calls pass), open (calls fail fast) or half_open
// (a few trial calls decide whether to close again)
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// CircuitBreaker guards the upstream API client. It opens on a run of
// consecutive failures or on a high failure rate within a counting window.
type CircuitBreaker struct {
	name             string
	maxFailures      int           // Minimum calls, or consecutive failures, before opening
	failureThreshold float64       // Failure rate (0.0-1.0) that opens the circuit
	timeout          time.Duration // Time to wait before attempting half-open
	halfOpenMaxCalls int           // Trial calls allowed in half-open state
	isFailure        func(error) bool
	now              func() time.Time

	mu               sync.Mutex
	state            State
	failures         int
	successes        int
	totalCalls       int
	inFlight         int
	consecutiveFails int
	lastFailureTime  time.Time
	lastStateChange  time.Time
}

// Config configures a circuit breaker
type Config struct {
	Name             string
	MaxFailures      int
	FailureThreshold float64
	Timeout          time.Duration
	HalfOpenMaxCalls int
	// IsFailure reports whether an error counts against the dependency.
	// nil counts every error except context cancellation.
	IsFailure func(error) bool
}

// DefaultConfig opens after 10 straight failures or a 50% failure rate over
// at least 10 calls, and tries again after 30s
func DefaultConfig(name string) *Config {
	return &Config{
		Name:             name,
		MaxFailures:      10,
		FailureThreshold: 0.5,
		Timeout:          30 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

func NewCircuitBreaker(config *Config) *CircuitBreaker {
	isFailure := config.IsFailure
	if isFailure == nil {
		isFailure = func(err error) bool {
			return !errors.Is(err, context.Canceled)
		}
	}
	halfOpen := config.HalfOpenMaxCalls
	if halfOpen < 1 {
		halfOpen = 1
	}
	return &CircuitBreaker{
		name:             config.Name,
		maxFailures:      config.MaxFailures,
		failureThreshold: config.FailureThreshold,
		timeout:          config.Timeout,
		halfOpenMaxCalls: halfOpen,
		isFailure:        isFailure,
		now:              time.Now,
		state:            StateClosed,
		lastStateChange:  time.Now(),
	}
}

var (
	// ErrCircuitOpen is returned without calling fn while the circuit is open
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned once every half-open trial slot is taken
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Execute runs fn unless the circuit is open
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn()
	cb.afterRequest(err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastStateChange) <= cb.timeout {
			return ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
		logging.WithFields(map[string]interface{}{
			"circuitBreaker": cb.name,
			"state":          StateHalfOpen,
		}).Info("circuit breaker half-open, probing")
		fallthrough

	case StateHalfOpen:
		if cb.inFlight+cb.successes >= cb.halfOpenMaxCalls {
			return ErrTooManyRequests
		}
	}

	cb.inFlight++
	return nil
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.inFlight--
	if err != nil && cb.isFailure(err) {
		cb.onFailure()
		return
	}
	cb.onSuccess()
}

func (cb *CircuitBreaker) onSuccess() {
	cb.totalCalls++
	cb.successes++
	cb.consecutiveFails = 0

	if cb.state == StateHalfOpen && cb.successes >= cb.halfOpenMaxCalls {
		cb.setState(StateClosed)
		logging.WithFields(map[string]interface{}{
			"circuitBreaker": cb.name,
			"state":          StateClosed,
		}).Info("circuit breaker closed after recovery")
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.totalCalls++
	cb.failures++
	cb.consecutiveFails++
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case StateClosed:
		if cb.shouldOpen() {
			fields := map[string]interface{}{
				"circuitBreaker":   cb.name,
				"failures":         cb.failures,
				"totalCalls":       cb.totalCalls,
				"failureRate":      cb.failureRate(),
				"consecutiveFails": cb.consecutiveFails,
			}
			cb.setState(StateOpen)
			logging.WithFields(fields).Warn("circuit breaker opened")
		}

	case StateHalfOpen:
		cb.setState(StateOpen)
		logging.WithField("circuitBreaker", cb.name).Warn("circuit breaker reopened after failed trial call")
	}
}

func (cb *CircuitBreaker) shouldOpen() bool {
	if cb.consecutiveFails >= cb.maxFailures {
		return true
	}
	if cb.totalCalls < cb.maxFailures {
		return false
	}
	return cb.failureRate() >= cb.failureThreshold
}

func (cb *CircuitBreaker) failureRate() float64 {
	if cb.totalCalls == 0 {
		return 0.0
	}
	return float64(cb.failures) / float64(cb.totalCalls)
}

// setState changes state and starts a fresh counting window
func (cb *CircuitBreaker) setState(state State) {
	cb.state = state
	cb.lastStateChange = cb.now()
	cb.failures = 0
	cb.successes = 0
	cb.totalCalls = 0
	cb.consecutiveFails = 0
}

// GetState is reported by /health
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats snapshots the current counting window
type Stats struct {
	Name             string    `json:"name"`
	State            State     `json:"state"`
	Failures         int       `json:"failures"`
	Successes        int       `json:"successes"`
	TotalCalls       int       `json:"totalCalls"`
	ConsecutiveFails int       `json:"consecutiveFails"`
	FailureRate      float64   `json:"failureRate"`
	LastFailureTime  time.Time `json:"lastFailureTime"`
	LastStateChange  time.Time `json:"lastStateChange"`
}

// GetStats returns statistics about the current counting window
func (cb *CircuitBreaker) GetStats() *Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return &Stats{
		Name:             cb.name,
		State:            cb.state,
		Failures:         cb.failures,
		Successes:        cb.successes,
		TotalCalls:       cb.totalCalls,
		ConsecutiveFails: cb.consecutiveFails,
		FailureRate:      cb.failureRate(),
		LastFailureTime:  cb.lastFailureTime,
		LastStateChange:  cb.lastStateChange,
	}
}

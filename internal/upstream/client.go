// Package upstream is the HTTP client of the third-party Instagram data API.
//
// Every call waits on a shared rate limiter, passes through a circuit breaker
// and is retried with exponential backoff on 429 and 5xx responses.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/insta-extractor/internal/circuitbreaker"
	"github.com/insta-extractor/internal/config"
	apperrors "github.com/insta-extractor/internal/errors"
	"github.com/insta-extractor/internal/logging"
	"github.com/insta-extractor/internal/retry"
)

const providerName = "instagram-api"

// maxErrorBody bounds how much of an error response is kept for messages
const maxErrorBody = 512

// ErrNotFound is returned when the API reports an unknown user, post or hashtag
var ErrNotFound = errors.New("upstream resource not found")

// APIError is a non-2xx response
type APIError struct {
	StatusCode int
	Body       string
	retryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Body)
}

// RetryAfter is the delay requested by a 429 response
func (e *APIError) RetryAfter() time.Duration {
	return e.retryAfter
}

// Temporary reports whether the request may succeed if repeated
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Client calls the upstream API
type Client struct {
	baseURL   string
	accessKey string
	http      *http.Client
	limiter   *rate.Limiter
	breaker   *circuitbreaker.CircuitBreaker
	retry     *retry.RetryConfig
	budget    Budget
}

// Budget admits a request to an endpoint path, blocking until it may proceed
type Budget interface {
	Wait(ctx context.Context, endpoint string) error
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBudget makes every attempt wait on a budget shared with other processes
func WithBudget(b Budget) Option {
	return func(c *Client) { c.budget = b }
}

// WithRetryConfig replaces the backoff schedule
func WithRetryConfig(cfg *retry.RetryConfig) Option {
	return func(c *Client) {
		cfg.ShouldRetry = c.retry.ShouldRetry
		c.retry = cfg
	}
}

// NewClient creates a client from configuration
func NewClient(cfg *config.UpstreamConfig, opts ...Option) *Client {
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	retryCfg := retry.DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		retryCfg.MaxAttempts = cfg.MaxAttempts
	}
	retryCfg.ShouldRetry = isTransient

	breakerCfg := circuitbreaker.DefaultConfig(providerName)
	breakerCfg.IsFailure = isTransient

	c := &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		accessKey: cfg.AccessKey,
		http:      &http.Client{Timeout: cfg.Timeout},
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), burst),
		breaker:   circuitbreaker.NewCircuitBreaker(breakerCfg),
		retry:     retryCfg,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BreakerState exposes the circuit breaker state for health reporting
func (c *Client) BreakerState() circuitbreaker.State {
	return c.breaker.GetState()
}

// isTransient reports errors worth retrying and counting against the API
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// truncated bodies and connection resets
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

// get performs a GET and returns the response body
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body []byte
	err := retry.Do(ctx, c.retry, func(ctx context.Context, attempt int) error {
		if c.budget != nil {
			if err := c.budget.Wait(ctx, path); err != nil {
				return err
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		return c.breaker.Execute(ctx, func() error {
			b, err := c.do(ctx, endpoint)
			if err != nil {
				return err
			}
			body = b
			return nil
		})
	})
	if err != nil {
		return nil, c.classify(ctx, path, err)
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("x-access-key", c.accessKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	if len(apiErr.Body) > maxErrorBody {
		apiErr.Body = apiErr.Body[:maxErrorBody]
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		apiErr.retryAfter = time.Duration(secs) * time.Second
	}
	return nil, apiErr
}

// classify wraps a final failure into the service's error categories
func (c *Client) classify(ctx context.Context, path string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if ctx.Err() != nil {
		return err
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"path":    path,
		"breaker": string(c.breaker.GetState()),
	}).WithError(err).Warn("upstream request failed")

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		rl := apperrors.NewProviderRateLimitError(providerName)
		rl.Cause = err
		return rl
	}
	return apperrors.NewProviderError(providerName, err)
}

func decodeJSON(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode upstream response: %w", err)
	}
	return nil
}

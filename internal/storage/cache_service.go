package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheKeyType is the leading segment of a cache key
type CacheKeyType string

const (
	// CacheKeyCount holds live upstream counts used for cost estimates
	CacheKeyCount CacheKeyType = "count"
	// CacheKeyProgress holds the latest progress of a running job
	CacheKeyProgress CacheKeyType = "extraction:progress"
)

// ProgressEvent is published every time a job's progress is persisted
type ProgressEvent struct {
	JobID    string    `json:"job_id"`
	Progress int64     `json:"progress"`
	At       time.Time `json:"at"`
}

// CacheService provides the Redis-backed caches of the pipeline: upstream
// counts for estimates and a live progress feed per job.
type CacheService struct {
	redis       *RedisCache
	progressTTL time.Duration
}

// NewCacheService creates a new cache service
func NewCacheService(redis *RedisCache, progressTTL time.Duration) *CacheService {
	if progressTTL <= 0 {
		progressTTL = 24 * time.Hour
	}
	return &CacheService{redis: redis, progressTTL: progressTTL}
}

// GenerateCacheKey builds <type>:<param1>:<param2>... with lowercase params
func (c *CacheService) GenerateCacheKey(keyType CacheKeyType, params ...string) string {
	parts := make([]string, 0, len(params)+1)
	parts = append(parts, string(keyType))
	for _, p := range params {
		parts = append(parts, strings.ToLower(p))
	}
	return strings.Join(parts, ":")
}

// countKey keeps the caller's key verbatim; it may contain case-sensitive URLs
func countKey(key string) string {
	return string(CacheKeyCount) + ":" + key
}

// GetCount reads a cached count. A miss is not an error.
func (c *CacheService) GetCount(ctx context.Context, key string) (int64, bool, error) {
	raw, err := c.redis.Get(ctx, countKey(key))
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read count: %w", err)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("cached count %q is not a number: %w", raw, err)
	}
	return n, true, nil
}

// SetCount caches a count for ttl
func (c *CacheService) SetCount(ctx context.Context, key string, n int64, ttl time.Duration) error {
	return c.redis.Set(ctx, countKey(key), n, ttl)
}

// ProgressChannel is the pub/sub channel carrying a job's progress events
func (c *CacheService) ProgressChannel(jobID string) string {
	return c.GenerateCacheKey(CacheKeyProgress, jobID)
}

// PublishProgress stores the latest progress of a job and announces it to subscribers
func (c *CacheService) PublishProgress(ctx context.Context, jobID string, progress int64) error {
	event := ProgressEvent{JobID: jobID, Progress: progress, At: time.Now().UTC()}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}

	if err := c.redis.SetAndPublish(ctx, c.ProgressChannel(jobID), data, c.progressTTL); err != nil {
		return fmt.Errorf("failed to publish progress: %w", err)
	}
	return nil
}

// LatestProgress returns the last published progress event of a job
func (c *CacheService) LatestProgress(ctx context.Context, jobID string) (*ProgressEvent, bool, error) {
	raw, err := c.redis.Get(ctx, c.ProgressChannel(jobID))
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read progress: %w", err)
	}

	var event ProgressEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal progress: %w", err)
	}
	return &event, true, nil
}

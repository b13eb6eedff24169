// Package ratelimit shares the upstream API request budget between every
// server, worker and CLI process holding the same access key.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default budget configuration values.
const (
	DefaultTotalBudget    = 50              // request units per window
	DefaultReservedBudget = 20              // kept for interactive calls
	DefaultWindowSize     = time.Second     // fixed window
	DefaultKeyTTL         = 2 * time.Second // window + buffer
	DefaultKeyPrefix      = "upstream:budget:"
)

// Window key suffixes appended to the configured prefix.
const (
	keyTotal    = "total:"
	keyReserved = "reserved:"
	keyShared   = "shared:"
	keyEndpoint = "endpoint:"
)

// Priority levels for budget allocation.
type Priority int

const (
	// PriorityHigh is for interactive calls such as cost estimates (reserved pool).
	PriorityHigh Priority = iota
	// PriorityLow is for extraction pages (shared pool).
	PriorityLow
)

// String returns a string representation of the priority level.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// consumeScript checks both the total and the pool counter and increments
// them together, so concurrent processes never overshoot the window.
var consumeScript = redis.NewScript(`
	local totalKey = KEYS[1]
	local poolKey = KEYS[2]
	local units = tonumber(ARGV[1])
	local totalBudget = tonumber(ARGV[2])
	local poolBudget = tonumber(ARGV[3])
	local ttl = tonumber(ARGV[4])

	local totalUsed = tonumber(redis.call('GET', totalKey) or '0')
	local poolUsed = tonumber(redis.call('GET', poolKey) or '0')

	if totalUsed + units > totalBudget then
		return {0, totalUsed, poolUsed}
	end
	if poolUsed + units > poolBudget then
		return {0, totalUsed, poolUsed}
	end

	redis.call('INCRBY', totalKey, units)
	redis.call('EXPIRE', totalKey, ttl)
	redis.call('INCRBY', poolKey, units)
	redis.call('EXPIRE', poolKey, ttl)

	return {1, totalUsed + units, poolUsed + units}
`)

// BudgetTracker coordinates upstream request consumption through Redis.
// Each window is split into a reserved pool for high priority calls and a
// shared pool for everything else.
type BudgetTracker struct {
	redis          redis.Cmdable
	prefix         string
	totalBudget    int
	reservedBudget int
	sharedBudget   int
	windowSize     time.Duration
	keyTTL         time.Duration
	now            func() time.Time
}

// BudgetTrackerConfig holds configuration for the budget tracker.
type BudgetTrackerConfig struct {
	// Redis is required.
	Redis redis.Cmdable

	// TotalBudget is the number of request units per window. Default: 50.
	TotalBudget int

	// ReservedBudget is the part of TotalBudget only PriorityHigh may use. Default: 20.
	ReservedBudget int

	// WindowSize is the window duration. Default: 1s.
	WindowSize time.Duration

	// KeyTTL should be at least WindowSize. Default: 2s.
	KeyTTL time.Duration

	// KeyPrefix namespaces the Redis keys. Default: "upstream:budget:".
	KeyPrefix string
}

// UsageStats contains the consumption of the current window.
type UsageStats struct {
	TotalUsed      int       `json:"total_used"`
	ReservedUsed   int       `json:"reserved_used"`
	SharedUsed     int       `json:"shared_used"`
	TotalBudget    int       `json:"total_budget"`
	ReservedBudget int       `json:"reserved_budget"`
	SharedBudget   int       `json:"shared_budget"`
	WindowStart    time.Time `json:"window_start"`
}

func (c *BudgetTrackerConfig) withDefaults() (total, reserved int) {
	total = c.TotalBudget
	if total == 0 {
		total = DefaultTotalBudget
	}
	reserved = c.ReservedBudget
	if reserved == 0 {
		reserved = DefaultReservedBudget
	}
	return total, reserved
}

// Validate checks if the configuration is valid.
func (c *BudgetTrackerConfig) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.TotalBudget < 0 {
		return errors.New("total budget cannot be negative")
	}
	if c.ReservedBudget < 0 {
		return errors.New("reserved budget cannot be negative")
	}

	total, reserved := c.withDefaults()
	if reserved > total {
		return fmt.Errorf("reserved budget (%d) cannot exceed total budget (%d)", reserved, total)
	}
	return nil
}

// NewBudgetTracker creates a tracker with the given configuration.
func NewBudgetTracker(cfg *BudgetTrackerConfig) (*BudgetTracker, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	total, reserved := cfg.withDefaults()

	windowSize := cfg.WindowSize
	if windowSize == 0 {
		windowSize = DefaultWindowSize
	}
	keyTTL := cfg.KeyTTL
	if keyTTL == 0 {
		keyTTL = DefaultKeyTTL
	}
	if keyTTL < windowSize {
		keyTTL = windowSize + time.Second
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	return &BudgetTracker{
		redis:          cfg.Redis,
		prefix:         prefix,
		totalBudget:    total,
		reservedBudget: reserved,
		sharedBudget:   total - reserved,
		windowSize:     windowSize,
		keyTTL:         keyTTL,
		now:            time.Now,
	}, nil
}

// windowTimestamp returns the start of the current window in unix millis
func (t *BudgetTracker) windowTimestamp() int64 {
	return t.now().Truncate(t.windowSize).UnixMilli()
}

func (t *BudgetTracker) keys(windowTS int64) (totalKey, reservedKey, sharedKey string) {
	ts := strconv.FormatInt(windowTS, 10)
	return t.prefix + keyTotal + ts, t.prefix + keyReserved + ts, t.prefix + keyShared + ts
}

// TryConsume attempts to take units from the pool matching priority.
// When denied it returns the time left until the next window.
// A Redis failure denies the request.
func (t *BudgetTracker) TryConsume(ctx context.Context, units int, priority Priority) (bool, time.Duration) {
	if units <= 0 {
		return true, 0
	}

	windowTS := t.windowTimestamp()
	totalKey, reservedKey, sharedKey := t.keys(windowTS)

	poolKey, poolBudget := sharedKey, t.sharedBudget
	if priority == PriorityHigh {
		poolKey, poolBudget = reservedKey, t.reservedBudget
	}

	ttlSeconds := int(t.keyTTL.Seconds())
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	result, err := consumeScript.Run(ctx, t.redis, []string{totalKey, poolKey},
		units, t.totalBudget, poolBudget, ttlSeconds).Int64Slice()
	if err != nil || len(result) == 0 || result[0] != 1 {
		return false, t.waitTime(windowTS)
	}
	return true, 0
}

// waitTime returns the time until the next window starts
func (t *BudgetTracker) waitTime(windowTS int64) time.Duration {
	end := time.UnixMilli(windowTS).Add(t.windowSize)
	wait := end.Sub(t.now())
	if wait < 0 {
		wait = 0
	}
	return wait + time.Millisecond
}

// GetUsage returns the usage of the current window. Missing keys count as zero.
func (t *BudgetTracker) GetUsage(ctx context.Context) (*UsageStats, error) {
	windowTS := t.windowTimestamp()
	totalKey, reservedKey, sharedKey := t.keys(windowTS)

	pipe := t.redis.Pipeline()
	totalCmd := pipe.Get(ctx, totalKey)
	reservedCmd := pipe.Get(ctx, reservedKey)
	sharedCmd := pipe.Get(ctx, sharedKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read budget usage: %w", err)
	}

	return &UsageStats{
		TotalUsed:      intOrZero(totalCmd),
		ReservedUsed:   intOrZero(reservedCmd),
		SharedUsed:     intOrZero(sharedCmd),
		TotalBudget:    t.totalBudget,
		ReservedBudget: t.reservedBudget,
		SharedBudget:   t.sharedBudget,
		WindowStart:    time.UnixMilli(windowTS),
	}, nil
}

func intOrZero(cmd *redis.StringCmd) int {
	val, err := cmd.Int()
	if err != nil {
		return 0
	}
	return val
}

// RecordEndpointUsage counts units spent on one endpoint in the current window.
// It does not affect allocation.
func (t *BudgetTracker) RecordEndpointUsage(ctx context.Context, endpoint string, units int) error {
	if units <= 0 || endpoint == "" {
		return nil
	}

	key := fmt.Sprintf("%s%s%s:%d", t.prefix, keyEndpoint, endpoint, t.windowTimestamp())

	pipe := t.redis.Pipeline()
	pipe.IncrBy(ctx, key, int64(units))
	pipe.Expire(ctx, key, t.keyTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// AvailableBudget returns the units left in the pool matching priority.
func (t *BudgetTracker) AvailableBudget(ctx context.Context, priority Priority) (int, error) {
	stats, err := t.GetUsage(ctx)
	if err != nil {
		return 0, err
	}

	var available int
	if priority == PriorityHigh {
		available = t.reservedBudget - stats.ReservedUsed
	} else {
		available = t.sharedBudget - stats.SharedUsed
	}
	if totalLeft := t.totalBudget - stats.TotalUsed; totalLeft < available {
		available = totalLeft
	}
	if available < 0 {
		available = 0
	}
	return available, nil
}

// Utilization returns the current total usage as a percentage (0-100).
func (t *BudgetTracker) Utilization(ctx context.Context) (float64, error) {
	stats, err := t.GetUsage(ctx)
	if err != nil {
		return 0, err
	}
	if t.totalBudget == 0 {
		return 100, nil
	}
	return float64(stats.TotalUsed) * 100 / float64(t.totalBudget), nil
}

// WindowSize returns the configured window size.
func (t *BudgetTracker) WindowSize() time.Duration {
	return t.windowSize
}

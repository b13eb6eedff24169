package ratelimit

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/insta-extractor/internal/config"
	"github.com/insta-extractor/internal/upstream"
)

// NewGateFromConfig builds a gate over rdb. It returns nil when the budget is disabled.
func NewGateFromConfig(rdb redis.Cmdable, cfg *config.BudgetConfig, priority Priority) (*Gate, error) {
	if cfg == nil || cfg.PerWindow == 0 {
		return nil, nil
	}

	overrides, err := ParseCostOverrides(cfg.EndpointCosts)
	if err != nil {
		return nil, err
	}

	reserved := cfg.Reserved
	if reserved == 0 {
		// an explicit zero reserve would fall back to the package default
		reserved = cfg.PerWindow * 2 / 5
	}
	tracker, err := NewBudgetTracker(&BudgetTrackerConfig{
		Redis:          rdb,
		TotalBudget:    cfg.PerWindow,
		ReservedBudget: max(reserved, 1),
		WindowSize:     cfg.Window,
		KeyTTL:         2 * cfg.Window,
	})
	if err != nil {
		return nil, fmt.Errorf("upstream budget: %w", err)
	}

	return NewGate(&GateConfig{
		Tracker:  tracker,
		Costs:    NewCostRegistry(&CostRegistryConfig{Overrides: overrides}),
		Priority: priority,
		MaxWait:  cfg.MaxWait,
	})
}

// ClientOptions returns the upstream client options that route every call
// through the shared budget at the given priority. A disabled budget yields none.
func ClientOptions(rdb redis.Cmdable, cfg *config.BudgetConfig, priority Priority) ([]upstream.Option, error) {
	gate, err := NewGateFromConfig(rdb, cfg, priority)
	if err != nil || gate == nil {
		return nil, err
	}
	return []upstream.Option{upstream.WithBudget(gate)}, nil
}

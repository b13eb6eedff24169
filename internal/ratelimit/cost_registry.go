package ratelimit

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// DefaultRequestCost is charged for endpoints without an explicit cost.
const DefaultRequestCost = 1

// Upstream endpoint paths
const (
	EndpointUserByUsername  = "/v1/user/by/username"
	EndpointUserByID        = "/v1/user/by/id"
	EndpointFollowersChunk  = "/v1/user/followers/chunk"
	EndpointFollowingChunk  = "/v1/user/following/chunk"
	EndpointUserMediasChunk = "/v1/user/medias/chunk"
	EndpointMediaByURL      = "/v1/media/by/url"
	EndpointMediaLikers     = "/v1/media/likers"
	EndpointMediaComments   = "/v2/media/comments"
	EndpointHashtagChunk    = "/v1/hashtag/medias/recent/chunk"
)

// CostRegistry maps upstream endpoint paths to request units.
// It is safe for concurrent use.
type CostRegistry struct {
	mu          sync.RWMutex
	costs       map[string]int
	defaultCost int
}

// CostRegistryConfig holds configuration for the registry.
type CostRegistryConfig struct {
	// DefaultCost applies to unknown endpoints. Zero means DefaultRequestCost.
	DefaultCost int

	// Overrides replace the built-in costs for specific endpoints.
	Overrides map[string]int
}

// NewCostRegistry creates a registry where every known endpoint costs one
// unit, then applies cfg. A nil cfg keeps the defaults.
func NewCostRegistry(cfg *CostRegistryConfig) *CostRegistry {
	costs := map[string]int{
		EndpointUserByUsername:  DefaultRequestCost,
		EndpointUserByID:        DefaultRequestCost,
		EndpointFollowersChunk:  DefaultRequestCost,
		EndpointFollowingChunk:  DefaultRequestCost,
		EndpointUserMediasChunk: DefaultRequestCost,
		EndpointMediaByURL:      DefaultRequestCost,
		EndpointMediaLikers:     DefaultRequestCost,
		EndpointMediaComments:   DefaultRequestCost,
		EndpointHashtagChunk:    DefaultRequestCost,
	}
	defaultCost := DefaultRequestCost

	if cfg != nil {
		if cfg.DefaultCost > 0 {
			defaultCost = cfg.DefaultCost
		}
		for endpoint, cost := range cfg.Overrides {
			if cost > 0 {
				costs[endpoint] = cost
			}
		}
	}

	return &CostRegistry{costs: costs, defaultCost: defaultCost}
}

// ParseCostOverrides reads "path=units" pairs separated by commas,
// e.g. "/v1/media/likers=3,/v2/media/comments=2".
func ParseCostOverrides(raw string) (map[string]int, error) {
	overrides := make(map[string]int)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		path, units, ok := strings.Cut(pair, "=")
		if !ok || !strings.HasPrefix(path, "/") {
			return nil, fmt.Errorf("invalid endpoint cost %q", pair)
		}
		n, err := strconv.Atoi(strings.TrimSpace(units))
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid endpoint cost %q: units must be a positive integer", pair)
		}
		overrides[strings.TrimSpace(path)] = n
	}
	return overrides, nil
}

// GetCost returns the cost of an endpoint, or the default cost when unknown.
func (r *CostRegistry) GetCost(endpoint string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cost, ok := r.costs[endpoint]; ok {
		return cost
	}
	return r.defaultCost
}

// SetCost updates one endpoint at runtime. Non-positive costs are ignored.
func (r *CostRegistry) SetCost(endpoint string, cost int) {
	if cost <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.costs[endpoint] = cost
}

// KnownEndpoints returns the registered endpoint paths, sorted.
func (r *CostRegistry) KnownEndpoints() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	endpoints := make([]string, 0, len(r.costs))
	for endpoint := range r.costs {
		endpoints = append(endpoints, endpoint)
	}
	sort.Strings(endpoints)
	return endpoints
}

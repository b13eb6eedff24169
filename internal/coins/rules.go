// Package coins prices extraction jobs and moves coins between users and jobs.
package coins

import (
	"github.com/insta-extractor/internal/types"
)

// Pricing selects how a rule turns an estimate into a cost
type Pricing int

const (
	// PricePerChunkAndItem charges one coin per chunk of items plus a per-item surcharge
	PricePerChunkAndItem Pricing = iota
	// PricePerTarget charges a flat amount per target account or hashtag
	PricePerTarget
	// PriceHalfEstimate charges one coin per two estimated items
	PriceHalfEstimate
)

// Rule is the pricing policy of one extraction type
type Rule struct {
	Pricing    Pricing
	ChunkSize  int64
	ChunkCost  int64
	ItemCost   int64
	TargetCost int64
	// Refundable rules return the unspent part of a coin limit once the true cost is known
	Refundable bool
}

// Rules is the fixed cost table keyed by extraction type
var Rules = map[types.ExtractionType]Rule{
	types.TypeFollowers:  {Pricing: PricePerChunkAndItem, ChunkSize: 10, ChunkCost: 1, ItemCost: 1, Refundable: true},
	types.TypeFollowing:  {Pricing: PricePerChunkAndItem, ChunkSize: 10, ChunkCost: 1, ItemCost: 1, Refundable: true},
	types.TypeLikers:     {Pricing: PricePerChunkAndItem, ChunkSize: 10, ChunkCost: 1, ItemCost: 1},
	types.TypePosts:      {Pricing: PricePerTarget, TargetCost: 2},
	types.TypeCommenters: {Pricing: PriceHalfEstimate, ChunkSize: 2, ChunkCost: 1},
	types.TypeHashtags:   {Pricing: PricePerTarget, TargetCost: 2},
}

// Unlimited is the item budget of a job without a coin limit
const Unlimited int64 = -1

// Estimate is what is known about a job's size before it runs
type Estimate struct {
	Targets int   // accounts, hashtags or post URLs
	Items   int64 // expected upstream items across all targets
	// Fallbacks counts targets whose live count lookup failed and were assumed
	Fallbacks int
}

func ceilDiv(n, d int64) int64 {
	if n <= 0 {
		return 0
	}
	return (n + d - 1) / d
}

func (r Rule) itemCost(n int64) int64 {
	return ceilDiv(n, r.ChunkSize)*r.ChunkCost + n*r.ItemCost
}

// Cost returns the number of coins charged when the job is created.
// coinLimit is nil when the caller did not cap the job.
func Cost(t types.ExtractionType, est Estimate, coinLimit *int64) int64 {
	rule, ok := Rules[t]
	if !ok {
		return 0
	}

	var cost int64
	switch rule.Pricing {
	case PricePerChunkAndItem:
		if coinLimit != nil {
			return nonNegative(*coinLimit)
		}
		cost = rule.itemCost(est.Items)
	case PricePerTarget:
		cost = int64(est.Targets) * rule.TargetCost
		if coinLimit != nil && *coinLimit < cost {
			cost = *coinLimit
		}
	case PriceHalfEstimate:
		cost = ceilDiv(est.Items, rule.ChunkSize) * rule.ChunkCost
	}
	return nonNegative(cost)
}

// ItemBudget returns the largest item count whose cost fits within coinLimit,
// or Unlimited when the type is not priced per item or no limit was given.
func ItemBudget(t types.ExtractionType, coinLimit *int64) int64 {
	rule, ok := Rules[t]
	if !ok || rule.Pricing != PricePerChunkAndItem || coinLimit == nil {
		return Unlimited
	}

	limit := nonNegative(*coinLimit)
	perChunk := rule.ChunkSize*rule.ItemCost + rule.ChunkCost
	n := limit * rule.ChunkSize / perChunk
	for rule.itemCost(n+1) <= limit {
		n++
	}
	for n > 0 && rule.itemCost(n) > limit {
		n--
	}
	return n
}

// ActualCost is the true cost of extracting n items, for types priced per item
func ActualCost(t types.ExtractionType, extracted int64) int64 {
	rule, ok := Rules[t]
	if !ok || rule.Pricing != PricePerChunkAndItem {
		return 0
	}
	return rule.itemCost(extracted)
}

// RefundDue returns the coins to give back after a job finished with the given
// actual cost. Only refundable types that were charged a coin limit qualify.
func RefundDue(t types.ExtractionType, coinLimit *int64, actual int64) int64 {
	rule, ok := Rules[t]
	if !ok || !rule.Refundable || coinLimit == nil {
		return 0
	}
	if actual < *coinLimit {
		return *coinLimit - nonNegative(actual)
	}
	return 0
}

func nonNegative(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}

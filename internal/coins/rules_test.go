package coins

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/insta-extractor/internal/types"
)

func limitOf(n int64) *int64 { return &n }

func TestCost(t *testing.T) {
	tests := []struct {
		name  string
		typ   types.ExtractionType
		est   Estimate
		limit *int64
		want  int64
	}{
		{"posts without limit", types.TypePosts, Estimate{Targets: 3}, nil, 6},
		{"posts capped", types.TypePosts, Estimate{Targets: 3}, limitOf(4), 4},
		{"posts limit above cost", types.TypePosts, Estimate{Targets: 3}, limitOf(100), 6},
		{"hashtags capped", types.TypeHashtags, Estimate{Targets: 2}, limitOf(3), 3},
		{"hashtags without limit", types.TypeHashtags, Estimate{Targets: 2}, nil, 4},
		{"followers estimate", types.TypeFollowers, Estimate{Targets: 1, Items: 95}, nil, 10 + 95},
		{"followers exact chunk", types.TypeFollowers, Estimate{Targets: 1, Items: 100}, nil, 10 + 100},
		{"followers charged the limit", types.TypeFollowers, Estimate{Targets: 1, Items: 100000}, limitOf(50), 50},
		{"following fallback", types.TypeFollowing, Estimate{Targets: 2, Items: 2000, Fallbacks: 2}, nil, 200 + 2000},
		{"likers limit", types.TypeLikers, Estimate{Targets: 1}, limitOf(7), 7},
		{"commenters half", types.TypeCommenters, Estimate{Targets: 1, Items: 5}, nil, 3},
		{"commenters ignores limit", types.TypeCommenters, Estimate{Targets: 1, Items: 40}, limitOf(1), 20},
		{"empty estimate", types.TypeFollowers, Estimate{}, nil, 0},
		{"unknown type", types.ExtractionType("stories"), Estimate{Targets: 5}, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Cost(tt.typ, tt.est, tt.limit))
		})
	}
}

func TestItemBudget(t *testing.T) {
	assert.Equal(t, Unlimited, ItemBudget(types.TypeFollowers, nil))
	assert.Equal(t, Unlimited, ItemBudget(types.TypePosts, limitOf(10)))

	// 45 items cost 5 + 45 = 50; 46 would cost 51
	assert.Equal(t, int64(45), ItemBudget(types.TypeFollowers, limitOf(50)))
	assert.Equal(t, int64(0), ItemBudget(types.TypeFollowing, limitOf(1)))
	assert.Equal(t, int64(1), ItemBudget(types.TypeLikers, limitOf(2)))
	assert.Equal(t, int64(0), ItemBudget(types.TypeFollowers, limitOf(0)))
}

func TestActualCostAndRefund(t *testing.T) {
	// 27 followers: 3 chunks + 27 items = 30
	actual := ActualCost(types.TypeFollowers, 27)
	assert.Equal(t, int64(30), actual)
	assert.Equal(t, int64(20), RefundDue(types.TypeFollowers, limitOf(50), actual))

	assert.Equal(t, int64(0), RefundDue(types.TypeFollowers, nil, actual))
	assert.Equal(t, int64(0), RefundDue(types.TypeFollowing, limitOf(30), actual))
	assert.Equal(t, int64(0), RefundDue(types.TypeLikers, limitOf(50), actual))
	assert.Equal(t, int64(0), ActualCost(types.TypePosts, 10))
}

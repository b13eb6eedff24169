package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCostRegistry_Defaults(t *testing.T) {
	r := NewCostRegistry(nil)

	assert.Equal(t, DefaultRequestCost, r.GetCost(EndpointFollowersChunk))
	assert.Equal(t, DefaultRequestCost, r.GetCost("/v1/unknown"))
	assert.Len(t, r.KnownEndpoints(), 9)
	assert.Equal(t, EndpointHashtagChunk, r.KnownEndpoints()[0])
}

func TestCostRegistry_Overrides(t *testing.T) {
	r := NewCostRegistry(&CostRegistryConfig{
		DefaultCost: 3,
		Overrides: map[string]int{
			EndpointMediaLikers: 5,
			EndpointMediaByURL:  0, // ignored
		},
	})

	assert.Equal(t, 5, r.GetCost(EndpointMediaLikers))
	assert.Equal(t, DefaultRequestCost, r.GetCost(EndpointMediaByURL))
	assert.Equal(t, 3, r.GetCost("/v1/unknown"))

	r.SetCost(EndpointMediaComments, 2)
	r.SetCost(EndpointUserByID, -1)
	assert.Equal(t, 2, r.GetCost(EndpointMediaComments))
	assert.Equal(t, DefaultRequestCost, r.GetCost(EndpointUserByID))
}

func TestParseCostOverrides(t *testing.T) {
	got, err := ParseCostOverrides(" /v1/media/likers=3, /v2/media/comments = 2 ,")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"/v1/media/likers": 3, "/v2/media/comments": 2}, got)

	empty, err := ParseCostOverrides("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	for _, bad := range []string{"likers=3", "/v1/media/likers", "/v1/media/likers=0", "/v1/media/likers=x"} {
		_, err := ParseCostOverrides(bad)
		assert.Error(t, err, bad)
	}
}

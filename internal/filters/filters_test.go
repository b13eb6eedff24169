package filters

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insta-extractor/internal/models"
	"github.com/insta-extractor/internal/types"
)

func TestParse_SelectsVariantByType(t *testing.T) {
	tests := []struct {
		typ  types.ExtractionType
		kind Kind
	}{
		{types.TypeFollowers, KindProfile},
		{types.TypeFollowing, KindProfile},
		{types.TypeLikers, KindProfile},
		{types.TypePosts, KindPost},
		{types.TypeHashtags, KindPost},
		{types.TypeCommenters, KindComment},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			set, err := Parse(tt.typ, "")
			require.NoError(t, err)
			assert.Equal(t, tt.kind, set.Kind)
			assert.False(t, set.HasLimit())

			switch tt.kind {
			case KindProfile:
				require.NotNil(t, set.Profile)
				assert.Nil(t, set.Post)
				assert.Nil(t, set.Comment)
			case KindPost:
				require.NotNil(t, set.Post)
				assert.Equal(t, DefaultPostsPerTarget, set.Post.PostsPerTarget)
			case KindComment:
				require.NotNil(t, set.Comment)
			}
		})
	}
}

func TestParse_ProfileFilters(t *testing.T) {
	raw := `{
		"coinLimit": 50,
		"extractEmail": true,
		"privacy": "no",
		"verified": "doesn't matter",
		"business": true,
		"minFollowers": 100,
		"maxFollowers": 5000,
		"stopWords": ["shop"]
	}`

	set, err := Parse(types.TypeFollowers, raw)
	require.NoError(t, err)
	require.NotNil(t, set.Profile)

	assert.True(t, set.HasLimit())
	assert.Equal(t, int64(50), set.Limit())
	assert.True(t, set.Profile.ExtractEmail)
	assert.Equal(t, types.TriNo, set.Profile.Privacy)
	assert.Equal(t, types.TriAny, set.Profile.Verified)
	assert.Equal(t, types.TriYes, set.Profile.Business)
	assert.Equal(t, types.TriAny, set.Profile.ProfilePicture)
	assert.Equal(t, int64(100), *set.Profile.MinFollowers)
	assert.True(t, set.NeedsProfileDetail())
}

func TestParse_RejectsSchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		typ  types.ExtractionType
		raw  string
	}{
		{"not json", types.TypeFollowers, `{"coinLimit":`},
		{"negative coin limit", types.TypeFollowers, `{"coinLimit": -1}`},
		{"string count", types.TypeFollowing, `{"minFollowers": "ten"}`},
		{"bad tri-state", types.TypeLikers, `{"privacy": "maybe"}`},
		{"bad post type", types.TypePosts, `{"postType": "reel"}`},
		{"word list of numbers", types.TypeCommenters, `{"excludeWords": [1, 2]}`},
		{"array blob", types.TypeHashtags, `[]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.typ, tt.raw)
			assert.Error(t, err)
		})
	}
}

func TestParse_UnknownType(t *testing.T) {
	_, err := Parse(types.ExtractionType("stories"), "{}")
	assert.Error(t, err)
}

func TestParse_PostDates(t *testing.T) {
	set, err := Parse(types.TypePosts, `{"dateFrom": "2024-01-01", "dateTo": "2024-01-31"}`)
	require.NoError(t, err)

	inside := &models.ExtractedItem{TakenAt: time.Date(2024, 1, 31, 23, 0, 0, 0, time.UTC)}
	before := &models.ExtractedItem{TakenAt: time.Date(2023, 12, 31, 23, 0, 0, 0, time.UTC)}
	after := &models.ExtractedItem{TakenAt: time.Date(2024, 2, 1, 0, 0, 1, 0, time.UTC)}

	assert.True(t, MatchPost(set.Post, inside))
	assert.False(t, MatchPost(set.Post, before))
	assert.False(t, MatchPost(set.Post, after))

	_, err = Parse(types.TypePosts, `{"dateFrom": "2024-02-01", "dateTo": "2024-01-01"}`)
	assert.Error(t, err)

	_, err = Parse(types.TypePosts, `{"dateFrom": "last week"}`)
	assert.Error(t, err)
}

func TestNeedsProfileDetail(t *testing.T) {
	plain, err := Parse(types.TypeFollowers, `{"privacy": "no", "nameContains": ["coach"]}`)
	require.NoError(t, err)
	assert.False(t, plain.NeedsProfileDetail())

	detailed, err := Parse(types.TypeFollowers, `{"bioContains": ["coach"]}`)
	require.NoError(t, err)
	assert.True(t, detailed.NeedsProfileDetail())

	posts, err := Parse(types.TypePosts, `{"minLikes": 10}`)
	require.NoError(t, err)
	assert.False(t, posts.NeedsProfileDetail())
}

func TestMatchProfile(t *testing.T) {
	min, max := int64(100), int64(1000)
	f := &ProfileFilters{
		ExtractEmail:   true,
		Privacy:        types.TriNo,
		Verified:       types.TriAny,
		Business:       types.TriAny,
		ProfilePicture: types.TriYes,
		MinFollowers:   &min,
		MaxFollowers:   &max,
		NameContains:   []string{"Coach"},
		StopWords:      []string{"bot"},
	}

	base := models.ExtractedItem{
		Username:      "fit.coach",
		FullName:      "Ann",
		Email:         "ann@example.com",
		FollowerCount: 100,
		HasProfilePic: true,
	}

	ok := base
	assert.True(t, MatchProfile(f, &ok))

	edge := base
	edge.FollowerCount = 1000
	assert.True(t, MatchProfile(f, &edge), "bounds are inclusive")

	tests := []struct {
		name   string
		mutate func(*models.ExtractedItem)
	}{
		{"missing email", func(i *models.ExtractedItem) { i.Email = "" }},
		{"private", func(i *models.ExtractedItem) { i.IsPrivate = true }},
		{"no picture", func(i *models.ExtractedItem) { i.HasProfilePic = false }},
		{"too few followers", func(i *models.ExtractedItem) { i.FollowerCount = 99 }},
		{"too many followers", func(i *models.ExtractedItem) { i.FollowerCount = 1001 }},
		{"name mismatch", func(i *models.ExtractedItem) { i.Username = "runner" }},
		{"stop word in bio", func(i *models.ExtractedItem) { i.Biography = "Follow BOT army" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := base
			tt.mutate(&item)
			assert.False(t, MatchProfile(f, &item))
		})
	}

	assert.True(t, MatchProfile(nil, &models.ExtractedItem{}))
}

func TestMatch_BlankContainsTermsAreIgnored(t *testing.T) {
	profiles := &ProfileFilters{NameContains: []string{" "}, BioContains: []string{""}}
	assert.True(t, MatchProfile(profiles, &models.ExtractedItem{Username: "ann", Biography: "hi"}))

	posts := &PostFilters{CaptionContains: []string{"  "}, HashtagContains: []string{" ", "#"}}
	assert.True(t, MatchPost(posts, &models.ExtractedItem{Caption: "no tags here"}))

	mixed := &ProfileFilters{NameContains: []string{" ", "coach"}}
	assert.False(t, MatchProfile(mixed, &models.ExtractedItem{Username: "runner"}))
	assert.True(t, MatchProfile(mixed, &models.ExtractedItem{Username: "fit.coach"}))
}

func TestMatchPost(t *testing.T) {
	minLikes := int64(10)
	f := &PostFilters{
		PostType:         "video",
		MinLikes:         &minLikes,
		CaptionStopWords: []string{"giveaway"},
		HashtagContains:  []string{"travel"},
		Location:         "lisbon",
	}

	item := &models.ExtractedItem{
		MediaType: "video",
		LikeCount: 10,
		Caption:   "Sunset #travel",
		Location:  "Lisbon, Portugal",
	}
	assert.True(t, MatchPost(f, item))

	photo := *item
	photo.MediaType = "photo"
	assert.False(t, MatchPost(f, &photo))

	giveaway := *item
	giveaway.Caption = "GIVEAWAY #travel"
	assert.False(t, MatchPost(f, &giveaway))

	untagged := *item
	untagged.Caption = "travel without a tag"
	assert.False(t, MatchPost(f, &untagged))

	elsewhere := *item
	elsewhere.Location = "Porto"
	assert.False(t, MatchPost(f, &elsewhere))
}

func TestMatchComment(t *testing.T) {
	set, err := Parse(types.TypeCommenters, `{"excludeWords": ["spam"], "stopWords": ["promo"]}`)
	require.NoError(t, err)

	assert.True(t, set.Match(&models.ExtractedItem{Kind: models.ItemComment, Username: "ann", CommentText: "love it"}))
	assert.False(t, set.Match(&models.ExtractedItem{Kind: models.ItemComment, Username: "ann", CommentText: "Spam here"}))
	assert.False(t, set.Match(&models.ExtractedItem{Kind: models.ItemComment, Username: "promo_shop", CommentText: "nice"}))
}

func TestCommentFilters_OnePerUser(t *testing.T) {
	set, err := Parse(types.TypeCommenters, "")
	require.NoError(t, err)
	assert.True(t, set.Comment.OnePerUser())

	set, err = Parse(types.TypeCommenters, `{"uniqueUsers": false}`)
	require.NoError(t, err)
	assert.False(t, set.Comment.OnePerUser())

	_, err = Parse(types.TypeCommenters, `{"uniqueUsers": "sometimes"}`)
	assert.Error(t, err)
}

// Package extraction reads Instagram data for a job one upstream page at a time.
//
// Each extraction type has a Strategy that turns a Cursor into a page of
// filtered items and the Cursor of the following page. The Runner drives
// strategies for both the poller (all pages) and the chunk webhook (one page).
package extraction

import (
	"context"
	"errors"
	"fmt"

	"github.com/insta-extractor/internal/models"
	"github.com/insta-extractor/internal/types"
	"github.com/insta-extractor/internal/upstream"
)

// Source is the part of the upstream API the strategies use.
// *upstream.Client implements it.
type Source interface {
	UserByUsername(ctx context.Context, username string) (*upstream.User, error)
	UserByID(ctx context.Context, userID string) (*upstream.User, error)
	Followers(ctx context.Context, userID, cursor string) ([]upstream.User, string, error)
	Following(ctx context.Context, userID, cursor string) ([]upstream.User, string, error)
	UserMedias(ctx context.Context, userID, cursor string) ([]upstream.Media, string, error)
	MediaByURL(ctx context.Context, postURL string) (*upstream.Media, error)
	MediaLikers(ctx context.Context, mediaID string) ([]upstream.User, error)
	MediaComments(ctx context.Context, mediaID, cursor string) ([]upstream.Comment, string, error)
	HashtagMedias(ctx context.Context, tag, cursor string) ([]upstream.Media, string, error)
}

// StepResult is one processed upstream page
type StepResult struct {
	Items []*models.ExtractedItem
	// Next is nil when the job has no further pages
	Next *Cursor
}

// Strategy reads one upstream page of a job
type Strategy interface {
	Step(ctx context.Context, jc *JobContext, at Cursor) (*StepResult, error)
}

// Strategies returns the strategy of every extraction type over src
func Strategies(src Source) map[types.ExtractionType]Strategy {
	return map[types.ExtractionType]Strategy{
		types.TypeFollowers:  &profileListStrategy{src: src, list: src.Followers},
		types.TypeFollowing:  &profileListStrategy{src: src, list: src.Following},
		types.TypeLikers:     &likersStrategy{src: src},
		types.TypePosts:      &postsStrategy{src: src, list: userMedias(src)},
		types.TypeHashtags:   &postsStrategy{src: src, list: hashtagMedias(src)},
		types.TypeCommenters: &commentersStrategy{src: src},
	}
}

// ErrUnknownType is returned for a job whose extraction type has no strategy
var ErrUnknownType = errors.New("no strategy for extraction type")

func profileItem(u *upstream.User, source string) *models.ExtractedItem {
	return &models.ExtractedItem{
		Kind:           models.ItemProfile,
		PK:             string(u.PK),
		Username:       u.Username,
		FullName:       u.FullName,
		Biography:      u.Biography,
		ExternalURL:    u.ExternalURL,
		Email:          u.PublicEmail,
		Phone:          u.Phone(),
		FollowerCount:  u.FollowerCount,
		FollowingCount: u.FollowingCount,
		MediaCount:     u.MediaCount,
		IsPrivate:      u.IsPrivate,
		IsVerified:     u.IsVerified,
		IsBusiness:     u.IsBusiness,
		HasProfilePic:  u.HasProfilePic(),
		Source:         source,
	}
}

func postItem(m *upstream.Media, source string) *models.ExtractedItem {
	pk := string(m.PK)
	if pk == "" {
		pk = m.ID
	}
	return &models.ExtractedItem{
		Kind:         models.ItemPost,
		PK:           pk,
		Username:     m.User.Username,
		FullName:     m.User.FullName,
		Caption:      m.CaptionText,
		MediaType:    m.Kind(),
		Location:     m.LocationName(),
		LikeCount:    m.LikeCount,
		CommentCount: m.CommentCount,
		TakenAt:      m.TakenAt.Time,
		ExternalURL:  postLink(m.Code),
		Source:       source,
	}
}

func commentItem(c *upstream.Comment, source string, perUser bool) *models.ExtractedItem {
	pk := string(c.PK)
	if perUser {
		pk = string(c.User.PK)
	}
	return &models.ExtractedItem{
		Kind:          models.ItemComment,
		PK:            pk,
		Username:      c.User.Username,
		FullName:      c.User.FullName,
		IsPrivate:     c.User.IsPrivate,
		IsVerified:    c.User.IsVerified,
		HasProfilePic: c.User.HasProfilePic(),
		CommentText:   c.Text,
		LikeCount:     c.LikeCount,
		TakenAt:       c.CreatedAt.Time,
		Source:        source,
	}
}

func postLink(code string) string {
	if code == "" {
		return ""
	}
	return fmt.Sprintf("https://www.instagram.com/p/%s/", code)
}

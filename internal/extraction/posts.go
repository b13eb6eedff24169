package extraction

import (
	"context"
	"fmt"

	"github.com/insta-extractor/internal/filters"
	"github.com/insta-extractor/internal/models"
	"github.com/insta-extractor/internal/upstream"
)

type mediaPager func(ctx context.Context, jc *JobContext, target, cursor string) ([]upstream.Media, string, error)

func userMedias(src Source) mediaPager {
	return func(ctx context.Context, jc *JobContext, target, cursor string) ([]upstream.Media, string, error) {
		userID, err := jc.resolveUser(ctx, src, target)
		if err != nil {
			return nil, "", err
		}
		return src.UserMedias(ctx, userID, cursor)
	}
}

func hashtagMedias(src Source) mediaPager {
	return func(ctx context.Context, _ *JobContext, tag, cursor string) ([]upstream.Media, string, error) {
		return src.HashtagMedias(ctx, tag, cursor)
	}
}

// postsStrategy reads up to postsPerTarget posts from each account or hashtag
type postsStrategy struct {
	src  Source
	list mediaPager
}

func (s *postsStrategy) Step(ctx context.Context, jc *JobContext, at Cursor) (*StepResult, error) {
	if at.Target >= len(jc.Targets) {
		return &StepResult{}, nil
	}
	target := jc.Targets[at.Target]

	perTarget := int64(filters.DefaultPostsPerTarget)
	if jc.Filters.Post != nil && jc.Filters.Post.PostsPerTarget > 0 {
		perTarget = int64(jc.Filters.Post.PostsPerTarget)
	}

	medias, token, err := s.list(ctx, jc, target, at.Token)
	if err != nil {
		return nil, fmt.Errorf("list %s of %s: %w", jc.Type, target, err)
	}

	capped := false
	if left := perTarget - at.Read; int64(len(medias)) >= left {
		medias = medias[:max(left, 0)]
		capped = true
	}

	items := make([]*models.ExtractedItem, 0, len(medias))
	for i := range medias {
		item := postItem(&medias[i], target)
		if jc.Filters.Match(item) {
			items = append(items, item)
		}
	}

	next := advance(at, len(jc.Targets), token, len(medias))
	if capped {
		next = nextTarget(at, len(jc.Targets))
	}
	return &StepResult{Items: items, Next: next}, nil
}

package extraction

import (
	"context"
	"errors"
	"fmt"

	"github.com/insta-extractor/internal/logging"
	"github.com/insta-extractor/internal/models"
	"github.com/insta-extractor/internal/upstream"
)

type userPager func(ctx context.Context, userID, cursor string) ([]upstream.User, string, error)

// profileListStrategy reads followers or following of each target account
type profileListStrategy struct {
	src  Source
	list userPager
}

func (s *profileListStrategy) Step(ctx context.Context, jc *JobContext, at Cursor) (*StepResult, error) {
	if at.Target >= len(jc.Targets) {
		return &StepResult{}, nil
	}
	target := jc.Targets[at.Target]

	userID, err := jc.resolveUser(ctx, s.src, target)
	if err != nil {
		return nil, err
	}

	users, token, err := s.list(ctx, userID, at.Token)
	if err != nil {
		return nil, fmt.Errorf("list %s of @%s: %w", jc.Type, target, err)
	}

	items, err := keepProfiles(ctx, s.src, jc, users, target)
	if err != nil {
		return nil, err
	}
	return &StepResult{Items: items, Next: advance(at, len(jc.Targets), token, len(users))}, nil
}

// likersStrategy reads the likers of each post URL. Likers are not paginated
// upstream, so every URL is one page.
type likersStrategy struct {
	src Source
}

func (s *likersStrategy) Step(ctx context.Context, jc *JobContext, at Cursor) (*StepResult, error) {
	if at.Target >= len(jc.URLs) {
		return &StepResult{}, nil
	}
	postURL := jc.URLs[at.Target]

	media, err := jc.resolveMedia(ctx, s.src, postURL)
	if err != nil {
		return nil, err
	}

	users, err := s.src.MediaLikers(ctx, string(media.PK))
	if err != nil {
		return nil, fmt.Errorf("list likers of %s: %w", postURL, err)
	}

	items, err := keepProfiles(ctx, s.src, jc, users, postURL)
	if err != nil {
		return nil, err
	}
	return &StepResult{Items: items, Next: nextTarget(at, len(jc.URLs))}, nil
}

// keepProfiles filters a page of users, fetching full profiles only when the
// filters look at fields that list endpoints leave out. It stops once the
// job's item budget is reached.
func keepProfiles(ctx context.Context, src Source, jc *JobContext, users []upstream.User, source string) ([]*models.ExtractedItem, error) {
	detail := jc.Filters.NeedsProfileDetail()
	remaining := jc.Remaining()

	items := make([]*models.ExtractedItem, 0, len(users))
	for i := range users {
		if remaining >= 0 && int64(len(items)) >= remaining {
			break
		}

		u := &users[i]
		if detail {
			full, err := src.UserByID(ctx, string(u.PK))
			if errors.Is(err, upstream.ErrNotFound) {
				logging.FromContext(ctx).WithField("pk", string(u.PK)).Debug("profile vanished, skipping")
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("profile %s: %w", u.Username, err)
			}
			u = full
		}

		item := profileItem(u, source)
		if jc.Filters.Match(item) {
			items = append(items, item)
		}
	}
	return items, nil
}

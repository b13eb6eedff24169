package extraction

import (
	"context"
	"fmt"

	"github.com/insta-extractor/internal/models"
)

// commentersStrategy reads the comments of each post URL
type commentersStrategy struct {
	src Source
}

func (s *commentersStrategy) Step(ctx context.Context, jc *JobContext, at Cursor) (*StepResult, error) {
	if at.Target >= len(jc.URLs) {
		return &StepResult{}, nil
	}
	postURL := jc.URLs[at.Target]

	media, err := jc.resolveMedia(ctx, s.src, postURL)
	if err != nil {
		return nil, err
	}

	comments, token, err := s.src.MediaComments(ctx, string(media.PK), at.Token)
	if err != nil {
		return nil, fmt.Errorf("list comments of %s: %w", postURL, err)
	}

	perUser := jc.Filters.Comment.OnePerUser()
	items := make([]*models.ExtractedItem, 0, len(comments))
	for i := range comments {
		item := commentItem(&comments[i], postURL, perUser)
		if !jc.Filters.Match(item) {
			continue
		}
		// across chunk invocations the result store's (job_id, pk) key collapses repeats
		if perUser && !jc.firstSighting(item.PK) {
			continue
		}
		items = append(items, item)
	}

	return &StepResult{Items: items, Next: advance(at, len(jc.URLs), token, len(comments))}, nil
}

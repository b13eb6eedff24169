package extraction

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/insta-extractor/internal/coins"
	"github.com/insta-extractor/internal/filters"
	"github.com/insta-extractor/internal/models"
	"github.com/insta-extractor/internal/types"
	"github.com/insta-extractor/internal/upstream"
)

// JobContext is everything a strategy needs to read one job
type JobContext struct {
	JobID   string
	UserID  string
	Type    types.ExtractionType
	Targets []string // handles or hashtags
	URLs    []string // post URLs for likers and commenters
	Filters *filters.Set

	// SkipCoinCheck is set by the worker paths; the cost was debited when the job was created
	SkipCoinCheck bool

	// Extracted is the number of items kept so far
	Extracted int64
	// Budget is the item count the coin limit pays for, or coins.Unlimited
	Budget int64

	mu     sync.Mutex
	userPK map[string]string
	media  map[string]*upstream.Media
	seen   map[string]struct{}
}

// NewJobContext parses a stored job. Progress already recorded on the job
// counts against the item budget.
func NewJobContext(job *models.ExtractionJob) (*JobContext, error) {
	set, err := filters.Parse(job.ExtractionType, job.Filters)
	if err != nil {
		return nil, err
	}

	targets := models.SplitTargets(job.TargetUsernames)
	if job.ExtractionType == types.TypeHashtags && len(set.Post.Hashtags) > 0 {
		targets = models.SplitTargets(strings.Join(set.Post.Hashtags, ","))
	}

	switch {
	case job.ExtractionType.NeedsURLs() && len(job.URLs) == 0:
		return nil, fmt.Errorf("job %s has no post urls", job.ID)
	case !job.ExtractionType.NeedsURLs() && len(targets) == 0:
		return nil, fmt.Errorf("job %s has no targets", job.ID)
	}

	return &JobContext{
		JobID:     job.ID,
		UserID:    job.UserID,
		Type:      job.ExtractionType,
		Targets:   targets,
		URLs:      job.URLs,
		Filters:   set,
		Extracted: job.Progress,
		Budget:    coins.ItemBudget(job.ExtractionType, set.CoinLimit),
	}, nil
}

// Sources returns what the job iterates over: URLs or targets
func (jc *JobContext) Sources() []string {
	if jc.Type.NeedsURLs() {
		return jc.URLs
	}
	return jc.Targets
}

// Remaining returns how many more items the budget allows, or coins.Unlimited
func (jc *JobContext) Remaining() int64 {
	if jc.Budget < 0 {
		return coins.Unlimited
	}
	if jc.Extracted >= jc.Budget {
		return 0
	}
	return jc.Budget - jc.Extracted
}

// BudgetSpent reports whether the coin limit is used up
func (jc *JobContext) BudgetSpent() bool {
	return jc.Remaining() == 0
}

func (jc *JobContext) resolveUser(ctx context.Context, src Source, username string) (string, error) {
	key := strings.ToLower(username)
	jc.mu.Lock()
	pk, ok := jc.userPK[key]
	jc.mu.Unlock()
	if ok {
		return pk, nil
	}

	u, err := src.UserByUsername(ctx, username)
	if err != nil {
		return "", fmt.Errorf("resolve @%s: %w", username, err)
	}

	jc.mu.Lock()
	if jc.userPK == nil {
		jc.userPK = make(map[string]string)
	}
	jc.userPK[key] = string(u.PK)
	jc.mu.Unlock()
	return string(u.PK), nil
}

func (jc *JobContext) resolveMedia(ctx context.Context, src Source, postURL string) (*upstream.Media, error) {
	jc.mu.Lock()
	m, ok := jc.media[postURL]
	jc.mu.Unlock()
	if ok {
		return m, nil
	}

	m, err := src.MediaByURL(ctx, postURL)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", postURL, err)
	}

	jc.mu.Lock()
	if jc.media == nil {
		jc.media = make(map[string]*upstream.Media)
	}
	jc.media[postURL] = m
	jc.mu.Unlock()
	return m, nil
}

// firstSighting records pk and reports whether it had not been seen in this run
func (jc *JobContext) firstSighting(pk string) bool {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	if jc.seen == nil {
		jc.seen = make(map[string]struct{})
	}
	if _, ok := jc.seen[pk]; ok {
		return false
	}
	jc.seen[pk] = struct{}{}
	return true
}

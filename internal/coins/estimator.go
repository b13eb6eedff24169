package coins

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/insta-extractor/internal/filters"
	"github.com/insta-extractor/internal/logging"
	"github.com/insta-extractor/internal/types"
)

// CountSource looks up live counts from the upstream API
type CountSource interface {
	ProfileCounts(ctx context.Context, username string) (followers, following int64, err error)
	MediaCounts(ctx context.Context, url string) (likes, comments int64, err error)
}

// CountCache remembers counts between estimates. A miss returns ok=false.
type CountCache interface {
	GetCount(ctx context.Context, key string) (n int64, ok bool, err error)
	SetCount(ctx context.Context, key string, n int64, ttl time.Duration) error
}

// Quote is an estimate together with the cost derived from it
type Quote struct {
	Estimate Estimate
	Cost     int64
}

// Estimator prices a job before it is created
type Estimator struct {
	counts   CountSource
	cache    CountCache
	ttl      time.Duration
	fallback int64
}

// NewEstimator creates an estimator. cache may be nil.
func NewEstimator(counts CountSource, cache CountCache, ttl time.Duration, fallback int64) *Estimator {
	return &Estimator{counts: counts, cache: cache, ttl: ttl, fallback: fallback}
}

// Quote estimates the size of a job and prices it
func (e *Estimator) Quote(ctx context.Context, t types.ExtractionType, targets, urls []string, set *filters.Set) (Quote, error) {
	est, err := e.Estimate(ctx, t, targets, urls, set)
	if err != nil {
		return Quote{}, err
	}

	var limit *int64
	if set != nil {
		limit = set.CoinLimit
	}
	return Quote{Estimate: est, Cost: Cost(t, est, limit)}, nil
}

// Estimate counts targets and, where the price depends on it, the expected
// number of items. Lookups that fail are replaced by the fallback estimate.
func (e *Estimator) Estimate(ctx context.Context, t types.ExtractionType, targets, urls []string, set *filters.Set) (Estimate, error) {
	switch t {
	case types.TypeFollowers, types.TypeFollowing:
		est := Estimate{Targets: len(targets)}
		if set.HasLimit() {
			return est, nil
		}
		for _, target := range targets {
			n, ok := e.count(ctx, t, target)
			if !ok {
				est.Fallbacks++
			}
			est.Items += n
		}
		return est, nil

	case types.TypeLikers, types.TypeCommenters:
		est := Estimate{Targets: len(urls)}
		if t == types.TypeLikers && set.HasLimit() {
			return est, nil
		}
		for _, url := range urls {
			n, ok := e.count(ctx, t, url)
			if !ok {
				est.Fallbacks++
			}
			est.Items += n
		}
		return est, nil

	case types.TypePosts:
		return Estimate{Targets: len(targets)}, nil

	case types.TypeHashtags:
		tags := targets
		if set != nil && set.Post != nil && len(set.Post.Hashtags) > 0 {
			tags = set.Post.Hashtags
		}
		return Estimate{Targets: len(tags)}, nil
	}

	return Estimate{}, fmt.Errorf("no pricing rule for extraction type %q", t)
}

// handles are case-insensitive, post shortcodes are not
func countKey(t types.ExtractionType, target string) string {
	if t.NeedsURLs() {
		return fmt.Sprintf("%s:%s", t, target)
	}
	return fmt.Sprintf("%s:%s", t, strings.ToLower(target))
}

// count returns the live count for one target, or the fallback with ok=false
func (e *Estimator) count(ctx context.Context, t types.ExtractionType, target string) (int64, bool) {
	log := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"extraction_type": string(t),
		"target":          target,
	})

	key := countKey(t, target)
	if e.cache != nil {
		if n, ok, err := e.cache.GetCount(ctx, key); err != nil {
			log.WithError(err).Warn("count cache read failed")
		} else if ok {
			return n, true
		}
	}

	if e.counts == nil {
		return e.fallback, false
	}

	var n int64
	var err error
	switch t {
	case types.TypeFollowers:
		n, _, err = e.counts.ProfileCounts(ctx, target)
	case types.TypeFollowing:
		_, n, err = e.counts.ProfileCounts(ctx, target)
	case types.TypeLikers:
		n, _, err = e.counts.MediaCounts(ctx, target)
	case types.TypeCommenters:
		_, n, err = e.counts.MediaCounts(ctx, target)
	}
	if err != nil {
		log.WithError(err).Warnf("count lookup failed, assuming %d", e.fallback)
		return e.fallback, false
	}

	if e.cache != nil {
		if err := e.cache.SetCount(ctx, key, n, e.ttl); err != nil {
			log.WithError(err).Warn("count cache write failed")
		}
	}
	return n, true
}

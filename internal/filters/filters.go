// Package filters decodes and applies the per-job filter blob.
//
// The blob stored on a job is JSON text whose shape depends on the job's
// extraction type. Parse validates it against the schema for that type and
// returns a Set holding exactly one of ProfileFilters, PostFilters or
// CommentFilters.
package filters

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/insta-extractor/internal/types"
)

// Kind selects which filter variant a Set carries
type Kind string

const (
	KindProfile Kind = "profile"
	KindPost    Kind = "post"
	KindComment Kind = "comment"
)

// KindFor returns the filter variant used by an extraction type
func KindFor(t types.ExtractionType) Kind {
	switch t {
	case types.TypePosts, types.TypeHashtags:
		return KindPost
	case types.TypeCommenters:
		return KindComment
	default:
		return KindProfile
	}
}

// DefaultPostsPerTarget caps posts read per account or hashtag when unset
const DefaultPostsPerTarget = 50

// Set is the decoded filter blob of one job
type Set struct {
	Kind      Kind
	CoinLimit *int64

	Profile *ProfileFilters
	Post    *PostFilters
	Comment *CommentFilters
}

// ProfileFilters apply to followers, following and likers jobs
type ProfileFilters struct {
	ExtractPhone     bool           `json:"extractPhone"`
	ExtractEmail     bool           `json:"extractEmail"`
	ExtractLinkInBio bool           `json:"extractLinkInBio"`
	Privacy          types.TriState `json:"privacy"`
	Verified         types.TriState `json:"verified"`
	Business         types.TriState `json:"business"`
	ProfilePicture   types.TriState `json:"profilePicture"`
	MinFollowers     *int64         `json:"minFollowers"`
	MaxFollowers     *int64         `json:"maxFollowers"`
	MinFollowing     *int64         `json:"minFollowing"`
	MaxFollowing     *int64         `json:"maxFollowing"`
	NameContains     []string       `json:"nameContains"`
	BioContains      []string       `json:"bioContains"`
	StopWords        []string       `json:"stopWords"`
}

// PostFilters apply to posts and hashtags jobs
type PostFilters struct {
	DateFrom         string   `json:"dateFrom"`
	DateTo           string   `json:"dateTo"`
	PostType         string   `json:"postType"`
	MinLikes         *int64   `json:"minLikes"`
	MaxLikes         *int64   `json:"maxLikes"`
	MinComments      *int64   `json:"minComments"`
	MaxComments      *int64   `json:"maxComments"`
	CaptionContains  []string `json:"captionContains"`
	CaptionStopWords []string `json:"captionStopWords"`
	HashtagContains  []string `json:"hashtagContains"`
	Location         string   `json:"location"`
	PostsPerTarget   int      `json:"postsPerTarget"`
	Hashtags         []string `json:"hashtags"`

	from, to time.Time
}

// CommentFilters apply to commenters jobs
type CommentFilters struct {
	ExcludeWords []string `json:"excludeWords"`
	StopWords    []string `json:"stopWords"`
	// UniqueUsers keeps one row per commenter instead of one per comment; default true
	UniqueUsers *bool `json:"uniqueUsers"`
}

// OnePerUser reports whether repeated comments by the same user collapse into one row
func (c *CommentFilters) OnePerUser() bool {
	return c == nil || c.UniqueUsers == nil || *c.UniqueUsers
}

type envelope struct {
	CoinLimit *int64 `json:"coinLimit"`
}

// Parse validates raw against the schema for t and decodes it.
// An empty blob decodes to the zero filters of the matching variant.
func Parse(t types.ExtractionType, raw string) (*Set, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown extraction type %q", t)
	}

	kind := KindFor(t)
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		raw = "{}"
	}

	if err := validate(kind, []byte(raw)); err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("decode filters: %w", err)
	}

	set := &Set{Kind: kind, CoinLimit: env.CoinLimit}
	switch kind {
	case KindProfile:
		var pf ProfileFilters
		if err := json.Unmarshal([]byte(raw), &pf); err != nil {
			return nil, fmt.Errorf("decode profile filters: %w", err)
		}
		pf.Privacy = orAny(pf.Privacy)
		pf.Verified = orAny(pf.Verified)
		pf.Business = orAny(pf.Business)
		pf.ProfilePicture = orAny(pf.ProfilePicture)
		set.Profile = &pf
	case KindPost:
		var pf PostFilters
		if err := json.Unmarshal([]byte(raw), &pf); err != nil {
			return nil, fmt.Errorf("decode post filters: %w", err)
		}
		if err := pf.resolveDates(); err != nil {
			return nil, err
		}
		if pf.PostsPerTarget <= 0 {
			pf.PostsPerTarget = DefaultPostsPerTarget
		}
		if pf.PostType == "" {
			pf.PostType = "any"
		}
		set.Post = &pf
	case KindComment:
		var cf CommentFilters
		if err := json.Unmarshal([]byte(raw), &cf); err != nil {
			return nil, fmt.Errorf("decode comment filters: %w", err)
		}
		set.Comment = &cf
	}

	return set, nil
}

// MustEmpty returns the zero filters for t; it never fails for a valid type
func MustEmpty(t types.ExtractionType) *Set {
	set, err := Parse(t, "")
	if err != nil {
		panic(err)
	}
	return set
}

// Limit returns the coin limit, or 0 when none was given
func (s *Set) Limit() int64 {
	if s == nil || s.CoinLimit == nil {
		return 0
	}
	return *s.CoinLimit
}

// HasLimit reports whether the caller capped the job's coin spend
func (s *Set) HasLimit() bool {
	return s != nil && s.CoinLimit != nil
}

// NeedsProfileDetail reports whether matching needs fields that only a full
// profile lookup returns (contacts, counts, biography, business flag).
func (s *Set) NeedsProfileDetail() bool {
	if s == nil || s.Profile == nil {
		return false
	}
	p := s.Profile
	return p.ExtractPhone || p.ExtractEmail || p.ExtractLinkInBio ||
		p.Business != types.TriAny ||
		p.MinFollowers != nil || p.MaxFollowers != nil ||
		p.MinFollowing != nil || p.MaxFollowing != nil ||
		len(p.BioContains) > 0 || len(p.StopWords) > 0
}

// absent keys leave the zero value, which means the same as "any"
func orAny(t types.TriState) types.TriState {
	if t == "" {
		return types.TriAny
	}
	return t
}

var dateLayouts = []string{time.RFC3339, "2006-01-02"}

func parseDate(field, value string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("filter %s: unrecognized date %q", field, value)
}

func (p *PostFilters) resolveDates() error {
	if p.DateFrom != "" {
		t, err := parseDate("dateFrom", p.DateFrom)
		if err != nil {
			return err
		}
		p.from = t
	}
	if p.DateTo != "" {
		t, err := parseDate("dateTo", p.DateTo)
		if err != nil {
			return err
		}
		// a bare date covers the whole day
		if len(p.DateTo) == len("2006-01-02") {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		p.to = t
	}
	if !p.from.IsZero() && !p.to.IsZero() && p.from.After(p.to) {
		return fmt.Errorf("filter dateFrom is after dateTo")
	}
	return nil
}

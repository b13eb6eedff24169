package filters

import (
	"strings"

	"github.com/insta-extractor/internal/models"
)

// MatchProfile reports whether a profile item passes the filters.
// A nil filter set keeps everything.
func MatchProfile(f *ProfileFilters, item *models.ExtractedItem) bool {
	if f == nil {
		return true
	}

	if f.ExtractPhone && item.Phone == "" {
		return false
	}
	if f.ExtractEmail && item.Email == "" {
		return false
	}
	if f.ExtractLinkInBio && item.ExternalURL == "" {
		return false
	}

	if !f.Privacy.Allows(item.IsPrivate) ||
		!f.Verified.Allows(item.IsVerified) ||
		!f.Business.Allows(item.IsBusiness) ||
		!f.ProfilePicture.Allows(item.HasProfilePic) {
		return false
	}

	if !inRange(item.FollowerCount, f.MinFollowers, f.MaxFollowers) ||
		!inRange(item.FollowingCount, f.MinFollowing, f.MaxFollowing) {
		return false
	}

	name := item.Username + " " + item.FullName
	if hasTerms(f.NameContains) && !containsAny(name, f.NameContains) {
		return false
	}
	if hasTerms(f.BioContains) && !containsAny(item.Biography, f.BioContains) {
		return false
	}
	if containsAny(name, f.StopWords) || containsAny(item.Biography, f.StopWords) {
		return false
	}
	return true
}

// MatchPost reports whether a post item passes the filters
func MatchPost(f *PostFilters, item *models.ExtractedItem) bool {
	if f == nil {
		return true
	}

	if !item.TakenAt.IsZero() {
		if !f.from.IsZero() && item.TakenAt.Before(f.from) {
			return false
		}
		if !f.to.IsZero() && item.TakenAt.After(f.to) {
			return false
		}
	}

	if f.PostType != "" && f.PostType != "any" && !strings.EqualFold(f.PostType, item.MediaType) {
		return false
	}

	if !inRange(item.LikeCount, f.MinLikes, f.MaxLikes) ||
		!inRange(item.CommentCount, f.MinComments, f.MaxComments) {
		return false
	}

	if hasTerms(f.CaptionContains) && !containsAny(item.Caption, f.CaptionContains) {
		return false
	}
	if containsAny(item.Caption, f.CaptionStopWords) {
		return false
	}
	if tags := hashtagTerms(f.HashtagContains); len(tags) > 0 && !containsAny(item.Caption, tags) {
		return false
	}
	if f.Location != "" && !containsAny(item.Location, []string{f.Location}) {
		return false
	}
	return true
}

// MatchComment reports whether a comment item passes the filters
func MatchComment(f *CommentFilters, item *models.ExtractedItem) bool {
	if f == nil {
		return true
	}
	if containsAny(item.CommentText, f.ExcludeWords) {
		return false
	}
	if containsAny(item.CommentText, f.StopWords) || containsAny(item.Username, f.StopWords) {
		return false
	}
	return true
}

// Match dispatches to the matcher of the set's variant
func (s *Set) Match(item *models.ExtractedItem) bool {
	if s == nil {
		return true
	}
	switch s.Kind {
	case KindPost:
		return MatchPost(s.Post, item)
	case KindComment:
		return MatchComment(s.Comment, item)
	default:
		return MatchProfile(s.Profile, item)
	}
}

func inRange(v int64, min, max *int64) bool {
	if min != nil && v < *min {
		return false
	}
	if max != nil && v > *max {
		return false
	}
	return true
}

// containsAny is a case-insensitive substring test; blank terms are ignored
// hasTerms reports whether a contains-filter has any non-blank term; a filter
// of blanks is treated as unset
func hasTerms(terms []string) bool {
	for _, term := range terms {
		if strings.TrimSpace(term) != "" {
			return true
		}
	}
	return false
}

func containsAny(text string, terms []string) bool {
	if text == "" || len(terms) == 0 {
		return false
	}
	lower := strings.ToLower(text)
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term != "" && strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

func hashtagTerms(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimPrefix(strings.TrimSpace(tag), "#")
		if tag == "" {
			continue
		}
		out = append(out, "#"+tag)
	}
	return out
}

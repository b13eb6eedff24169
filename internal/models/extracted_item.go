package models

import "time"

// ItemKind identifies the shape of an extracted row
type ItemKind string

const (
	ItemProfile ItemKind = "profile"
	ItemPost    ItemKind = "post"
	ItemComment ItemKind = "comment"
)

// ExtractedItem is one result row produced by an extraction strategy
type ExtractedItem struct {
	JobID          string    `json:"job_id"`
	Kind           ItemKind  `json:"kind"`
	PK             string    `json:"pk"`
	Username       string    `json:"username"`
	FullName       string    `json:"full_name,omitempty"`
	Biography      string    `json:"biography,omitempty"`
	ExternalURL    string    `json:"external_url,omitempty"`
	Email          string    `json:"email,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	FollowerCount  int64     `json:"follower_count"`
	FollowingCount int64     `json:"following_count"`
	MediaCount     int64     `json:"media_count"`
	IsPrivate      bool      `json:"is_private"`
	IsVerified     bool      `json:"is_verified"`
	IsBusiness     bool      `json:"is_business"`
	HasProfilePic  bool      `json:"has_profile_pic"`
	Caption        string    `json:"caption,omitempty"`
	MediaType      string    `json:"media_type,omitempty"` // photo, video or carousel
	Location       string    `json:"location,omitempty"`
	CommentText    string    `json:"comment_text,omitempty"`
	LikeCount      int64     `json:"like_count"`
	CommentCount   int64     `json:"comment_count"`
	TakenAt        time.Time `json:"taken_at"`
	Source         string    `json:"source"` // target handle, hashtag or post URL the item came from
	ExtractedAt    time.Time `json:"extracted_at"`
}

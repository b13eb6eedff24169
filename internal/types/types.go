// Package types provides common type definitions for the extraction pipeline.
package types

import (
	"encoding/json"
	"strings"
)

// ExtractionType identifies what an extraction job pulls from the upstream API.
// It is fixed when the job is created.
type ExtractionType string

const (
	// TypeFollowers extracts the followers of each target account
	TypeFollowers ExtractionType = "followers"
	// TypeFollowing extracts the accounts each target follows
	TypeFollowing ExtractionType = "following"
	// TypeLikers extracts the users who liked each target post
	TypeLikers ExtractionType = "likers"
	// TypePosts extracts the posts published by each target account
	TypePosts ExtractionType = "posts"
	// TypeCommenters extracts the users who commented on each target post
	TypeCommenters ExtractionType = "commenters"
	// TypeHashtags extracts posts published under each target hashtag
	TypeHashtags ExtractionType = "hashtags"
)

// AllExtractionTypes lists every supported extraction type in a stable order.
var AllExtractionTypes = []ExtractionType{
	TypeFollowers,
	TypeFollowing,
	TypeLikers,
	TypePosts,
	TypeCommenters,
	TypeHashtags,
}

// Valid reports whether t is a known extraction type
func (t ExtractionType) Valid() bool {
	for _, known := range AllExtractionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// NeedsURLs reports whether jobs of this type operate on post URLs rather than accounts
func (t ExtractionType) NeedsURLs() bool {
	return t == TypeLikers || t == TypeCommenters
}

// ParseExtractionType normalizes and validates a raw type string
func ParseExtractionType(raw string) (ExtractionType, bool) {
	t := ExtractionType(strings.ToLower(strings.TrimSpace(raw)))
	return t, t.Valid()
}

// JobStatus represents the lifecycle state of an extraction job
type JobStatus string

const (
	// StatusPending is the state of a freshly created job
	StatusPending JobStatus = "pending"
	// StatusProcessing marks a job claimed by a poller
	StatusProcessing JobStatus = "processing"
	// StatusInProgress marks a job advanced by at least one chunk invocation
	StatusInProgress JobStatus = "in_progress"
	// StatusCompleted is the terminal success state
	StatusCompleted JobStatus = "completed"
	// StatusFailed is the terminal failure state
	StatusFailed JobStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed from s
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// transitions is the single table of allowed status changes, shared by the
// poller and the chunk trigger.
var transitions = map[JobStatus][]JobStatus{
	StatusPending:    {StatusProcessing, StatusInProgress, StatusCompleted, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusInProgress: {StatusInProgress, StatusCompleted, StatusFailed},
}

// CanTransition reports whether a job may move from one status to another
func CanTransition(from, to JobStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TriState is a yes/no/doesn't-matter filter flag
type TriState string

const (
	// TriAny means the attribute is not filtered
	TriAny TriState = "any"
	// TriYes keeps only items that have the attribute
	TriYes TriState = "yes"
	// TriNo keeps only items that lack the attribute
	TriNo TriState = "no"
)

// Allows reports whether an item with the given attribute value passes the flag
func (t TriState) Allows(value bool) bool {
	switch t {
	case TriYes:
		return value
	case TriNo:
		return !value
	default:
		return true
	}
}

// ParseTriState maps the accepted spellings onto a TriState; unknown values mean any
func ParseTriState(raw string) TriState {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yes", "true":
		return TriYes
	case "no", "false":
		return TriNo
	default:
		return TriAny
	}
}

// UnmarshalJSON accepts a boolean or any ParseTriState spelling
func (t *TriState) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		if b {
			*t = TriYes
		} else {
			*t = TriNo
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*t = TriAny
		return nil
	}
	*t = ParseTriState(s)
	return nil
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

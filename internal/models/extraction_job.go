package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/insta-extractor/internal/types"
)

// ExtractionJob represents an extraction job row in the database.
// JSON tags follow the column names so a row snapshot delivered by a
// database-change webhook decodes straight into this struct.
type ExtractionJob struct {
	ID              string               `json:"id" db:"id"`
	UserID          string               `json:"user_id" db:"user_id"`
	ExtractionType  types.ExtractionType `json:"extraction_type" db:"extraction_type"`
	TargetUsernames string               `json:"target_usernames" db:"target_usernames"` // comma-joined handles or hashtags
	Filters         string               `json:"filters" db:"filters"`                   // JSON text, parsed per type
	URLs            []string             `json:"urls,omitempty" db:"urls"`               // likers/commenters only
	Status          types.JobStatus      `json:"status" db:"status"`
	Progress        int64                `json:"progress" db:"progress"`
	PageCount       int                  `json:"page_count" db:"page_count"`
	NextPageID      *string              `json:"next_page_id" db:"next_page_id"`
	ErrorMessage    *string              `json:"error_message" db:"error_message"`
	CoinCost        int64                `json:"coin_cost" db:"coin_cost"`
	RequestedAt     time.Time            `json:"requested_at" db:"requested_at"`
	CompletedAt     *time.Time           `json:"completed_at" db:"completed_at"`
}

// Targets parses TargetUsernames into its ordered, non-empty list of handles,
// hashtags or, for likers and commenters, post URLs. Leading '@' and '#' are
// dropped and blank entries are skipped.
func (j *ExtractionJob) Targets() ([]string, error) {
	targets := SplitTargets(j.TargetUsernames)
	if len(targets) == 0 {
		return nil, fmt.Errorf("job %s has no targets", j.ID)
	}
	return targets, nil
}

// SplitTargets turns a comma-joined target string into trimmed, non-empty entries
func SplitTargets(raw string) []string {
	parts := strings.Split(raw, ",")
	targets := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		p = strings.TrimLeft(p, "@#")
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		targets = append(targets, p)
	}
	return targets
}

// JoinTargets is the inverse of SplitTargets
func JoinTargets(targets []string) string {
	return strings.Join(SplitTargets(strings.Join(targets, ",")), ",")
}

// Cursor returns the stored pagination cursor, or "" when none is stored
func (j *ExtractionJob) Cursor() string {
	if j.NextPageID == nil {
		return ""
	}
	return *j.NextPageID
}

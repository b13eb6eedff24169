// Package service implements the job creation and query operations behind the HTTP API.
package service

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/insta-extractor/internal/coins"
	apperrors "github.com/insta-extractor/internal/errors"
	"github.com/insta-extractor/internal/filters"
	"github.com/insta-extractor/internal/logging"
	"github.com/insta-extractor/internal/models"
	"github.com/insta-extractor/internal/storage"
	"github.com/insta-extractor/internal/types"
)

const (
	maxTargets   = 50
	maxURLs      = 50
	defaultLimit = 20
	maxListLimit = 100
)

// JobRepo is the job persistence used by the service. *storage.JobRepository implements it.
type JobRepo interface {
	CreateWithDebit(ctx context.Context, job *models.ExtractionJob, cost int64) error
	GetByID(ctx context.Context, id string) (*models.ExtractionJob, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.ExtractionJob, error)
}

// UserRepo reads user accounts. *storage.UserRepository implements it.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// Quoter prices a job. *coins.Estimator implements it.
type Quoter interface {
	Quote(ctx context.Context, t types.ExtractionType, targets, urls []string, set *filters.Set) (coins.Quote, error)
}

// ProgressReader returns the live progress of a running job. *storage.CacheService implements it.
type ProgressReader interface {
	LatestProgress(ctx context.Context, jobID string) (*storage.ProgressEvent, bool, error)
}

// JobService creates extraction jobs and reports on them
type JobService struct {
	jobs     JobRepo
	users    UserRepo
	quoter   Quoter
	progress ProgressReader
}

// NewJobService creates a new job service. progress may be nil.
func NewJobService(jobs JobRepo, users UserRepo, quoter Quoter, progress ProgressReader) *JobService {
	return &JobService{
		jobs:     jobs,
		users:    users,
		quoter:   quoter,
		progress: progress,
	}
}

// CreateJobInput is the body of a job creation request
type CreateJobInput struct {
	UserID  string          `json:"user_id"`
	Type    string          `json:"type"`
	Targets []string        `json:"targets"`
	URLs    []string        `json:"urls,omitempty"`
	Filters json.RawMessage `json:"filters,omitempty"`
}

// CreateJobResult is returned once the job is stored and paid for
type CreateJobResult struct {
	ID        string          `json:"id"`
	Status    types.JobStatus `json:"status"`
	Progress  int64           `json:"progress"`
	CoinCost  int64           `json:"coin_cost"`
	Estimated bool            `json:"estimated"` // some counts fell back to the default estimate
}

// JobView is the public state of a job
type JobView struct {
	ID             string               `json:"id"`
	UserID         string               `json:"user_id"`
	ExtractionType types.ExtractionType `json:"extraction_type"`
	Targets        []string             `json:"targets"`
	URLs           []string             `json:"urls,omitempty"`
	Status         types.JobStatus      `json:"status"`
	Progress       int64                `json:"progress"`
	PageCount      int                  `json:"page_count"`
	CoinCost       int64                `json:"coin_cost"`
	ErrorMessage   *string              `json:"error_message"`
	RequestedAt    time.Time            `json:"requested_at"`
	CompletedAt    *time.Time           `json:"completed_at"`
}

// BalanceView is a user's coin balance
type BalanceView struct {
	UserID string `json:"user_id"`
	Coins  int64  `json:"coins"`
}

// CreateJob validates a request, prices it and stores it as a pending job.
// The cost is debited in the same transaction that inserts the job.
func (s *JobService) CreateJob(ctx context.Context, input *CreateJobInput) (*CreateJobResult, error) {
	t, set, targets, urls, err := validateCreate(input)
	if err != nil {
		return nil, err
	}

	log := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"user_id":         input.UserID,
		"extraction_type": string(t),
	})

	user, err := s.users.GetByID(ctx, input.UserID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, apperrors.NewForbiddenError("user account is inactive")
	}

	quote, err := s.quoter.Quote(ctx, t, targets, urls, set)
	if err != nil {
		return nil, apperrors.NewInvalidParameterError("type", err.Error())
	}
	// cheap rejection before opening a transaction; the debit re-checks
	if user.Coins < quote.Cost {
		return nil, apperrors.NewInsufficientCoinsError(quote.Cost, user.Coins)
	}

	job := &models.ExtractionJob{
		UserID:          user.ID,
		ExtractionType:  t,
		TargetUsernames: models.JoinTargets(targets),
		Filters:         rawFilters(input.Filters),
		URLs:            urls,
	}
	if err := s.jobs.CreateWithDebit(ctx, job, quote.Cost); err != nil {
		return nil, err
	}

	log.WithFields(map[string]interface{}{
		"job_id":    job.ID,
		"coin_cost": quote.Cost,
		"fallbacks": quote.Estimate.Fallbacks,
	}).Info("extraction job created")

	return &CreateJobResult{
		ID:        job.ID,
		Status:    job.Status,
		Progress:  job.Progress,
		CoinCost:  job.CoinCost,
		Estimated: quote.Estimate.Fallbacks > 0,
	}, nil
}

func validateCreate(input *CreateJobInput) (types.ExtractionType, *filters.Set, []string, []string, error) {
	if input == nil {
		return "", nil, nil, nil, apperrors.NewInvalidParameterError("body", "is required")
	}
	if strings.TrimSpace(input.UserID) == "" {
		return "", nil, nil, nil, apperrors.NewInvalidParameterError("user_id", "is required")
	}

	t, ok := types.ParseExtractionType(input.Type)
	if !ok {
		return "", nil, nil, nil, apperrors.NewInvalidParameterError("type", "unknown extraction type "+input.Type)
	}

	set, err := filters.Parse(t, rawFilters(input.Filters))
	if err != nil {
		return "", nil, nil, nil, apperrors.NewInvalidParameterError("filters", err.Error())
	}

	targets := models.SplitTargets(strings.Join(input.Targets, ","))
	if len(targets) > maxTargets {
		return "", nil, nil, nil, apperrors.NewInvalidParameterError("targets", "too many targets")
	}

	var urls []string
	if t.NeedsURLs() {
		urls, err = cleanURLs(input.URLs)
		if err != nil {
			return "", nil, nil, nil, err
		}
		// target_usernames always names what the job reads: here the posts
		return t, set, models.SplitTargets(strings.Join(urls, ",")), urls, nil
	}

	// filter hashtags take precedence over targets, as in extraction
	if t == types.TypeHashtags && len(set.Post.Hashtags) > 0 {
		targets = models.SplitTargets(strings.Join(set.Post.Hashtags, ","))
	}
	if len(targets) == 0 {
		return "", nil, nil, nil, apperrors.NewInvalidParameterError("targets", "at least one target is required")
	}
	return t, set, targets, nil, nil
}

func cleanURLs(raw []string) ([]string, error) {
	urls := make([]string, 0, len(raw))
	for _, u := range raw {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		parsed, err := url.Parse(u)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" || strings.Contains(u, ",") {
			return nil, apperrors.NewInvalidParameterError("urls", "not a post url: "+u)
		}
		urls = append(urls, u)
	}
	if len(urls) == 0 {
		return nil, apperrors.NewInvalidParameterError("urls", "at least one post url is required")
	}
	if len(urls) > maxURLs {
		return nil, apperrors.NewInvalidParameterError("urls", "too many post urls")
	}
	return urls, nil
}

func rawFilters(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "null" {
		return ""
	}
	return s
}

// GetStatus returns a job. A running job reports the newest of its stored
// and its live published progress.
func (s *JobService) GetStatus(ctx context.Context, id string) (*JobView, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperrors.NewInvalidParameterError("id", "is required")
	}

	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	view := toView(job)
	if s.progress != nil && !job.Status.IsTerminal() {
		event, ok, err := s.progress.LatestProgress(ctx, id)
		if err != nil {
			logging.FromContext(ctx).WithError(err).Debug("live progress unavailable")
		} else if ok && event.Progress > view.Progress {
			view.Progress = event.Progress
		}
	}
	return view, nil
}

// ListJobs returns a user's most recent jobs, newest first
func (s *JobService) ListJobs(ctx context.Context, userID string, limit int) ([]*JobView, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperrors.NewInvalidParameterError("user_id", "is required")
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	jobs, err := s.jobs.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}

	views := make([]*JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, toView(job))
	}
	return views, nil
}

// GetBalance returns a user's coin balance
func (s *JobService) GetBalance(ctx context.Context, userID string) (*BalanceView, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperrors.NewInvalidParameterError("user_id", "is required")
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &BalanceView{UserID: user.ID, Coins: user.Coins}, nil
}

func toView(job *models.ExtractionJob) *JobView {
	return &JobView{
		ID:             job.ID,
		UserID:         job.UserID,
		ExtractionType: job.ExtractionType,
		Targets:        models.SplitTargets(job.TargetUsernames),
		URLs:           job.URLs,
		Status:         job.Status,
		Progress:       job.Progress,
		PageCount:      job.PageCount,
		CoinCost:       job.CoinCost,
		ErrorMessage:   job.ErrorMessage,
		RequestedAt:    job.RequestedAt,
		CompletedAt:    job.CompletedAt,
	}
}

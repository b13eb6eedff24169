package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/insta-extractor/internal/errors"
	"github.com/insta-extractor/internal/models"
	"github.com/insta-extractor/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// JobRepository persists extraction jobs. Every status change is a
// compare-and-swap on the current status so two processors never both own a job.
type JobRepository struct {
	db *PostgresDB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *PostgresDB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `
	id, user_id, extraction_type, target_usernames, filters, urls, status,
	progress, page_count, next_page_id, error_message, coin_cost,
	requested_at, completed_at
`

// ChunkUpdate is the state written after one chunk of a job
type ChunkUpdate struct {
	Status      types.JobStatus
	Progress    int64
	NextPageID  *string
	CompletedAt *time.Time
}

// CreateWithDebit charges the owner cost coins and inserts the job as pending,
// in one transaction. The debit only applies when the balance covers the cost.
func (r *JobRepository) CreateWithDebit(ctx context.Context, job *models.ExtractionJob, cost int64) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.Status = types.StatusPending
	job.Progress = 0
	job.PageCount = 0
	job.CoinCost = cost
	job.RequestedAt = time.Now().UTC()
	if job.URLs == nil {
		job.URLs = []string{}
	}

	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		debitQuery := `
			UPDATE users
			SET coins = coins - $2
			WHERE id = $1 AND is_active AND coins >= $2
			RETURNING coins
		`
		var remaining int64
		err := tx.QueryRow(ctx, debitQuery, job.UserID, cost).Scan(&remaining)
		if errors.Is(err, pgx.ErrNoRows) {
			return explainRejectedDebit(ctx, tx, job.UserID, cost)
		}
		if err != nil {
			return apperrors.NewDatabaseError("debit job cost", err)
		}

		insertQuery := `
			INSERT INTO extraction_jobs (
				id, user_id, extraction_type, target_usernames, filters, urls,
				status, progress, page_count, coin_cost, requested_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`
		if _, err := tx.Exec(ctx, insertQuery,
			job.ID,
			job.UserID,
			job.ExtractionType,
			job.TargetUsernames,
			job.Filters,
			job.URLs,
			job.Status,
			job.Progress,
			job.PageCount,
			job.CoinCost,
			job.RequestedAt,
		); err != nil {
			return apperrors.NewDatabaseError("insert extraction job", err)
		}
		return nil
	})
}

// explainRejectedDebit turns a debit that matched no row into the reason it was refused
func explainRejectedDebit(ctx context.Context, q querier, userID string, cost int64) error {
	var coins int64
	var active bool
	err := q.QueryRow(ctx, `SELECT coins, is_active FROM users WHERE id = $1`, userID).Scan(&coins, &active)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return apperrors.NewNotFoundError("user", userID)
	case err != nil:
		return apperrors.NewDatabaseError("read balance", err)
	case !active:
		return apperrors.NewForbiddenError("user account is inactive")
	default:
		return apperrors.NewInsufficientCoinsError(cost, coins)
	}
}

// GetByID retrieves a job by ID
func (r *JobRepository) GetByID(ctx context.Context, id string) (*models.ExtractionJob, error) {
	query := `SELECT ` + jobColumns + ` FROM extraction_jobs WHERE id = $1`

	job, err := scanJob(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("extraction job", id)
		}
		return nil, apperrors.NewDatabaseError("get extraction job", err)
	}
	return job, nil
}

// NextPending returns the oldest pending job, or nil when there is none
func (r *JobRepository) NextPending(ctx context.Context) (*models.ExtractionJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM extraction_jobs
		WHERE status = 'pending'
		ORDER BY requested_at ASC
		LIMIT 1
	`

	job, err := scanJob(r.db.Pool().QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.NewDatabaseError("find pending job", err)
	}
	return job, nil
}

// ListByUser returns a user's most recent jobs
func (r *JobRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.ExtractionJob, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `
		SELECT ` + jobColumns + `
		FROM extraction_jobs
		WHERE user_id = $1
		ORDER BY requested_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool().Query(ctx, query, userID, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list extraction jobs", err)
	}
	defer rows.Close()

	var jobs []*models.ExtractionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("scan extraction job", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate extraction jobs", err)
	}
	return jobs, nil
}

// Claim moves a job from one status to another only if it is still in from.
// It returns false when another processor changed the status first.
func (r *JobRepository) Claim(ctx context.Context, id string, from, to types.JobStatus) (bool, error) {
	if !types.CanTransition(from, to) {
		return false, fmt.Errorf("illegal status transition %s -> %s", from, to)
	}

	result, err := r.db.Pool().Exec(ctx,
		`UPDATE extraction_jobs SET status = $3 WHERE id = $1 AND status = $2`,
		id, from, to,
	)
	if err != nil {
		return false, apperrors.NewDatabaseError("claim extraction job", err)
	}
	return result.RowsAffected() == 1, nil
}

// UpdateProgress raises the stored progress; it never lowers it
func (r *JobRepository) UpdateProgress(ctx context.Context, id string, progress int64) error {
	query := `
		UPDATE extraction_jobs
		SET progress = GREATEST(progress, $2)
		WHERE id = $1 AND status NOT IN ('completed', 'failed')
	`
	if _, err := r.db.Pool().Exec(ctx, query, id, progress); err != nil {
		return apperrors.NewDatabaseError("update progress", err)
	}
	return nil
}

// MarkCompleted records success with the final item count
func (r *JobRepository) MarkCompleted(ctx context.Context, id string, progress int64) error {
	query := `
		UPDATE extraction_jobs
		SET status = 'completed',
			progress = GREATEST(progress, $2),
			next_page_id = NULL,
			error_message = NULL,
			completed_at = NOW()
		WHERE id = $1 AND status NOT IN ('completed', 'failed')
	`
	result, err := r.db.Pool().Exec(ctx, query, id, progress)
	if err != nil {
		return apperrors.NewDatabaseError("complete extraction job", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.NewUpdateFailedError("extraction job", id)
	}
	return nil
}

// MarkFailed records a terminal failure; progress already written is kept
func (r *JobRepository) MarkFailed(ctx context.Context, id string, message string) error {
	query := `
		UPDATE extraction_jobs
		SET status = 'failed',
			error_message = $2,
			completed_at = NOW()
		WHERE id = $1 AND status NOT IN ('completed', 'failed')
	`
	result, err := r.db.Pool().Exec(ctx, query, id, message)
	if err != nil {
		return apperrors.NewDatabaseError("fail extraction job", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.NewUpdateFailedError("extraction job", id)
	}
	return nil
}

// FailChunk marks a job failed from the chunk webhook. Like SaveChunk it only
// lands while the job is chunk-driven and still at expectedPageCount, so a
// stale or duplicate invocation cannot fail a job another processor owns.
func (r *JobRepository) FailChunk(ctx context.Context, id string, expectedPageCount int, message string) (bool, error) {
	query := `
		UPDATE extraction_jobs
		SET status = 'failed',
			error_message = $3,
			completed_at = NOW()
		WHERE id = $1
			AND page_count = $2
			AND status IN ('pending', 'in_progress')
	`
	result, err := r.db.Pool().Exec(ctx, query, id, expectedPageCount, message)
	if err != nil {
		return false, apperrors.NewDatabaseError("fail chunk", err)
	}
	return result.RowsAffected() == 1, nil
}

// SaveChunk writes the outcome of one chunk. The write only lands if the job
// is still non-terminal and has processed exactly expectedPageCount chunks, so
// of two invocations racing on the same snapshot only one advances the job.
func (r *JobRepository) SaveChunk(ctx context.Context, id string, expectedPageCount int, u ChunkUpdate) (bool, error) {
	query := `
		UPDATE extraction_jobs
		SET page_count = page_count + 1,
			progress = GREATEST(progress, $3),
			status = $4,
			next_page_id = $5,
			completed_at = $6
		WHERE id = $1
			AND page_count = $2
			AND status IN ('pending', 'in_progress')
	`
	result, err := r.db.Pool().Exec(ctx, query,
		id,
		expectedPageCount,
		u.Progress,
		u.Status,
		u.NextPageID,
		u.CompletedAt,
	)
	if err != nil {
		return false, apperrors.NewDatabaseError("save chunk", err)
	}
	return result.RowsAffected() == 1, nil
}

func scanJob(row pgx.Row) (*models.ExtractionJob, error) {
	var job models.ExtractionJob
	err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.ExtractionType,
		&job.TargetUsernames,
		&job.Filters,
		&job.URLs,
		&job.Status,
		&job.Progress,
		&job.PageCount,
		&job.NextPageID,
		&job.ErrorMessage,
		&job.CoinCost,
		&job.RequestedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

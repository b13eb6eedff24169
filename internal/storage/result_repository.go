package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/insta-extractor/internal/config"
	"github.com/insta-extractor/internal/models"
	"github.com/jackc/pgx/v5"
)

// ResultStore persists extracted items and reads them back for export.
// Inserting an item twice for the same job is harmless; StoredPKs lets the
// extraction count only items that are new to the job.
type ResultStore interface {
	InsertItems(ctx context.Context, items []*models.ExtractedItem) error
	ListByJob(ctx context.Context, jobID string, limit int) ([]*models.ExtractedItem, error)
	StoredPKs(ctx context.Context, jobID string, pks []string) (map[string]bool, error)
}

const maxExportRows = 100000

func exportLimit(limit int) int {
	if limit <= 0 || limit > maxExportRows {
		return maxExportRows
	}
	return limit
}

const itemColumns = `
	job_id, kind, pk, username, full_name, biography, external_url, email, phone,
	follower_count, following_count, media_count, is_private, is_verified,
	is_business, has_profile_pic, caption, media_type, location, comment_text,
	like_count, comment_count, taken_at, source, extracted_at
`

func itemValues(item *models.ExtractedItem) []any {
	extractedAt := item.ExtractedAt
	if extractedAt.IsZero() {
		extractedAt = time.Now().UTC()
	}
	// DateTime64 cannot hold year 1; unknown timestamps are stored as the epoch
	takenAt := item.TakenAt.UTC()
	if item.TakenAt.IsZero() {
		takenAt = time.Unix(0, 0).UTC()
	}
	return []any{
		item.JobID, string(item.Kind), item.PK, item.Username, item.FullName,
		item.Biography, item.ExternalURL, item.Email, item.Phone,
		item.FollowerCount, item.FollowingCount, item.MediaCount,
		item.IsPrivate, item.IsVerified, item.IsBusiness, item.HasProfilePic,
		item.Caption, item.MediaType, item.Location, item.CommentText,
		item.LikeCount, item.CommentCount, takenAt, item.Source, extractedAt,
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*models.ExtractedItem, error) {
	var item models.ExtractedItem
	var kind string
	err := row.Scan(
		&item.JobID, &kind, &item.PK, &item.Username, &item.FullName,
		&item.Biography, &item.ExternalURL, &item.Email, &item.Phone,
		&item.FollowerCount, &item.FollowingCount, &item.MediaCount,
		&item.IsPrivate, &item.IsVerified, &item.IsBusiness, &item.HasProfilePic,
		&item.Caption, &item.MediaType, &item.Location, &item.CommentText,
		&item.LikeCount, &item.CommentCount, &item.TakenAt, &item.Source, &item.ExtractedAt,
	)
	if err != nil {
		return nil, err
	}
	item.Kind = models.ItemKind(kind)
	if item.TakenAt.Unix() == 0 {
		item.TakenAt = time.Time{}
	}
	return &item, nil
}

// ClickHouseResultRepository stores items in a ReplacingMergeTree keyed by
// (job_id, pk); reads use FINAL so duplicates never reach an export.
type ClickHouseResultRepository struct {
	db *ClickHouseDB
}

// NewClickHouseResultRepository creates a ClickHouse backed result store
func NewClickHouseResultRepository(db *ClickHouseDB) *ClickHouseResultRepository {
	return &ClickHouseResultRepository{db: db}
}

// InsertItems writes items in one batch
func (r *ClickHouseResultRepository) InsertItems(ctx context.Context, items []*models.ExtractedItem) error {
	if len(items) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, "INSERT INTO extracted_items ("+itemColumns+")")
	if err != nil {
		return fmt.Errorf("failed to prepare item batch: %w", err)
	}
	for _, item := range items {
		if err := batch.Append(itemValues(item)...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append item %s: %w", item.PK, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send item batch: %w", err)
	}
	return nil
}

// StoredPKs returns which of pks the job already has rows for. Inserts wait
// for the async insert to land, so a finished batch is visible here.
func (r *ClickHouseResultRepository) StoredPKs(ctx context.Context, jobID string, pks []string) (map[string]bool, error) {
	stored := make(map[string]bool)
	if len(pks) == 0 {
		return stored, nil
	}

	rows, err := r.db.Conn().Query(ctx,
		`SELECT DISTINCT pk FROM extracted_items WHERE job_id = ? AND pk IN (?)`,
		jobID, pks,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query stored keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var pk string
		if err := rows.Scan(&pk); err != nil {
			return nil, fmt.Errorf("failed to scan stored key: %w", err)
		}
		stored[pk] = true
	}
	return stored, rows.Err()
}

// ListByJob returns the deduplicated items of a job in extraction order
func (r *ClickHouseResultRepository) ListByJob(ctx context.Context, jobID string, limit int) ([]*models.ExtractedItem, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM extracted_items FINAL
		WHERE job_id = ?
		ORDER BY extracted_at, pk
		LIMIT ?
	`

	rows, err := r.db.Conn().Query(ctx, query, jobID, exportLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []*models.ExtractedItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate items: %w", err)
	}
	return items, nil
}

// OpenResultStore returns the ClickHouse store when it is enabled and the
// Postgres table otherwise. The returned close func releases the ClickHouse
// connection and is always safe to call.
func OpenResultStore(cfg *config.ClickHouseConfig, pg *PostgresDB) (ResultStore, func() error, error) {
	if !cfg.Enabled {
		return NewPostgresResultRepository(pg), func() error { return nil }, nil
	}
	ch, err := NewClickHouseDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	return NewClickHouseResultRepository(ch), ch.Close, nil
}

// PostgresResultRepository is the result store used when ClickHouse is disabled
type PostgresResultRepository struct {
	db *PostgresDB
}

// NewPostgresResultRepository creates a Postgres backed result store
func NewPostgresResultRepository(db *PostgresDB) *PostgresResultRepository {
	return &PostgresResultRepository{db: db}
}

// InsertItems writes items in one round trip, skipping ones already stored
func (r *PostgresResultRepository) InsertItems(ctx context.Context, items []*models.ExtractedItem) error {
	if len(items) == 0 {
		return nil
	}

	query := `
		INSERT INTO extracted_items (` + itemColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
		ON CONFLICT (job_id, pk) DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(query, itemValues(item)...)
	}

	results := r.db.Pool().SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	for range items {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert item: %w", err)
		}
	}
	return nil
}

// StoredPKs returns which of pks the job already has rows for
func (r *PostgresResultRepository) StoredPKs(ctx context.Context, jobID string, pks []string) (map[string]bool, error) {
	stored := make(map[string]bool)
	if len(pks) == 0 {
		return stored, nil
	}

	rows, err := r.db.Pool().Query(ctx,
		`SELECT pk FROM extracted_items WHERE job_id = $1 AND pk = ANY($2)`,
		jobID, pks,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query stored keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pk string
		if err := rows.Scan(&pk); err != nil {
			return nil, fmt.Errorf("failed to scan stored key: %w", err)
		}
		stored[pk] = true
	}
	return stored, rows.Err()
}

// ListByJob returns the items of a job in extraction order
func (r *PostgresResultRepository) ListByJob(ctx context.Context, jobID string, limit int) ([]*models.ExtractedItem, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM extracted_items
		WHERE job_id = $1
		ORDER BY extracted_at, pk
		LIMIT $2
	`

	rows, err := r.db.Pool().Query(ctx, query, jobID, exportLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []*models.ExtractedItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate items: %w", err)
	}
	return items, nil
}

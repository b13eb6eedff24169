package service

import (
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/insta-extractor/internal/logging"
	"github.com/insta-extractor/internal/models"
	"github.com/insta-extractor/internal/types"
)

// ResultReader reads a job's extracted items. storage.ResultStore implements it.
type ResultReader interface {
	ListByJob(ctx context.Context, jobID string, limit int) ([]*models.ExtractedItem, error)
}

// ExportService renders a job's results as a spreadsheet
type ExportService struct {
	jobs    JobRepo
	results ResultReader
}

// NewExportService creates a new export service
func NewExportService(jobs JobRepo, results ResultReader) *ExportService {
	return &ExportService{jobs: jobs, results: results}
}

// Export is a rendered workbook
type Export struct {
	Filename string
	Rows     int
	Data     []byte
}

type column struct {
	header string
	width  float64
	value  func(*models.ExtractedItem) any
}

var profileColumns = []column{
	{"Username", 22, func(i *models.ExtractedItem) any { return i.Username }},
	{"Full Name", 26, func(i *models.ExtractedItem) any { return i.FullName }},
	{"User ID", 16, func(i *models.ExtractedItem) any { return i.PK }},
	{"Followers", 12, func(i *models.ExtractedItem) any { return i.FollowerCount }},
	{"Following", 12, func(i *models.ExtractedItem) any { return i.FollowingCount }},
	{"Posts", 10, func(i *models.ExtractedItem) any { return i.MediaCount }},
	{"Private", 9, func(i *models.ExtractedItem) any { return yesNo(i.IsPrivate) }},
	{"Verified", 9, func(i *models.ExtractedItem) any { return yesNo(i.IsVerified) }},
	{"Business", 9, func(i *models.ExtractedItem) any { return yesNo(i.IsBusiness) }},
	{"Email", 28, func(i *models.ExtractedItem) any { return i.Email }},
	{"Phone", 18, func(i *models.ExtractedItem) any { return i.Phone }},
	{"Link In Bio", 36, func(i *models.ExtractedItem) any { return i.ExternalURL }},
	{"Biography", 48, func(i *models.ExtractedItem) any { return truncate(i.Biography, 500) }},
	{"Source", 22, func(i *models.ExtractedItem) any { return i.Source }},
}

var postColumns = []column{
	{"Post URL", 42, func(i *models.ExtractedItem) any { return i.ExternalURL }},
	{"Username", 22, func(i *models.ExtractedItem) any { return i.Username }},
	{"Type", 10, func(i *models.ExtractedItem) any { return i.MediaType }},
	{"Likes", 10, func(i *models.ExtractedItem) any { return i.LikeCount }},
	{"Comments", 10, func(i *models.ExtractedItem) any { return i.CommentCount }},
	{"Posted", 18, func(i *models.ExtractedItem) any { return formatTime(i.TakenAt) }},
	{"Location", 24, func(i *models.ExtractedItem) any { return i.Location }},
	{"Caption", 60, func(i *models.ExtractedItem) any { return truncate(i.Caption, 1000) }},
	{"Source", 22, func(i *models.ExtractedItem) any { return i.Source }},
}

var commentColumns = []column{
	{"Username", 22, func(i *models.ExtractedItem) any { return i.Username }},
	{"Full Name", 26, func(i *models.ExtractedItem) any { return i.FullName }},
	{"Comment", 60, func(i *models.ExtractedItem) any { return truncate(i.CommentText, 1000) }},
	{"Likes", 10, func(i *models.ExtractedItem) any { return i.LikeCount }},
	{"Commented", 18, func(i *models.ExtractedItem) any { return formatTime(i.TakenAt) }},
	{"Private", 9, func(i *models.ExtractedItem) any { return yesNo(i.IsPrivate) }},
	{"Verified", 9, func(i *models.ExtractedItem) any { return yesNo(i.IsVerified) }},
	{"Post URL", 42, func(i *models.ExtractedItem) any { return i.Source }},
}

func columnsFor(t types.ExtractionType) ([]column, string) {
	switch t {
	case types.TypePosts, types.TypeHashtags:
		return postColumns, "Posts"
	case types.TypeCommenters:
		return commentColumns, "Comments"
	default:
		return profileColumns, "Profiles"
	}
}

// ExportJob renders every extracted item of a job as an XLSX workbook.
// Unfinished jobs export whatever has been extracted so far.
func (s *ExportService) ExportJob(ctx context.Context, jobID string) (*Export, error) {
	start := time.Now()

	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	items, err := s.results.ListByJob(ctx, jobID, 0)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}

	data, err := RenderWorkbook(job.ExtractionType, items)
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"job_id":     jobID,
		"rows":       len(items),
		"elapsed_ms": time.Since(start).Milliseconds(),
	}).Info("export rendered")

	return &Export{
		Filename: fmt.Sprintf("%s-%s.xlsx", job.ExtractionType, jobID),
		Rows:     len(items),
		Data:     data,
	}, nil
}

// RenderWorkbook lays items out with the column set of their extraction type
func RenderWorkbook(t types.ExtractionType, items []*models.ExtractedItem) ([]byte, error) {
	cols, sheet := columnsFor(t)

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, fmt.Errorf("xlsx sheet: %w", err)
	}

	for i, c := range cols {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, c.header)

		name, _ := excelize.ColumnNumberToName(i + 1)
		_ = f.SetColWidth(sheet, name, name, c.width)
	}

	for r, item := range items {
		for i, c := range cols {
			cell, _ := excelize.CoordinatesToCellName(i+1, r+2)
			if err := f.SetCellValue(sheet, cell, c.value(item)); err != nil {
				return nil, fmt.Errorf("xlsx cell %s: %w", cell, err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatTime(t time.Time) string {
	if t.IsZero() || t.Unix() == 0 {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

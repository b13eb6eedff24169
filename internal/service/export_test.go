package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	apperrors "github.com/insta-extractor/internal/errors"
	"github.com/insta-extractor/internal/models"
	"github.com/insta-extractor/internal/types"
)

type memResults struct {
	items map[string][]*models.ExtractedItem
	err   error
}

func (m *memResults) ListByJob(_ context.Context, jobID string, _ int) ([]*models.ExtractedItem, error) {
	return m.items[jobID], m.err
}

func readSheet(t *testing.T, data []byte, sheet string) [][]string {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheet)
	require.NoError(t, err)
	return rows
}

func TestExportJob_Profiles(t *testing.T) {
	jobs, _ := newMockRepos()
	jobs.jobs["j1"] = &models.ExtractionJob{ID: "j1", ExtractionType: types.TypeFollowers, Status: types.StatusCompleted}
	results := &memResults{items: map[string][]*models.ExtractedItem{
		"j1": {
			{Kind: models.ItemProfile, PK: "101", Username: "alice", FollowerCount: 1200, IsVerified: true, Email: "a@example.com", Source: "natgeo"},
			{Kind: models.ItemProfile, PK: "102", Username: "bob", Source: "natgeo"},
		},
	}}

	exp, err := NewExportService(jobs, results).ExportJob(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, "followers-j1.xlsx", exp.Filename)
	assert.Equal(t, 2, exp.Rows)

	rows := readSheet(t, exp.Data, "Profiles")
	require.Len(t, rows, 3)
	assert.Equal(t, "Username", rows[0][0])
	assert.Equal(t, len(profileColumns), len(rows[0]))
	assert.Equal(t, "alice", rows[1][0])
	assert.Equal(t, "101", rows[1][2])
	assert.Equal(t, "1200", rows[1][3])
	assert.Equal(t, "yes", rows[1][7])
	assert.Equal(t, "a@example.com", rows[1][9])
	assert.Equal(t, "bob", rows[2][0])
}

func TestExportJob_PostsAndComments(t *testing.T) {
	taken := time.Date(2025, 2, 14, 9, 30, 0, 0, time.UTC)
	jobs, _ := newMockRepos()
	jobs.jobs["p"] = &models.ExtractionJob{ID: "p", ExtractionType: types.TypeHashtags}
	jobs.jobs["c"] = &models.ExtractionJob{ID: "c", ExtractionType: types.TypeCommenters}
	results := &memResults{items: map[string][]*models.ExtractedItem{
		"p": {{Kind: models.ItemPost, ExternalURL: "https://www.instagram.com/p/Cxyz/", Username: "alice", MediaType: "video", LikeCount: 7, TakenAt: taken}},
		"c": {{Kind: models.ItemComment, Username: "carol", CommentText: "nice", TakenAt: time.Unix(0, 0).UTC(), Source: "https://www.instagram.com/p/Cxyz/"}},
	}}
	svc := NewExportService(jobs, results)

	exp, err := svc.ExportJob(context.Background(), "p")
	require.NoError(t, err)
	rows := readSheet(t, exp.Data, "Posts")
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"https://www.instagram.com/p/Cxyz/", "alice", "video", "7", "0", "2025-02-14 09:30"}, rows[1][:6])

	exp, err = svc.ExportJob(context.Background(), "c")
	require.NoError(t, err)
	rows = readSheet(t, exp.Data, "Comments")
	require.Len(t, rows, 2)
	assert.Equal(t, "carol", rows[1][0])
	assert.Equal(t, "nice", rows[1][2])
	// epoch means the upstream gave no timestamp
	assert.Equal(t, "", rows[1][4])
}

func TestExportJob_EmptyJobHasHeaderOnly(t *testing.T) {
	jobs, _ := newMockRepos()
	jobs.jobs["j"] = &models.ExtractionJob{ID: "j", ExtractionType: types.TypeLikers, Status: types.StatusPending}

	exp, err := NewExportService(jobs, &memResults{}).ExportJob(context.Background(), "j")
	require.NoError(t, err)
	assert.Equal(t, 0, exp.Rows)
	assert.Len(t, readSheet(t, exp.Data, "Profiles"), 1)
}

func TestExportJob_Errors(t *testing.T) {
	jobs, _ := newMockRepos()
	_, err := NewExportService(jobs, &memResults{}).ExportJob(context.Background(), "missing")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	jobs.jobs["j"] = &models.ExtractionJob{ID: "j", ExtractionType: types.TypePosts}
	_, err = NewExportService(jobs, &memResults{err: errors.New("clickhouse timeout")}).ExportJob(context.Background(), "j")
	assert.ErrorContains(t, err, "clickhouse timeout")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
	assert.Equal(t, 5, len([]rune(truncate(strings.Repeat("é", 9), 5))))
}

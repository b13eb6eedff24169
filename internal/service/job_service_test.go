package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insta-extractor/internal/coins"
	apperrors "github.com/insta-extractor/internal/errors"
	"github.com/insta-extractor/internal/filters"
	"github.com/insta-extractor/internal/models"
	"github.com/insta-extractor/internal/storage"
	"github.com/insta-extractor/internal/types"
)

// Mock repositories for testing

type mockUserRepo struct {
	users map[string]*models.User
}

func (m *mockUserRepo) GetByID(_ context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, apperrors.NewNotFoundError("user", id)
}

type mockJobRepo struct {
	users *mockUserRepo
	jobs  map[string]*models.ExtractionJob
	seq   int
	err   error
}

func newMockRepos(users ...*models.User) (*mockJobRepo, *mockUserRepo) {
	ur := &mockUserRepo{users: make(map[string]*models.User)}
	for _, u := range users {
		ur.users[u.ID] = u
	}
	return &mockJobRepo{users: ur, jobs: make(map[string]*models.ExtractionJob)}, ur
}

func (m *mockJobRepo) CreateWithDebit(_ context.Context, job *models.ExtractionJob, cost int64) error {
	if m.err != nil {
		return m.err
	}
	u, ok := m.users.users[job.UserID]
	if !ok {
		return apperrors.NewNotFoundError("user", job.UserID)
	}
	if u.Coins < cost {
		return apperrors.NewInsufficientCoinsError(cost, u.Coins)
	}
	u.Coins -= cost

	m.seq++
	job.ID = fmt.Sprintf("job-%d", m.seq)
	job.Status = types.StatusPending
	job.CoinCost = cost
	job.RequestedAt = time.Date(2025, 3, 1, 12, 0, m.seq, 0, time.UTC)
	m.jobs[job.ID] = job
	return nil
}

func (m *mockJobRepo) GetByID(_ context.Context, id string) (*models.ExtractionJob, error) {
	if j, ok := m.jobs[id]; ok {
		return j, nil
	}
	return nil, apperrors.NewNotFoundError("extraction job", id)
}

func (m *mockJobRepo) ListByUser(_ context.Context, userID string, limit int) ([]*models.ExtractionJob, error) {
	var out []*models.ExtractionJob
	for _, j := range m.jobs {
		if j.UserID == userID {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].RequestedAt.After(out[b].RequestedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// fixedCounts answers every count lookup with the same numbers
type fixedCounts struct {
	followers, following, likes, comments int64
	calls                                 int
}

func (f *fixedCounts) ProfileCounts(context.Context, string) (int64, int64, error) {
	f.calls++
	return f.followers, f.following, nil
}

func (f *fixedCounts) MediaCounts(context.Context, string) (int64, int64, error) {
	f.calls++
	return f.likes, f.comments, nil
}

type stubProgress struct {
	event *storage.ProgressEvent
	err   error
}

func (s *stubProgress) LatestProgress(context.Context, string) (*storage.ProgressEvent, bool, error) {
	return s.event, s.event != nil, s.err
}

func activeUser(id string, balance int64) *models.User {
	return &models.User{ID: id, Email: id + "@example.com", Coins: balance, IsActive: true}
}

func newTestService(counts *fixedCounts, users ...*models.User) (*JobService, *mockJobRepo, *mockUserRepo) {
	jobs, ur := newMockRepos(users...)
	est := coins.NewEstimator(counts, nil, time.Minute, 1000)
	return NewJobService(jobs, ur, est, nil), jobs, ur
}

func TestCreateJob_FollowersDebitsEstimate(t *testing.T) {
	counts := &fixedCounts{followers: 250}
	svc, jobs, users := newTestService(counts, activeUser("u1", 1000))

	res, err := svc.CreateJob(context.Background(), &CreateJobInput{
		UserID:  "u1",
		Type:    "followers",
		Targets: []string{"@alice", " bob ", ""},
	})
	require.NoError(t, err)

	assert.Equal(t, types.StatusPending, res.Status)
	assert.Equal(t, int64(0), res.Progress)
	assert.False(t, res.Estimated)
	assert.Equal(t, 2, counts.calls)

	quote, err := coins.NewEstimator(&fixedCounts{followers: 250}, nil, time.Minute, 1000).
		Quote(context.Background(), types.TypeFollowers, []string{"alice", "bob"}, nil, filters.MustEmpty(types.TypeFollowers))
	require.NoError(t, err)
	assert.Equal(t, quote.Cost, res.CoinCost)
	assert.Equal(t, 1000-quote.Cost, users.users["u1"].Coins)

	stored := jobs.jobs[res.ID]
	require.NotNil(t, stored)
	assert.Equal(t, "alice,bob", stored.TargetUsernames)
	assert.Equal(t, "", stored.Filters)
}

func TestCreateJob_KeepsRawFilters(t *testing.T) {
	svc, jobs, _ := newTestService(&fixedCounts{}, activeUser("u1", 1000))

	res, err := svc.CreateJob(context.Background(), &CreateJobInput{
		UserID:  "u1",
		Type:    "following",
		Targets: []string{"alice"},
		Filters: json.RawMessage(`{"coinLimit": 20, "verified": "yes"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(20), res.CoinCost)
	assert.JSONEq(t, `{"coinLimit": 20, "verified": "yes"}`, jobs.jobs[res.ID].Filters)
}

func TestCreateJob_Validation(t *testing.T) {
	tests := []struct {
		name  string
		input *CreateJobInput
		param string
	}{
		{"missing user", &CreateJobInput{Type: "followers", Targets: []string{"a"}}, "user_id"},
		{"unknown type", &CreateJobInput{UserID: "u1", Type: "stories", Targets: []string{"a"}}, "type"},
		{"no targets", &CreateJobInput{UserID: "u1", Type: "followers", Targets: []string{" ", "@"}}, "targets"},
		{"no urls", &CreateJobInput{UserID: "u1", Type: "likers"}, "urls"},
		{"bad url", &CreateJobInput{UserID: "u1", Type: "commenters", URLs: []string{"instagram.com/p/x"}}, "urls"},
		{"bad filters", &CreateJobInput{UserID: "u1", Type: "posts", Targets: []string{"a"}, Filters: json.RawMessage(`{"postType": "reel"}`)}, "filters"},
		{"hashtags without tags", &CreateJobInput{UserID: "u1", Type: "hashtags"}, "targets"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, jobs, _ := newTestService(&fixedCounts{}, activeUser("u1", 1000))
			_, err := svc.CreateJob(context.Background(), tt.input)
			require.Error(t, err)

			var ce *apperrors.CategorizedError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, apperrors.CodeInvalidParameter, ce.Code)
			assert.Equal(t, tt.param, ce.Details["parameter"])
			assert.Empty(t, jobs.jobs)
		})
	}
}

func TestCreateJob_TooManyTargets(t *testing.T) {
	svc, _, _ := newTestService(&fixedCounts{}, activeUser("u1", 1000))
	targets := make([]string, maxTargets+1)
	for i := range targets {
		targets[i] = fmt.Sprintf("user%d", i)
	}
	_, err := svc.CreateJob(context.Background(), &CreateJobInput{UserID: "u1", Type: "posts", Targets: targets})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidParameter))
}

func TestCreateJob_HashtagsFromFilters(t *testing.T) {
	svc, jobs, _ := newTestService(&fixedCounts{}, activeUser("u1", 1000))

	res, err := svc.CreateJob(context.Background(), &CreateJobInput{
		UserID:  "u1",
		Type:    "hashtags",
		Filters: json.RawMessage(`{"hashtags": ["#golang", "gophers"]}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "golang,gophers", jobs.jobs[res.ID].TargetUsernames)
	// two hashtags at 2 coins each
	assert.Equal(t, int64(4), res.CoinCost)
}

func TestCreateJob_LikersKeepsURLs(t *testing.T) {
	svc, jobs, _ := newTestService(&fixedCounts{likes: 40}, activeUser("u1", 1000))

	res, err := svc.CreateJob(context.Background(), &CreateJobInput{
		UserID: "u1",
		Type:   "likers",
		URLs:   []string{" https://www.instagram.com/p/Cabc/ ", ""},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://www.instagram.com/p/Cabc/"}, jobs.jobs[res.ID].URLs)
	assert.Equal(t, "https://www.instagram.com/p/Cabc/", jobs.jobs[res.ID].TargetUsernames)

	stored := jobs.jobs[res.ID]
	targets, err := stored.Targets()
	require.NoError(t, err)
	assert.Len(t, targets, 1)
}

func TestCreateJob_InsufficientCoins(t *testing.T) {
	svc, jobs, users := newTestService(&fixedCounts{followers: 100000}, activeUser("u1", 5))

	_, err := svc.CreateJob(context.Background(), &CreateJobInput{UserID: "u1", Type: "followers", Targets: []string{"celebrity"}})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInsufficientCoins))
	assert.Equal(t, 400, apperrors.GetHTTPStatusCode(err))
	assert.Empty(t, jobs.jobs)
	assert.Equal(t, int64(5), users.users["u1"].Coins)
}

func TestCreateJob_InactiveUser(t *testing.T) {
	u := activeUser("u1", 1000)
	u.IsActive = false
	svc, jobs, _ := newTestService(&fixedCounts{}, u)

	_, err := svc.CreateJob(context.Background(), &CreateJobInput{UserID: "u1", Type: "posts", Targets: []string{"a"}})
	require.Error(t, err)
	assert.Equal(t, 403, apperrors.GetHTTPStatusCode(err))
	assert.Empty(t, jobs.jobs)
}

func TestCreateJob_UnknownUser(t *testing.T) {
	svc, _, _ := newTestService(&fixedCounts{})
	_, err := svc.CreateJob(context.Background(), &CreateJobInput{UserID: "ghost", Type: "posts", Targets: []string{"a"}})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

func TestCreateJob_StoreError(t *testing.T) {
	svc, jobs, _ := newTestService(&fixedCounts{}, activeUser("u1", 1000))
	jobs.err = apperrors.NewDatabaseError("insert extraction job", errors.New("connection reset"))

	_, err := svc.CreateJob(context.Background(), &CreateJobInput{UserID: "u1", Type: "posts", Targets: []string{"a"}})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeDatabaseError))
}

func TestGetStatus(t *testing.T) {
	svc, jobs, _ := newTestService(&fixedCounts{}, activeUser("u1", 1000))
	msg := "upstream returned 500"
	jobs.jobs["j1"] = &models.ExtractionJob{
		ID:              "j1",
		UserID:          "u1",
		ExtractionType:  types.TypeFollowers,
		TargetUsernames: "alice,bob",
		Status:          types.StatusFailed,
		Progress:        40,
		ErrorMessage:    &msg,
	}

	view, err := svc.GetStatus(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, view.Status)
	assert.Equal(t, int64(40), view.Progress)
	assert.Equal(t, []string{"alice", "bob"}, view.Targets)
	require.NotNil(t, view.ErrorMessage)
	assert.Equal(t, msg, *view.ErrorMessage)

	_, err = svc.GetStatus(context.Background(), "missing")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

func TestGetStatus_LiveProgress(t *testing.T) {
	jobs, users := newMockRepos(activeUser("u1", 0))
	jobs.jobs["run"] = &models.ExtractionJob{ID: "run", Status: types.StatusProcessing, Progress: 10}
	jobs.jobs["done"] = &models.ExtractionJob{ID: "done", Status: types.StatusCompleted, Progress: 10}

	live := &stubProgress{event: &storage.ProgressEvent{JobID: "run", Progress: 35}}
	svc := NewJobService(jobs, users, nil, live)

	view, err := svc.GetStatus(context.Background(), "run")
	require.NoError(t, err)
	assert.Equal(t, int64(35), view.Progress)

	// the stored count of a finished job is final
	view, err = svc.GetStatus(context.Background(), "done")
	require.NoError(t, err)
	assert.Equal(t, int64(10), view.Progress)

	svc = NewJobService(jobs, users, nil, &stubProgress{err: errors.New("redis down")})
	view, err = svc.GetStatus(context.Background(), "run")
	require.NoError(t, err)
	assert.Equal(t, int64(10), view.Progress)
}

func TestListJobs(t *testing.T) {
	svc, _, _ := newTestService(&fixedCounts{}, activeUser("u1", 1000), activeUser("u2", 1000))

	for i := 0; i < 3; i++ {
		_, err := svc.CreateJob(context.Background(), &CreateJobInput{UserID: "u1", Type: "posts", Targets: []string{"a"}})
		require.NoError(t, err)
	}
	_, err := svc.CreateJob(context.Background(), &CreateJobInput{UserID: "u2", Type: "posts", Targets: []string{"a"}})
	require.NoError(t, err)

	views, err := svc.ListJobs(context.Background(), "u1", 2)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "job-3", views[0].ID)
	assert.Equal(t, "job-2", views[1].ID)

	views, err = svc.ListJobs(context.Background(), "u1", 0)
	require.NoError(t, err)
	assert.Len(t, views, 3)

	_, err = svc.ListJobs(context.Background(), "", 10)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidParameter))
}

func TestGetBalance(t *testing.T) {
	svc, _, _ := newTestService(&fixedCounts{}, activeUser("u1", 321))

	bal, err := svc.GetBalance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, &BalanceView{UserID: "u1", Coins: 321}, bal)

	_, err = svc.GetBalance(context.Background(), "nobody")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

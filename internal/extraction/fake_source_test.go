package extraction

import (
	"context"
	"fmt"
	"sync"

	"github.com/insta-extractor/internal/models"
	"github.com/insta-extractor/internal/upstream"
)

// fakeSource serves canned pages. Pages of a list are addressed by token:
// "" is the first page, "p1" the second and so on.
type fakeSource struct {
	mu        sync.Mutex
	users     map[string]*upstream.User // by username and by pk
	followers map[string][][]upstream.User
	medias    map[string][][]upstream.Media
	hashtags  map[string][][]upstream.Media
	posts     map[string]*upstream.Media // by url
	likers    map[string][]upstream.User // by media pk
	comments  map[string][][]upstream.Comment
	failOn    string
	calls     map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		users:     make(map[string]*upstream.User),
		followers: make(map[string][][]upstream.User),
		medias:    make(map[string][][]upstream.Media),
		hashtags:  make(map[string][][]upstream.Media),
		posts:     make(map[string]*upstream.Media),
		likers:    make(map[string][]upstream.User),
		comments:  make(map[string][][]upstream.Comment),
		calls:     make(map[string]int),
	}
}

func (f *fakeSource) addUser(u upstream.User) {
	f.users[u.Username] = &u
	f.users[string(u.PK)] = &u
}

func (f *fakeSource) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if f.failOn == op {
		return fmt.Errorf("%s: upstream exploded", op)
	}
	return nil
}

func (f *fakeSource) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func page[T any](pages [][]T, token string) ([]T, string, error) {
	idx := 0
	if token != "" {
		if _, err := fmt.Sscanf(token, "p%d", &idx); err != nil {
			return nil, "", fmt.Errorf("bad token %q", token)
		}
	}
	if idx >= len(pages) {
		return nil, "", nil
	}
	next := ""
	if idx+1 < len(pages) {
		next = fmt.Sprintf("p%d", idx+1)
	}
	return pages[idx], next, nil
}

func (f *fakeSource) UserByUsername(_ context.Context, username string) (*upstream.User, error) {
	if err := f.record("UserByUsername"); err != nil {
		return nil, err
	}
	u, ok := f.users[username]
	if !ok {
		return nil, upstream.ErrNotFound
	}
	return u, nil
}

func (f *fakeSource) UserByID(_ context.Context, userID string) (*upstream.User, error) {
	if err := f.record("UserByID"); err != nil {
		return nil, err
	}
	u, ok := f.users[userID]
	if !ok {
		return nil, upstream.ErrNotFound
	}
	return u, nil
}

func (f *fakeSource) Followers(_ context.Context, userID, cursor string) ([]upstream.User, string, error) {
	if err := f.record("Followers"); err != nil {
		return nil, "", err
	}
	return page(f.followers[userID], cursor)
}

func (f *fakeSource) Following(_ context.Context, userID, cursor string) ([]upstream.User, string, error) {
	if err := f.record("Following"); err != nil {
		return nil, "", err
	}
	return page(f.followers["following:"+userID], cursor)
}

func (f *fakeSource) UserMedias(_ context.Context, userID, cursor string) ([]upstream.Media, string, error) {
	if err := f.record("UserMedias"); err != nil {
		return nil, "", err
	}
	return page(f.medias[userID], cursor)
}

func (f *fakeSource) MediaByURL(_ context.Context, postURL string) (*upstream.Media, error) {
	if err := f.record("MediaByURL"); err != nil {
		return nil, err
	}
	m, ok := f.posts[postURL]
	if !ok {
		return nil, upstream.ErrNotFound
	}
	return m, nil
}

func (f *fakeSource) MediaLikers(_ context.Context, mediaID string) ([]upstream.User, error) {
	if err := f.record("MediaLikers"); err != nil {
		return nil, err
	}
	return f.likers[mediaID], nil
}

func (f *fakeSource) MediaComments(_ context.Context, mediaID, cursor string) ([]upstream.Comment, string, error) {
	if err := f.record("MediaComments"); err != nil {
		return nil, "", err
	}
	return page(f.comments[mediaID], cursor)
}

func (f *fakeSource) HashtagMedias(_ context.Context, tag, cursor string) ([]upstream.Media, string, error) {
	if err := f.record("HashtagMedias"); err != nil {
		return nil, "", err
	}
	return page(f.hashtags[tag], cursor)
}

// memSink collects stored items
type memSink struct {
	mu    sync.Mutex
	items []*models.ExtractedItem
}

func (s *memSink) InsertItems(_ context.Context, items []*models.ExtractedItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, items...)
	return nil
}

// keyedSink also reports the keys it holds per job, like the result stores
type keyedSink struct {
	memSink
}

func (s *keyedSink) StoredPKs(_ context.Context, jobID string, pks []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(pks))
	for _, pk := range pks {
		want[pk] = true
	}
	stored := make(map[string]bool)
	for _, it := range s.items {
		if it.JobID == jobID && want[it.PK] {
			stored[it.PK] = true
		}
	}
	return stored, nil
}

func (s *memSink) usernames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.items))
	for i, it := range s.items {
		out[i] = it.Username
	}
	return out
}

func makeUsers(prefix string, n int) []upstream.User {
	out := make([]upstream.User, n)
	for i := range out {
		out[i] = upstream.User{
			PK:       upstream.ID(fmt.Sprintf("%s%d", prefix, i)),
			Username: fmt.Sprintf("%s%d", prefix, i),
		}
	}
	return out
}

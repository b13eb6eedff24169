package upstream

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// UserByUsername returns the full profile of a handle
func (c *Client) UserByUsername(ctx context.Context, username string) (*User, error) {
	q := url.Values{"username": {strings.TrimPrefix(username, "@")}}
	body, err := c.get(ctx, "/v1/user/by/username", q)
	if err != nil {
		return nil, err
	}
	var u User
	if err := decodeJSON(body, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// UserByID returns the full profile of a user pk
func (c *Client) UserByID(ctx context.Context, userID string) (*User, error) {
	body, err := c.get(ctx, "/v1/user/by/id", url.Values{"id": {userID}})
	if err != nil {
		return nil, err
	}
	var u User
	if err := decodeJSON(body, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Followers returns one page of a user's followers and the cursor of the next page
func (c *Client) Followers(ctx context.Context, userID, cursor string) ([]User, string, error) {
	return c.userChunk(ctx, "/v1/user/followers/chunk", userID, cursor)
}

// Following returns one page of the accounts a user follows
func (c *Client) Following(ctx context.Context, userID, cursor string) ([]User, string, error) {
	return c.userChunk(ctx, "/v1/user/following/chunk", userID, cursor)
}

func (c *Client) userChunk(ctx context.Context, path, userID, cursor string) ([]User, string, error) {
	q := url.Values{"user_id": {userID}}
	if cursor != "" {
		q.Set("max_id", cursor)
	}
	body, err := c.get(ctx, path, q)
	if err != nil {
		return nil, "", err
	}
	return decodeChunk[User](body)
}

// UserMedias returns one page of a user's posts, newest first
func (c *Client) UserMedias(ctx context.Context, userID, cursor string) ([]Media, string, error) {
	q := url.Values{"user_id": {userID}}
	if cursor != "" {
		q.Set("end_cursor", cursor)
	}
	body, err := c.get(ctx, "/v1/user/medias/chunk", q)
	if err != nil {
		return nil, "", err
	}
	return decodeChunk[Media](body)
}

// MediaByURL resolves a post URL
func (c *Client) MediaByURL(ctx context.Context, postURL string) (*Media, error) {
	body, err := c.get(ctx, "/v1/media/by/url", url.Values{"url": {postURL}})
	if err != nil {
		return nil, err
	}
	var m Media
	if err := decodeJSON(body, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// MediaLikers returns the likers of a post. The endpoint is not paginated.
func (c *Client) MediaLikers(ctx context.Context, mediaID string) ([]User, error) {
	body, err := c.get(ctx, "/v1/media/likers", url.Values{"id": {mediaID}})
	if err != nil {
		return nil, err
	}
	var users []User
	if err := decodeJSON(body, &users); err != nil {
		return nil, err
	}
	return users, nil
}

type commentsPage struct {
	Response struct {
		Comments []Comment `json:"comments"`
	} `json:"response"`
	NextPageID *ID `json:"next_page_id"`
}

// MediaComments returns one page of comments on a post
func (c *Client) MediaComments(ctx context.Context, mediaID, cursor string) ([]Comment, string, error) {
	q := url.Values{"id": {mediaID}}
	if cursor != "" {
		q.Set("page_id", cursor)
	}
	body, err := c.get(ctx, "/v2/media/comments", q)
	if err != nil {
		return nil, "", err
	}
	var page commentsPage
	if err := decodeJSON(body, &page); err != nil {
		return nil, "", err
	}
	next := ""
	if page.NextPageID != nil {
		next = string(*page.NextPageID)
	}
	return page.Response.Comments, next, nil
}

// HashtagMedias returns one page of recent posts under a hashtag
func (c *Client) HashtagMedias(ctx context.Context, tag, cursor string) ([]Media, string, error) {
	q := url.Values{"name": {strings.TrimPrefix(tag, "#")}}
	if cursor != "" {
		q.Set("max_id", cursor)
	}
	body, err := c.get(ctx, "/v1/hashtag/medias/recent/chunk", q)
	if err != nil {
		return nil, "", err
	}
	return decodeChunk[Media](body)
}

// ProfileCounts returns the follower and following counts of a handle
func (c *Client) ProfileCounts(ctx context.Context, username string) (int64, int64, error) {
	u, err := c.UserByUsername(ctx, username)
	if err != nil {
		return 0, 0, fmt.Errorf("profile counts for %s: %w", username, err)
	}
	return u.FollowerCount, u.FollowingCount, nil
}

// MediaCounts returns the like and comment counts of a post URL
func (c *Client) MediaCounts(ctx context.Context, postURL string) (int64, int64, error) {
	m, err := c.MediaByURL(ctx, postURL)
	if err != nil {
		return 0, 0, fmt.Errorf("media counts for %s: %w", postURL, err)
	}
	return m.LikeCount, m.CommentCount, nil
}

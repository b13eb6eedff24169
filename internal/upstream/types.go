package upstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ID is an Instagram primary key. The API sends it as a number or a string.
type ID string

// UnmarshalJSON accepts both numeric and string keys
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id is neither string nor number: %s", data)
	}
	*id = ID(n.String())
	return nil
}

// Timestamp decodes unix seconds or an RFC3339 string
type Timestamp struct {
	time.Time
}

// UnmarshalJSON accepts unix seconds, RFC3339 text or null
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) || len(data) == 0 {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
			t.Time = time.Unix(secs, 0).UTC()
			return nil
		}
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("unrecognized timestamp %q", s)
		}
		t.Time = parsed.UTC()
		return nil
	}
	secs, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("unrecognized timestamp %s", data)
	}
	t.Time = time.Unix(int64(secs), 0).UTC()
	return nil
}

// User is a profile as returned by user lookups and user lists.
// List endpoints only fill the short fields; counts and contacts need a lookup.
type User struct {
	PK                 ID     `json:"pk"`
	Username           string `json:"username"`
	FullName           string `json:"full_name"`
	IsPrivate          bool   `json:"is_private"`
	IsVerified         bool   `json:"is_verified"`
	IsBusiness         bool   `json:"is_business"`
	ProfilePicURL      string `json:"profile_pic_url"`
	AnonymousPic       bool   `json:"has_anonymous_profile_picture"`
	Biography          string `json:"biography"`
	ExternalURL        string `json:"external_url"`
	PublicEmail        string `json:"public_email"`
	PublicPhoneNumber  string `json:"public_phone_number"`
	ContactPhoneNumber string `json:"contact_phone_number"`
	FollowerCount      int64  `json:"follower_count"`
	FollowingCount     int64  `json:"following_count"`
	MediaCount         int64  `json:"media_count"`
}

// Phone returns the public phone number, falling back to the contact number
func (u *User) Phone() string {
	if u.PublicPhoneNumber != "" {
		return u.PublicPhoneNumber
	}
	return u.ContactPhoneNumber
}

// HasProfilePic reports whether the user replaced the default avatar
func (u *User) HasProfilePic() bool {
	return u.ProfilePicURL != "" && !u.AnonymousPic
}

// Location is the place tagged on a post
type Location struct {
	PK   ID     `json:"pk"`
	Name string `json:"name"`
}

// Media is a post
type Media struct {
	PK           ID        `json:"pk"`
	ID           string    `json:"id"`
	Code         string    `json:"code"`
	TakenAt      Timestamp `json:"taken_at"`
	MediaType    int       `json:"media_type"`
	ProductType  string    `json:"product_type"`
	CaptionText  string    `json:"caption_text"`
	LikeCount    int64     `json:"like_count"`
	CommentCount int64     `json:"comment_count"`
	Location     *Location `json:"location"`
	User         User      `json:"user"`
}

// Media types as reported by the API
const (
	MediaTypePhoto    = 1
	MediaTypeVideo    = 2
	MediaTypeCarousel = 8
)

// Kind maps the numeric media type onto photo, video or carousel
func (m *Media) Kind() string {
	switch m.MediaType {
	case MediaTypeVideo:
		return "video"
	case MediaTypeCarousel:
		return "carousel"
	default:
		return "photo"
	}
}

// LocationName returns the tagged place name, if any
func (m *Media) LocationName() string {
	if m.Location == nil {
		return ""
	}
	return m.Location.Name
}

// Comment is a comment on a post
type Comment struct {
	PK        ID        `json:"pk"`
	Text      string    `json:"text"`
	CreatedAt Timestamp `json:"created_at_utc"`
	LikeCount int64     `json:"comment_like_count"`
	User      User      `json:"user"`
}

// decodeChunk decodes the [items, cursor] pair returned by chunked endpoints
func decodeChunk[T any](body []byte) ([]T, string, error) {
	var pair []json.RawMessage
	if err := json.Unmarshal(body, &pair); err != nil {
		return nil, "", fmt.Errorf("decode chunk: %w", err)
	}
	if len(pair) == 0 {
		return nil, "", nil
	}

	var items []T
	if err := json.Unmarshal(pair[0], &items); err != nil {
		return nil, "", fmt.Errorf("decode chunk items: %w", err)
	}

	var cursor string
	if len(pair) > 1 && !bytes.Equal(bytes.TrimSpace(pair[1]), []byte("null")) {
		var c ID
		if err := json.Unmarshal(pair[1], &c); err != nil {
			return nil, "", fmt.Errorf("decode chunk cursor: %w", err)
		}
		cursor = string(c)
	}
	return items, cursor, nil
}

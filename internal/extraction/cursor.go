package extraction

import (
	"fmt"
	"strconv"
	"strings"
)

// Cursor is the resume point of a job: which target is being read, how many
// upstream items were already read from it, and the upstream page token.
// It is stored on the job as the opaque next_page_id.
type Cursor struct {
	Target int
	Read   int64
	Token  string
}

// String serializes the cursor as "target|read|token"
func (c Cursor) String() string {
	return strconv.Itoa(c.Target) + "|" + strconv.FormatInt(c.Read, 10) + "|" + c.Token
}

// ParseCursor decodes a stored next_page_id. The empty string is the start of
// the job. The older two-part "target|token" form is still accepted.
func ParseCursor(s string) (Cursor, error) {
	if s == "" {
		return Cursor{}, nil
	}

	parts := strings.SplitN(s, "|", 3)
	if len(parts) < 2 {
		return Cursor{}, fmt.Errorf("malformed cursor %q", s)
	}

	target, err := strconv.Atoi(parts[0])
	if err != nil || target < 0 {
		return Cursor{}, fmt.Errorf("malformed cursor target %q", parts[0])
	}

	if len(parts) == 2 {
		return Cursor{Target: target, Token: parts[1]}, nil
	}

	read, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		// two-part form whose token contains '|'
		return Cursor{Target: target, Token: parts[1] + "|" + parts[2]}, nil
	}
	if read < 0 {
		return Cursor{}, fmt.Errorf("malformed cursor count %q", parts[1])
	}
	return Cursor{Target: target, Read: read, Token: parts[2]}, nil
}

// advance returns the cursor after a page of n items was read at c.
// A repeated or empty token moves on to the next target; nil means the job is exhausted.
func advance(c Cursor, targets int, token string, n int) *Cursor {
	if token != "" && token != c.Token {
		return &Cursor{Target: c.Target, Read: c.Read + int64(n), Token: token}
	}
	return nextTarget(c, targets)
}

func nextTarget(c Cursor, targets int) *Cursor {
	if c.Target+1 < targets {
		return &Cursor{Target: c.Target + 1}
	}
	return nil
}

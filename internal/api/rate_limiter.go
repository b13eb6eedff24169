package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter manages per-user rate limiting for API requests
type RateLimiter struct {
	limiters map[string]*visitor
	mu       sync.Mutex

	limit rate.Limit
	// Burst size (number of requests that can be made in a burst)
	burstSize int
	idleTTL   time.Duration
	now       func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(userRPS int) *RateLimiter {
	return &RateLimiter{
		limiters:  make(map[string]*visitor),
		limit:     rate.Limit(userRPS),
		burstSize: 2 * userRPS,
		idleTTL:   10 * time.Minute,
		now:       time.Now,
	}
}

// getLimiter returns the rate limiter for a user, creating it on first use.
// Limiters idle for longer than idleTTL are dropped on the way.
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if v, ok := rl.limiters[key]; ok {
		v.lastSeen = now
		return v.limiter
	}

	for k, v := range rl.limiters {
		if now.Sub(v.lastSeen) > rl.idleTTL {
			delete(rl.limiters, k)
		}
	}

	v := &visitor{limiter: rate.NewLimiter(rl.limit, rl.burstSize), lastSeen: now}
	rl.limiters[key] = v
	return v.limiter
}

func clientKey(r *http.Request) string {
	if userID := r.Header.Get("X-User-ID"); userID != "" {
		return "user:" + userID
	}
	// No user ID - fall back to the client address
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// RateLimitMiddleware creates a middleware that enforces rate limiting
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limiter := rl.getLimiter(clientKey(r))

			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				respondError(w, http.StatusTooManyRequests, ErrCodeRateLimitExceeded, "Rate limit exceeded. Please try again later.", map[string]interface{}{
					"limit": float64(limiter.Limit()),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/cbt-backend/internal/response"
)

// RateLimiter is a per-IP token bucket. Each visitor holds up to rate tokens,
// refilled in full every interval.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int
	interval time.Duration
	now      func() time.Time
}

type visitor struct {
	tokens   int
	lastFill time.Time
	lastSeen time.Time
}

// NewRateLimiter creates a RateLimiter (e.g. 10 requests per minute). Stale
// visitors are dropped until ctx is cancelled.
func NewRateLimiter(ctx context.Context, rate int, interval time.Duration) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		interval: interval,
		now:      time.Now,
	}

	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				rl.cleanup()
			}
		}
	}()
	return rl
}

// Allow takes one token for key and reports whether the request may proceed.
// When it may not, the returned duration is the wait until the next refill.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{tokens: rl.rate, lastFill: now}
		rl.visitors[key] = v
	}
	v.lastSeen = now

	if periods := int(now.Sub(v.lastFill) / rl.interval); periods > 0 {
		v.tokens = min(rl.rate, v.tokens+periods*rl.rate)
		v.lastFill = v.lastFill.Add(time.Duration(periods) * rl.interval)
	}
	if v.tokens <= 0 {
		return false, v.lastFill.Add(rl.interval).Sub(now)
	}
	v.tokens--
	return true, 0
}

// Middleware returns a Gin middleware that rate-limits requests by IP.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, wait := rl.Allow(c.ClientIP())
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-3 * rl.interval)
	for ip, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, ip)
		}
	}
}

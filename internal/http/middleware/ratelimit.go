// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements an in-memory token-bucket rate limiter with one bucket
// per client identity and opportunistic eviction of idle buckets. Replays
// flagged by IdempotencyValidator are not limited, and selected routes (the
// bot webhook) can be exempted entirely: the bot network retries any update
// not answered with 200.
//
// The limiter is process-local; it is edge protection for the admin API, not
// an authorization mechanism.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// keyFunc selects the identity used to key a rate-limit bucket.
type keyFunc func(*gin.Context) string

// KeyByClientOrIP keys buckets by the authenticated client when known, and
// by client IP otherwise.
func KeyByClientOrIP() keyFunc {
	return func(c *gin.Context) string {
		if id := ClientFrom(c); id != "" {
			return "client:" + id
		}
		if k := c.GetHeader(HeaderAPIKey); k != "" {
			return "ip+key:" + c.ClientIP()
		}
		return "ip:" + c.ClientIP()
	}
}

// visitor is a bucket and its last use.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client key. It is safe for
// concurrent use.
type RateLimiter struct {
	rps      rate.Limit
	burst    int
	keyFn    keyFunc
	mu       sync.Mutex
	visitors map[string]*visitor

	ttl      time.Duration
	cleanupN uint64
	exempt   map[string]struct{}
}

// NewRateLimiter constructs a RateLimiter with the given tokens-per-second
// and burst size, keyed by keyFn.
//
//   - rps:   tokens replenished per second (0 allows no requests; use >0).
//   - burst: maximum burst size; values <= 0 are coerced to 1.
//   - keyFn: function that maps a request to a bucket identity.
//
// The returned limiter is ready to be installed as middleware via Handler().
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		keyFn:    keyFn,
		visitors: make(map[string]*visitor),
		ttl:      10 * time.Minute,
		exempt:   make(map[string]struct{}),
	}
}

// Exempt excludes the given route templates from limiting.
func (rl *RateLimiter) Exempt(paths ...string) *RateLimiter {
	for _, p := range paths {
		rl.exempt[p] = struct{}{}
	}
	return rl
}

// sweepEvery is how many lookups pass between idle-bucket sweeps.
const sweepEvery = 5000

// bucket returns the limiter for key, creating it on first use. Every
// sweepEvery lookups, buckets idle for longer than ttl are dropped first,
// so a stale bucket is replaced rather than reused.
func (rl *RateLimiter) bucket(key string) *rate.Limiter {
	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.cleanupN++; rl.cleanupN >= sweepEvery {
		rl.sweep(now)
	}
	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

// sweep drops idle buckets. Callers hold rl.mu.
func (rl *RateLimiter) sweep(now time.Time) {
	for k, v := range rl.visitors {
		if now.Sub(v.lastSeen) >= rl.ttl {
			delete(rl.visitors, k)
		}
	}
	rl.cleanupN = 0
}

// IsRateBypass reports whether IdempotencyValidator flagged the request as
// a replay. Replays are served without consuming tokens.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass) // set by IdempotencyValidator
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler enforces the per-key limits. A rejected request gets 429 with
// Retry-After: 1 and the standard error envelope.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := rl.exempt[c.FullPath()]; ok || IsRateBypass(c) {
			c.Next()
			return
		}

		key := rl.keyFn(c)
		lim := rl.bucket(key)

		if lim.Allow() {
			c.Next()
			return
		}

		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get("X-Request-ID"),
			"code":       "too_many_requests",
			"message":    "rate limit exceeded",
		})
	}
}

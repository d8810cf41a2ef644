// ratelimit.go throttles clients with per-key token buckets; requests over
// budget are rejected with 429 and a Retry-After hint.
package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimitConfig tunes one limiter instance.
type RateLimitConfig struct {
	// RequestsPerMinute is the sustained refill rate.
	RequestsPerMinute int
	// BurstSize caps how many requests a client can make back to back.
	BurstSize int
	// CleanupInterval is how often idle client buckets are swept away.
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig returns sensible defaults. The burst is generous
// because pip's resolver fetches many project pages back to back during a
// single install.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 300,
		BurstSize:         100,
		CleanupInterval:   5 * time.Minute,
	}
}

// AuthRateLimitConfig returns stricter limits for auth endpoints, where a
// burst is more likely a credential-stuffing run than a legitimate client.
func AuthRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 10,
		BurstSize:         5,
		CleanupInterval:   5 * time.Minute,
	}
}

// UploadRateLimitConfig returns limits for the publish endpoint. A release of
// one project uploads a handful of files, not dozens per second.
func UploadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 30,
		BurstSize:         5,
		CleanupInterval:   5 * time.Minute,
	}
}

// bucket is one client's token balance.
type bucket struct {
	tokens  float64
	touched time.Time
}

// RateLimiter implements a token bucket rate limiter. Each client key gets its
// own bucket; tokens refill continuously at the configured per-minute rate up
// to the burst size.
type RateLimiter struct {
	conf         RateLimitConfig
	refillPerSec float64
	burst        float64

	mu      sync.Mutex
	buckets map[string]*bucket
	quit    chan struct{}
}

// NewRateLimiter creates a new rate limiter with the given config and starts
// its background sweeper. Call Stop when done with it.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		conf:         config,
		refillPerSec: float64(config.RequestsPerMinute) / 60.0,
		burst:        float64(config.BurstSize),
		buckets:      make(map[string]*bucket),
		quit:         make(chan struct{}),
	}
	go rl.sweep()
	return rl
}

// sweep drops buckets that have sat idle long enough to be full again, so the
// map doesn't grow with every IP that ever made a request.
func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(rl.conf.CleanupInterval)
	defer ticker.Stop()

	staleAfter := 2 * rl.conf.CleanupInterval
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			rl.mu.Lock()
			for key, b := range rl.buckets {
				if now.Sub(b.touched) > staleAfter {
					delete(rl.buckets, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.quit:
			return
		}
	}
}

// Stop terminates the background sweeper.
func (rl *RateLimiter) Stop() {
	close(rl.quit)
}

// bucketLocked returns key's bucket refilled up to now, creating a full one
// for a client never seen before. Caller holds rl.mu.
func (rl *RateLimiter) bucketLocked(key string, now time.Time) *bucket {
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: rl.burst, touched: now}
		rl.buckets[key] = b
		return b
	}
	b.tokens = min(rl.burst, b.tokens+now.Sub(b.touched).Seconds()*rl.refillPerSec)
	b.touched = now
	return b
}

// Allow reports whether a request from key fits in its budget, consuming one
// token when it does.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b := rl.bucketLocked(key, time.Now())
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// RemainingTokens returns how many whole tokens key has left.
func (rl *RateLimiter) RemainingTokens(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if _, ok := rl.buckets[key]; !ok {
		return rl.conf.BurstSize
	}
	return int(rl.bucketLocked(key, time.Now()).tokens)
}

// RateLimit creates a Gin middleware that rejects requests over key's budget
// with a 429. Accepted responses carry X-RateLimit-* headers so well-behaved
// clients can pace themselves.
func RateLimit(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := limitKey(c)

		if !limiter.Allow(key) {
			c.Header("X-RateLimit-Remaining", strconv.Itoa(limiter.RemainingTokens(key)))
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": 60,
			})
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.conf.RequestsPerMinute))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(limiter.RemainingTokens(key)))
		c.Next()
	}
}

// limitKey buckets authenticated requests per user and anonymous ones per IP,
// so a shared NAT doesn't starve logged-in publishers behind it.
func limitKey(c *gin.Context) string {
	if identity := Identity(c); identity != nil && identity.UserID != "" {
		return "user:" + identity.UserID
	}

	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}

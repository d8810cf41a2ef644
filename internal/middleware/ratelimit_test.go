package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pratikychavan/PyPI-clone/internal/auth"
)

func TestRateLimitConfigPresets(t *testing.T) {
	tests := []struct {
		name      string
		cfg       RateLimitConfig
		wantRPM   int
		wantBurst int
	}{
		{"default", DefaultRateLimitConfig(), 300, 100},
		{"auth", AuthRateLimitConfig(), 10, 5},
		{"upload", UploadRateLimitConfig(), 30, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantRPM, tt.cfg.RequestsPerMinute)
			assert.Equal(t, tt.wantBurst, tt.cfg.BurstSize)
			assert.Equal(t, 5*time.Minute, tt.cfg.CleanupInterval)
		})
	}
}

func newTestLimiter(t *testing.T, rpm, burst int) *RateLimiter {
	t.Helper()
	rl := NewRateLimiter(RateLimitConfig{
		RequestsPerMinute: rpm,
		BurstSize:         burst,
		CleanupInterval:   time.Hour, // sweeper stays quiet during tests
	})
	t.Cleanup(rl.Stop)
	return rl
}

func TestRateLimiter_ColdClientGetsExactlyBurst(t *testing.T) {
	const burst = 3
	rl := newTestLimiter(t, 600, burst)

	allowed := 0
	for i := 0; i < burst+2; i++ {
		if rl.Allow("pip-at-10.0.0.7") {
			allowed++
		}
	}
	assert.Equal(t, burst, allowed, "a cold client should get the burst and nothing more")
}

func TestRateLimiter_TokensRefillOverTime(t *testing.T) {
	rl := newTestLimiter(t, 600, 2) // 10 tokens/sec

	key := "refill-test"
	for rl.Allow(key) {
	}

	// One token takes ~100ms to come back at this rate.
	time.Sleep(120 * time.Millisecond)
	assert.True(t, rl.Allow(key), "request after refill window should pass")
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	rl := newTestLimiter(t, 60, 2)

	for rl.Allow("key-a") {
	}
	assert.True(t, rl.Allow("key-b"), "exhausting key-a must not starve key-b")
}

func TestRateLimiter_RemainingTokens(t *testing.T) {
	const burst = 5
	rl := newTestLimiter(t, 60, burst)

	// A key never seen reports the full burst without creating a bucket.
	assert.Equal(t, burst, rl.RemainingTokens("unknown-key"))

	rl.Allow("seen-key")
	got := rl.RemainingTokens("seen-key")
	assert.GreaterOrEqual(t, got, 0)
	assert.Less(t, got, burst, "one token was just spent")
}

func TestLimitKey(t *testing.T) {
	gin.SetMode(gin.TestMode)

	makeCtx := func(remoteAddr string) *gin.Context {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		req, _ := http.NewRequest(http.MethodGet, "/simple/", nil)
		req.RemoteAddr = remoteAddr
		c.Request = req
		return c
	}

	t.Run("authenticated user keys by user ID", func(t *testing.T) {
		c := makeCtx("192.168.1.1:12345")
		setIdentity(c, &auth.Identity{UserID: "user-123", Username: "alice", Method: auth.MethodToken})
		assert.Equal(t, "user:user-123", limitKey(c))
	})

	t.Run("anonymous request keys by IP", func(t *testing.T) {
		key := limitKey(makeCtx("192.168.1.1:12345"))
		assert.True(t, strings.HasPrefix(key, "ip:"), key)
	})

	t.Run("identity without user ID falls back to IP", func(t *testing.T) {
		c := makeCtx("10.0.0.1:9999")
		setIdentity(c, auth.AnonymousAdmin())
		assert.True(t, strings.HasPrefix(limitKey(c), "ip:"))
	})
}

func newRateLimitRouter(limiter *RateLimiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimit(limiter))
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func hitFrom(r *gin.Engine, addr string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = addr
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimit_AllowedCarriesHeaders(t *testing.T) {
	rl := newTestLimiter(t, 120, 20)
	r := newRateLimitRouter(rl)

	w := hitFrom(r, "10.0.0.1:1234")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "120", w.Header().Get("X-RateLimit-Limit"))
	remaining, err := strconv.Atoi(w.Header().Get("X-RateLimit-Remaining"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, remaining, 0)
}

func TestRateLimit_OverBudgetGets429(t *testing.T) {
	rl := newTestLimiter(t, 1, 1)
	r := newRateLimitRouter(rl)

	assert.Equal(t, http.StatusOK, hitFrom(r, "10.0.0.2:1234").Code)

	w := hitFrom(r, "10.0.0.2:1234")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "Rate limit exceeded")
}

func TestRateLimiter_SweepEvictsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{
		RequestsPerMinute: 600,
		BurstSize:         10,
		CleanupInterval:   10 * time.Millisecond,
	})
	defer rl.Stop()

	rl.Allow("stale-client")

	// Back-date the bucket so the sweeper sees it as idle.
	rl.mu.Lock()
	rl.buckets["stale-client"].touched = time.Now().Add(-time.Minute)
	rl.mu.Unlock()

	require.Eventually(t, func() bool {
		rl.mu.Lock()
		defer rl.mu.Unlock()
		_, present := rl.buckets["stale-client"]
		return !present
	}, time.Second, 10*time.Millisecond, "sweeper should evict the idle bucket")
}

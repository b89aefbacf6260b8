package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"postpilot/internal/service"
	"postpilot/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.InitLogger("test")
	gin.SetMode(gin.TestMode)
}

func newLimitedRouter(l *RateLimiter, userID string) *gin.Engine {
	r := gin.New()
	if userID != "" {
		r.Use(func(c *gin.Context) {
			c.Request = c.Request.WithContext(service.WithOperator(c.Request.Context(), &service.OperatorInfo{UserID: userID}))
		})
	}
	r.Use(l.Middleware())
	r.POST("/test", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func do(r *gin.Engine) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/test", nil)
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_RedisBucket(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	l := NewRateLimiter(rdb, "test", 2)
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	alice := newLimitedRouter(l, "alice")
	assert.Equal(t, http.StatusOK, do(alice).Code)
	assert.Equal(t, http.StatusOK, do(alice).Code)
	w := do(alice)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	// Buckets are per user.
	assert.Equal(t, http.StatusOK, do(newLimitedRouter(l, "bob")).Code)

	fixed = fixed.Add(time.Second)
	assert.Equal(t, http.StatusOK, do(alice).Code)
}

func TestRateLimiter_RedisFailure_FailsOpen(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:0",
		DialTimeout: 10 * time.Millisecond,
		ReadTimeout: 10 * time.Millisecond,
		MaxRetries:  0,
	})
	defer rdb.Close()

	r := newLimitedRouter(NewRateLimiter(rdb, "test", 10), "")
	w := do(r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "10", w.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimiter_EvictsIdleFallbackBuckets(t *testing.T) {
	l := NewRateLimiter(nil, "test", 1)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.localLimiter("ip:1.2.3.4")
	now = now.Add(11 * time.Minute)
	l.localLimiter("ip:5.6.7.8")
	l.evictIdle(10 * time.Minute)

	assert.Len(t, l.local, 1)
	assert.Contains(t, l.local, "ip:5.6.7.8")
}

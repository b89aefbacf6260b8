package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"postpilot/internal/service"
	"postpilot/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// tokenBucketScript implements the Token Bucket algorithm.
// Input: ARGV[1]=rate, ARGV[2]=capacity, ARGV[3]=now, ARGV[4]=requested
// Output: { allowed, remaining, reset_after }
var tokenBucketScript = redis.NewScript(`
local tokens_key = KEYS[1]
local ts_key = KEYS[2]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

local fill_time = capacity / rate
local ttl = math.ceil(fill_time * 2)

local last_tokens = tonumber(redis.call("get", tokens_key))
if last_tokens == nil then last_tokens = capacity end

local last_ts = tonumber(redis.call("get", ts_key))
if last_ts == nil then last_ts = now end

local delta = math.max(0, now - last_ts)
local filled_tokens = math.min(capacity, last_tokens + (delta * rate))
local allowed = 0
local reset_after = 0

if filled_tokens >= requested then
    allowed = 1
    filled_tokens = filled_tokens - requested
else
    reset_after = (requested - filled_tokens) / rate
end

if allowed == 1 then
    redis.call("set", tokens_key, filled_tokens, "EX", ttl)
    redis.call("set", ts_key, now, "EX", ttl)
end

return { allowed, tostring(filled_tokens), tostring(reset_after) }
`)

// RateLimiter throttles write requests per user (or per IP for anonymous
// callers). Redis holds the shared buckets; when Redis is unreachable each
// process falls back to its own in-memory buckets.
type RateLimiter struct {
	rdb       *redis.Client
	prefix    string
	perSecond int
	burst     int

	mu    sync.Mutex
	local map[string]*localLimiter
	now   func() time.Time
}

type localLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(rdb *redis.Client, prefix string, requestsPerSecond int) *RateLimiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	return &RateLimiter{
		rdb:       rdb,
		prefix:    prefix + ":ratelimit:",
		perSecond: requestsPerSecond,
		burst:     requestsPerSecond,
		local:     make(map[string]*localLimiter),
		now:       time.Now,
	}
}

// Run evicts idle fallback buckets until ctx is done.
func (l *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.evictIdle(10 * time.Minute)
		}
	}
}

func (l *RateLimiter) evictIdle(idle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for key, ll := range l.local {
		if now.Sub(ll.lastSeen) > idle {
			delete(l.local, key)
		}
	}
}

func (l *RateLimiter) localLimiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	ll, ok := l.local[key]
	if !ok {
		ll = &localLimiter{limiter: rate.NewLimiter(rate.Limit(l.perSecond), l.burst)}
		l.local[key] = ll
	}
	ll.lastSeen = l.now()
	return ll.limiter
}

func callerKey(c *gin.Context) string {
	if userID, ok := service.OperatorUserID(c.Request.Context()); ok {
		return "user:" + userID
	}
	return "ip:" + c.ClientIP()
}

func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := callerKey(c)
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", l.perSecond))

		ctx, cancel := context.WithTimeout(c.Request.Context(), 100*time.Millisecond)
		defer cancel()

		now := float64(l.now().UnixMicro()) / 1e6
		keys := []string{l.prefix + key + ":tokens", l.prefix + key + ":ts"}
		result, err := tokenBucketScript.Run(ctx, l.rdb, keys, float64(l.perSecond), float64(l.burst), now, 1).Result()
		if err != nil {
			logger.Warn("redis rate limit failed, using local fallback", zap.Error(err), zap.String("caller", key))
			limiter := l.localLimiter(key)
			if !limiter.Allow() {
				c.Header("X-RateLimit-Remaining", "0")
				c.Header("X-RateLimit-Reset", "1")
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too Many Requests"})
				return
			}
			c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", int(limiter.Tokens())))
			c.Next()
			return
		}

		res, ok := result.([]any)
		if !ok || len(res) != 3 {
			logger.Error("invalid redis rate limit response", zap.Any("response", result))
			c.Next()
			return
		}
		allowed := toFloat(res[0]) == 1
		remaining := toFloat(res[1])
		resetAfter := toFloat(res[2])

		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", int(remaining)))
		reset := l.now().Add(time.Duration(resetAfter * float64(time.Second)))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", reset.Unix()))

		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too Many Requests"})
			return
		}
		c.Next()
	}
}

func toFloat(v any) float64 {
	switch val := v.(type) {
	case int64:
		return float64(val)
	case float64:
		return val
	case string:
		var f float64
		if _, err := fmt.Sscanf(val, "%g", &f); err == nil {
			return f
		}
	}
	return 0
}

package security

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

type RateLimiter struct {
	redis  redis.Cmdable
	limit  int64
	window time.Duration
}

// NewRateLimiter allows perMinute requests per caller and scope in a fixed
// one-minute window.
func NewRateLimiter(redisClient redis.Cmdable, perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 30
	}
	return &RateLimiter{redis: redisClient, limit: int64(perMinute), window: time.Minute}
}

func identifier(e *core.RequestEvent) string {
	if e.Auth != nil {
		return "user:" + e.Auth.Id
	}
	return "ip:" + e.RealIP()
}

// Limit returns a middleware counting requests per caller under scope. Redis
// failures let the request through.
func (r *RateLimiter) Limit(scope string) func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		ctx := e.Request.Context()
		key := fmt.Sprintf("ratelimit:%s:%s", scope, identifier(e))

		count, err := r.redis.Incr(ctx, key).Result()
		if err != nil {
			slog.Warn("rateLimiter.Limit()", "scope", scope, "error", err)
			return e.Next()
		}
		if count == 1 {
			r.redis.Expire(ctx, key, r.window)
		}
		if count > r.limit {
			return apis.NewTooManyRequestsError("Too many requests", nil)
		}

		return e.Next()
	}
}

// BlockBots rejects requests from obvious automated user agents.
func (r *RateLimiter) BlockBots() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if isSuspiciousUserAgent(e.Request.Header.Get("User-Agent")) {
			return apis.NewForbiddenError("Access denied", nil)
		}
		return e.Next()
	}
}

func isSuspiciousUserAgent(ua string) bool {
	ua = strings.ToLower(ua)
	for _, pattern := range []string{"bot", "crawler", "spider", "scraper"} {
		if strings.Contains(ua, pattern) {
			return true
		}
	}
	return false
}

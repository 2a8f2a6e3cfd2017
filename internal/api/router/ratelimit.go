package router

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RateLimiterConfig configures a fixed window limiter shared through Redis
type RateLimiterConfig struct {
	RedisClient *redis.Client
	Logger      *slog.Logger
	Limit       int
	Window      time.Duration
	KeyPrefix   string
	// Extractor identifies the caller; defaults to the client IP
	Extractor func(c *gin.Context) string
}

// RateLimiter builds per-route middlewares over one configuration
type RateLimiter struct {
	cfg RateLimiterConfig
}

// NewRateLimiter fills in defaults
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "rl:"
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 10
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Extractor == nil {
		cfg.Extractor = func(c *gin.Context) string {
			return c.ClientIP()
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &RateLimiter{cfg: cfg}
}

// Limit counts requests per caller within scope; Redis errors let the request through
func (rl *RateLimiter) Limit(scope string) gin.HandlerFunc {
	cfg := rl.cfg

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		id := cfg.Extractor(c)
		if id == "" {
			id = "anonymous"
		}
		key := fmt.Sprintf("%s%s:%s", cfg.KeyPrefix, scope, id)

		count, err := cfg.RedisClient.Incr(ctx, key).Result()
		if err != nil {
			cfg.Logger.Warn("Rate limiter unavailable, allowing request",
				slog.String("key", key),
				slog.Any("error", err),
			)
			c.Next()
			return
		}

		// a key left without expiry by an earlier failed EXPIRE gets one now
		ttl, ttlErr := cfg.RedisClient.TTL(ctx, key).Result()
		if count == 1 || (ttlErr == nil && ttl < 0) {
			if err := cfg.RedisClient.Expire(ctx, key, cfg.Window).Err(); err != nil {
				cfg.Logger.Warn("Failed to set rate limit window, resetting counter",
					slog.String("key", key),
					slog.Any("error", err),
				)
				cfg.RedisClient.Del(ctx, key)
			}
			ttl = cfg.Window
		}

		reset := 0
		if ttl > 0 {
			reset = int(ttl.Seconds())
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.Limit))
		c.Header("X-RateLimit-Reset", strconv.Itoa(reset))

		if count > int64(cfg.Limit) {
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", strconv.Itoa(reset))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":             "rate limit exceeded",
				"rate_limit":        cfg.Limit,
				"rate_limit_window": cfg.Window.String(),
				"retry_after_sec":   reset,
			})
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.Itoa(cfg.Limit-int(count)))
		c.Next()
	}
}

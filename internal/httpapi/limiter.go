package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Limiter decides whether key may perform one more action in the current
// window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisLimiter is a fixed one-window counter shared by every instance.
type RedisLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
	prefix string
}

// NewRedisLimiter allows perSecond actions per key per second.
func NewRedisLimiter(client *redis.Client, perSecond int) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		limit:  int64(perSecond),
		window: time.Second,
		prefix: "linkwell:ratelimit:",
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := l.prefix + key
	count, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit: incr: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, k, l.window).Err(); err != nil {
			return false, fmt.Errorf("ratelimit: expire: %w", err)
		}
	}
	return count <= l.limit, nil
}

// rateLimit throttles per authenticated user. Limiter errors let the request
// through.
func rateLimit(limiter Limiter, scope string, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identityFrom(c)
		if !ok {
			c.Next()
			return
		}

		allowed, err := limiter.Allow(c.Request.Context(), scope+":"+id.UserID)
		if err != nil {
			log.Warn("rate limiter unavailable", zap.String("user_id", id.UserID), zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody{Error: errorDetail{
				Kind:    "rate_limited",
				Message: "too many requests",
			}})
			return
		}
		c.Next()
	}
}

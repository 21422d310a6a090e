package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"campus-chat/internal/observability"
)

// Limiter is a fixed-window counter per user kept in redis. A nil Limiter
// allows everything, which is what runs when REDIS_URL is unset.
type Limiter struct {
	rdb    *redis.Client
	limit  int64
	window time.Duration
}

// Open connects to redis. An empty url disables rate limiting.
func Open(ctx context.Context, url string, limit int64, window time.Duration) (*Limiter, error) {
	if url == "" {
		log.Warn().Msg("rate limiting disabled: empty redis url")
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(rdb, limit, window), nil
}

func New(rdb *redis.Client, limit int64, window time.Duration) *Limiter {
	return &Limiter{rdb: rdb, limit: limit, window: window}
}

// AllowSliding counts one hit against key and reports whether it is within limit.
func (l *Limiter) AllowSliding(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	k := "rl:" + key
	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, err
	}
	n := incr.Val()
	return n <= limit, n, nil
}

// AllowSend reports whether userID may send another message. Redis failures
// fail open so an outage does not block chat.
func (l *Limiter) AllowSend(ctx context.Context, userID int) bool {
	if l == nil {
		return true
	}
	ok, n, err := l.AllowSliding(ctx, "send:"+strconv.Itoa(userID), l.limit, l.window)
	if err != nil {
		log.Warn().Err(err).Int("user_id", userID).Msg("rate limiter unavailable")
		return true
	}
	if !ok {
		observability.IncRateLimited()
		log.Debug().Int("user_id", userID).Int64("count", n).Int64("limit", l.limit).Msg("send rate limited")
	}
	return ok
}

// SendLimit rejects message sends over the per-user limit with 429.
func (l *Limiter) SendLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.AllowSend(c.Request.Context(), c.GetInt("userID")) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"success": false, "message": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (l *Limiter) Close() error {
	if l == nil {
		return nil
	}
	return l.rdb.Close()
}

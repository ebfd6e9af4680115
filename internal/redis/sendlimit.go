package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SendLimitConfig caps how many messages may leave one WhatsApp connection
// inside a sliding window. The defaults (1 per 3s) mirror the pacing the
// transport tolerates for non-campaign sends; campaign sends are paced by
// their precomputed dispatch delays instead.
type SendLimitConfig struct {
	Limit  int
	Window time.Duration
}

// SendLimiter implements a sliding-window throttle over a Redis sorted set,
// one window per connection.
type SendLimiter struct {
	client *Client
	logger *zap.Logger
	config SendLimitConfig
}

// NewSendLimiter creates a send limiter with the given configuration.
func NewSendLimiter(client *Client, logger *zap.Logger, config SendLimitConfig) *SendLimiter {
	if config.Limit <= 0 {
		config.Limit = 1
	}
	if config.Window <= 0 {
		config.Window = 3 * time.Second
	}
	return &SendLimiter{
		client: client,
		logger: logger,
		config: config,
	}
}

// Allow reports whether one more send may leave the given connection now,
// and when the window frees up if not.
func (l *SendLimiter) Allow(ctx context.Context, whatsappID int64) (bool, time.Time, error) {
	now := time.Now()
	windowStart := now.Add(-l.config.Window)
	key := fmt.Sprintf("sendlimit:%d", whatsappID)

	pipe := l.client.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, time.Time{}, fmt.Errorf("redis pipeline failed: %w", err)
	}

	if int(countCmd.Val()) >= l.config.Limit {
		l.logger.Debug("send throttled",
			zap.Int64("whatsapp_id", whatsappID),
			zap.Int("limit", l.config.Limit),
			zap.Duration("window", l.config.Window),
		)
		return false, now.Add(l.config.Window), nil
	}

	member := strconv.FormatInt(now.UnixNano(), 10)
	pipe2 := l.client.rdb.Pipeline()
	pipe2.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe2.Expire(ctx, key, l.config.Window+time.Second)
	if _, err := pipe2.Exec(ctx); err != nil {
		return false, time.Time{}, fmt.Errorf("redis zadd failed: %w", err)
	}

	return true, now, nil
}

// Wait blocks until a send slot is free for the connection or ctx ends.
func (l *SendLimiter) Wait(ctx context.Context, whatsappID int64) error {
	for {
		ok, _, err := l.Allow(ctx, whatsappID)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}

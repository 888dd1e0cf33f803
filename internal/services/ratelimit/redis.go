package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisBucketKeyPrefix = "rl:"

// RedisLimiter consumes tokens through the chat_rate_consume Redis Function,
// so every coordinator instance shares the same buckets.
type RedisLimiter struct {
	rdc  redis.Cmdable
	opts Options
}

var _ IRateLimiter = (*RedisLimiter)(nil)

func NewRedisLimiter(rdc redis.Cmdable, opts Options) *RedisLimiter {
	return &RedisLimiter{rdc: rdc, opts: opts}
}

func (l *RedisLimiter) TryConsume(ctx context.Context, sourceKey string) (Decision, error) {
	res, err := l.rdc.FCall(ctx, "chat_rate_consume",
		[]string{redisBucketKeyPrefix + sourceKey},
		l.opts.Points,
		l.opts.Window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate consume: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("rate consume: unexpected reply %v", res)
	}
	if res[0] == 1 {
		return Allow(int(res[1])), nil
	}
	return Deny(time.Duration(res[2]) * time.Millisecond), nil
}

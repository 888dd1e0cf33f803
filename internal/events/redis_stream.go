package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// RedisStreamBus appends each message to a stream named after its topic.
type RedisStreamBus struct {
	rdc    redis.Cmdable
	maxLen int64
}

var _ Bus = (*RedisStreamBus)(nil)

func NewRedisStreamBus(rdc redis.Cmdable, maxLen int64) *RedisStreamBus {
	return &RedisStreamBus{rdc: rdc, maxLen: maxLen}
}

func (b *RedisStreamBus) Send(ctx context.Context, msg Message) error {
	values := []string{"key", msg.Key, "value", string(msg.Value)}
	if len(msg.Headers) > 0 {
		h, err := json.Marshal(msg.Headers)
		if err != nil {
			return err
		}
		values = append(values, "headers", string(h))
	}
	return b.rdc.XAdd(ctx, &redis.XAddArgs{
		Stream: msg.Topic,
		MaxLen: b.maxLen,
		Approx: b.maxLen > 0,
		Values: values,
	}).Err()
}

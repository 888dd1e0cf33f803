package heartbeat

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix   = "inst_t:"
	beatTimeout = 1500 * time.Millisecond
)

// Key is the Redis key whose expiry announces that instanceID died.
func Key(instanceID string) string { return keyPrefix + instanceID }

// InstanceFromKey reverses Key.
func InstanceFromKey(key string) (string, bool) {
	if len(key) <= len(keyPrefix) || key[:len(keyPrefix)] != keyPrefix {
		return "", false
	}
	return key[len(keyPrefix):], true
}

// Beat refreshes the liveness key of instanceID for ttl.
func Beat(ctx context.Context, rdc redis.Cmdable, instanceID string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, beatTimeout)
	defer cancel()
	return rdc.Set(ctx, Key(instanceID), instanceID, ttl).Err()
}

// Alive reports whether instanceID refreshed its key within its ttl.
func Alive(ctx context.Context, rdc redis.Cmdable, instanceID string) (bool, error) {
	n, err := rdc.Exists(ctx, Key(instanceID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Stop removes the key on a clean shutdown, after the instance released its
// members itself.
func Stop(ctx context.Context, rdc redis.Cmdable, instanceID string) error {
	err := rdc.Del(ctx, Key(instanceID)).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// Run beats once right away and then every interval until ctx is done.
func Run(ctx context.Context, rdc redis.Cmdable, instanceID string, interval, ttl time.Duration) {
	if err := Beat(ctx, rdc, instanceID, ttl); err != nil {
		zap.L().Error("heartbeat.beat", zap.String("instance_id", instanceID), zap.Error(err))
	}

	tk := time.NewTicker(interval)
	go func() {
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				if err := Beat(ctx, rdc, instanceID, ttl); err != nil {
					zap.L().Error("heartbeat.beat", zap.String("instance_id", instanceID), zap.Error(err))
				}
			}
		}
	}()
}

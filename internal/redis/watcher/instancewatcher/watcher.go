package instancewatcher

import (
	"context"
	"time"

	"roomchat/internal/heartbeat"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	lockPrefix = "reap_lock:"
	lockTTL    = 30 * time.Second
	reapBudget = 30 * time.Second
)

// Reaper releases everything a dead instance still holds.
type Reaper interface {
	ReapInstance(ctx context.Context, instanceID string) (int, error)
}

// InstanceLister returns the instances that still own members.
type InstanceLister interface {
	Instances(ctx context.Context) ([]string, error)
}

// Run listens to key-expiry events and reaps instances whose heartbeat key
// expired. Run must be started once at service boot.
func Run(ctx context.Context, rdb *redis.Client, reaper Reaper) {
	_ = rdb.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err()
	ps := rdb.PSubscribe(ctx, "__keyevent@*__:expired")
	defer ps.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ps.Channel():
			if !ok {
				return
			}
			id, ok := heartbeat.InstanceFromKey(m.Payload)
			if !ok {
				continue
			}
			zap.L().Info("instancewatcher.instance_expired", zap.String("instance_id", id))
			reap(ctx, rdb, reaper, id)
		}
	}
}

// SweepOrphans reaps instances that own members but have no heartbeat, e.g.
// because they died while no watcher was running.
func SweepOrphans(ctx context.Context, rdb redis.Cmdable, lister InstanceLister, reaper Reaper, self string) error {
	ids, err := lister.Instances(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == self {
			continue
		}
		alive, err := heartbeat.Alive(ctx, rdb, id)
		if err != nil {
			return err
		}
		if !alive {
			reap(ctx, rdb, reaper, id)
		}
	}
	return nil
}

// reap runs on exactly one instance per dead instance id.
func reap(ctx context.Context, rdb redis.Cmdable, reaper Reaper, instanceID string) {
	ok, err := rdb.SetNX(ctx, lockPrefix+instanceID, 1, lockTTL).Result()
	if err != nil {
		zap.L().Warn("instancewatcher.lock_failed", zap.String("instance_id", instanceID), zap.Error(err))
		return
	}
	if !ok {
		return // another instance is on it
	}

	ctx, cancel := context.WithTimeout(ctx, reapBudget)
	defer cancel()
	n, err := reaper.ReapInstance(ctx, instanceID)
	if err != nil {
		zap.L().Error("instancewatcher.reap_failed",
			zap.String("instance_id", instanceID), zap.Int("reaped", n), zap.Error(err))
		// Let the next sweep retry.
		_ = rdb.Del(ctx, lockPrefix+instanceID).Err()
		return
	}
	zap.L().Info("instancewatcher.reaped", zap.String("instance_id", instanceID), zap.Int("members", n))
}

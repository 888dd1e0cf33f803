package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	kickChannel    = "chat:kick"
	publishTimeout = 2 * time.Second
)

func roomChannel(roomID string) string { return "room:" + roomID + ":events" }

// roomFrame is what travels on a room channel.
type roomFrame struct {
	Except string          `json:"except,omitempty"`
	Frame  json.RawMessage `json:"frame"`
}

type redisFanout struct {
	rdb  *redis.Client
	hub  *Hub
	subs *subscriptionManager
}

func newRedisFanout(rdb *redis.Client, hub *Hub) *redisFanout {
	return &redisFanout{rdb: rdb, hub: hub, subs: newSubscriptionManager(rdb, hub)}
}

func (f *redisFanout) watch(roomID string)   { f.subs.Subscribe(roomID) }
func (f *redisFanout) unwatch(roomID string) { f.subs.Unsubscribe(roomID) }

// publish sends the frame to every instance with members in roomID, this one
// included. If Redis is unreachable the local members still get it.
func (f *redisFanout) publish(roomID string, frame []byte, except string) {
	payload, err := json.Marshal(roomFrame{Except: except, Frame: frame})
	if err != nil {
		zap.L().Error("ws.fanout_encode_failed", zap.String("room_id", roomID), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := f.rdb.Publish(ctx, roomChannel(roomID), payload).Err(); err != nil {
		zap.L().Warn("ws.fanout_publish_failed", zap.String("room_id", roomID), zap.Error(err))
		f.hub.deliver(roomID, frame, except)
	}
}

func (f *redisFanout) kick(connID string) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := f.rdb.Publish(ctx, kickChannel, connID).Err(); err != nil {
		zap.L().Warn("ws.kick_publish_failed", zap.String("conn_id", connID), zap.Error(err))
	}
}

// SubscribeRedisKicks closes local connections that another instance asked
// to terminate.
func SubscribeRedisKicks(ctx context.Context, rdb *redis.Client, hub *Hub) {
	pubsub := rdb.Subscribe(ctx, kickChannel)
	defer pubsub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-pubsub.Channel():
			if !ok {
				return
			}
			if hub.closeLocal(m.Payload) {
				zap.L().Debug("ws.kicked", zap.String("conn_id", m.Payload))
			}
		}
	}
}

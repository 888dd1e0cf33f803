package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const subscribeTimeout = 3 * time.Second

// subscriptionManager guarantees that we have **exactly one** Redis
// subscription per "room:<id>:events" channel, no matter how many websocket
// clients of this instance sit in the room.
type subscriptionManager struct {
	rdb  *redis.Client
	hub  *Hub
	mu   sync.Mutex
	subs map[string]*subEntry // roomID ➜ subscription data
}

type subEntry struct {
	refCnt int
	cancel context.CancelFunc
	ready  chan struct{} // closed once Redis confirmed the SUBSCRIBE
}

func newSubscriptionManager(rdb *redis.Client, hub *Hub) *subscriptionManager {
	return &subscriptionManager{
		rdb:  rdb,
		hub:  hub,
		subs: make(map[string]*subEntry),
	}
}

// Subscribe ensures that the process is subscribed to the room's channel and
// waits until Redis confirmed it, so frames published right after a join are
// not lost. Subsequent calls for the same room only increment the ref-counter.
func (sm *subscriptionManager) Subscribe(roomID string) {
	sm.mu.Lock()
	if e, ok := sm.subs[roomID]; ok {
		e.refCnt++
		sm.mu.Unlock()
		sm.await(roomID, e)
		return
	}

	// First consumer → create Redis SUB and fan-out loop.
	ctx, cancel := context.WithCancel(context.Background())
	e := &subEntry{refCnt: 1, cancel: cancel, ready: make(chan struct{})}
	sm.subs[roomID] = e
	sm.mu.Unlock()

	ps := sm.rdb.Subscribe(ctx, roomChannel(roomID))

	confirmCtx, confirmCancel := context.WithTimeout(ctx, subscribeTimeout)
	if _, err := ps.Receive(confirmCtx); err != nil {
		zap.L().Warn("ws.subscribe_unconfirmed", zap.String("room_id", roomID), zap.Error(err))
	}
	confirmCancel()
	close(e.ready)

	go func() {
		defer ps.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ps.Channel():
				if !ok { // Redis connection closed.
					return
				}
				var rf roomFrame
				if err := json.Unmarshal([]byte(m.Payload), &rf); err != nil {
					zap.L().Warn("ws.bad_room_frame", zap.String("room_id", roomID), zap.Error(err))
					continue
				}
				sm.hub.deliver(roomID, rf.Frame, rf.Except)
			}
		}
	}()
}

func (sm *subscriptionManager) await(roomID string, e *subEntry) {
	select {
	case <-e.ready:
	case <-time.After(subscribeTimeout):
		zap.L().Warn("ws.subscribe_wait_timeout", zap.String("room_id", roomID))
	}
}

// Unsubscribe decrements the ref-counter and tears the Redis SUB down when the
// last websocket client leaves the room.
func (sm *subscriptionManager) Unsubscribe(roomID string) {
	sm.mu.Lock()
	e, ok := sm.subs[roomID]
	if !ok {
		sm.mu.Unlock()
		return
	}
	e.refCnt--
	if e.refCnt > 0 {
		sm.mu.Unlock()
		return
	}
	delete(sm.subs, roomID)
	sm.mu.Unlock()

	// Outside the lock → stop the fan-out goroutine.
	e.cancel()
}

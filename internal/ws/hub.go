package ws

import (
	"context"
	"sync"

	"roomchat/internal/services/presence"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// fanout moves room frames and kicks between instances.
type fanout interface {
	// watch / unwatch are called when the first local member of a room
	// arrives and when the last one goes.
	watch(roomID string)
	unwatch(roomID string)
	publish(roomID string, frame []byte, except string)
	kick(connID string)
}

// Hub keeps the connections held by this instance and their rooms. It is the
// presence.Broadcaster of the process.
type Hub struct {
	conns sync.Map // connID -> *clientConn

	mu    sync.Mutex
	rooms map[string]*room

	fanout fanout

	// watchMu guards watches only; each roomWatch orders the fanout calls
	// of its own room.
	watchMu sync.Mutex
	watches map[string]*roomWatch
}

type roomWatch struct {
	mu      sync.Mutex
	users   int  // syncWatch calls holding this entry, guarded by Hub.watchMu
	watched bool // mirrors what fanout holds, guarded by mu
}

var _ presence.Broadcaster = (*Hub)(nil)

// NewHub returns a hub that fans out through Redis pub/sub, or only within
// the process when rdb is nil.
func NewHub(rdb *redis.Client) *Hub {
	h := &Hub{rooms: make(map[string]*room), watches: make(map[string]*roomWatch)}
	if rdb == nil {
		h.fanout = localFanout{hub: h}
	} else {
		h.fanout = newRedisFanout(rdb, h)
	}
	return h
}

// Run blocks until ctx is done, serving cross-instance kicks.
func (h *Hub) Run(ctx context.Context) {
	if rf, ok := h.fanout.(*redisFanout); ok {
		SubscribeRedisKicks(ctx, rf.rdb, h)
		return
	}
	<-ctx.Done()
}

func (h *Hub) register(c *clientConn) {
	h.conns.Store(c.id, c)
}

// unregister drops c and whatever room it is still subscribed to.
func (h *Hub) unregister(c *clientConn) {
	h.mu.Lock()
	roomID := c.roomID
	h.mu.Unlock()
	if roomID != "" {
		h.Unsubscribe(c.id, roomID)
	}

	h.conns.Delete(c.id)
}

func (h *Hub) local(connID string) *clientConn {
	if v, ok := h.conns.Load(connID); ok {
		return v.(*clientConn)
	}
	return nil
}

func (h *Hub) Subscribe(connID, roomID string) {
	c := h.local(connID)
	if c == nil {
		return
	}

	h.mu.Lock()
	prev := c.roomID
	h.mu.Unlock()
	if prev != "" && prev != roomID {
		h.Unsubscribe(connID, prev)
	}

	h.mu.Lock()
	r, ok := h.rooms[roomID]
	if !ok {
		r = newRoom()
		h.rooms[roomID] = r
	}
	r.add(c)
	c.roomID = roomID
	h.mu.Unlock()

	h.syncWatch(roomID)
}

func (h *Hub) Unsubscribe(connID, roomID string) {
	h.mu.Lock()
	r, ok := h.rooms[roomID]
	if !ok || !r.remove(connID) {
		h.mu.Unlock()
		return
	}
	if c := h.local(connID); c != nil && c.roomID == roomID {
		c.roomID = ""
	}
	if r.empty() {
		delete(h.rooms, roomID)
	}
	h.mu.Unlock()

	h.syncWatch(roomID)
}

// syncWatch makes the fanout interest in roomID match whether the room still
// has local members. Calls for the same room run one at a time; other rooms
// are not held up by a slow watch.
func (h *Hub) syncWatch(roomID string) {
	h.watchMu.Lock()
	w, ok := h.watches[roomID]
	if !ok {
		w = &roomWatch{}
		h.watches[roomID] = w
	}
	w.users++
	h.watchMu.Unlock()

	w.mu.Lock()
	h.mu.Lock()
	_, want := h.rooms[roomID]
	h.mu.Unlock()

	switch {
	case want && !w.watched:
		h.fanout.watch(roomID)
		w.watched = true
	case !want && w.watched:
		h.fanout.unwatch(roomID)
		w.watched = false
	}
	watched := w.watched
	w.mu.Unlock()

	h.watchMu.Lock()
	w.users--
	if w.users == 0 && !watched {
		delete(h.watches, roomID)
	}
	h.watchMu.Unlock()
}

func (h *Hub) EmitTo(connID string, ev presence.Event) {
	c := h.local(connID)
	if c == nil {
		zap.L().Debug("ws.emit_to_unknown_conn", zap.String("conn_id", connID), zap.String("event", ev.Name))
		return
	}
	frame, err := encodeFrame(ev.Name, ev.Body)
	if err != nil {
		zap.L().Error("ws.encode_failed", zap.String("event", ev.Name), zap.Error(err))
		return
	}
	c.enqueue(frame)
}

func (h *Hub) EmitRoom(roomID string, ev presence.Event, exceptConnID string) {
	frame, err := encodeFrame(ev.Name, ev.Body)
	if err != nil {
		zap.L().Error("ws.encode_failed", zap.String("event", ev.Name), zap.Error(err))
		return
	}
	h.fanout.publish(roomID, frame, exceptConnID)
}

func (h *Hub) Kick(connID string) {
	if h.closeLocal(connID) {
		return
	}
	h.fanout.kick(connID)
}

// deliver hands frame to the local members of roomID.
func (h *Hub) deliver(roomID string, frame []byte, except string) {
	h.mu.Lock()
	r, ok := h.rooms[roomID]
	if !ok {
		h.mu.Unlock()
		return
	}
	conns := r.snapshot(except)
	h.mu.Unlock()

	for _, c := range conns {
		c.enqueue(frame)
	}
}

func (h *Hub) closeLocal(connID string) bool {
	c := h.local(connID)
	if c == nil {
		return false
	}
	c.close()
	return true
}

type localFanout struct{ hub *Hub }

func (localFanout) watch(string)   {}
func (localFanout) unwatch(string) {}
func (localFanout) kick(string)    {}

func (f localFanout) publish(roomID string, frame []byte, except string) {
	f.hub.deliver(roomID, frame, except)
}

package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"roomchat/internal/services/presence"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConn(h *Hub, id string, queue int) *clientConn {
	c := newClientConn(id, nil, queue)
	h.register(c)
	return c
}

func drain(c *clientConn) []Envelope {
	var out []Envelope
	for {
		select {
		case frame := <-c.send:
			var env Envelope
			_ = json.Unmarshal(frame, &env)
			out = append(out, env)
		default:
			return out
		}
	}
}

func TestHubEmitRoomSkipsExcept(t *testing.T) {
	h := NewHub(nil)
	a, b, c := testConn(h, "a", 4), testConn(h, "b", 4), testConn(h, "c", 4)
	h.Subscribe("a", "r1")
	h.Subscribe("b", "r1")
	h.Subscribe("c", "r2")

	h.EmitRoom("r1", presence.Event{Name: presence.EventMemberJoined, Body: presence.MemberJoined{NickName: "2"}}, "b")

	got := drain(a)
	require.Len(t, got, 1)
	assert.Equal(t, presence.EventMemberJoined, got[0].Event)
	assert.JSONEq(t, `{"nickName":"2","joinedAt":"0001-01-01T00:00:00Z"}`, string(got[0].Body))
	assert.Empty(t, drain(b))
	assert.Empty(t, drain(c))
}

func TestHubEmitTo(t *testing.T) {
	h := NewHub(nil)
	a := testConn(h, "a", 4)

	h.EmitTo("a", presence.Event{Name: presence.EventRateLimited, Body: presence.RateLimited{RetryAfterMs: 1200}})
	h.EmitTo("ghost", presence.Event{Name: presence.EventRateLimited})

	got := drain(a)
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"retryAfterMs":1200}`, string(got[0].Body))
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	h := NewHub(nil)
	a := testConn(h, "a", 4)
	h.Subscribe("a", "r1")
	h.Unsubscribe("a", "r1")
	h.Unsubscribe("a", "r1")

	h.EmitRoom("r1", presence.Event{Name: "x"}, "")
	assert.Empty(t, drain(a))
	assert.Empty(t, h.rooms)
	assert.Empty(t, h.watches)
}

func TestHubSubscribeMovesBetweenRooms(t *testing.T) {
	h := NewHub(nil)
	a := testConn(h, "a", 4)
	h.Subscribe("a", "r1")
	h.Subscribe("a", "r2")

	h.EmitRoom("r1", presence.Event{Name: "old"}, "")
	h.EmitRoom("r2", presence.Event{Name: "new"}, "")

	got := drain(a)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].Event)
}

// gatedFanout blocks watch calls for the rooms listed in gates until the
// matching channel is closed.
type gatedFanout struct {
	localFanout
	gates map[string]chan struct{}

	mu    sync.Mutex
	calls []string
}

func (f *gatedFanout) watch(roomID string) {
	if g, ok := f.gates[roomID]; ok {
		<-g
	}
	f.record("watch " + roomID)
}

func (f *gatedFanout) unwatch(roomID string) { f.record("unwatch " + roomID) }

func (f *gatedFanout) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *gatedFanout) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func TestSlowWatchDoesNotBlockOtherRooms(t *testing.T) {
	h := NewHub(nil)
	gate := make(chan struct{})
	f := &gatedFanout{localFanout: localFanout{hub: h}, gates: map[string]chan struct{}{"slow": gate}}
	h.fanout = f
	testConn(h, "a", 4)
	testConn(h, "b", 4)

	slowDone := make(chan struct{})
	go func() {
		defer close(slowDone)
		h.Subscribe("a", "slow")
	}()
	assert.Eventually(t, func() bool {
		h.watchMu.Lock()
		defer h.watchMu.Unlock()
		return h.watches["slow"] != nil
	}, time.Second, 5*time.Millisecond)

	fastDone := make(chan struct{})
	go func() {
		defer close(fastDone)
		h.Subscribe("b", "fast")
		h.Unsubscribe("b", "fast")
	}()

	select {
	case <-fastDone:
	case <-time.After(time.Second):
		t.Fatal("subscribe to another room waited on a slow watch")
	}
	assert.Equal(t, []string{"watch fast", "unwatch fast"}, f.recorded())

	close(gate)
	<-slowDone
	assert.Equal(t, []string{"watch fast", "unwatch fast", "watch slow"}, f.recorded())

	h.Unsubscribe("a", "slow")
	assert.Equal(t, "unwatch slow", f.recorded()[3])
	assert.Empty(t, h.watches)
}

func TestSlowConsumerIsClosed(t *testing.T) {
	h := NewHub(nil)
	slow := testConn(h, "slow", 1)
	fast := testConn(h, "fast", 8)
	h.Subscribe("slow", "r")
	h.Subscribe("fast", "r")

	for i := 0; i < 3; i++ {
		h.EmitRoom("r", presence.Event{Name: "m"}, "")
	}

	assert.True(t, slow.closed())
	assert.False(t, fast.closed())
	assert.Len(t, drain(fast), 3)
}

func TestKickLocal(t *testing.T) {
	h := NewHub(nil)
	a := testConn(h, "a", 1)

	h.Kick("a")
	h.Kick("a")
	h.Kick("elsewhere")

	assert.True(t, a.closed())
	assert.False(t, a.enqueue([]byte("{}")))
}

func TestUnregisterLeavesRoom(t *testing.T) {
	h := NewHub(nil)
	a := testConn(h, "a", 1)
	h.Subscribe("a", "r")

	h.unregister(a)

	assert.Empty(t, h.rooms)
	assert.Nil(t, h.local("a"))
}

func TestRedisFanoutPublishesRoomFrame(t *testing.T) {
	db, mock := redismock.NewClientMock()
	h := &Hub{rooms: map[string]*room{}, watches: map[string]*roomWatch{}}
	h.fanout = newRedisFanout(db, h)

	frame, err := encodeFrame(presence.EventMemberLeft, presence.MemberLeft{NickName: "1", LeftAt: time.Unix(0, 0).UTC()})
	require.NoError(t, err)
	payload, err := json.Marshal(roomFrame{Except: "a", Frame: frame})
	require.NoError(t, err)

	mock.ExpectPublish("room:r1:events", payload).SetVal(2)

	h.EmitRoom("r1", presence.Event{
		Name: presence.EventMemberLeft,
		Body: presence.MemberLeft{NickName: "1", LeftAt: time.Unix(0, 0).UTC()},
	}, "a")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisFanoutFallsBackToLocalDelivery(t *testing.T) {
	db, mock := redismock.NewClientMock()
	h := &Hub{rooms: map[string]*room{}, watches: map[string]*roomWatch{}}
	h.fanout = newRedisFanout(db, h)

	// Seed the room directly; a real Subscribe would open a Redis SUBSCRIBE.
	b := testConn(h, "b", 2)
	h.rooms["r1"] = newRoom()
	h.rooms["r1"].add(b)

	frame, err := encodeFrame("m", nil)
	require.NoError(t, err)
	payload, err := json.Marshal(roomFrame{Frame: frame})
	require.NoError(t, err)
	mock.ExpectPublish("room:r1:events", payload).SetErr(errors.New("connection refused"))

	h.EmitRoom("r1", presence.Event{Name: "m"}, "")

	got := drain(b)
	require.Len(t, got, 1)
	assert.Equal(t, "m", got[0].Event)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisFanoutKicksRemoteConnection(t *testing.T) {
	db, mock := redismock.NewClientMock()
	h := &Hub{rooms: map[string]*room{}, watches: map[string]*roomWatch{}}
	h.fanout = newRedisFanout(db, h)

	mock.ExpectPublish("chat:kick", "remote-conn").SetVal(1)

	h.Kick("remote-conn")

	assert.NoError(t, mock.ExpectationsWereMet())
}

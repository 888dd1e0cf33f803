// Package presence implements the connection-event state machine: it admits
// join / send-message / disconnect events, keeps the room and member
// registries consistent and fans presence events out to room members.
package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"roomchat/internal/events"
	"roomchat/internal/services/member"
	"roomchat/internal/services/ratelimit"
	"roomchat/internal/services/room"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var (
	ErrNotJoined         = errors.New("connection has not joined this room")
	ErrSessionTerminated = errors.New("connection already terminated")
	ErrInvalidRequest    = errors.New("invalid request")
)

// Broadcaster delivers presence events to connections and owns the per-room
// broadcast groups. Emit calls never block on a slow subscriber.
type Broadcaster interface {
	Subscribe(connectionID, roomID string)
	Unsubscribe(connectionID, roomID string)
	EmitTo(connectionID string, ev Event)
	// EmitRoom delivers to every subscriber of roomID except exceptConnectionID
	// (empty means nobody is excluded).
	EmitRoom(roomID string, ev Event, exceptConnectionID string)
	// Kick closes the connection wherever it is held.
	Kick(connectionID string)
}

type Options struct {
	InstanceID string
	// Terminate older connections of the same device on join.
	DisplacePreviousDevice bool
	Now                    func() time.Time
}

type Coordinator struct {
	limiter   ratelimit.IRateLimiter
	rooms     room.IRoomRegistry
	members   member.IMemberRegistry
	publisher events.IPublisher
	bcast     Broadcaster
	opts      Options
	validate  *validator.Validate

	// in-flight bus publishes
	publishing sync.WaitGroup
}

func NewCoordinator(
	limiter ratelimit.IRateLimiter,
	rooms room.IRoomRegistry,
	members member.IMemberRegistry,
	publisher events.IPublisher,
	bcast Broadcaster,
	opts Options,
) *Coordinator {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Coordinator{
		limiter:   limiter,
		rooms:     rooms,
		members:   members,
		publisher: publisher,
		bcast:     bcast,
		opts:      opts,
		validate:  newValidator(),
	}
}

// Join moves the session to Joined in req.RoomID. A rate-limited join is not
// an error: the requester gets a rate-limited event and stays where it was.
func (c *Coordinator) Join(ctx context.Context, s *Session, req JoinRequest) error {
	s.op.Lock()
	defer s.op.Unlock()

	if s.State() == StateTerminated {
		return ErrSessionTerminated
	}
	if !c.admit(ctx, s) {
		return nil
	}
	if err := c.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if c.opts.DisplacePreviousDevice {
		if err := c.displace(ctx, s, req); err != nil {
			return err
		}
	}

	r, err := c.rooms.UpsertJoin(ctx, req.RoomID)
	if err != nil {
		return fmt.Errorf("join %s: %w", req.RoomID, err)
	}
	nick := strconv.FormatInt(r.AccumulatedMembersCount, 10)

	_, err = c.members.Upsert(ctx, member.Member{
		ConnectionID: s.ConnectionID,
		RoomID:       req.RoomID,
		DeviceType:   req.DeviceType,
		DeviceID:     req.DeviceID,
		NickName:     nick,
		InstanceID:   c.opts.InstanceID,
	})
	if err != nil {
		// Undo the increment so the count keeps matching the member rows.
		if _, derr := c.rooms.DecrementOnLeave(ctx, req.RoomID); derr != nil {
			zap.L().Error("presence.join_rollback_failed",
				zap.String("room_id", req.RoomID), zap.Error(derr))
		}
		return fmt.Errorf("join %s: %w", req.RoomID, err)
	}

	// One room per connection: a rejoin stops listening to the previous room
	// but leaves its count untouched.
	if prev := s.markJoined(req.RoomID, nick); prev != "" && prev != req.RoomID {
		c.bcast.Unsubscribe(s.ConnectionID, prev)
	}
	c.bcast.Subscribe(s.ConnectionID, req.RoomID)

	now := c.opts.Now()
	c.bcast.EmitTo(s.ConnectionID, Event{Name: EventProfileAssigned, Body: ProfileAssigned{NickName: nick}})
	c.bcast.EmitRoom(req.RoomID, Event{
		Name: EventMemberJoined,
		Body: MemberJoined{NickName: nick, JoinedAt: now},
	}, s.ConnectionID)

	zap.L().Debug("presence.joined",
		zap.String("conn_id", s.ConnectionID),
		zap.String("room_id", req.RoomID),
		zap.String("nick", nick))

	c.publishAsync(events.TopicRoomMemberJoined, events.RoomMembershipChanged{
		RoomID:             req.RoomID,
		UpdatedMemberCount: r.AccumulatedMembersCount,
	})
	return nil
}

// SendMessage delivers req.Message to every subscriber of the room, sender
// included.
func (c *Coordinator) SendMessage(ctx context.Context, s *Session, req SendMessageRequest) error {
	if s.State() == StateTerminated {
		return ErrSessionTerminated
	}
	if !c.admit(ctx, s) {
		return nil
	}
	if err := c.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	roomID, nick, ok := s.Room()
	if !ok || roomID != req.RoomID {
		return ErrNotJoined
	}

	c.bcast.EmitRoom(roomID, Event{
		Name: EventMessageDelivered,
		Body: MessageDelivered{NickName: nick, Message: req.Message, CreatedAt: c.opts.Now()},
	}, "")
	return nil
}

// Leave is an explicit request to leave; leaving ends the connection.
func (c *Coordinator) Leave(ctx context.Context, s *Session) error {
	return c.Disconnect(ctx, s)
}

// Disconnect terminates the session. Calling it again is a no-op.
func (c *Coordinator) Disconnect(ctx context.Context, s *Session) error {
	s.op.Lock()
	defer s.op.Unlock()

	if !s.terminate() {
		return nil
	}
	return c.terminate(ctx, s.ConnectionID)
}

// ReapInstance terminates every member still owned by a dead coordinator
// instance and returns how many were removed.
func (c *Coordinator) ReapInstance(ctx context.Context, instanceID string) (int, error) {
	list, err := c.members.ListByInstance(ctx, instanceID)
	if err != nil {
		return 0, fmt.Errorf("list members of %s: %w", instanceID, err)
	}
	reaped := 0
	for _, m := range list {
		if err := c.terminate(ctx, m.ConnectionID); err != nil {
			return reaped, err
		}
		reaped++
	}
	if reaped > 0 {
		zap.L().Info("presence.instance_reaped",
			zap.String("instance_id", instanceID), zap.Int("members", reaped))
	}
	return reaped, nil
}

// Wait blocks until every pending bus publish has finished.
func (c *Coordinator) Wait() {
	c.publishing.Wait()
}

// terminate removes the member record of connectionID, decrements its room,
// notifies the remaining members and closes the connection. Taking the record
// first makes sure only one of several racing terminations decrements.
func (c *Coordinator) terminate(ctx context.Context, connectionID string) error {
	m, err := c.members.Take(ctx, connectionID)
	if errors.Is(err, member.ErrMemberNotFound) {
		c.bcast.Kick(connectionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("leave %s: %w", connectionID, err)
	}

	r, err := c.rooms.DecrementOnLeave(ctx, m.RoomID)
	switch {
	case errors.Is(err, room.ErrRoomNotFound), errors.Is(err, room.ErrRoomEmpty):
		zap.L().Warn("presence.stale_member_dropped",
			zap.String("conn_id", connectionID),
			zap.String("room_id", m.RoomID),
			zap.Error(err))
		c.bcast.Unsubscribe(connectionID, m.RoomID)
		c.bcast.Kick(connectionID)
		return nil
	case err != nil:
		if _, rerr := c.members.Upsert(ctx, *m); rerr != nil {
			zap.L().Error("presence.leave_rollback_failed",
				zap.String("conn_id", connectionID), zap.Error(rerr))
		}
		return fmt.Errorf("leave %s: %w", m.RoomID, err)
	}

	c.bcast.Unsubscribe(connectionID, m.RoomID)
	c.bcast.EmitRoom(m.RoomID, Event{
		Name: EventMemberLeft,
		Body: MemberLeft{NickName: m.NickName, LeftAt: c.opts.Now()},
	}, connectionID)

	zap.L().Debug("presence.left",
		zap.String("conn_id", connectionID),
		zap.String("room_id", m.RoomID),
		zap.Int64("count", r.AccumulatedMembersCount))

	c.publishAsync(events.TopicRoomMemberLeft, events.RoomMembershipChanged{
		RoomID:             m.RoomID,
		UpdatedMemberCount: r.AccumulatedMembersCount,
	})
	c.bcast.Kick(connectionID)
	return nil
}

// displace terminates other live connections registered for the same device.
func (c *Coordinator) displace(ctx context.Context, s *Session, req JoinRequest) error {
	others, err := c.members.FindByDevice(ctx, req.DeviceType, req.DeviceID)
	if err != nil {
		return fmt.Errorf("find device %s: %w", req.DeviceID, err)
	}
	for _, m := range others {
		if m.ConnectionID == s.ConnectionID {
			continue
		}
		zap.L().Info("presence.device_displaced",
			zap.String("device_id", req.DeviceID),
			zap.String("old_conn_id", m.ConnectionID),
			zap.String("new_conn_id", s.ConnectionID))
		if err := c.terminate(ctx, m.ConnectionID); err != nil {
			return err
		}
	}
	return nil
}

// admit consumes one token for the session's source. A limiter failure lets
// the event through.
func (c *Coordinator) admit(ctx context.Context, s *Session) bool {
	d, err := c.limiter.TryConsume(ctx, s.SourceKey)
	if err != nil {
		zap.L().Warn("presence.rate_limiter_unavailable",
			zap.String("source", s.SourceKey), zap.Error(err))
		return true
	}
	if d.Allowed {
		return true
	}
	c.bcast.EmitTo(s.ConnectionID, Event{
		Name: EventRateLimited,
		Body: RateLimited{RetryAfterMs: d.RetryAfterMs()},
	})
	return false
}

// publishAsync hands the event to the bus without waiting. The publisher has
// its own timeout; failures are only logged.
func (c *Coordinator) publishAsync(topic string, ev events.RoomMembershipChanged) {
	c.publishing.Add(1)
	go func() {
		defer c.publishing.Done()

		key, err := c.publisher.Publish(context.Background(), topic, ev,
			events.WithHeaders(map[string]string{"instance-id": c.opts.InstanceID}))
		if err != nil {
			zap.L().Warn("presence.publish_failed",
				zap.String("topic", topic),
				zap.String("key", key),
				zap.String("room_id", ev.RoomID),
				zap.Error(err))
			return
		}
		zap.L().Debug("presence.published",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.String("room_id", ev.RoomID))
	}()
}

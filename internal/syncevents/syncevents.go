package syncevents

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"roomchat/internal/events"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Topics tailed by Run; each one is a Redis stream written by RedisStreamBus.
var Topics = []string{events.TopicRoomMemberJoined, events.TopicRoomMemberLeft}

// Entry is one recorded membership change.
type Entry struct {
	Topic       string    `json:"topic"`
	StreamID    string    `json:"stream_id"`
	Key         string    `json:"key"`
	RoomID      string    `json:"room_id"`
	MemberCount int64     `json:"member_count"`
	InstanceID  string    `json:"instance_id"`
	RecordedAt  time.Time `json:"recorded_at" example:"2025-07-27T16:05:05Z"`
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// Recent returns the newest entries of roomID first.
func (s *Store) Recent(ctx context.Context, roomID string, limit int) ([]Entry, error) {
	const q = `
	  SELECT topic, stream_id, event_key, room_id, member_count, instance_id, recorded_at
	    FROM room_events
	   WHERE room_id = $1
	ORDER BY recorded_at DESC, stream_id DESC
	   LIMIT $2`

	rows, err := s.db.QueryContext(ctx, q, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("room events %s: %w", roomID, err)
	}
	defer rows.Close()

	list := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Topic, &e.StreamID, &e.Key, &e.RoomID,
			&e.MemberCount, &e.InstanceID, &e.RecordedAt); err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

func (s *Store) persist(ctx context.Context, entries []Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	const ins = `INSERT INTO room_events (topic, stream_id, event_key, room_id, member_count, instance_id, recorded_at)
	             VALUES ($1, $2, $3, $4, $5, $6, $7)
	             ON CONFLICT DO NOTHING`
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, ins,
			e.Topic, e.StreamID, e.Key, e.RoomID, e.MemberCount, e.InstanceID, e.RecordedAt); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Run tails the membership streams and records every event. Every instance
// may run it; inserts are idempotent on (topic, stream id).
func Run(ctx context.Context, rdc redis.Cmdable, store *Store) {
	go func() {
		lastIDs := make([]string, len(Topics))
		for i := range lastIDs {
			lastIDs[i] = "0-0"
		}
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			if err := pollOnce(ctx, rdc, store, lastIDs); err != nil {
				if ctx.Err() != nil {
					return
				}
				zap.L().Warn("syncevents.poll", zap.Error(err))
				time.Sleep(time.Second)
			}
		}
	}()
}

// pollOnce reads one batch and advances lastIDs for the streams it persisted.
func pollOnce(ctx context.Context, rdc redis.Cmdable, store *Store, lastIDs []string) error {
	// block up to 2 s for new entries
	res, err := rdc.XRead(ctx, &redis.XReadArgs{
		Streams: append(append([]string{}, Topics...), lastIDs...),
		Count:   100,
		Block:   2000 * time.Millisecond,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, stream := range res {
		if len(stream.Messages) == 0 {
			continue
		}
		entries := make([]Entry, 0, len(stream.Messages))
		for _, m := range stream.Messages {
			e, err := decode(stream.Stream, m)
			if err != nil {
				zap.L().Warn("syncevents.decode", zap.String("id", m.ID), zap.Error(err))
				continue
			}
			entries = append(entries, e)
		}
		if err := store.persist(ctx, entries); err != nil {
			return fmt.Errorf("persist %s: %w", stream.Stream, err)
		}
		for i, topic := range Topics {
			if topic == stream.Stream {
				lastIDs[i] = stream.Messages[len(stream.Messages)-1].ID
			}
		}
	}
	return nil
}

func decode(topic string, m redis.XMessage) (Entry, error) {
	key, _ := m.Values["key"].(string)
	value, _ := m.Values["value"].(string)

	var ev events.RoomMembershipChanged
	if err := json.Unmarshal([]byte(value), &ev); err != nil {
		return Entry{}, err
	}

	e := Entry{
		Topic:       topic,
		StreamID:    m.ID,
		Key:         key,
		RoomID:      ev.RoomID,
		MemberCount: ev.UpdatedMemberCount,
		RecordedAt:  streamTime(m.ID),
	}
	if raw, ok := m.Values["headers"].(string); ok {
		var headers map[string]string
		if err := json.Unmarshal([]byte(raw), &headers); err == nil {
			e.InstanceID = headers["instance-id"]
		}
	}
	return e, nil
}

// streamTime extracts the millisecond part of a stream id ("<ms>-<seq>").
func streamTime(id string) time.Time {
	ms, _, _ := strings.Cut(id, "-")
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Now().UTC()
	}
	return time.UnixMilli(n).UTC()
}

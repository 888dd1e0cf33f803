// Package events publishes room-membership integration events to the
// external bus.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	TopicRoomMemberJoined = "room.member.joined"
	TopicRoomMemberLeft   = "room.member.left"
)

// RoomMembershipChanged is the payload of both room.member.* topics.
type RoomMembershipChanged struct {
	RoomID             string `json:"roomId"`
	UpdatedMemberCount int64  `json:"updatedMemberCount"`
}

// Message is what a Bus actually transmits.
type Message struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

// Bus is the transport behind the publisher (Redis stream, NATS, ...).
type Bus interface {
	Send(ctx context.Context, msg Message) error
}

type IPublisher interface {
	Publish(ctx context.Context, topic string, event any, opts ...PublishOption) (string, error)
}

type PublishOption func(*Message)

func WithHeaders(h map[string]string) PublishOption {
	return func(m *Message) {
		if m.Headers == nil {
			m.Headers = make(map[string]string, len(h))
		}
		for k, v := range h {
			m.Headers[k] = v
		}
	}
}

// Publisher stamps every event with a fresh ULID key and hands it to the bus
// under a fixed timeout. Failures are returned, never retried here.
type Publisher struct {
	bus     Bus
	timeout time.Duration
	newKey  func() string
}

var _ IPublisher = (*Publisher)(nil)

func NewPublisher(bus Bus, timeout time.Duration) *Publisher {
	return &Publisher{
		bus:     bus,
		timeout: timeout,
		newKey:  func() string { return ulid.Make().String() },
	}
}

// Publish returns the message key so callers can correlate logs downstream.
func (p *Publisher) Publish(ctx context.Context, topic string, event any, opts ...PublishOption) (string, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("encode %s event: %w", topic, err)
	}
	msg := Message{
		Topic: topic,
		Key:   p.newKey(),
		Value: value,
	}
	for _, opt := range opts {
		opt(&msg)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.bus.Send(ctx, msg); err != nil {
		return msg.Key, fmt.Errorf("publish %s: %w", topic, err)
	}
	return msg.Key, nil
}

package events

import (
	"context"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestRedisStreamBusAppendsToTopicStream(t *testing.T) {
	db, mock := redismock.NewClientMock()
	bus := NewRedisStreamBus(db, 1000)

	mock.ExpectXAdd(&redis.XAddArgs{
		Stream: "room.member.joined",
		MaxLen: 1000,
		Approx: true,
		Values: []string{"key", "01HZX", "value", `{"roomId":"r1","updatedMemberCount":2}`},
	}).SetVal("1700000000000-0")

	err := bus.Send(context.Background(), Message{
		Topic: "room.member.joined",
		Key:   "01HZX",
		Value: []byte(`{"roomId":"r1","updatedMemberCount":2}`),
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStreamBusCarriesHeaders(t *testing.T) {
	db, mock := redismock.NewClientMock()
	bus := NewRedisStreamBus(db, 0)

	mock.ExpectXAdd(&redis.XAddArgs{
		Stream: "room.member.left",
		Values: []string{"key", "k", "value", `{}`, "headers", `{"source":"roomchat"}`},
	}).SetVal("1-0")

	err := bus.Send(context.Background(), Message{
		Topic:   "room.member.left",
		Key:     "k",
		Value:   []byte(`{}`),
		Headers: map[string]string{"source": "roomchat"},
	})
	assert.NoError(t, err)
}

func TestRedisStreamBusError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	bus := NewRedisStreamBus(db, 0)

	mock.ExpectXAdd(&redis.XAddArgs{
		Stream: "room.member.left",
		Values: []string{"key", "k", "value", `{}`},
	}).SetErr(errors.New("OOM"))

	err := bus.Send(context.Background(), Message{Topic: "room.member.left", Key: "k", Value: []byte(`{}`)})
	assert.EqualError(t, err, "OOM")
}

package heartbeat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyRoundTrip(t *testing.T) {
	id, ok := InstanceFromKey(Key("inst-a"))
	require.True(t, ok)
	assert.Equal(t, "inst-a", id)

	_, ok = InstanceFromKey("auc_t:42")
	assert.False(t, ok)
	_, ok = InstanceFromKey("inst_t:")
	assert.False(t, ok)
}

func TestBeat(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.ExpectSet("inst_t:inst-a", "inst-a", 15*time.Second).SetVal("OK")

	require.NoError(t, Beat(context.Background(), db, "inst-a", 15*time.Second))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBeatError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	boom := errors.New("READONLY")
	mock.ExpectSet("inst_t:inst-a", "inst-a", time.Second).SetErr(boom)

	assert.ErrorIs(t, Beat(context.Background(), db, "inst-a", time.Second), boom)
}

func TestAlive(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.ExpectExists("inst_t:up").SetVal(1)
	mock.ExpectExists("inst_t:down").SetVal(0)

	up, err := Alive(context.Background(), db, "up")
	require.NoError(t, err)
	assert.True(t, up)

	down, err := Alive(context.Background(), db, "down")
	require.NoError(t, err)
	assert.False(t, down)
}

func TestStop(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.ExpectDel("inst_t:inst-a").SetVal(1)

	require.NoError(t, Stop(context.Background(), db, "inst-a"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

package room

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var roomCols = []string{"room_id", "accumulated_members_count", "created_at", "updated_at"}

func newMockRegistry(t *testing.T) (IRoomRegistry, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresRoomRegistry(db), mock
}

func TestPostgresUpsertJoinReturnsPostIncrementState(t *testing.T) {
	reg, mock := newMockRegistry(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO rooms (room_id, accumulated_members_count)")).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(roomCols).AddRow("r1", int64(3), now, now))

	room, err := reg.UpsertJoin(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), room.AccumulatedMembersCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertJoinStoreFailure(t *testing.T) {
	reg, mock := newMockRegistry(t)
	boom := errors.New("connection refused")

	mock.ExpectQuery("INSERT INTO rooms").WithArgs("r1").WillReturnError(boom)

	_, err := reg.UpsertJoin(context.Background(), "r1")
	assert.ErrorIs(t, err, boom)
}

func TestPostgresDecrementOnLeave(t *testing.T) {
	reg, mock := newMockRegistry(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE rooms")).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(roomCols).AddRow("r1", int64(1), now, now))

	room, err := reg.DecrementOnLeave(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), room.AccumulatedMembersCount)
}

func TestPostgresDecrementOnLeaveMissingRoom(t *testing.T) {
	reg, mock := newMockRegistry(t)

	mock.ExpectQuery("UPDATE rooms").WithArgs("ghost").WillReturnRows(sqlmock.NewRows(roomCols))
	mock.ExpectQuery("SELECT (.+) FROM rooms WHERE room_id").WithArgs("ghost").WillReturnRows(sqlmock.NewRows(roomCols))

	_, err := reg.DecrementOnLeave(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDecrementOnLeaveEmptyRoom(t *testing.T) {
	reg, mock := newMockRegistry(t)
	now := time.Now()

	mock.ExpectQuery("UPDATE rooms").WithArgs("r1").WillReturnRows(sqlmock.NewRows(roomCols))
	mock.ExpectQuery("SELECT (.+) FROM rooms WHERE room_id").WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(roomCols).AddRow("r1", int64(0), now, now))

	_, err := reg.DecrementOnLeave(context.Background(), "r1")
	assert.ErrorIs(t, err, ErrRoomEmpty)
}

func TestPostgresFindOneNotFound(t *testing.T) {
	reg, mock := newMockRegistry(t)

	mock.ExpectQuery("SELECT (.+) FROM rooms").WithArgs("nope").WillReturnRows(sqlmock.NewRows(roomCols))

	_, err := reg.FindOne(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestPostgresListDefaultsLimit(t *testing.T) {
	reg, mock := newMockRegistry(t)
	now := time.Now()

	mock.ExpectQuery("SELECT (.+) FROM rooms ORDER BY updated_at DESC").
		WithArgs(10, 0).
		WillReturnRows(sqlmock.NewRows(roomCols).
			AddRow("a", int64(2), now, now).
			AddRow("b", int64(1), now, now))

	list, err := reg.List(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestPostgresDelete(t *testing.T) {
	reg, mock := newMockRegistry(t)
	now := time.Now()
	deleteStmt := regexp.QuoteMeta("DELETE FROM rooms") + `(?s).*accumulated_members_count = 0.*NOT EXISTS`
	findStmt := regexp.QuoteMeta("FROM rooms WHERE room_id = $1")

	mock.ExpectExec(deleteStmt).WithArgs("r1").WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(deleteStmt).WithArgs("r2").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(findStmt).WithArgs("r2").WillReturnError(sql.ErrNoRows)

	mock.ExpectExec(deleteStmt).WithArgs("r3").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(findStmt).WithArgs("r3").
		WillReturnRows(sqlmock.NewRows(roomCols).AddRow("r3", int64(1), now, now))

	assert.NoError(t, reg.Delete(context.Background(), "r1"))
	assert.ErrorIs(t, reg.Delete(context.Background(), "r2"), ErrRoomNotFound)
	assert.ErrorIs(t, reg.Delete(context.Background(), "r3"), ErrRoomOccupied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

package member

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var memberCols = []string{"connection_id", "room_id", "device_type", "device_id", "nick_name", "instance_id", "joined_at"}

func newMockRegistry(t *testing.T) (IMemberRegistry, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresMemberRegistry(db), mock
}

func TestPostgresUpsertMember(t *testing.T) {
	reg, mock := newMockRegistry(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO members")).
		WithArgs("c1", "r1", int16(2), "dev-1", "4", "inst-a").
		WillReturnRows(sqlmock.NewRows(memberCols).AddRow("c1", "r1", int64(2), "dev-1", "4", "inst-a", now))

	m, err := reg.Upsert(context.Background(), Member{
		ConnectionID: "c1", RoomID: "r1", DeviceType: DeviceIOS,
		DeviceID: "dev-1", NickName: "4", InstanceID: "inst-a",
	})
	require.NoError(t, err)
	assert.Equal(t, DeviceIOS, m.DeviceType)
	assert.Equal(t, "4", m.NickName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindOneMissing(t *testing.T) {
	reg, mock := newMockRegistry(t)

	mock.ExpectQuery("SELECT (.+) FROM members WHERE connection_id").
		WithArgs("c404").
		WillReturnRows(sqlmock.NewRows(memberCols))

	_, err := reg.FindOne(context.Background(), "c404")
	assert.ErrorIs(t, err, ErrMemberNotFound)
}

func TestPostgresFindOneStoreFailure(t *testing.T) {
	reg, mock := newMockRegistry(t)
	boom := errors.New("timeout")

	mock.ExpectQuery("SELECT (.+) FROM members").WithArgs("c1").WillReturnError(boom)

	_, err := reg.FindOne(context.Background(), "c1")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrMemberNotFound)
}

func TestPostgresDeleteIsIdempotent(t *testing.T) {
	reg, mock := newMockRegistry(t)

	mock.ExpectExec("DELETE FROM members").WithArgs("c1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM members").WithArgs("c1").WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, reg.Delete(context.Background(), "c1"))
	assert.NoError(t, reg.Delete(context.Background(), "c1"))
}

func TestPostgresFindByDevice(t *testing.T) {
	reg, mock := newMockRegistry(t)
	now := time.Now()

	mock.ExpectQuery("SELECT (.+) FROM members WHERE device_type = \\$1 AND device_id = \\$2").
		WithArgs(int16(1), "dev-9").
		WillReturnRows(sqlmock.NewRows(memberCols).
			AddRow("c1", "r1", int64(1), "dev-9", "1", "inst-a", now).
			AddRow("c2", "r2", int64(1), "dev-9", "5", "inst-b", now))

	list, err := reg.FindByDevice(context.Background(), DeviceAndroid, "dev-9")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c2", list[1].ConnectionID)
	assert.Equal(t, DeviceAndroid, list[1].DeviceType)
}

func TestPostgresTake(t *testing.T) {
	reg, mock := newMockRegistry(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM members WHERE connection_id = $1 RETURNING")).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(memberCols).AddRow("c1", "r1", int64(1), "d", "2", "i", now))
	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM members WHERE connection_id = $1 RETURNING")).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(memberCols))

	m, err := reg.Take(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "2", m.NickName)

	_, err = reg.Take(context.Background(), "c1")
	assert.ErrorIs(t, err, ErrMemberNotFound)
}

func TestPostgresInstances(t *testing.T) {
	reg, mock := newMockRegistry(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT instance_id FROM members")).
		WillReturnRows(sqlmock.NewRows([]string{"instance_id"}).AddRow("inst-a").AddRow("inst-b"))

	ids, err := reg.Instances(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"inst-a", "inst-b"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

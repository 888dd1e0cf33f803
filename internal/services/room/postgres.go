package room

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type pgRoomRegistry struct {
	db *sql.DB
}

var _ IRoomRegistry = (*pgRoomRegistry)(nil)

func NewPostgresRoomRegistry(db *sql.DB) IRoomRegistry {
	return &pgRoomRegistry{db: db}
}

const roomColumns = `room_id, accumulated_members_count, created_at, updated_at`

// UpsertJoin creates the room with a count of 1 or bumps the count, in one
// statement so that concurrent joins serialise on the row lock.
func (r *pgRoomRegistry) UpsertJoin(ctx context.Context, roomID string) (*Room, error) {
	const q = `
	  INSERT INTO rooms (room_id, accumulated_members_count)
	       VALUES ($1, 1)
	  ON CONFLICT (room_id) DO UPDATE
	        SET accumulated_members_count = rooms.accumulated_members_count + 1,
	            updated_at                = now()
	  RETURNING ` + roomColumns

	room, err := scanRoom(r.db.QueryRowContext(ctx, q, roomID))
	if err != nil {
		return nil, fmt.Errorf("upsert room %s: %w", roomID, err)
	}
	return room, nil
}

func (r *pgRoomRegistry) DecrementOnLeave(ctx context.Context, roomID string) (*Room, error) {
	const q = `
	  UPDATE rooms
	     SET accumulated_members_count = accumulated_members_count - 1,
	         updated_at                = now()
	   WHERE room_id = $1 AND accumulated_members_count > 0
	  RETURNING ` + roomColumns

	room, err := scanRoom(r.db.QueryRowContext(ctx, q, roomID))
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("decrement room %s: %w", roomID, err)
	}

	// Nothing updated: either the room is gone or its count is already zero.
	if _, err := r.FindOne(ctx, roomID); err != nil {
		return nil, err
	}
	return nil, ErrRoomEmpty
}

func (r *pgRoomRegistry) FindOne(ctx context.Context, roomID string) (*Room, error) {
	q := `SELECT ` + roomColumns + ` FROM rooms WHERE room_id = $1`
	room, err := scanRoom(r.db.QueryRowContext(ctx, q, roomID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find room %s: %w", roomID, err)
	}
	return room, nil
}

func (r *pgRoomRegistry) List(ctx context.Context, limit, offset int) ([]Room, error) {
	if limit == 0 {
		limit = 10
	}
	q := `SELECT ` + roomColumns + ` FROM rooms ORDER BY updated_at DESC LIMIT $1 OFFSET $2`
	rows, err := r.db.QueryContext(ctx, q, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]Room, 0, limit)
	for rows.Next() {
		var room Room
		if err := rows.Scan(&room.RoomID, &room.AccumulatedMembersCount,
			&room.CreatedAt, &room.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, room)
	}
	return list, rows.Err()
}

func (r *pgRoomRegistry) Delete(ctx context.Context, roomID string) error {
	const q = `
	  DELETE FROM rooms
	   WHERE room_id = $1
	     AND accumulated_members_count = 0
	     AND NOT EXISTS (SELECT 1 FROM members WHERE members.room_id = $1)`

	res, err := r.db.ExecContext(ctx, q, roomID)
	if err != nil {
		return fmt.Errorf("delete room %s: %w", roomID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	// Nothing deleted: either the room is gone or someone is still in it.
	if _, err := r.FindOne(ctx, roomID); err != nil {
		return err
	}
	return ErrRoomOccupied
}

func scanRoom(row *sql.Row) (*Room, error) {
	room := &Room{}
	if err := row.Scan(&room.RoomID, &room.AccumulatedMembersCount,
		&room.CreatedAt, &room.UpdatedAt); err != nil {
		return nil, err
	}
	return room, nil
}

package room

import (
	"context"
	"errors"
	"time"
)

type Room struct {
	RoomID                  string    `json:"room_id"`
	AccumulatedMembersCount int64     `json:"accumulated_members_count"`
	CreatedAt               time.Time `json:"created_at" example:"2025-07-27T16:05:05Z"`
	UpdatedAt               time.Time `json:"updated_at" example:"2025-07-27T16:05:05Z"`
}

var (
	ErrRoomNotFound = errors.New("room not found")
	// A leave was observed for a room whose count is already zero.
	ErrRoomEmpty = errors.New("room has no members to remove")
	// Delete was refused because the room still counts members.
	ErrRoomOccupied = errors.New("room has live members")
)

// IRoomRegistry owns room existence and the member counter. The counter is
// only ever changed through UpsertJoin and DecrementOnLeave, both atomic
// against concurrent callers.
type IRoomRegistry interface {
	UpsertJoin(ctx context.Context, roomID string) (*Room, error)
	DecrementOnLeave(ctx context.Context, roomID string) (*Room, error)
	FindOne(ctx context.Context, roomID string) (*Room, error)
	List(ctx context.Context, limit, offset int) ([]Room, error)
	// Delete removes the room only when nobody is in it, checked in the same
	// step as the removal.
	Delete(ctx context.Context, roomID string) error
}

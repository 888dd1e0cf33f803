package room

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memoryRoomRegistry is the single-process backend (STORE_DRIVER=memory).
type memoryRoomRegistry struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

var _ IRoomRegistry = (*memoryRoomRegistry)(nil)

func NewMemoryRoomRegistry() IRoomRegistry {
	return &memoryRoomRegistry{rooms: make(map[string]*Room)}
}

func (r *memoryRoomRegistry) UpsertJoin(_ context.Context, roomID string) (*Room, error) {
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		room = &Room{RoomID: roomID, CreatedAt: now}
		r.rooms[roomID] = room
	}
	room.AccumulatedMembersCount++
	room.UpdatedAt = now
	cp := *room
	return &cp, nil
}

func (r *memoryRoomRegistry) DecrementOnLeave(_ context.Context, roomID string) (*Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if room.AccumulatedMembersCount <= 0 {
		return nil, ErrRoomEmpty
	}
	room.AccumulatedMembersCount--
	room.UpdatedAt = time.Now().UTC()
	cp := *room
	return &cp, nil
}

func (r *memoryRoomRegistry) FindOne(_ context.Context, roomID string) (*Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	cp := *room
	return &cp, nil
}

func (r *memoryRoomRegistry) List(_ context.Context, limit, offset int) ([]Room, error) {
	if limit == 0 {
		limit = 10
	}

	r.mu.Lock()
	list := make([]Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		list = append(list, *room)
	}
	r.mu.Unlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].UpdatedAt.Equal(list[j].UpdatedAt) {
			return list[i].RoomID < list[j].RoomID
		}
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
	if offset >= len(list) {
		return []Room{}, nil
	}
	list = list[offset:]
	if len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (r *memoryRoomRegistry) Delete(_ context.Context, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	if room.AccumulatedMembersCount > 0 {
		return ErrRoomOccupied
	}
	delete(r.rooms, roomID)
	return nil
}

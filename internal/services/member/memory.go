package member

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryMemberRegistry struct {
	mu      sync.RWMutex
	members map[string]Member
}

var _ IMemberRegistry = (*memoryMemberRegistry)(nil)

func NewMemoryMemberRegistry() IMemberRegistry {
	return &memoryMemberRegistry{members: make(map[string]Member)}
}

func (r *memoryMemberRegistry) Upsert(_ context.Context, m Member) (*Member, error) {
	m.JoinedAt = time.Now().UTC()

	r.mu.Lock()
	r.members[m.ConnectionID] = m
	r.mu.Unlock()
	return &m, nil
}

func (r *memoryMemberRegistry) FindOne(_ context.Context, connectionID string) (*Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.members[connectionID]
	if !ok {
		return nil, ErrMemberNotFound
	}
	return &m, nil
}

func (r *memoryMemberRegistry) Delete(_ context.Context, connectionID string) error {
	r.mu.Lock()
	delete(r.members, connectionID)
	r.mu.Unlock()
	return nil
}

func (r *memoryMemberRegistry) Take(_ context.Context, connectionID string) (*Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[connectionID]
	if !ok {
		return nil, ErrMemberNotFound
	}
	delete(r.members, connectionID)
	return &m, nil
}

func (r *memoryMemberRegistry) ListByRoom(_ context.Context, roomID string) ([]Member, error) {
	return r.filter(func(m Member) bool { return m.RoomID == roomID }), nil
}

func (r *memoryMemberRegistry) FindByDevice(_ context.Context, deviceType DeviceType, deviceID string) ([]Member, error) {
	return r.filter(func(m Member) bool {
		return m.DeviceType == deviceType && m.DeviceID == deviceID
	}), nil
}

func (r *memoryMemberRegistry) ListByInstance(_ context.Context, instanceID string) ([]Member, error) {
	return r.filter(func(m Member) bool { return m.InstanceID == instanceID }), nil
}

func (r *memoryMemberRegistry) Instances(_ context.Context) ([]string, error) {
	r.mu.RLock()
	seen := make(map[string]bool)
	var ids []string
	for _, m := range r.members {
		if !seen[m.InstanceID] {
			seen[m.InstanceID] = true
			ids = append(ids, m.InstanceID)
		}
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids, nil
}

func (r *memoryMemberRegistry) filter(keep func(Member) bool) []Member {
	r.mu.RLock()
	var list []Member
	for _, m := range r.members {
		if keep(m) {
			list = append(list, m)
		}
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].JoinedAt.Equal(list[j].JoinedAt) {
			return list[i].ConnectionID < list[j].ConnectionID
		}
		return list[i].JoinedAt.Before(list[j].JoinedAt)
	})
	return list
}

package member

import (
	"context"
	"errors"
	"time"
)

// DeviceType is the client platform reported on join.
type DeviceType int16

const (
	DeviceAndroid DeviceType = 1
	DeviceIOS     DeviceType = 2
)

func (d DeviceType) Valid() bool { return d == DeviceAndroid || d == DeviceIOS }

func (d DeviceType) String() string {
	switch d {
	case DeviceAndroid:
		return "android"
	case DeviceIOS:
		return "ios"
	}
	return "unknown"
}

// Member binds one live connection to the room it joined.
type Member struct {
	ConnectionID string     `json:"connection_id"`
	RoomID       string     `json:"room_id"`
	DeviceType   DeviceType `json:"device_type"`
	DeviceID     string     `json:"device_id"`
	NickName     string     `json:"nick_name"`
	InstanceID   string     `json:"instance_id"`
	JoinedAt     time.Time  `json:"joined_at" example:"2025-07-27T16:05:05Z"`
}

var ErrMemberNotFound = errors.New("member not found")

type IMemberRegistry interface {
	// Upsert replaces the record of m.ConnectionID or creates it.
	Upsert(ctx context.Context, m Member) (*Member, error)
	FindOne(ctx context.Context, connectionID string) (*Member, error)
	// Delete is a no-op for unknown connections.
	Delete(ctx context.Context, connectionID string) error
	// Take deletes the record and returns it; only one concurrent caller can
	// take a given connection. ErrMemberNotFound when there is nothing to take.
	Take(ctx context.Context, connectionID string) (*Member, error)

	ListByRoom(ctx context.Context, roomID string) ([]Member, error)
	FindByDevice(ctx context.Context, deviceType DeviceType, deviceID string) ([]Member, error)
	ListByInstance(ctx context.Context, instanceID string) ([]Member, error)
	// Instances lists the distinct instance ids that still own members.
	Instances(ctx context.Context) ([]string, error)
}

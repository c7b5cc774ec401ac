package core

import (
	"context"

	"github.com/dkeye/Relay/internal/domain"
)

//go:generate go run go.uber.org/mock/mockgen -source=membership.go -destination=../mocks/mock_membership.go -package=mocks

// Membership is the source of truth for who may read and write a room.
type Membership interface {
	// GetRoom returns domain.ErrRoomNotFound for unknown rooms.
	GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error)
}

// InvalidateFunc is called when a room's membership changed out of band.
type InvalidateFunc func(ctx context.Context, id domain.RoomID)

// MembershipWatcher is implemented by sources that can push change notifications.
type MembershipWatcher interface {
	Watch(ctx context.Context, onChange InvalidateFunc) error
}

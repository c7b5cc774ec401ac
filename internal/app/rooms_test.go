package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/mocks"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestIsMemberCachesLookups(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	src := mocks.NewMockMembership(ctrl)
	src.EXPECT().GetRoom(gomock.Any(), domain.RoomID(5)).Return(domain.NewRoom(5, "alice"), nil).Times(1)

	rooms := NewRoomRegistry(src, time.Minute)
	ok, err := rooms.IsMember(context.Background(), 5, "alice")
	req.NoError(err)
	req.True(ok)

	ok, err = rooms.IsMember(context.Background(), 5, "bob")
	req.NoError(err)
	req.False(ok)
	req.Equal(1, rooms.CachedRooms())
}

func TestMissingRoomIsNotMember(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	src := mocks.NewMockMembership(ctrl)
	src.EXPECT().GetRoom(gomock.Any(), domain.RoomID(404)).Return(nil, domain.ErrRoomNotFound).Times(1)

	rooms := NewRoomRegistry(src, time.Minute)
	for i := 0; i < 2; i++ {
		ok, err := rooms.IsMember(context.Background(), 404, "alice")
		req.NoError(err)
		req.False(ok)
	}
	_, err := rooms.Room(context.Background(), 404)
	req.ErrorIs(err, domain.ErrRoomNotFound)
}

func TestSourceFailureIsNotCached(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	src := mocks.NewMockMembership(ctrl)
	gomock.InOrder(
		src.EXPECT().GetRoom(gomock.Any(), domain.RoomID(5)).Return(nil, errors.New("db down")),
		src.EXPECT().GetRoom(gomock.Any(), domain.RoomID(5)).Return(domain.NewRoom(5, "alice"), nil),
	)

	rooms := NewRoomRegistry(src, time.Minute)
	_, err := rooms.IsMember(context.Background(), 5, "alice")
	req.ErrorIs(err, domain.ErrMembershipUnavailable)

	ok, err := rooms.IsMember(context.Background(), 5, "alice")
	req.NoError(err)
	req.True(ok)
}

func TestInvalidateForcesRefetch(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	src := mocks.NewMockMembership(ctrl)
	gomock.InOrder(
		src.EXPECT().GetRoom(gomock.Any(), domain.RoomID(5)).Return(domain.NewRoom(5, "alice", "bob"), nil),
		src.EXPECT().GetRoom(gomock.Any(), domain.RoomID(5)).Return(domain.NewRoom(5, "alice"), nil),
	)

	rooms := NewRoomRegistry(src, time.Hour)
	ok, _ := rooms.IsMember(context.Background(), 5, "bob")
	req.True(ok)

	// When bob is removed out of band
	rooms.Invalidate(5)

	// Then the very next check sees it
	ok, err := rooms.IsMember(context.Background(), 5, "bob")
	req.NoError(err)
	req.False(ok)
}

func TestEntriesExpireAfterTTL(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	src := mocks.NewMockMembership(ctrl)
	src.EXPECT().GetRoom(gomock.Any(), domain.RoomID(5)).Return(domain.NewRoom(5, "alice"), nil).Times(2)

	now := time.Unix(1000, 0)
	rooms := NewRoomRegistry(src, 30*time.Second)
	rooms.now = func() time.Time { return now }

	for _, step := range []time.Duration{0, 29 * time.Second, time.Second} {
		now = now.Add(step)
		ok, err := rooms.IsMember(context.Background(), 5, "alice")
		req.NoError(err)
		req.True(ok)
	}
}

func TestInvalidationDuringFetchIsNotCached(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	src := mocks.NewMockMembership(ctrl)
	rooms := NewRoomRegistry(src, time.Hour)

	gomock.InOrder(
		// the change lands while the stale read is in flight
		src.EXPECT().GetRoom(gomock.Any(), domain.RoomID(5)).DoAndReturn(func(context.Context, domain.RoomID) (*domain.Room, error) {
			rooms.Invalidate(5)
			return domain.NewRoom(5, "alice", "bob"), nil
		}),
		src.EXPECT().GetRoom(gomock.Any(), domain.RoomID(5)).Return(domain.NewRoom(5, "alice"), nil),
	)

	ok, err := rooms.IsMember(context.Background(), 5, "bob")
	req.NoError(err)
	req.True(ok)
	req.Zero(rooms.CachedRooms())

	ok, err = rooms.IsMember(context.Background(), 5, "bob")
	req.NoError(err)
	req.False(ok)
}

func TestInvalidateAll(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	src := mocks.NewMockMembership(ctrl)
	src.EXPECT().GetRoom(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, id domain.RoomID) (*domain.Room, error) {
		return domain.NewRoom(id, "alice"), nil
	}).Times(4)

	rooms := NewRoomRegistry(src, time.Hour)
	_, _ = rooms.IsMember(context.Background(), 1, "alice")
	_, _ = rooms.IsMember(context.Background(), 2, "alice")
	req.Equal(2, rooms.CachedRooms())

	rooms.InvalidateAll()
	req.Zero(rooms.CachedRooms())
	_, _ = rooms.IsMember(context.Background(), 1, "alice")
	_, _ = rooms.IsMember(context.Background(), 2, "alice")
}

package domain

import (
	"fmt"
	"strconv"
	"time"
)

type RoomID int64

func (id RoomID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseRoomID accepts the decimal form used in URLs.
func ParseRoomID(s string) (RoomID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid room id %q", s)
	}
	return RoomID(v), nil
}

// Room is the membership view the backplane authorizes against.
// System rooms back 1:1 contact chats.
type Room struct {
	ID        RoomID
	Members   MemberSet
	IsSystem  bool
	Version   int64
	UpdatedAt time.Time
}

func NewRoom(id RoomID, members ...UserID) *Room {
	return &Room{
		ID:        id,
		Members:   NewMemberSet(members...),
		Version:   1,
		UpdatedAt: time.Now().UTC(),
	}
}

func (r *Room) HasMember(id UserID) bool {
	if r == nil {
		return false
	}
	return r.Members.Has(id)
}

// SameMembers reports whether two snapshots authorize the same users.
func (r *Room) SameMembers(other *Room) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.IsSystem == other.IsSystem && r.Members.Equal(other.Members)
}

package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateContent(t *testing.T) {
	req := require.New(t)

	req.NoError(ValidateContent("hi", 10))
	req.NoError(ValidateContent("привет", 6))

	err := ValidateContent("   \n", 10)
	req.ErrorIs(err, ErrInvalidMessage)

	err = ValidateContent(strings.Repeat("x", 11), 10)
	req.ErrorIs(err, ErrInvalidMessage)
	req.Contains(err.Error(), "exceeds 10")

	err = ValidateContent(string([]byte{0xff, 0xfe}), 10)
	req.ErrorIs(err, ErrInvalidMessage)
}

func TestPublicText(t *testing.T) {
	req := require.New(t)

	req.Equal("not a member of room", PublicText(fmt.Errorf("subscribe: %w", ErrNotMember)))
	req.Equal("not a member of room", PublicText(ErrRoomNotFound))
	req.Equal("send failed", PublicText(fmt.Errorf("%w: %v", ErrSendFailed, errors.New("badger: disk full"))))
	req.Equal("invalid message: content is empty", PublicText(ValidateContent("", 5)))
	req.Equal("internal error", PublicText(errors.New("boom")))
	req.Empty(PublicText(nil))
}

func TestIsFatal(t *testing.T) {
	req := require.New(t)
	req.True(IsFatal(fmt.Errorf("auth: %w", ErrInvalidToken)))
	req.False(IsFatal(ErrNotMember))
}

func TestNewUser(t *testing.T) {
	req := require.New(t)

	u, err := NewUser("42", "")
	req.NoError(err)
	req.Equal("42", u.Username)

	_, err = NewUser("", "bob")
	req.ErrorIs(err, ErrUserIDEmpty)

	_, err = NewUser(UserID(strings.Repeat("a", MaxUserIDLen+1)), "bob")
	req.ErrorIs(err, ErrUserIDTooLong)
}

func TestRoomMembers(t *testing.T) {
	req := require.New(t)

	a := NewRoom(5, "alice", "bob")
	b := NewRoom(5, "bob", "alice")
	req.True(a.HasMember("alice"))
	req.False(a.HasMember("carol"))
	req.True(a.SameMembers(b))

	b.Members.Add("carol")
	req.False(a.SameMembers(b))
	req.Equal([]UserID{"alice", "bob", "carol"}, b.Members.Sorted())

	var missing *Room
	req.False(missing.HasMember("alice"))
}

func TestParseRoomID(t *testing.T) {
	req := require.New(t)

	id, err := ParseRoomID("17")
	req.NoError(err)
	req.Equal(RoomID(17), id)

	_, err = ParseRoomID("0")
	req.Error(err)
	_, err = ParseRoomID("abc")
	req.Error(err)
}

package domain

import (
	"slices"

	"github.com/samber/lo"
)

// MemberSet is the authorized member list of a room. Order is irrelevant.
type MemberSet map[UserID]struct{}

func NewMemberSet(ids ...UserID) MemberSet {
	s := make(MemberSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s MemberSet) Has(id UserID) bool {
	_, ok := s[id]
	return ok
}

func (s MemberSet) Add(id UserID) {
	s[id] = struct{}{}
}

// Sorted returns member ids in lexical order.
func (s MemberSet) Sorted() []UserID {
	ids := lo.Keys(s)
	slices.Sort(ids)
	return ids
}

func (s MemberSet) Equal(other MemberSet) bool {
	if len(s) != len(other) {
		return false
	}
	for id := range s {
		if !other.Has(id) {
			return false
		}
	}
	return true
}

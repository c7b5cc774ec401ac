package app

import (
	"context"
	"slices"
	"sync"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// Authorizer answers room membership questions.
type Authorizer interface {
	IsMember(ctx context.Context, id domain.RoomID, uid domain.UserID) (bool, error)
}

// SubscriptionTable is the fanout index: room -> session ids, with the
// reverse index used to clean up a closing session.
type SubscriptionTable struct {
	authz Authorizer

	mu        sync.RWMutex
	byRoom    map[domain.RoomID]map[core.SessionID]struct{}
	bySession map[core.SessionID]map[domain.RoomID]struct{}
}

func NewSubscriptionTable(authz Authorizer) *SubscriptionTable {
	return &SubscriptionTable{
		authz:     authz,
		byRoom:    make(map[domain.RoomID]map[core.SessionID]struct{}),
		bySession: make(map[core.SessionID]map[domain.RoomID]struct{}),
	}
}

// Subscribe adds s to the room after a membership check. It reports
// whether the subscription is new; repeating it is a successful no-op.
func (t *SubscriptionTable) Subscribe(ctx context.Context, id domain.RoomID, s *Session) (bool, error) {
	if s.State() != StateAuthenticated {
		return false, domain.ErrNotAuthenticated
	}
	ok, err := t.authz.IsMember(ctx, id, s.UserID())
	if err != nil {
		return false, err
	}
	if !ok {
		return false, domain.ErrNotMember
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	// A session closing concurrently is either seen here or removed by
	// RemoveSession, which takes the same lock after MarkClosed.
	if s.State() == StateClosed {
		return false, domain.ErrSessionClosed
	}
	subs, ok := t.byRoom[id]
	if !ok {
		subs = make(map[core.SessionID]struct{})
		t.byRoom[id] = subs
	}
	if _, dup := subs[s.ID()]; dup {
		return false, nil
	}
	subs[s.ID()] = struct{}{}
	rooms, ok := t.bySession[s.ID()]
	if !ok {
		rooms = make(map[domain.RoomID]struct{})
		t.bySession[s.ID()] = rooms
	}
	rooms[id] = struct{}{}
	s.trackRoom(id)
	log.Debug().Str("module", "app.subscriptions").Str("sid", string(s.ID())).Int64("room", int64(id)).Msg("subscribed")
	return true, nil
}

// Unsubscribe needs no authorization and is idempotent.
func (t *SubscriptionTable) Unsubscribe(id domain.RoomID, s *Session) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := t.remove(id, s.ID())
	if removed {
		s.untrackRoom(id)
	}
	return removed
}

func (t *SubscriptionTable) remove(id domain.RoomID, sid core.SessionID) bool {
	subs, ok := t.byRoom[id]
	if !ok {
		return false
	}
	if _, ok := subs[sid]; !ok {
		return false
	}
	delete(subs, sid)
	if len(subs) == 0 {
		delete(t.byRoom, id)
	}
	if rooms, ok := t.bySession[sid]; ok {
		delete(rooms, id)
		if len(rooms) == 0 {
			delete(t.bySession, sid)
		}
	}
	return true
}

// RemoveSession drops every subscription of sid and returns the rooms it left.
func (t *SubscriptionTable) RemoveSession(sid core.SessionID) []domain.RoomID {
	t.mu.Lock()
	defer t.mu.Unlock()
	rooms := lo.Keys(t.bySession[sid])
	for _, id := range rooms {
		t.remove(id, sid)
	}
	slices.Sort(rooms)
	return rooms
}

// FanoutTargets is a snapshot of the room's subscribers.
func (t *SubscriptionTable) FanoutTargets(id domain.RoomID) []core.SessionID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return lo.Keys(t.byRoom[id])
}

func (t *SubscriptionTable) IsSubscribed(id domain.RoomID, sid core.SessionID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.byRoom[id][sid]
	return ok
}

func (t *SubscriptionTable) RoomsOf(sid core.SessionID) []domain.RoomID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rooms := lo.Keys(t.bySession[sid])
	slices.Sort(rooms)
	return rooms
}

// Stats returns the number of rooms with subscribers and total subscriptions.
func (t *SubscriptionTable) Stats() (rooms, subscriptions int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byRoom), lo.SumBy(lo.Values(t.byRoom), func(s map[core.SessionID]struct{}) int { return len(s) })
}

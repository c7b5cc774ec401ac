package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const DefaultMembershipTTL = 30 * time.Second

type cachedRoom struct {
	room      *domain.Room // nil caches a missing room
	fetchedAt time.Time
}

// RoomRegistry answers membership questions from a cache in front of the
// membership source. Entries expire after ttl and are dropped on Invalidate;
// a fetch that raced with an invalidation is not cached.
type RoomRegistry struct {
	source core.Membership
	ttl    time.Duration
	now    func() time.Time
	group  singleflight.Group

	mu    sync.RWMutex
	cache map[domain.RoomID]cachedRoom
	gens  map[domain.RoomID]uint64
	epoch uint64
}

func NewRoomRegistry(source core.Membership, ttl time.Duration) *RoomRegistry {
	if ttl <= 0 {
		ttl = DefaultMembershipTTL
	}
	return &RoomRegistry{
		source: source,
		ttl:    ttl,
		now:    time.Now,
		cache:  make(map[domain.RoomID]cachedRoom),
		gens:   make(map[domain.RoomID]uint64),
	}
}

// IsMember is false for unknown rooms. An error means the source could not
// be reached and wraps domain.ErrMembershipUnavailable.
func (r *RoomRegistry) IsMember(ctx context.Context, id domain.RoomID, uid domain.UserID) (bool, error) {
	room, err := r.Room(ctx, id)
	if errors.Is(err, domain.ErrRoomNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return room.HasMember(uid), nil
}

// Room returns the cached or freshly fetched membership snapshot.
func (r *RoomRegistry) Room(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	if room, ok := r.cached(id); ok {
		if room == nil {
			return nil, domain.ErrRoomNotFound
		}
		return room, nil
	}

	v, err, _ := r.group.Do(id.String(), func() (any, error) {
		return r.fetch(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	room := v.(*domain.Room)
	if room == nil {
		return nil, domain.ErrRoomNotFound
	}
	return room, nil
}

func (r *RoomRegistry) cached(id domain.RoomID) (*domain.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.cache[id]
	if !ok || r.now().Sub(e.fetchedAt) >= r.ttl {
		return nil, false
	}
	return e.room, true
}

func (r *RoomRegistry) fetch(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	r.mu.RLock()
	gen, epoch := r.gens[id], r.epoch
	r.mu.RUnlock()

	room, err := r.source.GetRoom(ctx, id)
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		room = nil
	case err != nil:
		log.Warn().Err(err).Str("module", "app.rooms").Int64("room", int64(id)).Msg("membership fetch failed")
		return nil, fmt.Errorf("%w: %v", domain.ErrMembershipUnavailable, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gens[id] != gen || r.epoch != epoch {
		return room, nil
	}
	if prev, ok := r.cache[id]; ok && prev.room != nil && room != nil && prev.room.Version > room.Version {
		return prev.room, nil
	}
	r.cache[id] = cachedRoom{room: room, fetchedAt: r.now()}
	return room, nil
}

// Invalidate forces the next lookup of id to reach the source.
func (r *RoomRegistry) Invalidate(id domain.RoomID) {
	r.mu.Lock()
	delete(r.cache, id)
	r.gens[id]++
	r.mu.Unlock()
	r.group.Forget(id.String())
	log.Debug().Str("module", "app.rooms").Int64("room", int64(id)).Msg("membership invalidated")
}

func (r *RoomRegistry) InvalidateAll() {
	r.mu.Lock()
	keys := make([]domain.RoomID, 0, len(r.cache))
	for id := range r.cache {
		keys = append(keys, id)
	}
	r.cache = make(map[domain.RoomID]cachedRoom)
	r.epoch++
	r.mu.Unlock()
	for _, id := range keys {
		r.group.Forget(id.String())
	}
}

func (r *RoomRegistry) CachedRooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

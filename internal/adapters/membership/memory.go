// Package membership provides the room membership collaborators the room
// registry reads from: an in-memory table, a watched YAML file and SQLite.
package membership

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
)

// MemorySource is an in-process membership table. Put and Delete notify
// the watcher, if one is registered.
type MemorySource struct {
	mu       sync.RWMutex
	rooms    map[domain.RoomID]*domain.Room
	onChange core.InvalidateFunc
}

func NewMemorySource(rooms ...*domain.Room) *MemorySource {
	s := &MemorySource{rooms: make(map[domain.RoomID]*domain.Room)}
	for _, r := range rooms {
		s.rooms[r.ID] = cloneRoom(r)
	}
	return s
}

func (s *MemorySource) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, fmt.Errorf("room %d: %w", id, domain.ErrRoomNotFound)
	}
	return cloneRoom(r), nil
}

// Put stores room, bumping its version past the previous one.
func (s *MemorySource) Put(ctx context.Context, room *domain.Room) {
	s.mu.Lock()
	r := cloneRoom(room)
	if prev, ok := s.rooms[r.ID]; ok && r.Version <= prev.Version {
		r.Version = prev.Version + 1
	}
	r.UpdatedAt = time.Now().UTC()
	s.rooms[r.ID] = r
	notify := s.onChange
	s.mu.Unlock()
	if notify != nil {
		notify(ctx, r.ID)
	}
}

func (s *MemorySource) Delete(ctx context.Context, id domain.RoomID) {
	s.mu.Lock()
	delete(s.rooms, id)
	notify := s.onChange
	s.mu.Unlock()
	if notify != nil {
		notify(ctx, id)
	}
}

// Watch registers onChange and blocks until ctx is done.
func (s *MemorySource) Watch(ctx context.Context, onChange core.InvalidateFunc) error {
	s.mu.Lock()
	s.onChange = onChange
	s.mu.Unlock()
	<-ctx.Done()
	s.mu.Lock()
	s.onChange = nil
	s.mu.Unlock()
	return nil
}

func cloneRoom(r *domain.Room) *domain.Room {
	cp := *r
	cp.Members = domain.NewMemberSet(r.Members.Sorted()...)
	return &cp
}

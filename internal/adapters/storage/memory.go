package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/Relay/internal/domain"
)

// MemoryStore keeps every room log in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID][]domain.Message
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[domain.RoomID][]domain.Message), now: time.Now}
}

func (s *MemoryStore) AppendMessage(ctx context.Context, d domain.Draft) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.rooms[d.RoomID]
	m := newRecord(d, s.now()).message(domain.MessageID(len(log) + 1))
	s.rooms[d.RoomID] = append(log, m)
	return m, nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, room domain.RoomID, beforeID *domain.MessageID, limit int) (domain.Page, error) {
	if err := ctx.Err(); err != nil {
		return domain.Page{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.rooms[room]
	end := len(log)
	if beforeID != nil {
		end = sort.Search(len(log), func(i int) bool { return log[i].ID >= *beforeID })
	}
	start := max(end-limit, 0)
	out := make([]domain.Message, end-start)
	copy(out, log[start:end])
	return domain.Page{Messages: out, HasMore: start > 0}, nil
}

func (s *MemoryStore) Close() error { return nil }

package membership

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-yaml"
	"github.com/rs/zerolog/log"
)

type fileRoom struct {
	ID      domain.RoomID   `yaml:"id"`
	System  bool            `yaml:"system"`
	Members []domain.UserID `yaml:"members"`
}

type fileDoc struct {
	Rooms []fileRoom `yaml:"rooms"`
}

// FileSource serves membership from a YAML document:
//
//	rooms:
//	  - id: 5
//	    system: false
//	    members: [alice, bob]
//
// Watch reloads it on change and reports every room whose members changed.
type FileSource struct {
	path string

	mu    sync.RWMutex
	rooms map[domain.RoomID]*domain.Room
}

func OpenFile(path string) (*FileSource, error) {
	s := &FileSource{path: filepath.Clean(path)}
	if _, err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSource) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
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

func parseFile(path string) (map[domain.RoomID]*domain.Room, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read membership file: %w", err)
	}
	var doc fileDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse membership file: %w", err)
	}
	rooms := make(map[domain.RoomID]*domain.Room, len(doc.Rooms))
	for _, fr := range doc.Rooms {
		if fr.ID <= 0 {
			return nil, fmt.Errorf("membership file: invalid room id %d", fr.ID)
		}
		if _, dup := rooms[fr.ID]; dup {
			return nil, fmt.Errorf("membership file: duplicate room %d", fr.ID)
		}
		r := domain.NewRoom(fr.ID, fr.Members...)
		r.IsSystem = fr.System
		rooms[fr.ID] = r
	}
	return rooms, nil
}

// reload swaps in the file's content and returns the ids of rooms that
// appeared, disappeared or changed members.
func (s *FileSource) reload() ([]domain.RoomID, error) {
	next, err := parseFile(s.path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var changed []domain.RoomID
	for id, r := range next {
		prev, ok := s.rooms[id]
		switch {
		case !ok:
			changed = append(changed, id)
		case !prev.SameMembers(r):
			r.Version = prev.Version + 1
			changed = append(changed, id)
		default:
			r.Version, r.UpdatedAt = prev.Version, prev.UpdatedAt
		}
	}
	for id := range s.rooms {
		if _, ok := next[id]; !ok {
			changed = append(changed, id)
		}
	}
	s.rooms = next
	return changed, nil
}

// Watch follows the file's directory, since editors often replace files
// instead of writing them in place. It blocks until ctx is done.
func (s *FileSource) Watch(ctx context.Context, onChange core.InvalidateFunc) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("membership watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}
	log.Info().Str("module", "membership.file").Str("path", s.path).Msg("watching membership file")

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Str("module", "membership.file").Msg("watcher error")
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != s.path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			changed, err := s.reload()
			if err != nil {
				// keep serving the last good document
				log.Warn().Err(err).Str("module", "membership.file").Msg("reload failed")
				continue
			}
			log.Info().Str("module", "membership.file").Int("changed", len(changed)).Time("at", time.Now()).Msg("membership reloaded")
			for _, id := range changed {
				onChange(ctx, id)
			}
		}
	}
}

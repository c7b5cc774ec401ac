package app

import (
	"sync"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/rs/zerolog/log"
)

// Registry owns every live session and indexes authenticated ones by user,
// so one user may hold any number of device sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*Session
	byUser   map[domain.UserID]map[core.SessionID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*Session),
		byUser:   make(map[domain.UserID]map[core.SessionID]struct{}),
	}
}

func (r *Registry) Bind(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID()] = s
	log.Debug().Str("module", "app.registry").Str("sid", string(s.ID())).Msg("bound session")
}

// BindUser indexes an authenticated session under its owner.
func (r *Registry) BindUser(s *Session) {
	uid := s.UserID()
	if uid == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID()]; !ok {
		return
	}
	set, ok := r.byUser[uid]
	if !ok {
		set = make(map[core.SessionID]struct{})
		r.byUser[uid] = set
	}
	set[s.ID()] = struct{}{}
	log.Info().Str("module", "app.registry").Str("sid", string(s.ID())).Str("user", string(uid)).Int("devices", len(set)).Msg("bound user")
}

func (r *Registry) Get(sid core.SessionID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sid]
	return s, ok
}

func (r *Registry) Unbind(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, s.ID())
	if uid := s.UserID(); uid != "" {
		if set, ok := r.byUser[uid]; ok {
			delete(set, s.ID())
			if len(set) == 0 {
				delete(r.byUser, uid)
			}
		}
	}
	log.Debug().Str("module", "app.registry").Str("sid", string(s.ID())).Msg("unbind session")
}

// SessionsOf returns every live device session of uid.
func (r *Registry) SessionsOf(uid domain.UserID) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byUser[uid]
	out := make([]*Session, 0, len(set))
	for sid := range set {
		if s, ok := r.sessions[sid]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Counts returns live sessions and distinct authenticated users.
func (r *Registry) Counts() (sessions, users int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions), len(r.byUser)
}

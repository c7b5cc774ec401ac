package app

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/protocol"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

type SessionState int32

const (
	StateUnauthenticated SessionState = iota
	StateAuthenticated
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session is one connection from one device. It is owned by the connection
// manager; other components refer to it by ID.
type Session struct {
	id        core.SessionID
	device    string
	remote    string
	conn      core.SignalConnection
	createdAt time.Time

	mu        sync.Mutex
	state     SessionState
	user      *domain.User
	rooms     map[domain.RoomID]struct{}
	seq       uint64
	stalled   bool
	protoErrs int
	authTimer *time.Timer
}

func NewSession(id core.SessionID, conn core.SignalConnection, device, remote string) *Session {
	return &Session{
		id:        id,
		device:    device,
		remote:    remote,
		conn:      conn,
		createdAt: time.Now(),
		rooms:     make(map[domain.RoomID]struct{}),
	}
}

func (s *Session) ID() core.SessionID           { return s.id }
func (s *Session) Device() string               { return s.device }
func (s *Session) Remote() string               { return s.remote }
func (s *Session) CreatedAt() time.Time         { return s.createdAt }
func (s *Session) Conn() core.SignalConnection { return s.conn }

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// User is nil until authentication succeeds.
func (s *Session) User() *domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

func (s *Session) UserID() domain.UserID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return ""
	}
	return s.user.ID
}

// Authenticate binds the owner. It succeeds once per session.
func (s *Session) Authenticate(u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateAuthenticated:
		return domain.ErrAlreadyAuthenticated
	case StateClosed:
		return domain.ErrSessionClosed
	}
	cp := *u
	s.user = &cp
	s.state = StateAuthenticated
	s.protoErrs = 0
	return nil
}

// MarkClosed moves the session to its terminal state and reports whether
// this call did it.
func (s *Session) MarkClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	s.state = StateClosed
	return true
}

// Send encodes f with the next sequence number and queues it without blocking.
// After the first overflow every later Send fails with core.ErrBackpressure,
// so a stalled session never receives a frame past a gap.
func (s *Session) Send(f protocol.Outbound) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return domain.ErrSessionClosed
	}
	if s.stalled {
		return core.ErrBackpressure
	}
	b, err := protocol.Encode(f, s.seq+1)
	if err != nil {
		return err
	}
	if err := s.conn.TrySend(b); err != nil {
		if errors.Is(err, core.ErrBackpressure) {
			s.stalled = true
		}
		return err
	}
	s.seq++
	return nil
}

// Reply is Send for direct answers, where failure only needs a log line.
func (s *Session) Reply(f protocol.Outbound) {
	if err := s.Send(f); err != nil && !errors.Is(err, domain.ErrSessionClosed) {
		log.Debug().Err(err).Str("module", "app.session").Str("sid", string(s.id)).Msg("reply dropped")
	}
}

// Stalled reports whether the outbound queue overflowed.
func (s *Session) Stalled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stalled
}

// Sent is the number of frames queued so far, equal to the last seq.
func (s *Session) Sent() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Rooms returns the subscribed rooms in ascending order.
func (s *Session) Rooms() []domain.RoomID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := lo.Keys(s.rooms)
	slices.Sort(ids)
	return ids
}

func (s *Session) trackRoom(id domain.RoomID) {
	s.mu.Lock()
	s.rooms[id] = struct{}{}
	s.mu.Unlock()
}

func (s *Session) untrackRoom(id domain.RoomID) {
	s.mu.Lock()
	delete(s.rooms, id)
	s.mu.Unlock()
}

// ProtocolError counts a bad frame and returns the consecutive total.
func (s *Session) ProtocolError() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.protoErrs++
	return s.protoErrs
}

func (s *Session) ResetProtocolErrors() {
	s.mu.Lock()
	s.protoErrs = 0
	s.mu.Unlock()
}

// StartAuthTimer runs f after d unless StopAuthTimer is called first.
func (s *Session) StartAuthTimer(d time.Duration, f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.authTimer != nil {
		s.authTimer.Stop()
	}
	s.authTimer = time.AfterFunc(d, f)
}

// StopAuthTimer reports whether it stopped a pending timer.
func (s *Session) StopAuthTimer() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.authTimer == nil {
		return false
	}
	stopped := s.authTimer.Stop()
	s.authTimer = nil
	return stopped
}

package app

import (
	"testing"
	"time"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/protocol"
	"github.com/stretchr/testify/require"
)

func TestSessionAuthenticatesOnce(t *testing.T) {
	req := require.New(t)
	s, _ := newSession(t, "s1", "", 0)
	req.Equal(StateUnauthenticated, s.State())
	req.Nil(s.User())

	req.NoError(s.Authenticate(&domain.User{ID: "alice"}))
	req.Equal(StateAuthenticated, s.State())
	req.Equal(domain.UserID("alice"), s.UserID())

	err := s.Authenticate(&domain.User{ID: "mallory"})
	req.ErrorIs(err, domain.ErrAlreadyAuthenticated)
	req.Equal(domain.UserID("alice"), s.UserID(), "owner is immutable")
}

func TestSessionSequencesFrames(t *testing.T) {
	req := require.New(t)
	s, conn := newSession(t, "s1", "alice", 0)

	req.NoError(s.Send(protocol.NewSuccess("one")))
	req.NoError(s.Send(protocol.NewSuccess("two")))
	req.NoError(s.Send(protocol.NewError(domain.ErrNotMember)))

	frames := conn.Drain()
	req.Len(frames, 3)
	for i, f := range frames {
		req.Equal(uint64(i+1), f.Seq)
	}
	req.Equal(uint64(3), s.Sent())
}

func TestSessionStallsAfterOverflow(t *testing.T) {
	req := require.New(t)
	s, conn := newSession(t, "s1", "alice", 2)

	req.NoError(s.Send(protocol.NewSuccess("1")))
	req.NoError(s.Send(protocol.NewSuccess("2")))
	req.ErrorIs(s.Send(protocol.NewSuccess("3")), core.ErrBackpressure)
	req.True(s.Stalled())

	// even after the queue drains nothing more goes out: the client would see a gap
	conn.Drain()
	req.ErrorIs(s.Send(protocol.NewSuccess("4")), core.ErrBackpressure)
}

func TestSessionClosedIsTerminal(t *testing.T) {
	req := require.New(t)
	s, _ := newSession(t, "s1", "alice", 0)

	req.True(s.MarkClosed())
	req.False(s.MarkClosed())
	req.Equal(StateClosed, s.State())
	req.ErrorIs(s.Send(protocol.NewSuccess("late")), domain.ErrSessionClosed)
	req.ErrorIs(s.Authenticate(&domain.User{ID: "bob"}), domain.ErrSessionClosed)

	fresh, _ := newSession(t, "s2", "", 0)
	fresh.MarkClosed()
	req.ErrorIs(fresh.Authenticate(&domain.User{ID: "bob"}), domain.ErrSessionClosed)
}

func TestSessionProtocolErrorCounter(t *testing.T) {
	req := require.New(t)
	s, _ := newSession(t, "s1", "", 0)
	req.Equal(1, s.ProtocolError())
	req.Equal(2, s.ProtocolError())
	s.ResetProtocolErrors()
	req.Equal(1, s.ProtocolError())
}

func TestRegistryIndexesDevicesByUser(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()
	phone, _ := newSession(t, "phone", "alice", 0)
	laptop, _ := newSession(t, "laptop", "alice", 0)
	anon, _ := newSession(t, "anon", "", 0)

	for _, s := range []*Session{phone, laptop, anon} {
		reg.Bind(s)
		reg.BindUser(s)
	}
	req.Len(reg.SessionsOf("alice"), 2)
	sessions, users := reg.Counts()
	req.Equal(3, sessions)
	req.Equal(1, users)

	reg.Unbind(phone)
	req.Len(reg.SessionsOf("alice"), 1)
	_, ok := reg.Get("phone")
	req.False(ok)

	reg.Unbind(laptop)
	_, users = reg.Counts()
	req.Zero(users)
}

func TestSessionAuthTimer(t *testing.T) {
	req := require.New(t)
	s, _ := newSession(t, "s1", "", 0)
	req.False(s.StopAuthTimer())

	fired := make(chan struct{})
	s.StartAuthTimer(time.Hour, func() { close(fired) })
	req.True(s.StopAuthTimer())
	req.False(s.StopAuthTimer(), "already stopped")

	s.StartAuthTimer(time.Millisecond, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("auth timer never fired")
	}
}

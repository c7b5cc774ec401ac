// Package orch is the connection manager: it owns session lifetimes and
// turns decoded frames into calls on the subscription table and router.
package orch

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

type Config struct {
	// AuthTimeout is the grace period for the first auth frame.
	AuthTimeout time.Duration
	// ValidateTimeout bounds one identity call.
	ValidateTimeout   time.Duration
	MaxProtocolErrors int
}

func (c Config) withDefaults() Config {
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = 10 * time.Second
	}
	if c.ValidateTimeout <= 0 {
		c.ValidateTimeout = 3 * time.Second
	}
	if c.MaxProtocolErrors <= 0 {
		c.MaxProtocolErrors = 3
	}
	return c
}

type Orchestrator struct {
	Registry *app.Registry
	Rooms    *app.RoomRegistry
	Subs     *app.SubscriptionTable
	Router   *app.MessageRouter
	Identity core.Identity

	cfg     Config
	wg      conc.WaitGroup
	closing atomic.Bool
}

func New(
	reg *app.Registry,
	rooms *app.RoomRegistry,
	subs *app.SubscriptionTable,
	router *app.MessageRouter,
	identity core.Identity,
	cfg Config,
) *Orchestrator {
	o := &Orchestrator{
		Registry: reg,
		Rooms:    rooms,
		Subs:     subs,
		Router:   router,
		Identity: identity,
		cfg:      cfg.withDefaults(),
	}
	router.OnSlowConsumer(func(s *app.Session) {
		o.HandleDisconnect(s, "slow consumer")
	})
	return o
}

// Go runs f as a session-scoped task that Shutdown waits for.
func (o *Orchestrator) Go(f func()) {
	o.wg.Go(f)
}

// Accept registers a new unauthenticated session for conn. The session is
// closed if no successful auth arrives within the grace period.
func (o *Orchestrator) Accept(conn core.SignalConnection, device, remote string) (*app.Session, error) {
	if o.closing.Load() {
		return nil, domain.ErrShuttingDown
	}
	sess := app.NewSession(core.SessionID(uuid.NewString()), conn, device, remote)
	o.Registry.Bind(sess)

	sess.StartAuthTimer(o.cfg.AuthTimeout, func() {
		if sess.State() != app.StateUnauthenticated {
			return
		}
		sess.Reply(protocol.Error{Error: "authentication timeout"})
		o.HandleDisconnect(sess, "auth timeout")
	})

	log.Info().Str("module", "orch").Str("sid", string(sess.ID())).Str("device", device).Str("remote", remote).Msg("session accepted")
	return sess, nil
}

// HandleAuth validates token and binds the session to its user. A failed
// validation is fatal; a repeated auth is rejected and the session stays open.
func (o *Orchestrator) HandleAuth(ctx context.Context, sess *app.Session, token string) error {
	switch sess.State() {
	case app.StateAuthenticated:
		sess.Reply(protocol.NewError(domain.ErrAlreadyAuthenticated))
		return domain.ErrAlreadyAuthenticated
	case app.StateClosed:
		return domain.ErrSessionClosed
	}

	vctx, cancel := context.WithTimeout(ctx, o.cfg.ValidateTimeout)
	user, err := o.Identity.ValidateToken(vctx, token)
	cancel()
	if err == nil {
		err = sess.Authenticate(user)
	}
	if errors.Is(err, domain.ErrAlreadyAuthenticated) {
		sess.Reply(protocol.NewError(err))
		return err
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sess.ID())).Msg("auth rejected")
		sess.Reply(protocol.NewError(domain.ErrInvalidToken))
		o.HandleDisconnect(sess, "auth failed")
		return domain.ErrInvalidToken
	}

	sess.StopAuthTimer()
	o.Registry.BindUser(sess)
	sess.Reply(protocol.NewSuccess("Authenticated successfully"))
	log.Info().Str("module", "orch").Str("sid", string(sess.ID())).Str("user", string(user.ID)).Msg("session authenticated")
	return nil
}

// HandleProtocolError answers a bad frame and closes the session once the
// consecutive error count reaches the limit. It reports whether it closed.
func (o *Orchestrator) HandleProtocolError(sess *app.Session, err error) bool {
	// a tokenless auth frame only ends the session while it still needs one
	if errors.Is(err, domain.ErrInvalidToken) && sess.State() == app.StateAuthenticated {
		err = domain.ErrAlreadyAuthenticated
	}
	if domain.IsFatal(err) {
		sess.Reply(protocol.NewError(err))
		o.HandleDisconnect(sess, "fatal frame")
		return true
	}
	n := sess.ProtocolError()
	sess.Reply(protocol.NewError(err))
	if n < o.cfg.MaxProtocolErrors {
		return false
	}
	log.Warn().Str("module", "orch").Str("sid", string(sess.ID())).Int("errors", n).Msg("too many protocol errors")
	o.HandleDisconnect(sess, "protocol errors")
	return true
}

// HandleDisconnect tears a session down. Safe to call any number of times
// from the read loop, the write path or the server.
func (o *Orchestrator) HandleDisconnect(sess *app.Session, reason string) {
	if !sess.MarkClosed() {
		return
	}
	sess.StopAuthTimer()
	rooms := o.Subs.RemoveSession(sess.ID())
	o.Registry.Unbind(sess)
	sess.Conn().Close()
	log.Info().Str("module", "orch").Str("sid", string(sess.ID())).Str("user", string(sess.UserID())).
		Str("device", sess.Device()).Str("remote", sess.Remote()).Dur("age", time.Since(sess.CreatedAt())).
		Str("reason", reason).Int("rooms", len(rooms)).Msg("session closed")
}

// Shutdown refuses new sessions, closes every live one (queued frames are
// flushed by the transport) and waits for session tasks until ctx expires.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.closing.Store(true)
	for _, sess := range o.Registry.All() {
		sess.Reply(protocol.NewError(domain.ErrShuttingDown))
		o.HandleDisconnect(sess, "shutdown")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if r := o.wg.WaitAndRecover(); r != nil {
			log.Error().Str("module", "orch").Str("panic", r.String()).Msg("session task panicked")
		}
	}()
	select {
	case <-done:
		log.Info().Str("module", "orch").Msg("sessions drained")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type Stats struct {
	Sessions      int `json:"sessions"`
	Users         int `json:"users"`
	Rooms         int `json:"rooms"`
	Subscriptions int `json:"subscriptions"`
	CachedRooms   int `json:"cached_rooms"`
}

func (o *Orchestrator) Stats() Stats {
	sessions, users := o.Registry.Counts()
	rooms, subs := o.Subs.Stats()
	return Stats{
		Sessions:      sessions,
		Users:         users,
		Rooms:         rooms,
		Subscriptions: subs,
		CachedRooms:   o.Rooms.CachedRooms(),
	}
}

package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/protocol"
	"github.com/rs/zerolog/log"
)

// HandleSubscribe joins the room's fanout, replaying messages after afterID
// when given.
func (o *Orchestrator) HandleSubscribe(ctx context.Context, sess *app.Session, id domain.RoomID, afterID *domain.MessageID) error {
	last, err := o.Router.Attach(ctx, sess, id, afterID)
	if err != nil {
		o.reject(sess, id, err)
		return err
	}
	sess.Reply(protocol.Success{
		Message:       fmt.Sprintf("Subscribed to room %d", id),
		RoomID:        id,
		LastMessageID: last,
	})
	return nil
}

// HandleUnsubscribe leaves the room's fanout. Leaving needs no membership.
func (o *Orchestrator) HandleUnsubscribe(sess *app.Session, id domain.RoomID) error {
	if sess.State() != app.StateAuthenticated {
		o.reject(sess, id, domain.ErrNotAuthenticated)
		return domain.ErrNotAuthenticated
	}
	o.Subs.Unsubscribe(id, sess)
	sess.Reply(protocol.Success{Message: fmt.Sprintf("Unsubscribed from room %d", id), RoomID: id})
	return nil
}

// OnMembershipChanged drops cached membership for the room and removes
// subscribers that are no longer members. When the source cannot answer,
// every subscriber is removed and told membership is unavailable; they may
// subscribe again once it recovers.
func (o *Orchestrator) OnMembershipChanged(ctx context.Context, id domain.RoomID) {
	o.Rooms.Invalidate(id)
	room, err := o.Rooms.Room(ctx, id)
	reason := domain.ErrNotMember
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		room = nil
	case err != nil:
		log.Warn().Err(err).Str("module", "orch").Int64("room", int64(id)).Msg("membership recheck failed, pruning all subscribers")
		room, reason = nil, domain.ErrMembershipUnavailable
	}

	pruned := 0
	for _, sid := range o.Subs.FanoutTargets(id) {
		sess, ok := o.Registry.Get(sid)
		if !ok || room.HasMember(sess.UserID()) {
			continue
		}
		if o.Subs.Unsubscribe(id, sess) {
			pruned++
			sess.Reply(protocol.Error{Error: reason.Error(), RoomID: id})
		}
	}
	log.Info().Str("module", "orch").Int64("room", int64(id)).Int("pruned", pruned).Msg("membership changed")
}

// reject answers a failed room operation. A stalled session is closed.
func (o *Orchestrator) reject(sess *app.Session, id domain.RoomID, err error) {
	if errors.Is(err, core.ErrBackpressure) {
		o.HandleDisconnect(sess, "slow consumer")
		return
	}
	sess.Reply(protocol.Error{Error: domain.PublicText(err), RoomID: id})
}

package orch

import (
	"context"

	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/protocol"
)

// HandleSend submits a chat message and acknowledges it to the sender after
// the message frame itself was queued to every subscriber.
func (o *Orchestrator) HandleSend(ctx context.Context, sess *app.Session, id domain.RoomID, content string) error {
	msg, err := o.Router.Submit(ctx, sess, id, content)
	if err != nil {
		o.reject(sess, id, err)
		return err
	}
	sess.Reply(protocol.Success{Message: "Message sent", RoomID: id, MessageID: msg.ID})
	return nil
}

// History serves the HTTP history query for an authenticated user.
func (o *Orchestrator) History(ctx context.Context, token string, id domain.RoomID, beforeID *domain.MessageID, limit int) (domain.Page, error) {
	user, err := o.Identity.ValidateToken(ctx, token)
	if err != nil {
		return domain.Page{}, domain.ErrInvalidToken
	}
	return o.Router.History(ctx, user.ID, id, beforeID, limit)
}

package signal

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(c *WsSignalConn) {
	ticker := time.NewTicker(ctl.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, sess *app.Session, c *WsSignalConn) {
	reason := "transport closed"
	defer func() {
		ctl.limiter.Forget(sess.ID())
		ctl.Orch.HandleDisconnect(sess, reason)
	}()

	pongWait := ctl.cfg.PingPeriod * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(sess.ID())).Msg("readPump read error")
				reason = "read error"
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if ctl.handleSignal(ctx, sess, data) {
			reason = "closed by server"
			return
		}
	}
}

// handleSignal dispatches one inbound frame and reports whether the session
// was closed while handling it.
func (ctl *SignalWSController) handleSignal(ctx context.Context, sess *app.Session, data []byte) bool {
	if !ctl.limiter.Allow(sess.ID()) {
		return ctl.Orch.HandleProtocolError(sess, domain.ErrRateLimited)
	}
	in, err := protocol.Decode(data)
	if err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("sid", string(sess.ID())).Msg("bad frame")
		return ctl.Orch.HandleProtocolError(sess, err)
	}
	sess.ResetProtocolErrors()

	switch m := in.(type) {
	case *protocol.Auth:
		err = ctl.Orch.HandleAuth(ctx, sess, m.Token)
	case *protocol.Subscribe:
		err = ctl.Orch.HandleSubscribe(ctx, sess, m.RoomID, m.AfterID)
	case *protocol.Unsubscribe:
		err = ctl.Orch.HandleUnsubscribe(sess, m.RoomID)
	case *protocol.SendMessage:
		err = ctl.Orch.HandleSend(ctx, sess, m.RoomID, m.Content)
	default:
		return ctl.Orch.HandleProtocolError(sess, protocol.ErrUnknownType)
	}
	if err != nil && !errors.Is(err, domain.ErrSessionClosed) {
		log.Debug().Err(err).Str("module", "signal").Str("sid", string(sess.ID())).Msg("frame rejected")
	}
	return sess.State() == app.StateClosed
}

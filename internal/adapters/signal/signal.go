// Package signal is the WebSocket transport of the chat socket: one read
// pump and one write pump per connection, bridging frames to orch.
package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Relay/internal/app/orch"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

type Config struct {
	ReadLimit  int64
	PingPeriod time.Duration
	// QueueSize bounds the outbound frames buffered per connection.
	QueueSize       int
	FramesPerSecond float64
	FrameBurst      int
	AllowedOrigins  []string
}

func (c Config) withDefaults() Config {
	if c.ReadLimit <= 0 {
		c.ReadLimit = 32768
	}
	if c.PingPeriod <= 0 {
		c.PingPeriod = 54 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.FramesPerSecond <= 0 {
		c.FramesPerSecond = 20
	}
	if c.FrameBurst <= 0 {
		c.FrameBurst = 40
	}
	return c
}

type SignalWSController struct {
	Orch *orch.Orchestrator

	cfg      Config
	limiter  *FrameLimiter
	upgrader websocket.Upgrader
}

func NewSignalWSController(o *orch.Orchestrator, cfg Config) *SignalWSController {
	cfg = cfg.withDefaults()
	return &SignalWSController{
		Orch:    o,
		cfg:     cfg,
		limiter: NewFrameLimiter(cfg.FramesPerSecond, cfg.FrameBurst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     newOriginChecker(cfg.AllowedOrigins).check,
		},
	}
}

// WsSignalConn implements core.SignalConnection over a gorilla socket.
// Frames are queued to a bounded channel drained by writePump.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(conn *websocket.Conn, queue int) *WsSignalConn {
	return &WsSignalConn{conn: conn, send: make(chan core.Frame, queue)}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
		return nil
	default:
		return core.ErrBackpressure
	}
}

// Close stops accepting frames. writePump flushes what is queued, sends a
// close frame and releases the socket.
func (c *WsSignalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// HandleSignal upgrades the request and starts the pumps. ctx bounds the
// lifetime of every operation issued on behalf of the connection.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	device := c.GetString("device_id")

	// the upgrade response bypasses gin's writer, carry the session cookie over
	header := http.Header{}
	if cookies := c.Writer.Header().Values("Set-Cookie"); len(cookies) > 0 {
		header["Set-Cookie"] = cookies
	}
	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, header)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.cfg.ReadLimit)

	conn := newWsSignalConn(ws, ctl.cfg.QueueSize)
	sess, err := ctl.Orch.Accept(conn, device, c.ClientIP())
	if err != nil {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, domain.PublicText(err)),
			time.Now().Add(writeWait))
		_ = ws.Close()
		return
	}

	ctl.Orch.Go(func() { ctl.writePump(conn) })
	ctl.Orch.Go(func() { ctl.readPump(ctx, sess, conn) })
}

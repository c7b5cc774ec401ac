package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/dkeye/Relay/internal/adapters/signal"
	"github.com/dkeye/Relay/internal/app/orch"
	"github.com/dkeye/Relay/internal/config"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const deviceKey = "device_id"

// DeviceMiddleware pins a stable device id to the browser session so that
// one user's sockets can be told apart in logs.
func DeviceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		id, _ := s.Get(deviceKey).(string)
		if id == "" {
			id = uuid.NewString()
			s.Set(deviceKey, id)
			if err := s.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save device session")
			}
		}
		c.Set(deviceKey, id)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions("RelaySessions", store))

	r.GET("/up", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	ctl := signal.NewSignalWSController(o, signal.Config{
		ReadLimit:       cfg.ReadLimit,
		PingPeriod:      cfg.PingPeriod,
		QueueSize:       cfg.Chat.QueueSize,
		FramesPerSecond: cfg.Chat.FramesPerSecond,
		FrameBurst:      cfg.Chat.FrameBurst,
		AllowedOrigins:  cfg.AllowedOrigins,
	})
	h := &handlers{orch: o, hookSecret: cfg.Auth.HookSecret}

	api := r.Group("/api")
	api.GET("/ws", DeviceMiddleware(), func(c *gin.Context) {
		ctl.HandleSignal(ctx, c)
	})
	api.GET("/rooms/:id/messages", h.history)

	ops := api.Group("", h.requireHookSecret)
	ops.POST("/rooms/:id/invalidate", h.invalidate)
	ops.GET("/stats", h.stats)

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}

type handlers struct {
	orch       *orch.Orchestrator
	hookSecret string
}

type historyQuery struct {
	BeforeID *int64 `form:"before_id" binding:"omitempty,gt=0"`
	Limit    int    `form:"limit" binding:"omitempty,min=1"`
}

func bearer(c *gin.Context) string {
	token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

func abort(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"error": domain.PublicText(err)})
}

func (h *handlers) history(c *gin.Context) {
	var q historyQuery
	id, err := domain.ParseRoomID(c.Param("id"))
	if err != nil {
		abort(c, http.StatusBadRequest, domain.ErrProtocol)
		return
	}
	if err := c.ShouldBindQuery(&q); err != nil || q.Limit > h.orch.Router.Config().HistoryMax {
		abort(c, http.StatusBadRequest, domain.ErrProtocol)
		return
	}
	token := bearer(c)
	if token == "" {
		abort(c, http.StatusUnauthorized, domain.ErrNotAuthenticated)
		return
	}

	var before *domain.MessageID
	if q.BeforeID != nil {
		bid := domain.MessageID(*q.BeforeID)
		before = &bid
	}
	page, err := h.orch.History(c.Request.Context(), token, id, before, q.Limit)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, page)
	case errors.Is(err, domain.ErrInvalidToken):
		abort(c, http.StatusUnauthorized, err)
	case errors.Is(err, domain.ErrNotMember), errors.Is(err, domain.ErrRoomNotFound):
		abort(c, http.StatusForbidden, err)
	case errors.Is(err, domain.ErrMembershipUnavailable):
		abort(c, http.StatusServiceUnavailable, err)
	default:
		log.Error().Err(err).Str("module", "adapters.http").Int64("room", int64(id)).Msg("history")
		abort(c, http.StatusInternalServerError, err)
	}
}

// requireHookSecret guards the operator endpoints. They are disabled when
// no secret is configured.
func (h *handlers) requireHookSecret(c *gin.Context) {
	if h.hookSecret == "" {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	got := c.GetHeader("X-Hook-Secret")
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.hookSecret)) != 1 {
		c.AbortWithStatus(http.StatusForbidden)
		return
	}
	c.Next()
}

// invalidate is the membership change hook of the identity provider.
func (h *handlers) invalidate(c *gin.Context) {
	id, err := domain.ParseRoomID(c.Param("id"))
	if err != nil {
		abort(c, http.StatusBadRequest, domain.ErrProtocol)
		return
	}
	h.orch.OnMembershipChanged(c.Request.Context(), id)
	c.Status(http.StatusNoContent)
}

func (h *handlers) stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.orch.Stats())
}

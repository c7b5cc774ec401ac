package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dkeye/Relay/internal/adapters/identity"
	"github.com/dkeye/Relay/internal/adapters/membership"
	"github.com/dkeye/Relay/internal/adapters/storage"
	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/app/orch"
	"github.com/dkeye/Relay/internal/config"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	engine  *gin.Engine
	orch    *orch.Orchestrator
	store   *storage.MemoryStore
	members *membership.MemorySource
	jwt     *identity.JWTValidator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{
		Mode:   "test",
		Secret: "cookie-secret",
		Auth:   config.Auth{HookSecret: "hook"},
	}
	jwtv, err := identity.NewJWTValidator("router-test-secret-0123", "relay", 0)
	require.NoError(t, err)

	members := membership.NewMemorySource(
		domain.NewRoom(5, "alice", "bob"),
		domain.NewRoom(6, "carol"),
	)
	store := storage.NewMemoryStore()
	reg := app.NewRegistry()
	rooms := app.NewRoomRegistry(members, time.Minute)
	subs := app.NewSubscriptionTable(rooms)
	router := app.NewMessageRouter(store, rooms, subs, reg, app.ClosePolicy{}, app.RouterConfig{HistoryMax: 3})
	o := orch.New(reg, rooms, subs, router, jwtv, orch.Config{})

	return &fixture{
		engine:  SetupRouter(context.Background(), cfg, o),
		orch:    o,
		store:   store,
		members: members,
		jwt:     jwtv,
	}
}

func (f *fixture) token(t *testing.T, uid string) string {
	t.Helper()
	tok, err := f.jwt.Issue(domain.UserID(uid), uid, time.Minute)
	require.NoError(t, err)
	return tok
}

func (f *fixture) seed(t *testing.T, room domain.RoomID, n int) {
	t.Helper()
	sender, err := domain.NewUser("alice", "alice")
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		_, err := f.store.AppendMessage(context.Background(), domain.Draft{RoomID: room, Sender: *sender, Content: "m"})
		require.NoError(t, err)
	}
}

func (f *fixture) do(method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func bearerHeader(token string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

func TestUp(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/up", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHistoryPages(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.seed(t, 5, 5)

	w := f.do(http.MethodGet, "/api/rooms/5/messages?limit=3", bearerHeader(f.token(t, "bob")))
	req.Equal(http.StatusOK, w.Code)
	var page domain.Page
	req.NoError(json.Unmarshal(w.Body.Bytes(), &page))
	req.Len(page.Messages, 3)
	req.True(page.HasMore)
	req.Equal(domain.MessageID(3), page.Messages[0].ID)
	req.Equal(domain.MessageID(5), page.Messages[2].ID)

	w = f.do(http.MethodGet, "/api/rooms/5/messages?before_id=3", bearerHeader(f.token(t, "bob")))
	req.Equal(http.StatusOK, w.Code)
	req.NoError(json.Unmarshal(w.Body.Bytes(), &page))
	req.Len(page.Messages, 2)
	req.False(page.HasMore)
}

func TestHistoryOfEmptyRoom(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/api/rooms/6/messages", bearerHeader(f.token(t, "carol")))
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"messages":[],"has_more":false}`, w.Body.String())
}

func TestHistoryRejections(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name   string
		target string
		header http.Header
		code   int
		body   string
	}{
		{"no token", "/api/rooms/5/messages", nil, http.StatusUnauthorized, "not authenticated"},
		{"bad token", "/api/rooms/5/messages", bearerHeader("nope"), http.StatusUnauthorized, "invalid token"},
		{"not a member", "/api/rooms/5/messages", bearerHeader(f.token(t, "carol")), http.StatusForbidden, "not a member of room"},
		{"unknown room", "/api/rooms/404/messages", bearerHeader(f.token(t, "carol")), http.StatusForbidden, "not a member of room"},
		{"zero room id", "/api/rooms/0/messages", bearerHeader(f.token(t, "carol")), http.StatusBadRequest, "protocol error"},
		{"bad room id", "/api/rooms/x/messages", bearerHeader(f.token(t, "carol")), http.StatusBadRequest, "protocol error"},
		{"bad cursor", "/api/rooms/5/messages?before_id=0", bearerHeader(f.token(t, "bob")), http.StatusBadRequest, "protocol error"},
		{"limit too large", "/api/rooms/5/messages?limit=4", bearerHeader(f.token(t, "bob")), http.StatusBadRequest, "protocol error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := f.do(http.MethodGet, tc.target, tc.header)
			require.Equal(t, tc.code, w.Code)
			require.JSONEq(t, `{"error":"`+tc.body+`"}`, w.Body.String())
		})
	}
}

func TestInvalidateHook(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	bob := f.token(t, "bob")

	req.Equal(http.StatusOK, f.do(http.MethodGet, "/api/rooms/5/messages", bearerHeader(bob)).Code)
	f.members.Put(context.Background(), domain.NewRoom(5, "alice"))
	req.Equal(http.StatusOK, f.do(http.MethodGet, "/api/rooms/5/messages", bearerHeader(bob)).Code, "cached membership")

	req.Equal(http.StatusForbidden, f.do(http.MethodPost, "/api/rooms/5/invalidate", nil).Code)
	req.Equal(http.StatusBadRequest, f.do(http.MethodPost, "/api/rooms/0/invalidate", http.Header{"X-Hook-Secret": []string{"hook"}}).Code)
	w := f.do(http.MethodPost, "/api/rooms/5/invalidate", http.Header{"X-Hook-Secret": []string{"hook"}})
	req.Equal(http.StatusNoContent, w.Code)

	req.Equal(http.StatusForbidden, f.do(http.MethodGet, "/api/rooms/5/messages", bearerHeader(bob)).Code)
}

func TestStats(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	req.Equal(http.StatusForbidden, f.do(http.MethodGet, "/api/stats", nil).Code)
	w := f.do(http.MethodGet, "/api/stats", http.Header{"X-Hook-Secret": []string{"hook"}})
	req.Equal(http.StatusOK, w.Code)
	var st orch.Stats
	req.NoError(json.Unmarshal(w.Body.Bytes(), &st))
	req.Zero(st.Sessions)
}

func TestDeviceCookieOnSocketRoute(t *testing.T) {
	f := newFixture(t)
	// not an upgrade request, but the middleware runs before the handshake fails
	w := f.do(http.MethodGet, "/api/ws", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Header().Get("Set-Cookie"), "RelaySessions=")
}

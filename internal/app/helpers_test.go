package app

import (
	"testing"

	"github.com/dkeye/Relay/internal/app/apptest"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/stretchr/testify/require"
)

func newSession(t *testing.T, sid string, uid domain.UserID, capacity int) (*Session, *apptest.Conn) {
	t.Helper()
	conn := apptest.NewConn(capacity)
	s := NewSession(core.SessionID(sid), conn, "device-"+sid, "127.0.0.1")
	if uid != "" {
		require.NoError(t, s.Authenticate(&domain.User{ID: uid, Username: string(uid)}))
	}
	return s, conn
}

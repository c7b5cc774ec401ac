package membership

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestMemorySource(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	src := NewMemorySource(domain.NewRoom(5, "alice", "bob"))

	room, err := src.GetRoom(ctx, 5)
	req.NoError(err)
	req.True(room.HasMember("alice"))

	// returned rooms are copies
	room.Members.Add("mallory")
	again, err := src.GetRoom(ctx, 5)
	req.NoError(err)
	req.False(again.HasMember("mallory"))

	_, err = src.GetRoom(ctx, 6)
	req.ErrorIs(err, domain.ErrRoomNotFound)
}

func TestMemorySourceNotifiesWatcher(t *testing.T) {
	req := require.New(t)
	src := NewMemorySource(domain.NewRoom(5, "alice"))

	ctx, cancel := context.WithCancel(context.Background())
	changed := make(chan domain.RoomID, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = src.Watch(ctx, func(_ context.Context, id domain.RoomID) { changed <- id })
	}()

	req.Eventually(func() bool {
		src.Put(context.Background(), domain.NewRoom(5, "alice", "bob"))
		select {
		case id := <-changed:
			return id == 5
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	room, err := src.GetRoom(context.Background(), 5)
	req.NoError(err)
	req.True(room.HasMember("bob"))
	req.Greater(room.Version, int64(1))

	cancel()
	<-done
}

func writeRooms(t *testing.T, path, body string) {
	t.Helper()
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(body), 0o644))
	require.NoError(t, os.Rename(tmp, path))
}

func TestFileSourceLoad(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "rooms.yaml")
	writeRooms(t, path, `
rooms:
  - id: 5
    members: [alice, bob]
  - id: 9
    system: true
    members: [alice, carol]
`)

	src, err := OpenFile(path)
	req.NoError(err)

	room, err := src.GetRoom(context.Background(), 9)
	req.NoError(err)
	req.True(room.IsSystem)
	req.Equal([]domain.UserID{"alice", "carol"}, room.Members.Sorted())

	_, err = src.GetRoom(context.Background(), 1)
	req.ErrorIs(err, domain.ErrRoomNotFound)
}

func TestFileSourceRejectsBadDocuments(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"duplicate": "rooms:\n  - id: 1\n  - id: 1\n",
		"zero id":   "rooms:\n  - id: 0\n",
		"not yaml":  "rooms: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".yaml")
			writeRooms(t, path, body)
			_, err := OpenFile(path)
			require.Error(t, err)
		})
	}
	_, err := OpenFile(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestFileSourceWatchReportsChangedRooms(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "rooms.yaml")
	writeRooms(t, path, "rooms:\n  - id: 5\n    members: [alice, bob]\n  - id: 6\n    members: [alice]\n")
	src, err := OpenFile(path)
	req.NoError(err)

	var (
		mu   sync.Mutex
		seen []domain.RoomID
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watching := make(chan error, 1)
	go func() {
		watching <- src.Watch(ctx, func(_ context.Context, id domain.RoomID) {
			mu.Lock()
			seen = append(seen, id)
			mu.Unlock()
		})
	}()

	// Given bob leaves room 5 and room 7 appears, room 6 untouched
	req.Eventually(func() bool {
		writeRooms(t, path, "rooms:\n  - id: 5\n    members: [alice]\n  - id: 6\n    members: [alice]\n  - id: 7\n    members: [carol]\n")
		room, err := src.GetRoom(context.Background(), 5)
		return err == nil && !room.HasMember("bob")
	}, 2*time.Second, 50*time.Millisecond)

	// Then the watcher reported exactly the changed rooms
	mu.Lock()
	got := slices.Clone(seen)
	mu.Unlock()
	slices.Sort(got)
	got = slices.Compact(got)
	req.Equal([]domain.RoomID{5, 7}, got)

	room, err := src.GetRoom(context.Background(), 5)
	req.NoError(err)
	req.Equal(int64(2), room.Version)

	cancel()
	req.NoError(<-watching)
}

func TestSQLiteSource(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	src, err := OpenSQLite(filepath.Join(t.TempDir(), "membership.db"))
	req.NoError(err)
	defer src.Close()

	_, err = src.GetRoom(ctx, 5)
	req.ErrorIs(err, domain.ErrRoomNotFound)

	room := domain.NewRoom(5, "alice", "bob")
	room.IsSystem = true
	req.NoError(src.PutRoom(ctx, room))

	got, err := src.GetRoom(ctx, 5)
	req.NoError(err)
	req.True(got.IsSystem)
	req.Equal(int64(1), got.Version)
	req.Equal([]domain.UserID{"alice", "bob"}, got.Members.Sorted())

	req.NoError(src.PutRoom(ctx, domain.NewRoom(5, "alice")))
	got, err = src.GetRoom(ctx, 5)
	req.NoError(err)
	req.Equal(int64(2), got.Version)
	req.False(got.HasMember("bob"))

	req.NoError(src.DeleteRoom(ctx, 5))
	_, err = src.GetRoom(ctx, 5)
	req.ErrorIs(err, domain.ErrRoomNotFound)
}

func TestOpenDrivers(t *testing.T) {
	req := require.New(t)

	src, err := Open("memory", "")
	req.NoError(err)
	_, isWatcher := src.(core.MembershipWatcher)
	req.True(isWatcher)

	_, err = Open("ldap", "")
	req.Error(err)
}

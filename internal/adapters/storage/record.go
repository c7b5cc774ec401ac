// Package storage holds the message store collaborators: an in-memory log,
// an embedded Badger log and a shared Redis log. Each assigns per-room ids
// 1, 2, 3, ... so a client can spot missing ids.
package storage

import (
	"fmt"
	"time"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// record is the persisted form of a message; the id lives in the key.
type record struct {
	RoomID    domain.RoomID `json:"room_id"`
	SenderID  domain.UserID `json:"sender_id"`
	Sender    string        `json:"sender"`
	Content   string        `json:"content"`
	CreatedAt int64         `json:"created_at"`
	EditedAt  *int64        `json:"edited_at,omitempty"`
}

func newRecord(d domain.Draft, at time.Time) record {
	return record{
		RoomID:    d.RoomID,
		SenderID:  d.Sender.ID,
		Sender:    d.Sender.Username,
		Content:   d.Content,
		CreatedAt: at.UnixNano(),
	}
}

func (r record) message(id domain.MessageID) domain.Message {
	m := domain.Message{
		ID:        id,
		RoomID:    r.RoomID,
		Sender:    domain.User{ID: r.SenderID, Username: r.Sender},
		Content:   r.Content,
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
	}
	if r.EditedAt != nil {
		at := time.Unix(0, *r.EditedAt).UTC()
		m.EditedAt = &at
	}
	return m
}

func encodeRecord(r record) ([]byte, error) {
	return json.Marshal(r)
}

func decodeRecord(b []byte) (record, error) {
	var r record
	err := json.Unmarshal(b, &r)
	return r, err
}

type Config struct {
	Driver        string
	Path          string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Open builds the store selected by cfg.Driver.
func Open(cfg Config) (core.MessageStore, error) {
	log.Info().Str("module", "storage").Str("driver", cfg.Driver).Msg("opening message store")
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "badger":
		return OpenBadger(cfg.Path)
	case "redis":
		return OpenRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

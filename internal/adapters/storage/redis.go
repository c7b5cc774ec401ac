package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dkeye/Relay/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// appendScript bumps the room counter and stores the record under the new
// id atomically, so concurrent writers on several nodes never share an id.
var appendScript = redis.NewScript(`
local id = redis.call('INCR', KEYS[1])
redis.call('HSET', KEYS[2], id, ARGV[1])
return id
`)

// RedisStore keeps one hash per room (field = message id) next to an INCR
// counter holding the last id.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func OpenRedis(addr, password string, db int, prefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	log.Info().Str("module", "storage.redis").Str("addr", addr).Msg("connected")
	return NewRedisStore(client, prefix), nil
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "relay"
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) seqKey(room domain.RoomID) string {
	return fmt.Sprintf("%s:room:%d:seq", s.prefix, room)
}

func (s *RedisStore) msgsKey(room domain.RoomID) string {
	return fmt.Sprintf("%s:room:%d:msgs", s.prefix, room)
}

func (s *RedisStore) AppendMessage(ctx context.Context, d domain.Draft) (domain.Message, error) {
	rec := newRecord(d, s.now())
	val, err := encodeRecord(rec)
	if err != nil {
		return domain.Message{}, err
	}
	id, err := appendScript.Run(ctx, s.client, []string{s.seqKey(d.RoomID), s.msgsKey(d.RoomID)}, val).Int64()
	if err != nil {
		return domain.Message{}, fmt.Errorf("append message: %w", err)
	}
	return rec.message(domain.MessageID(id)), nil
}

// ListMessages relies on ids being dense: the page below beforeID is the
// id range [beforeID-limit, beforeID-1].
func (s *RedisStore) ListMessages(ctx context.Context, room domain.RoomID, beforeID *domain.MessageID, limit int) (domain.Page, error) {
	var upper int64
	if beforeID == nil {
		last, err := s.client.Get(ctx, s.seqKey(room)).Int64()
		if errors.Is(err, redis.Nil) {
			return domain.Page{Messages: []domain.Message{}}, nil
		}
		if err != nil {
			return domain.Page{}, fmt.Errorf("read counter: %w", err)
		}
		upper = last
	} else {
		upper = int64(*beforeID) - 1
	}
	lower := max(upper-int64(limit)+1, 1)
	if upper < lower {
		return domain.Page{Messages: []domain.Message{}}, nil
	}

	fields := make([]string, 0, upper-lower+1)
	for id := lower; id <= upper; id++ {
		fields = append(fields, strconv.FormatInt(id, 10))
	}
	vals, err := s.client.HMGet(ctx, s.msgsKey(room), fields...).Result()
	if err != nil {
		return domain.Page{}, fmt.Errorf("list messages: %w", err)
	}

	out := make([]domain.Message, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		rec, err := decodeRecord([]byte(raw))
		if err != nil {
			return domain.Page{}, fmt.Errorf("decode message %s: %w", fields[i], err)
		}
		out = append(out, rec.message(domain.MessageID(lower+int64(i))))
	}
	return domain.Page{Messages: out, HasMore: lower > 1}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

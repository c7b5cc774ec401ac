package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/rs/zerolog/log"
)

const badgerRetries = 8

// BadgerStore persists messages under "msg:{room}:{id padded to 20}" and
// the room's last id under "seq:{room}", both written in one transaction.
type BadgerStore struct {
	db  *badger.DB
	now func() time.Time
	// mu serializes appends; the counter key would otherwise make every
	// concurrent append in a room conflict.
	mu sync.Mutex
}

func OpenBadger(path string) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, fmt.Errorf("open badger %s: %w", path, err)
	}
	return NewBadgerStore(db), nil
}

func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db, now: time.Now}
}

func seqKey(room domain.RoomID) []byte {
	return fmt.Appendf(nil, "seq:%d", room)
}

func msgPrefix(room domain.RoomID) []byte {
	return fmt.Appendf(nil, "msg:%d:", room)
}

func msgKey(room domain.RoomID, id domain.MessageID) []byte {
	return fmt.Appendf(msgPrefix(room), "%020d", id)
}

func (s *BadgerStore) AppendMessage(ctx context.Context, d domain.Draft) (domain.Message, error) {
	rec := newRecord(d, s.now())
	val, err := encodeRecord(rec)
	if err != nil {
		return domain.Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.Message{}, err
		}
		var id domain.MessageID
		err = s.db.Update(func(txn *badger.Txn) error {
			var last uint64
			item, err := txn.Get(seqKey(d.RoomID))
			switch {
			case err == nil:
				if err := item.Value(func(v []byte) error {
					last = binary.BigEndian.Uint64(v)
					return nil
				}); err != nil {
					return err
				}
			case !errors.Is(err, badger.ErrKeyNotFound):
				return err
			}
			id = domain.MessageID(last + 1)
			if err := txn.Set(seqKey(d.RoomID), binary.BigEndian.AppendUint64(nil, uint64(id))); err != nil {
				return err
			}
			return txn.Set(msgKey(d.RoomID, id), val)
		})
		if errors.Is(err, badger.ErrConflict) && attempt < badgerRetries {
			log.Debug().Str("module", "storage.badger").Int64("room", int64(d.RoomID)).Int("attempt", attempt).Msg("append conflict, retrying")
			continue
		}
		if err != nil {
			return domain.Message{}, fmt.Errorf("append message: %w", err)
		}
		return rec.message(id), nil
	}
}

// ListMessages walks the room backwards from beforeID and reads one extra
// entry to learn whether older messages exist.
func (s *BadgerStore) ListMessages(ctx context.Context, room domain.RoomID, beforeID *domain.MessageID, limit int) (domain.Page, error) {
	if err := ctx.Err(); err != nil {
		return domain.Page{}, err
	}
	if beforeID != nil && *beforeID <= 1 {
		return domain.Page{Messages: []domain.Message{}}, nil
	}

	prefix := msgPrefix(room)
	var seek []byte
	if beforeID == nil {
		seek = append(slices.Clone(prefix), "99999999999999999999"...)
	} else {
		seek = msgKey(room, *beforeID-1)
	}

	out := make([]domain.Message, 0, limit)
	hasMore := false
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if len(out) == limit {
				hasMore = true
				return nil
			}
			item := it.Item()
			id, err := strconv.ParseInt(string(item.Key()[len(prefix):]), 10, 64)
			if err != nil {
				return fmt.Errorf("bad key %q: %w", item.Key(), err)
			}
			err = item.Value(func(v []byte) error {
				rec, err := decodeRecord(v)
				if err != nil {
					return err
				}
				out = append(out, rec.message(domain.MessageID(id)))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Page{}, fmt.Errorf("list messages: %w", err)
	}
	slices.Reverse(out)
	return domain.Page{Messages: out, HasMore: hasMore}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

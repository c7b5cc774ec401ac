package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dkeye/Relay/internal/domain"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS rooms (
	id         INTEGER PRIMARY KEY,
	is_system  INTEGER NOT NULL DEFAULT 0,
	version    INTEGER NOT NULL DEFAULT 1,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS room_members (
	room_id INTEGER NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
	user_id TEXT    NOT NULL,
	PRIMARY KEY (room_id, user_id)
);`

// SQLiteSource reads membership from the rooms and room_members tables
// maintained by the surrounding application.
type SQLiteSource struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteSource, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("membership path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteSource{db: db}, nil
}

func (s *SQLiteSource) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	r := &domain.Room{ID: id, Members: domain.NewMemberSet()}
	var updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT is_system, version, updated_at FROM rooms WHERE id = ?`, int64(id),
	).Scan(&r.IsSystem, &r.Version, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("room %d: %w", id, domain.ErrRoomNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query room %d: %w", id, err)
	}
	r.UpdatedAt = time.UnixMilli(updated).UTC()

	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM room_members WHERE room_id = ?`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("query members of %d: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		r.Members.Add(domain.UserID(uid))
	}
	return r, rows.Err()
}

// PutRoom replaces the room's member list and bumps its version.
func (s *SQLiteSource) PutRoom(ctx context.Context, room *domain.Room) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().UnixMilli()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO rooms (id, is_system, version, updated_at) VALUES (?, ?, 1, ?)
		ON CONFLICT(id) DO UPDATE SET is_system = excluded.is_system, version = rooms.version + 1, updated_at = excluded.updated_at`,
		int64(room.ID), room.IsSystem, now,
	); err != nil {
		return fmt.Errorf("upsert room %d: %w", room.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM room_members WHERE room_id = ?`, int64(room.ID)); err != nil {
		return fmt.Errorf("clear members of %d: %w", room.ID, err)
	}
	for _, uid := range room.Members.Sorted() {
		if _, err := tx.ExecContext(ctx, `INSERT INTO room_members (room_id, user_id) VALUES (?, ?)`, int64(room.ID), string(uid)); err != nil {
			return fmt.Errorf("add member %s to %d: %w", uid, room.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteSource) DeleteRoom(ctx context.Context, id domain.RoomID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, int64(id))
	return err
}

func (s *SQLiteSource) Close() error {
	return s.db.Close()
}

package core

import (
	"context"

	"github.com/dkeye/Relay/internal/domain"
)

//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_store.go -package=mocks

// MessageStore is a durable append-only log per room.
type MessageStore interface {
	// AppendMessage assigns a message id strictly greater than every earlier id in the room.
	AppendMessage(ctx context.Context, draft domain.Draft) (domain.Message, error)
	// ListMessages returns up to limit messages older than beforeID (newest when nil),
	// in chronological order, and whether older ones exist.
	ListMessages(ctx context.Context, room domain.RoomID, beforeID *domain.MessageID, limit int) (domain.Page, error)
	Close() error
}

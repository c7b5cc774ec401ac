package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

type MessageID int64

// Message is immutable once the store assigns its ID.
type Message struct {
	ID        MessageID  `json:"id"`
	RoomID    RoomID     `json:"room_id"`
	Sender    User       `json:"sender"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
	EditedAt  *time.Time `json:"edited_at"`
}

// Draft is a message that passed validation but has no identity yet.
type Draft struct {
	RoomID  RoomID
	Sender  User
	Content string
}

// Page is one slice of room history in chronological order.
type Page struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}

// ValidateContent rejects blank, non UTF-8 and oversized content.
func ValidateContent(content string, maxRunes int) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: content is empty", ErrInvalidMessage)
	}
	if !utf8.ValidString(content) {
		return fmt.Errorf("%w: content is not valid utf-8", ErrInvalidMessage)
	}
	if maxRunes > 0 && utf8.RuneCountInString(content) > maxRunes {
		return fmt.Errorf("%w: content exceeds %d characters", ErrInvalidMessage, maxRunes)
	}
	return nil
}

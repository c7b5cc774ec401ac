package core

import (
	"context"

	"github.com/dkeye/Relay/internal/domain"
)

//go:generate go run go.uber.org/mock/mockgen -source=identity.go -destination=../mocks/mock_identity.go -package=mocks

// Identity validates access tokens issued elsewhere.
type Identity interface {
	// ValidateToken returns domain.ErrInvalidToken (wrapped) for any rejected token.
	ValidateToken(ctx context.Context, token string) (*domain.User, error)
}

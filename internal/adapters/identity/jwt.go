// Package identity validates the bearer tokens clients present in the auth
// frame and on history requests.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Relay/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

var ErrNoSecret = errors.New("identity: empty signing secret")

// Claims carry the user id in the standard subject claim.
type Claims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// JWTValidator accepts HS256 tokens signed with one shared secret.
type JWTValidator struct {
	secret []byte
	issuer string
	parser *jwt.Parser
}

func NewJWTValidator(secret, issuer string, leeway time.Duration) (*JWTValidator, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &JWTValidator{secret: []byte(secret), issuer: issuer, parser: jwt.NewParser(opts...)}, nil
}

func (v *JWTValidator) ValidateToken(ctx context.Context, token string) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if token == "" {
		return nil, fmt.Errorf("%w: no token provided", domain.ErrInvalidToken)
	}
	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	user, err := domain.NewUser(domain.UserID(claims.Subject), claims.Username)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	return user, nil
}

// Issue signs a token for uid valid for ttl. Used by the token tool and tests.
func (v *JWTValidator) Issue(uid domain.UserID, username string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(uid),
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

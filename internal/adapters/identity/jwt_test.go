package identity

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/Relay/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestValidateIssuedToken(t *testing.T) {
	req := require.New(t)
	v, err := NewJWTValidator("test-secret", "relay", 0)
	req.NoError(err)

	token, err := v.Issue("42", "Alice", time.Minute)
	req.NoError(err)

	user, err := v.ValidateToken(context.Background(), token)
	req.NoError(err)
	req.Equal(domain.UserID("42"), user.ID)
	req.Equal("Alice", user.Username)
}

func TestRejectedTokens(t *testing.T) {
	v, err := NewJWTValidator("test-secret", "relay", 0)
	require.NoError(t, err)
	other, err := NewJWTValidator("other-secret", "relay", 0)
	require.NoError(t, err)
	foreign, err := NewJWTValidator("test-secret", "someone-else", 0)
	require.NoError(t, err)

	expired, _ := v.Issue("42", "", -time.Minute)
	wrongKey, _ := other.Issue("42", "", time.Minute)
	wrongIssuer, _ := foreign.Issue("42", "", time.Minute)
	noSubject, _ := v.Issue("", "", time.Minute)
	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "42", Issuer: "relay"},
	}).SignedString([]byte("test-secret"))

	cases := map[string]string{
		"empty":        "",
		"garbage":      "not.a.jwt",
		"expired":      expired,
		"wrong key":    wrongKey,
		"wrong issuer": wrongIssuer,
		"no subject":   noSubject,
		"no expiry":    noExpiry,
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.ValidateToken(context.Background(), token)
			require.ErrorIs(t, err, domain.ErrInvalidToken)
		})
	}
}

func TestNoneAlgorithmRejected(t *testing.T) {
	v, err := NewJWTValidator("test-secret", "", 0)
	require.NoError(t, err)
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "42", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.ValidateToken(context.Background(), token)
	require.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestEmptySecret(t *testing.T) {
	_, err := NewJWTValidator("", "", 0)
	require.ErrorIs(t, err, ErrNoSecret)
}

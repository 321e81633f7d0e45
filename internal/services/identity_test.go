package services

import (
	"context"
	"testing"
	"time"

	"evalhub/config"
	evalhub_errors "evalhub/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func mintToken(t *testing.T, secret string, claims AccessClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestParseAccessToken(t *testing.T) {
	v := NewTokenVerifier(&config.Config{JWTSecret: testSecret})
	userID := uuid.New()

	valid := mintToken(t, testSecret, AccessClaims{
		UserID: userID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})

	claims, err := v.ParseAccessToken(valid)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.UserID)
}

func TestParseAccessTokenRejections(t *testing.T) {
	v := NewTokenVerifier(&config.Config{JWTSecret: testSecret})
	userID := uuid.New()
	fresh := jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, AccessClaims{
		UserID:           userID.String(),
		RegisteredClaims: fresh,
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.token"},
		{"wrong secret", mintToken(t, "another-secret-entirely-32-bytes", AccessClaims{UserID: userID.String(), RegisteredClaims: fresh})},
		{"expired", mintToken(t, testSecret, AccessClaims{
			UserID: userID.String(),
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
				IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			},
		})},
		{"none algorithm", noneToken},
		{"subject is not a uuid", mintToken(t, testSecret, AccessClaims{UserID: "admin", RegisteredClaims: fresh})},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.ParseAccessToken(tc.token)
			require.ErrorIs(t, err, evalhub_errors.ErrUnauthorized)
		})
	}
}

func TestUserContextRoundTrip(t *testing.T) {
	userID := uuid.New()
	ctx := WithUserContext(context.Background(), userID)

	got, ok := UserIDFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, userID, got)

	_, ok = UserIDFromContext(context.Background())
	assert.False(t, ok)
}

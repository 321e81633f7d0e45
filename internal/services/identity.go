package services

import (
	"context"

	"evalhub/config"
	evalhub_errors "evalhub/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenVerifier checks access tokens minted by the platform's auth service.
// This service never issues tokens; it only needs the shared HMAC secret.
type TokenVerifier struct {
	jwtSecret []byte
}

func NewTokenVerifier(cfg *config.Config) *TokenVerifier {
	return &TokenVerifier{jwtSecret: []byte(cfg.JWTSecret)}
}

type AccessClaims struct {
	UserID    string `json:"sub"`
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

func (v *TokenVerifier) ParseAccessToken(tokenString string) (AccessClaims, error) {
	if tokenString == "" {
		return AccessClaims{}, evalhub_errors.ErrUnauthorized
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, evalhub_errors.ErrUnauthorized
		}
		return v.jwtSecret, nil
	})
	if err != nil {
		return AccessClaims{}, evalhub_errors.ErrUnauthorized
	}

	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return AccessClaims{}, evalhub_errors.ErrUnauthorized
	}
	if _, err := uuid.Parse(claims.UserID); err != nil {
		return AccessClaims{}, evalhub_errors.ErrUnauthorized
	}

	return *claims, nil
}

type ctxKey string

var userIDKey ctxKey = "user_id"

func WithUserContext(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	value := ctx.Value(userIDKey)
	if value == nil {
		return uuid.Nil, false
	}
	userID, ok := value.(uuid.UUID)
	return userID, ok
}

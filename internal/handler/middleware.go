package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type contextKey string

const callerIDKey contextKey = "callerID"

// TokenValidator resolves a bearer token to a user id.
type TokenValidator interface {
	ValidateToken(token string) (uuid.UUID, error)
}

// JWTAuthMiddleware validates Bearer tokens and injects the caller id into context.
func JWTAuthMiddleware(tokens TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				logger.Warn("auth: missing or malformed token", zap.String("path", r.URL.Path))
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid authorization header")
				return
			}

			callerID, err := tokens.ValidateToken(parts[1])
			if err != nil {
				logger.Warn("auth: invalid or expired token",
					zap.String("path", r.URL.Path),
					zap.Error(err),
				)
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), callerIDKey, callerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CallerIDFromContext extracts the authenticated user id from context.
func CallerIDFromContext(ctx context.Context) uuid.UUID {
	v, _ := ctx.Value(callerIDKey).(uuid.UUID)
	return v
}

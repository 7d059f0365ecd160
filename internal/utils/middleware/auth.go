package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	apperrors "github.com/inkwell/server/internal/shared/errors"
	"github.com/inkwell/server/internal/shared/response"
	"github.com/inkwell/server/internal/utils/requestctx"
)

const (
	AuthorizationHeader = "Authorization"
	BearerPrefix        = "Bearer "
	// UserIDKey is the gin context key for the authenticated user.
	UserIDKey = "user_id"
	// EmailKey is the gin context key for the authenticated email.
	EmailKey = "email"
)

// TokenValidator validates a user access token.
type TokenValidator interface {
	ValidateToken(token string) (userID uuid.UUID, email string, err error)
}

// APIKeyResolver maps a platform API key to its owner.
type APIKeyResolver interface {
	ResolveAPIKey(ctx context.Context, key string) (uuid.UUID, error)
}

// RequireAuth rejects requests without a valid bearer access token.
func RequireAuth(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" {
			response.AbortFail(c, http.StatusUnauthorized, apperrors.CodeUnauthorized, "authorization header required", nil)
			return
		}

		userID, email, err := validator.ValidateToken(token)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, apperrors.CodeUnauthorized, "invalid or expired token", nil)
			return
		}

		setIdentity(c, userID)
		c.Set(EmailKey, email)
		c.Next()
	}
}

// RequireAPIKey rejects requests without an active platform API key.
func RequireAPIKey(resolver APIKeyResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := extractBearerToken(c)
		if key == "" {
			response.AbortFail(c, http.StatusUnauthorized, apperrors.CodeUnauthorized, "API key required", nil)
			return
		}

		userID, err := resolver.ResolveAPIKey(c.Request.Context(), key)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, apperrors.CodeUnauthorized, "invalid API key", nil)
			return
		}

		setIdentity(c, userID)
		c.Next()
	}
}

func setIdentity(c *gin.Context, userID uuid.UUID) {
	c.Set(UserIDKey, userID)
	c.Request = c.Request.WithContext(requestctx.WithUserID(c.Request.Context(), userID))
}

func extractBearerToken(c *gin.Context) string {
	header := c.GetHeader(AuthorizationHeader)
	if !strings.HasPrefix(header, BearerPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, BearerPrefix))
}

// GetUserID returns the authenticated user, or uuid.Nil.
func GetUserID(c *gin.Context) uuid.UUID {
	if val, exists := c.Get(UserIDKey); exists {
		if userID, ok := val.(uuid.UUID); ok {
			return userID
		}
	}
	return uuid.Nil
}

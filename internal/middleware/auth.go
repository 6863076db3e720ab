package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"messenger/internal/modules/token"

	"github.com/gin-gonic/gin"
)

// AccessVerifier validates a bearer access token and returns its claims.
type AccessVerifier interface {
	VerifyAccessToken(ctx context.Context, tokenStr string) (*token.Claims, error)
}

// Auth extracts and verifies the bearer token and puts user_id and
// device_id into the request context.
func Auth(verifier AccessVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, ok := bearerToken(c)
		if !ok {
			abortUnauthorized(c, "UNAUTHORIZED", "Missing or malformed Authorization header")
			return
		}

		claims, err := verifier.VerifyAccessToken(c.Request.Context(), tokenStr)
		if err != nil {
			if errors.Is(err, token.ErrTokenExpired) {
				abortUnauthorized(c, "TOKEN_EXPIRED", "Access token has expired")
				return
			}
			abortUnauthorized(c, "INVALID_TOKEN", "Access token is invalid")
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("device_id", claims.DeviceID)

		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	h := c.GetHeader("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	tokenStr := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	return tokenStr, tokenStr != ""
}

func abortUnauthorized(c *gin.Context, code, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

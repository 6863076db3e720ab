package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"messenger/internal/modules/token"
)

type stubVerifier struct {
	claims *token.Claims
	err    error
}

func (v *stubVerifier) VerifyAccessToken(ctx context.Context, tokenStr string) (*token.Claims, error) {
	if v.err != nil {
		return nil, v.err
	}
	return v.claims, nil
}

func protectedRouter(verifier AccessVerifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Auth(verifier))
	router.GET("/protected", func(c *gin.Context) {
		userID, _ := c.Get("user_id")
		deviceID, _ := c.Get("device_id")
		c.JSON(http.StatusOK, gin.H{"user_id": userID, "device_id": deviceID})
	})
	return router
}

func TestAuth_ValidToken(t *testing.T) {
	router := protectedRouter(&stubVerifier{
		claims: &token.Claims{UserID: 42, DeviceID: "d1", Kind: token.KindAccess},
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "42")
	assert.Contains(t, w.Body.String(), "d1")
}

func TestAuth_InvalidToken(t *testing.T) {
	router := protectedRouter(&stubVerifier{err: token.ErrInvalidToken})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_TOKEN")
}

func TestAuth_ExpiredToken(t *testing.T) {
	router := protectedRouter(&stubVerifier{err: token.ErrTokenExpired})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer stale")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "TOKEN_EXPIRED")
}

func TestAuth_MissingHeader(t *testing.T) {
	router := protectedRouter(&stubVerifier{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/protected", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "UNAUTHORIZED")
}

func TestAuth_MalformedHeader(t *testing.T) {
	router := protectedRouter(&stubVerifier{})

	for _, header := range []string{"some-token", "Basic dXNlcg==", "Bearer "} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/protected", nil)
		req.Header.Set("Authorization", header)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code, header)
	}
}

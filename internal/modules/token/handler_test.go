package token

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messenger/internal/domain"
	"messenger/internal/store"
)

func newHandlerRouter(svc *Service, userID int64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := NewHandler(svc)

	v1 := router.Group("/api/v1")
	h.RegisterPublicRoutes(v1)

	protected := v1.Group("/")
	protected.Use(func(c *gin.Context) {
		if userID != 0 {
			c.Set("user_id", userID)
		}
		c.Next()
	})
	h.RegisterProtectedRoutes(protected)

	return router
}

func postJSON(router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", path, &buf)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestHandler_Refresh(t *testing.T) {
	users := new(mockUserReader)
	users.On("GetByID", mock.Anything, int64(7)).Return(activeUser(7), nil)
	svc := newTestService(testSnapshot(), users, nil)

	refresh, err := svc.MintRefreshToken(context.Background(), 7, "d1", domain.DeviceInfo{})
	require.NoError(t, err)

	router := newHandlerRouter(svc, 0)
	w := postJSON(router, "/api/v1/auth/refresh", gin.H{"refresh_token": refresh})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"success":true`)
	assert.Contains(t, w.Body.String(), `"access_token"`)
	// No silent rotation: the same refresh token comes back.
	assert.Contains(t, w.Body.String(), refresh)
}

func TestHandler_Refresh_InvalidBody(t *testing.T) {
	router := newHandlerRouter(newTestService(testSnapshot(), nil, nil), 0)

	w := postJSON(router, "/api/v1/auth/refresh", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "VALIDATION_ERROR")
}

func TestHandler_Refresh_RevokedToken(t *testing.T) {
	st := new(mockSecurityStore)
	st.On("Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	st.On("Get", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, store.ErrNotFound)
	st.On("Deactivate", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	svc := newTestService(testSnapshot(), nil, st)

	refresh, err := svc.MintRefreshToken(context.Background(), 7, "d1", domain.DeviceInfo{})
	require.NoError(t, err)
	claims, err := svc.verify(context.Background(), refresh, KindRefresh)
	require.NoError(t, err)
	require.NoError(t, svc.RevokeRefreshToken(context.Background(), claims.TokenID))

	router := newHandlerRouter(svc, 0)
	w := postJSON(router, "/api/v1/auth/refresh", gin.H{"refresh_token": refresh})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "TOKEN_REVOKED")
}

func TestHandler_Logout(t *testing.T) {
	st := new(mockSecurityStore)
	st.On("Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	st.On("Get", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, store.ErrNotFound)
	st.On("Deactivate", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	svc := newTestService(testSnapshot(), nil, st)

	refresh, err := svc.MintRefreshToken(context.Background(), 7, "d1", domain.DeviceInfo{})
	require.NoError(t, err)

	router := newHandlerRouter(svc, 0)

	w := postJSON(router, "/api/v1/auth/logout", gin.H{"refresh_token": refresh})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"revoked":true`)

	// Logging out twice is fine; the second call is a no-op.
	w = postJSON(router, "/api/v1/auth/logout", gin.H{"refresh_token": refresh})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"revoked":false`)
}

func TestHandler_Logout_StoreUnavailable(t *testing.T) {
	st := new(mockSecurityStore)
	st.On("Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	st.On("Deactivate", mock.Anything, mock.Anything, mock.Anything).Return(store.ErrUnavailable)
	svc := newTestService(testSnapshot(), nil, st)

	refresh, err := svc.MintRefreshToken(context.Background(), 7, "d1", domain.DeviceInfo{})
	require.NoError(t, err)

	router := newHandlerRouter(svc, 0)
	w := postJSON(router, "/api/v1/auth/logout", gin.H{"refresh_token": refresh})

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "STORE_UNAVAILABLE")
}

func TestHandler_RevokeAll(t *testing.T) {
	st := new(mockSecurityStore)
	st.On("Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	st.On("Deactivate", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	st.On("DeactivateBySubject", mock.Anything, "security", int64(7), "d1").Return(int64(2), nil).Once()
	svc := newTestService(testSnapshot(), nil, st)

	router := newHandlerRouter(svc, 7)
	w := postJSON(router, "/api/v1/auth/sessions/revoke", gin.H{"device_id": "d1"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"revoked":true`)
	st.AssertExpectations(t)
}

func TestHandler_RevokeAll_Unauthenticated(t *testing.T) {
	svc := newTestService(testSnapshot(), nil, nil)

	router := newHandlerRouter(svc, 0)
	w := postJSON(router, "/api/v1/auth/sessions/revoke", gin.H{})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

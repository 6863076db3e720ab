package token

import (
	"errors"
	"net/http"

	"messenger/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterPublicRoutes(v1 *gin.RouterGroup) {
	authGroup := v1.Group("/auth")
	{
		authGroup.POST("/refresh", h.Refresh)
		authGroup.POST("/logout", h.Logout)
	}
}

func (h *Handler) RegisterProtectedRoutes(protected *gin.RouterGroup) {
	protected.POST("/auth/sessions/revoke", h.RevokeAll)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func (h *Handler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}

	pair, err := h.service.RefreshAccessToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenExpired):
			response.Error(c, http.StatusUnauthorized, "TOKEN_EXPIRED", "Refresh token has expired")
		case errors.Is(err, ErrTokenRevoked):
			response.Error(c, http.StatusUnauthorized, "TOKEN_REVOKED", "Refresh token has been revoked")
		case errors.Is(err, ErrInvalidToken):
			response.Error(c, http.StatusUnauthorized, "INVALID_TOKEN", "Refresh token is invalid")
		default:
			response.Error(c, http.StatusInternalServerError, "REFRESH_FAILED", "Failed to refresh access token")
		}
		return
	}

	response.Success(c, http.StatusOK, pair)
}

// Logout revokes the presented refresh token. The access token is left
// to expire on its own.
func (h *Handler) Logout(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}

	rec, err := h.service.VerifyRefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		// Already expired or revoked: logout is idempotent.
		if errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrTokenRevoked) {
			response.Success(c, http.StatusOK, gin.H{"revoked": false})
			return
		}
		response.Error(c, http.StatusUnauthorized, "INVALID_TOKEN", "Refresh token is invalid")
		return
	}

	if err := h.service.RevokeRefreshToken(c.Request.Context(), rec.TokenID); err != nil {
		response.Error(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Could not persist revocation, please retry")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

type revokeAllRequest struct {
	DeviceID string `json:"device_id"`
}

// RevokeAll revokes every refresh token of the authenticated user,
// optionally narrowed to one device.
func (h *Handler) RevokeAll(c *gin.Context) {
	userID := c.GetInt64("user_id")
	if userID == 0 {
		response.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}

	var req revokeAllRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}

	if err := h.service.RevokeAllUserTokens(c.Request.Context(), userID, req.DeviceID); err != nil {
		response.Error(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Could not persist revocation, please retry")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

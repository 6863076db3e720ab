package qrlogin

import (
	"errors"
	"net/http"

	"messenger/internal/domain"
	"messenger/internal/modules/token"
	"messenger/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterPublicRoutes wires the endpoints the not-yet-authenticated
// web device calls.
func (h *Handler) RegisterPublicRoutes(v1 *gin.RouterGroup) {
	qrGroup := v1.Group("/auth/qr")
	{
		qrGroup.POST("/generate", h.Generate)
		qrGroup.GET("/:session_id/status", h.Status)
		qrGroup.DELETE("/:session_id", h.Cancel)
	}
}

// RegisterProtectedRoutes wires the endpoints the authenticated mobile
// device calls.
func (h *Handler) RegisterProtectedRoutes(protected *gin.RouterGroup) {
	qrGroup := protected.Group("/auth/qr")
	{
		qrGroup.POST("/scan", h.Scan)
		qrGroup.POST("/confirm", h.Confirm)
	}
}

type generateRequest struct {
	DeviceInfo   *domain.DeviceInfo `json:"device_info"`
	ConnectionID string             `json:"connection_id"`
}

func (h *Handler) Generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}

	result, err := h.service.Generate(c.Request.Context(), req.DeviceInfo, req.ConnectionID)
	if err != nil {
		if errors.Is(err, ErrTooManySessions) {
			response.Error(c, http.StatusTooManyRequests, "TOO_MANY_SESSIONS", "Too many concurrent login sessions, try again shortly")
			return
		}
		response.Error(c, http.StatusInternalServerError, "QR_GENERATE_FAILED", "Failed to create login session")
		return
	}

	response.Success(c, http.StatusCreated, result)
}

type scanRequest struct {
	Token        string `json:"token" binding:"required"`
	ConnectionID string `json:"connection_id"`
}

func (h *Handler) Scan(c *gin.Context) {
	userID := c.GetInt64("user_id")
	if userID == 0 {
		response.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}

	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}

	result, err := h.service.Scan(c.Request.Context(), req.Token, userID, req.ConnectionID)
	if err != nil {
		h.writeSessionError(c, err, "QR_SCAN_FAILED", "Failed to scan login session")
		return
	}

	response.Success(c, http.StatusOK, result)
}

type confirmRequest struct {
	SessionID  string            `json:"session_id" binding:"required"`
	DeviceInfo domain.DeviceInfo `json:"device_info"`
	Approved   bool              `json:"approved"`
}

func (h *Handler) Confirm(c *gin.Context) {
	userID := c.GetInt64("user_id")
	if userID == 0 {
		response.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}

	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}

	err := h.service.Confirm(c.Request.Context(), ConfirmRequest{
		SessionID:  req.SessionID,
		UserID:     userID,
		DeviceInfo: req.DeviceInfo,
		Approved:   req.Approved,
	})
	if err != nil {
		h.writeSessionError(c, err, "QR_CONFIRM_FAILED", "Failed to confirm login session")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"approved": req.Approved})
}

func (h *Handler) Status(c *gin.Context) {
	result, err := h.service.Status(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			response.Error(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Login session not found")
			return
		}
		response.Error(c, http.StatusInternalServerError, "QR_STATUS_FAILED", "Failed to read login session")
		return
	}

	response.Success(c, http.StatusOK, result)
}

func (h *Handler) Cancel(c *gin.Context) {
	err := h.service.Cancel(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		h.writeSessionError(c, err, "QR_CANCEL_FAILED", "Failed to cancel login session")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"cancelled": true})
}

// writeSessionError maps the session error taxonomy onto specific
// client-visible codes, never a bare 500: the client decides whether to
// retry, re-scan or restart the flow.
func (h *Handler) writeSessionError(c *gin.Context, err error, fallbackCode, fallbackMsg string) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		response.Error(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Login session not found")
	case errors.Is(err, ErrSessionAlreadyUsed):
		response.Error(c, http.StatusConflict, "SESSION_ALREADY_USED", "Login session has already been used")
	case errors.Is(err, ErrSessionExpired):
		response.Error(c, http.StatusGone, "SESSION_EXPIRED", "Login session has expired, generate a new code")
	case errors.Is(err, ErrOwnershipMismatch):
		response.Error(c, http.StatusForbidden, "OWNERSHIP_MISMATCH", "Login session belongs to another user")
	case errors.Is(err, ErrUserInactive):
		response.Error(c, http.StatusForbidden, "USER_INACTIVE", "This account is not allowed to sign in")
	case errors.Is(err, token.ErrInvalidToken):
		response.Error(c, http.StatusUnauthorized, "INVALID_TOKEN", "QR token is invalid")
	default:
		response.Error(c, http.StatusInternalServerError, fallbackCode, fallbackMsg)
	}
}

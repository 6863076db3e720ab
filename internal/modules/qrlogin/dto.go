package qrlogin

import "messenger/internal/domain"

// GenerateResult is returned to the web device that requested a login.
type GenerateResult struct {
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
	Image     string `json:"image"`
	ExpiresIn int64  `json:"expires_in"`
}

// ScanResult is returned to the mobile device that scanned the code.
type ScanResult struct {
	SessionID            string `json:"session_id"`
	RequiresConfirmation bool   `json:"requires_confirmation"`
}

// ConfirmRequest carries the mobile device's decision.
type ConfirmRequest struct {
	SessionID  string            `json:"session_id"`
	UserID     int64             `json:"-"`
	DeviceInfo domain.DeviceInfo `json:"device_info"`
	Approved   bool              `json:"approved"`
}

// StatusResult is the polling fallback for clients without a live push
// connection.
type StatusResult struct {
	Status    domain.QRSessionStatus `json:"status"`
	IsScanned bool                   `json:"is_scanned"`
	IsUsed    bool                   `json:"is_used"`
	User      *domain.DisplayInfo    `json:"user,omitempty"`
	Tokens    *domain.TokenPair      `json:"tokens,omitempty"`
}

// Push event names on the realtime channel.
const (
	eventScanned   = "qr_scanned"
	eventSuccess   = "qr_login_success"
	eventConfirmed = "qr_login_confirmed"
	eventRejected  = "qr_rejected"
	eventCancelled = "qr_cancelled"
)

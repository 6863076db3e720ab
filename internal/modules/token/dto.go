package token

import (
	"messenger/internal/domain"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
	KindQR      Kind = "qr"
	KindAdmin   Kind = "admin"
)

// Claims is the decoded payload shared by all four token kinds. Kind
// determines which of the optional fields are populated: refresh carries
// TokenID, QR carries SessionID (and optionally DeviceInfo), admin
// carries Role, Permissions and SessionID.
type Claims struct {
	UserID      int64              `json:"user_id,omitempty"`
	DeviceID    string             `json:"device_id,omitempty"`
	Kind        Kind               `json:"kind"`
	TokenID     string             `json:"token_id,omitempty"`
	SessionID   string             `json:"session_id,omitempty"`
	Role        string             `json:"role,omitempty"`
	Permissions []string           `json:"permissions,omitempty"`
	DeviceInfo  *domain.DeviceInfo `json:"device_info,omitempty"`
	jwtlib.RegisteredClaims
}

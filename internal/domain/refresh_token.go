package domain

import "time"

// RefreshTokenRecord is the registry entry behind a signed refresh token.
//
// Security notes:
// - The signed token only carries the token id; this record, not the
//   token payload, is authoritative for validity.
// - Revocation flips IsActive to false. Records are never hard-deleted
//   from the durable tier, only evicted from the in-process cache.
type RefreshTokenRecord struct {
	UserID     int64      `json:"user_id"`
	DeviceID   string     `json:"device_id"`
	TokenID    string     `json:"token_id"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	IsActive   bool       `json:"is_active"`
	DeviceInfo DeviceInfo `json:"device_info"`
}

func (r *RefreshTokenRecord) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Valid reports whether the record can still be exchanged for access
// tokens at the given instant.
func (r *RefreshTokenRecord) Valid(now time.Time) bool {
	return r.IsActive && !r.IsExpired(now)
}

// DeviceInfo describes the device a credential is bound to. It is
// encrypted at rest inside the durable store.
type DeviceInfo struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name,omitempty"`
	Platform   string `json:"platform,omitempty"`
	AppVersion string `json:"app_version,omitempty"`
	IP         string `json:"ip,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
}

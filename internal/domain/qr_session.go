package domain

import "time"

type QRSessionStatus string

const (
	QRStatusPending   QRSessionStatus = "pending"
	QRStatusScanned   QRSessionStatus = "scanned"
	QRStatusConfirmed QRSessionStatus = "confirmed"
	QRStatusRejected  QRSessionStatus = "rejected"
	QRStatusExpired   QRSessionStatus = "expired"
)

// QRSession is one cross-device login handshake: created by the web
// device, scanned and then confirmed or rejected by the mobile device.
//
// Transitions are monotonic: pending -> scanned -> used|rejected, and
// any non-terminal state -> expired. IsUsed flips false -> true exactly
// once; after that every scan/confirm/reject attempt must fail.
type QRSession struct {
	SessionID       string      `json:"session_id"`
	Token           string      `json:"token"`
	ImagePayload    string      `json:"image_payload,omitempty"`
	ExpiresAt       time.Time   `json:"expires_at"`
	IsUsed          bool        `json:"is_used"`
	IsScanned       bool        `json:"is_scanned"`
	IsRejected      bool        `json:"is_rejected"`
	UserID          int64       `json:"user_id,omitempty"`
	DeviceInfo      *DeviceInfo `json:"device_info,omitempty"`
	InitiatorConnID string      `json:"initiator_conn_id,omitempty"`
	ConfirmerConnID string      `json:"confirmer_conn_id,omitempty"`

	// Tokens is populated on confirmation and held until the grace
	// cleanup so the polling fallback can still deliver the pair when
	// the push event was lost.
	Tokens       *TokenPair `json:"tokens,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActivity time.Time  `json:"last_activity"`
}

func (s *QRSession) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Status derives the coarse client-visible state from the flags. Expiry
// is recomputed lazily so callers never see a stale "pending" after the
// deadline, regardless of whether the sweep has run.
func (s *QRSession) Status(now time.Time) QRSessionStatus {
	switch {
	case s.IsUsed:
		return QRStatusConfirmed
	case s.IsRejected:
		return QRStatusRejected
	case s.IsExpired(now):
		return QRStatusExpired
	case s.IsScanned:
		return QRStatusScanned
	default:
		return QRStatusPending
	}
}

package qrlogin

import (
	"context"
	"time"

	"messenger/internal/config"
	"messenger/internal/domain"
	"messenger/internal/modules/token"
	"messenger/internal/store"
)

// ConfigSource supplies a live configuration snapshot, read per operation.
type ConfigSource interface {
	Current(ctx context.Context) *config.Snapshot
}

// TokenService is the mint/verify surface the QR manager needs. It never
// reaches into refresh-token records directly.
type TokenService interface {
	MintQRToken(ctx context.Context, sessionID string, info *domain.DeviceInfo) (string, time.Duration, error)
	VerifyQRToken(ctx context.Context, tokenStr string) (*token.Claims, error)
	MintTokenPair(ctx context.Context, userID int64, deviceID string, info domain.DeviceInfo) (*domain.TokenPair, error)
}

// UserReader looks up accounts for scan validation and display info.
type UserReader interface {
	GetByID(ctx context.Context, id int64) (*domain.User, error)
}

// SecurityStore is the durable tier that lets sessions survive restarts.
type SecurityStore interface {
	Set(ctx context.Context, category, key string, meta store.Meta, value any) error
	Get(ctx context.Context, category, key string, dest any) (*store.Meta, error)
	Delete(ctx context.Context, category, key string) error
	DeleteExpired(ctx context.Context, category, keyPrefix string, before time.Time) (int64, error)
}

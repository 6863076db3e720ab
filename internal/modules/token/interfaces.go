package token

import (
	"context"

	"messenger/internal/config"
	"messenger/internal/domain"
	"messenger/internal/store"
)

// ConfigSource supplies a live configuration snapshot, read per operation.
type ConfigSource interface {
	Current(ctx context.Context) *config.Snapshot
}

// UserReader is the single lookup token verification needs.
type UserReader interface {
	GetByID(ctx context.Context, id int64) (*domain.User, error)
}

// SecurityStore is the durable tier of the refresh registry.
type SecurityStore interface {
	Set(ctx context.Context, category, key string, meta store.Meta, value any) error
	Get(ctx context.Context, category, key string, dest any) (*store.Meta, error)
	Deactivate(ctx context.Context, category, key string) error
	DeactivateBySubject(ctx context.Context, category string, subjectID int64, deviceID string) (int64, error)
}

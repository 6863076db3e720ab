package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"messenger/internal/pkg/cryptox"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound means no record exists under the category/key pair.
	ErrNotFound = errors.New("record not found")
	// ErrUnavailable wraps durable-store I/O failures. Callers keep
	// serving from cache and may retry the write; revocation callers
	// must surface it.
	ErrUnavailable = errors.New("store unavailable")
)

// Meta carries the plaintext index columns stored next to the encrypted
// payload. Bulk operations (revoke-all, expiry sweeps) match on these
// without decrypting anything.
type Meta struct {
	SubjectID int64
	DeviceID  string
	Active    bool
	ExpiresAt time.Time
}

type securityRecord struct {
	ID         int64     `gorm:"primaryKey"`
	Category   string    `gorm:"size:32;uniqueIndex:idx_category_key;not null"`
	Key        string    `gorm:"size:128;uniqueIndex:idx_category_key;not null"`
	SubjectID  int64     `gorm:"index"`
	DeviceID   string    `gorm:"size:128;index"`
	Active     bool      `gorm:"index"`
	ExpiresAt  time.Time `gorm:"index"`
	Ciphertext []byte    `gorm:"not null"`
	Nonce      []byte    `gorm:"size:12;not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (securityRecord) TableName() string { return "security_records" }

// SecureStore is the durable tier for refresh tokens and QR sessions:
// a generic key/value store over gorm with AES-GCM encrypted payloads.
type SecureStore struct {
	db  *gorm.DB
	key []byte
}

func NewSecureStore(db *gorm.DB, encryptionKey []byte) *SecureStore {
	return &SecureStore{db: db, key: encryptionKey}
}

// Migrate creates the backing table.
func (s *SecureStore) Migrate() error {
	return s.db.AutoMigrate(&securityRecord{})
}

// Set upserts the encrypted payload under category/key.
func (s *SecureStore) Set(ctx context.Context, category, key string, meta Meta, value any) error {
	ciphertext, nonce, err := cryptox.Seal(value, s.key)
	if err != nil {
		return fmt.Errorf("seal %s/%s: %w", category, key, err)
	}

	rec := securityRecord{
		Category:   category,
		Key:        key,
		SubjectID:  meta.SubjectID,
		DeviceID:   meta.DeviceID,
		Active:     meta.Active,
		ExpiresAt:  meta.ExpiresAt,
		Ciphertext: ciphertext,
		Nonce:      nonce,
	}

	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "category"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"subject_id", "device_id", "active", "expires_at", "ciphertext", "nonce", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get decrypts the payload under category/key into dest and returns the
// index columns alongside it.
func (s *SecureStore) Get(ctx context.Context, category, key string, dest any) (*Meta, error) {
	var rec securityRecord
	err := s.db.WithContext(ctx).Where("category = ? AND key = ?", category, key).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := cryptox.Open(rec.Ciphertext, rec.Nonce, s.key, dest); err != nil {
		return nil, fmt.Errorf("open %s/%s: %w", category, key, err)
	}

	return &Meta{
		SubjectID: rec.SubjectID,
		DeviceID:  rec.DeviceID,
		Active:    rec.Active,
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

func (s *SecureStore) Delete(ctx context.Context, category, key string) error {
	err := s.db.WithContext(ctx).Where("category = ? AND key = ?", category, key).Delete(&securityRecord{}).Error
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Deactivate flips the active flag without deleting the row, so revoked
// credentials stay auditable. Idempotent.
func (s *SecureStore) Deactivate(ctx context.Context, category, key string) error {
	err := s.db.WithContext(ctx).Model(&securityRecord{}).
		Where("category = ? AND key = ? AND active = ?", category, key, true).
		Update("active", false).Error
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// DeactivateBySubject bulk-revokes every active record for a subject,
// optionally narrowed to one device. Covers records that were never
// loaded into the fast cache.
func (s *SecureStore) DeactivateBySubject(ctx context.Context, category string, subjectID int64, deviceID string) (int64, error) {
	q := s.db.WithContext(ctx).Model(&securityRecord{}).
		Where("category = ? AND subject_id = ? AND active = ?", category, subjectID, true)
	if deviceID != "" {
		q = q.Where("device_id = ?", deviceID)
	}

	res := q.Update("active", false)
	if res.Error != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteExpired removes every record under the key prefix whose
// persisted expiry has passed. The prefix keeps the QR sweep away from
// refresh records, which share the category but are soft-revoked, not
// deleted.
func (s *SecureStore) DeleteExpired(ctx context.Context, category, keyPrefix string, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("category = ? AND key LIKE ? AND expires_at < ?", category, keyPrefix+"%", before).
		Delete(&securityRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, res.Error)
	}
	return res.RowsAffected, nil
}

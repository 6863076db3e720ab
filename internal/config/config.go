package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultIssuer   = "messenger"
	defaultAudience = "messenger-clients"

	defaultAccessTTL  = "15m"
	defaultRefreshTTL = "7d"
	defaultQRTTL      = "5m"
	defaultAdminTTL   = "1h"

	defaultMaxQRSessions      = 50
	defaultQRSweepInterval    = time.Minute
	defaultQRCleanupGrace     = 10 * time.Second
	defaultRateLimitPerMinute = 120

	defaultAccessSecret  = "change-me-access-secret"
	defaultRefreshSecret = "change-me-refresh-secret"
	defaultQRSecret      = "change-me-qr-secret"
	defaultAdminSecret   = "change-me-admin-secret"
	defaultStorageSecret = "change-me-storage-secret"
)

// Snapshot is one immutable view of the runtime configuration. Consumers
// always read a fresh snapshot through the Provider instead of holding on
// to a reference.
type Snapshot struct {
	AppEnv string

	Issuer   string
	Audience string

	AccessTokenSecret  string
	RefreshTokenSecret string
	QRTokenSecret      string
	AdminTokenSecret   string

	// StorageEncryptionSecret seeds the AES key for payloads written to
	// the durable security store.
	StorageEncryptionSecret string

	// Token lifetimes as <number><unit> strings; parsed at mint time so a
	// bad value surfaces as a configuration error on the operation that
	// depends on it.
	AccessTokenTTL  string
	RefreshTokenTTL string
	QRTokenTTL      string
	AdminTokenTTL   string

	MaxQRSessions      int
	QRSweepInterval    time.Duration
	QRCleanupGrace     time.Duration
	RateLimitPerMinute int
}

// LoadFromEnv builds the hard-default snapshot, with env overrides. This
// is the bottom of the Provider's fallback chain and the bootstrap
// configuration before the settings store is reachable.
func LoadFromEnv() (*Snapshot, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = strings.TrimSpace(os.Getenv("ENV"))
	}
	if appEnv == "" {
		appEnv = "dev"
	}

	s := &Snapshot{
		AppEnv: strings.ToLower(appEnv),

		Issuer:   getEnv("TOKEN_ISSUER", defaultIssuer),
		Audience: getEnv("TOKEN_AUDIENCE", defaultAudience),

		AccessTokenSecret:       getEnv("ACCESS_TOKEN_SECRET", defaultAccessSecret),
		RefreshTokenSecret:      getEnv("REFRESH_TOKEN_SECRET", defaultRefreshSecret),
		QRTokenSecret:           getEnv("QR_TOKEN_SECRET", defaultQRSecret),
		AdminTokenSecret:        getEnv("ADMIN_TOKEN_SECRET", defaultAdminSecret),
		StorageEncryptionSecret: getEnv("STORAGE_ENCRYPTION_SECRET", defaultStorageSecret),

		AccessTokenTTL:  getEnv("ACCESS_TOKEN_TTL", defaultAccessTTL),
		RefreshTokenTTL: getEnv("REFRESH_TOKEN_TTL", defaultRefreshTTL),
		QRTokenTTL:      getEnv("QR_TOKEN_TTL", defaultQRTTL),
		AdminTokenTTL:   getEnv("ADMIN_TOKEN_TTL", defaultAdminTTL),

		MaxQRSessions:      getEnvInt("QR_MAX_SESSIONS", defaultMaxQRSessions),
		QRSweepInterval:    defaultQRSweepInterval,
		QRCleanupGrace:     defaultQRCleanupGrace,
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", defaultRateLimitPerMinute),
	}

	if v := os.Getenv("QR_SWEEP_INTERVAL"); v != "" {
		d, err := ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("QR_SWEEP_INTERVAL: %w", err)
		}
		s.QRSweepInterval = d
	}
	if v := os.Getenv("QR_CLEANUP_GRACE"); v != "" {
		d, err := ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("QR_CLEANUP_GRACE: %w", err)
		}
		s.QRCleanupGrace = d
	}

	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Snapshot) validate() error {
	for name, ttl := range map[string]string{
		"ACCESS_TOKEN_TTL":  s.AccessTokenTTL,
		"REFRESH_TOKEN_TTL": s.RefreshTokenTTL,
		"QR_TOKEN_TTL":      s.QRTokenTTL,
		"ADMIN_TOKEN_TTL":   s.AdminTokenTTL,
	} {
		if _, err := ParseDuration(ttl); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if s.MaxQRSessions <= 0 {
		return fmt.Errorf("QR_MAX_SESSIONS must be > 0")
	}
	if s.QRSweepInterval <= 0 {
		return fmt.Errorf("QR_SWEEP_INTERVAL must be > 0")
	}

	if isProdLike(s.AppEnv) {
		for name, pair := range map[string][2]string{
			"ACCESS_TOKEN_SECRET":       {s.AccessTokenSecret, defaultAccessSecret},
			"REFRESH_TOKEN_SECRET":      {s.RefreshTokenSecret, defaultRefreshSecret},
			"QR_TOKEN_SECRET":           {s.QRTokenSecret, defaultQRSecret},
			"ADMIN_TOKEN_SECRET":        {s.AdminTokenSecret, defaultAdminSecret},
			"STORAGE_ENCRYPTION_SECRET": {s.StorageEncryptionSecret, defaultStorageSecret},
		} {
			if isEmptyOrDefault(pair[0], pair[1]) {
				return fmt.Errorf("in prod/release %s must be set and not default", name)
			}
		}
	}
	return nil
}

// clone returns a copy that an overlay may mutate without touching the
// published snapshot.
func (s *Snapshot) clone() *Snapshot {
	dup := *s
	return &dup
}

func isProdLike(env string) bool {
	env = strings.ToLower(strings.TrimSpace(env))
	return env == "prod" || env == "production" || env == "release"
}

func isEmptyOrDefault(v, def string) bool {
	trimmed := strings.TrimSpace(v)
	return trimmed == "" || trimmed == def
}

func getEnv(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(name string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

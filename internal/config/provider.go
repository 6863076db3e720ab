package config

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SettingsSource reads the raw key/value overrides from the backing
// store. Implementations may fail transiently; the Provider absorbs
// that with its fallback chain.
type SettingsSource interface {
	Load(ctx context.Context) (map[string]string, error)
}

// Provider hands out TTL-cached configuration snapshots.
//
// Fallback chain on refresh: live settings store -> last-known-good
// snapshot -> env/hard defaults. A refresh failure is logged loudly but
// never propagated; callers always get a usable snapshot.
type Provider struct {
	source   SettingsSource
	defaults *Snapshot
	cacheTTL time.Duration
	logger   *zap.Logger

	mu       sync.RWMutex
	current  *Snapshot
	loadedAt time.Time
}

func NewProvider(source SettingsSource, defaults *Snapshot, cacheTTL time.Duration, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		source:   source,
		defaults: defaults,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

// Current returns the active snapshot, refreshing from the settings
// store when the cached one is older than the TTL.
func (p *Provider) Current(ctx context.Context) *Snapshot {
	p.mu.RLock()
	snap, loadedAt := p.current, p.loadedAt
	p.mu.RUnlock()

	if snap != nil && time.Since(loadedAt) < p.cacheTTL {
		return snap
	}
	return p.refresh(ctx)
}

// Invalidate drops the cached snapshot so the next read goes to the
// settings store.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.loadedAt = time.Time{}
	p.mu.Unlock()
}

func (p *Provider) refresh(ctx context.Context) *Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Another caller may have refreshed while we waited for the lock.
	if p.current != nil && time.Since(p.loadedAt) < p.cacheTTL {
		return p.current
	}

	if p.source != nil {
		overrides, err := p.source.Load(ctx)
		if err == nil {
			p.current = applyOverrides(p.defaults.clone(), overrides)
			p.loadedAt = time.Now()
			return p.current
		}
		p.logger.Error("settings store unreachable, serving fallback config", zap.Error(err))
	}

	if p.current != nil {
		// Keep serving last-known-good; retry on the next call.
		return p.current
	}

	p.logger.Warn("no cached config available, serving hard defaults")
	return p.defaults
}

func applyOverrides(s *Snapshot, overrides map[string]string) *Snapshot {
	for key, value := range overrides {
		switch key {
		case "token_issuer":
			s.Issuer = value
		case "token_audience":
			s.Audience = value
		case "access_token_secret":
			s.AccessTokenSecret = value
		case "refresh_token_secret":
			s.RefreshTokenSecret = value
		case "qr_token_secret":
			s.QRTokenSecret = value
		case "admin_token_secret":
			s.AdminTokenSecret = value
		case "access_token_ttl":
			s.AccessTokenTTL = value
		case "refresh_token_ttl":
			s.RefreshTokenTTL = value
		case "qr_token_ttl":
			s.QRTokenTTL = value
		case "admin_token_ttl":
			s.AdminTokenTTL = value
		case "qr_max_sessions":
			if n, err := strconv.Atoi(value); err == nil && n > 0 {
				s.MaxQRSessions = n
			}
		case "qr_sweep_interval":
			if d, err := ParseDuration(value); err == nil {
				s.QRSweepInterval = d
			}
		case "qr_cleanup_grace":
			if d, err := ParseDuration(value); err == nil {
				s.QRCleanupGrace = d
			}
		case "rate_limit_per_minute":
			if n, err := strconv.Atoi(value); err == nil && n > 0 {
				s.RateLimitPerMinute = n
			}
		}
	}
	return s
}

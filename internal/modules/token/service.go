package token

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"messenger/internal/config"
	"messenger/internal/domain"
	"messenger/internal/store"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	storeCategory = "security"

	persistTimeout = 5 * time.Second
)

func refreshKey(tokenID string) string { return "refresh_" + tokenID }

// Service mints and verifies the four token kinds and owns the refresh
// registry: the in-process cache is written synchronously on the request
// path, the durable tier asynchronously. The registry, not the signed
// payload, is authoritative for refresh-token validity.
type Service struct {
	cfg      ConfigSource
	users    UserReader
	store    SecurityStore
	registry *registry
	logger   *zap.Logger
}

func NewService(cfg ConfigSource, users UserReader, securityStore SecurityStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:      cfg,
		users:    users,
		store:    securityStore,
		registry: newRegistry(),
		logger:   logger,
	}
}

// MintAccessToken signs a short-lived API credential. Extra claims are
// merged into the payload as-is; reserved claim names win over extras.
func (s *Service) MintAccessToken(ctx context.Context, userID int64, deviceID string, extra map[string]any) (string, error) {
	signed, _, err := s.mint(ctx, KindAccess, userID, deviceID, extra)
	return signed, err
}

// MintRefreshToken signs a long-lived credential and registers it. The
// token itself carries only the token id; device details live in the
// registry record and are encrypted at rest by the durable store.
func (s *Service) MintRefreshToken(ctx context.Context, userID int64, deviceID string, info domain.DeviceInfo) (string, error) {
	tokenID := uuid.NewString()
	signed, ttl, err := s.mint(ctx, KindRefresh, userID, deviceID, map[string]any{"token_id": tokenID})
	if err != nil {
		return "", err
	}

	now := time.Now()
	rec := domain.RefreshTokenRecord{
		UserID:     userID,
		DeviceID:   deviceID,
		TokenID:    tokenID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		IsActive:   true,
		DeviceInfo: info,
	}

	s.registry.put(rec)
	go s.persistRefreshRecord(rec)

	return signed, nil
}

// MintTokenPair issues an access/refresh pair for one subject/device.
func (s *Service) MintTokenPair(ctx context.Context, userID int64, deviceID string, info domain.DeviceInfo) (*domain.TokenPair, error) {
	access, accessTTL, err := s.mint(ctx, KindAccess, userID, deviceID, nil)
	if err != nil {
		return nil, err
	}

	refresh, err := s.MintRefreshToken(ctx, userID, deviceID, info)
	if err != nil {
		return nil, err
	}

	return &domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(accessTTL.Seconds()),
		TokenType:    "Bearer",
	}, nil
}

// MintQRToken signs the very short-lived credential embedded in a QR
// code. No subject yet: the scanning device supplies the user.
func (s *Service) MintQRToken(ctx context.Context, sessionID string, info *domain.DeviceInfo) (string, time.Duration, error) {
	extra := map[string]any{"session_id": sessionID}
	if info != nil {
		extra["device_info"] = info
	}
	return s.mint(ctx, KindQR, 0, "", extra)
}

// MintAdminToken signs an access-token variant carrying the role and the
// permission grants flattened into "resource:action" strings.
func (s *Service) MintAdminToken(ctx context.Context, userID int64, deviceID, role string, grants map[string][]string, sessionID string) (string, error) {
	signed, _, err := s.mint(ctx, KindAdmin, userID, deviceID, map[string]any{
		"role":        role,
		"permissions": flattenGrants(grants),
		"session_id":  sessionID,
	})
	return signed, err
}

// VerifyAccessToken validates signature, issuer and audience, then
// re-checks that the subject still exists and may authenticate, so a
// banned or deleted account invalidates its outstanding tokens without
// a blacklist.
func (s *Service) VerifyAccessToken(ctx context.Context, tokenStr string) (*Claims, error) {
	claims, err := s.verify(ctx, tokenStr, KindAccess)
	if err != nil {
		return nil, err
	}
	if err := s.checkSubject(ctx, claims.UserID); err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyAdminToken is VerifyAccessToken for the admin kind.
func (s *Service) VerifyAdminToken(ctx context.Context, tokenStr string) (*Claims, error) {
	claims, err := s.verify(ctx, tokenStr, KindAdmin)
	if err != nil {
		return nil, err
	}
	if err := s.checkSubject(ctx, claims.UserID); err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyQRToken validates signature and kind only. The session lookup
// and the scanning user's state are the QR manager's concern.
func (s *Service) VerifyQRToken(ctx context.Context, tokenStr string) (*Claims, error) {
	return s.verify(ctx, tokenStr, KindQR)
}

// VerifyRefreshToken validates the signature, then resolves the token id
// against the registry: fast cache first, durable store on a miss (the
// only read path that crosses tiers; the cache is repopulated lazily).
// Registry state is authoritative over signature expiry: a revoked
// record fails the token even while its signature is still valid.
func (s *Service) VerifyRefreshToken(ctx context.Context, tokenStr string) (*domain.RefreshTokenRecord, error) {
	claims, err := s.verify(ctx, tokenStr, KindRefresh)
	if err != nil {
		return nil, err
	}
	if claims.TokenID == "" {
		return nil, fmt.Errorf("%w: refresh token without token id", ErrInvalidToken)
	}

	now := time.Now()
	if rec, ok := s.registry.get(claims.TokenID); ok {
		return checkRecord(rec, now)
	}
	return s.loadRefreshRecord(ctx, claims.TokenID, now)
}

// loadRefreshRecord is the cache-miss path. The per-token lock is held
// across the store read and the repopulation: a revocation serialized
// on the same lock either lands before the read (and is observed) or
// waits until after the put (and evicts it), so a stale active record
// can never outlive a completed revoke.
func (s *Service) loadRefreshRecord(ctx context.Context, tokenID string, now time.Time) (*domain.RefreshTokenRecord, error) {
	lock := s.registry.keyLock(tokenID)
	lock.Lock()
	defer lock.Unlock()

	// A concurrent load may have repopulated while we waited.
	if rec, ok := s.registry.get(tokenID); ok {
		return checkRecord(rec, now)
	}

	var rec domain.RefreshTokenRecord
	meta, err := s.store.Get(ctx, storeCategory, refreshKey(tokenID), &rec)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: no registry record", ErrTokenRevoked)
		}
		return nil, err
	}
	if !meta.Active {
		// Bulk revocation flips the index column without rewriting the
		// encrypted payload.
		rec.IsActive = false
	}

	checked, err := checkRecord(rec, now)
	if err != nil {
		return nil, err
	}

	s.registry.put(rec)
	return checked, nil
}

// RefreshAccessToken exchanges a valid refresh token for a fresh access
// token. The refresh token is returned unchanged: rotation is an
// explicit, separate request, never a silent side effect.
func (s *Service) RefreshAccessToken(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	rec, err := s.VerifyRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if err := s.checkSubject(ctx, rec.UserID); err != nil {
		return nil, err
	}

	access, accessTTL, err := s.mint(ctx, KindAccess, rec.UserID, rec.DeviceID, nil)
	if err != nil {
		return nil, err
	}

	return &domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(accessTTL.Seconds()),
		TokenType:    "Bearer",
	}, nil
}

// RevokeRefreshToken evicts the record from the cache and deactivates it
// in the durable store, serialized per token id against the cache-miss
// verify path. A failed durable write is surfaced: an un-persisted
// revocation would silently come back after a restart.
func (s *Service) RevokeRefreshToken(ctx context.Context, tokenID string) error {
	lock := s.registry.keyLock(tokenID)
	lock.Lock()
	defer lock.Unlock()

	s.registry.delete(tokenID)
	return s.store.Deactivate(ctx, storeCategory, refreshKey(tokenID))
}

// RevokeAllUserTokens cascades over every record for the user (and
// device, when given): cached records are revoked one by one for
// immediate effect on live sessions, then a bulk durable update catches
// records that were never loaded into the cache. A final eviction pass
// clears anything a concurrent verify repopulated while the bulk update
// was in flight.
func (s *Service) RevokeAllUserTokens(ctx context.Context, userID int64, deviceID string) error {
	var firstErr error
	for _, rec := range s.registry.byUser(userID, deviceID) {
		if err := s.RevokeRefreshToken(ctx, rec.TokenID); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if _, err := s.store.DeactivateBySubject(ctx, storeCategory, userID, deviceID); err != nil && firstErr == nil {
		firstErr = err
	}

	for _, rec := range s.registry.byUser(userID, deviceID) {
		lock := s.registry.keyLock(rec.TokenID)
		lock.Lock()
		s.registry.delete(rec.TokenID)
		lock.Unlock()
	}
	return firstErr
}

func (s *Service) mint(ctx context.Context, kind Kind, userID int64, deviceID string, extra map[string]any) (string, time.Duration, error) {
	snap := s.cfg.Current(ctx)

	secret, err := secretFor(snap, kind)
	if err != nil {
		return "", 0, err
	}
	ttl, err := ttlFor(snap, kind)
	if err != nil {
		return "", 0, err
	}

	now := time.Now()
	claims := jwtlib.MapClaims{}
	for k, v := range extra {
		claims[k] = v
	}
	claims["kind"] = string(kind)
	claims["iss"] = snap.Issuer
	claims["aud"] = snap.Audience
	claims["iat"] = jwtlib.NewNumericDate(now)
	claims["exp"] = jwtlib.NewNumericDate(now.Add(ttl))
	if userID != 0 {
		claims["user_id"] = userID
	}
	if deviceID != "" {
		claims["device_id"] = deviceID
	}

	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", 0, err
	}
	return signed, ttl, nil
}

func (s *Service) verify(ctx context.Context, tokenStr string, kind Kind) (*Claims, error) {
	snap := s.cfg.Current(ctx)

	secret, err := secretFor(snap, kind)
	if err != nil {
		return nil, err
	}

	parsed, err := jwtlib.ParseWithClaims(tokenStr, &Claims{},
		func(t *jwtlib.Token) (any, error) { return secret, nil },
		jwtlib.WithValidMethods([]string{"HS256"}),
		jwtlib.WithIssuer(snap.Issuer),
		jwtlib.WithAudience(snap.Audience),
	)
	if err != nil {
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Kind != kind {
		return nil, fmt.Errorf("%w: unexpected kind %q", ErrInvalidToken, claims.Kind)
	}
	return claims, nil
}

func (s *Service) checkSubject(ctx context.Context, userID int64) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: subject not found", ErrInvalidToken)
	}
	if !user.CanAuthenticate() {
		return fmt.Errorf("%w: subject deactivated", ErrInvalidToken)
	}
	return nil
}

// persistRefreshRecord writes the record to the durable tier off the
// request path. Best-effort: a failure is logged and the cache keeps
// serving the record; revocations, unlike mints, never go async.
func (s *Service) persistRefreshRecord(rec domain.RefreshTokenRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	meta := store.Meta{
		SubjectID: rec.UserID,
		DeviceID:  rec.DeviceID,
		Active:    true,
		ExpiresAt: rec.ExpiresAt,
	}
	if err := s.store.Set(ctx, storeCategory, refreshKey(rec.TokenID), meta, rec); err != nil {
		s.logger.Error("failed to persist refresh token record",
			zap.String("token_id", rec.TokenID),
			zap.Int64("user_id", rec.UserID),
			zap.Error(err),
		)
	}
}

func checkRecord(rec domain.RefreshTokenRecord, now time.Time) (*domain.RefreshTokenRecord, error) {
	if !rec.IsActive {
		return nil, ErrTokenRevoked
	}
	if rec.IsExpired(now) {
		return nil, ErrTokenExpired
	}
	return &rec, nil
}

func secretFor(snap *config.Snapshot, kind Kind) ([]byte, error) {
	var secret string
	switch kind {
	case KindAccess:
		secret = snap.AccessTokenSecret
	case KindRefresh:
		secret = snap.RefreshTokenSecret
	case KindQR:
		secret = snap.QRTokenSecret
	case KindAdmin:
		secret = snap.AdminTokenSecret
	}
	if secret == "" {
		return nil, fmt.Errorf("%w: kind %q", ErrMissingSecret, kind)
	}
	return []byte(secret), nil
}

func ttlFor(snap *config.Snapshot, kind Kind) (time.Duration, error) {
	switch kind {
	case KindAccess:
		return config.ParseDuration(snap.AccessTokenTTL)
	case KindRefresh:
		return config.ParseDuration(snap.RefreshTokenTTL)
	case KindQR:
		return config.ParseDuration(snap.QRTokenTTL)
	case KindAdmin:
		return config.ParseDuration(snap.AdminTokenTTL)
	default:
		return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidToken, kind)
	}
}

// flattenGrants turns hierarchical permission grants into the flat
// "resource:action" list carried by admin tokens.
func flattenGrants(grants map[string][]string) []string {
	var out []string
	for resource, actions := range grants {
		for _, action := range actions {
			out = append(out, resource+":"+action)
		}
	}
	sort.Strings(out)
	return out
}

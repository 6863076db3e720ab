package qrlogin

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"messenger/internal/domain"
	"messenger/internal/modules/token"
	"messenger/internal/realtime"
	"messenger/internal/store"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	storeCategory    = "security"
	sessionKeyPrefix = "qrsession_"

	qrImageSize    = 256
	persistTimeout = 5 * time.Second
)

func sessionKey(sessionID string) string { return sessionKeyPrefix + sessionID }

// Service owns the QR login session state machine. It asks the token
// service to mint/verify QR tokens and the final access/refresh pair,
// pushes progress to both devices over the realtime channel, and sweeps
// stale sessions in the background.
type Service struct {
	cfg      ConfigSource
	tokens   TokenService
	users    UserReader
	store    SecurityStore
	channel  realtime.Channel
	sessions *sessionCache
	logger   *zap.Logger
}

func NewService(cfg ConfigSource, tokens TokenService, users UserReader, securityStore SecurityStore, channel realtime.Channel, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:      cfg,
		tokens:   tokens,
		users:    users,
		store:    securityStore,
		channel:  channel,
		sessions: newSessionCache(),
		logger:   logger,
	}
}

// Generate opens a new login session for a web device: mints a QR token
// embedding a fresh session id and renders it into a scannable image.
func (s *Service) Generate(ctx context.Context, info *domain.DeviceInfo, initiatorConnID string) (*GenerateResult, error) {
	snap := s.cfg.Current(ctx)
	now := time.Now()

	if s.sessions.countLive(now) >= snap.MaxQRSessions {
		return nil, ErrTooManySessions
	}

	sessionID := uuid.NewString()
	tokenStr, ttl, err := s.tokens.MintQRToken(ctx, sessionID, info)
	if err != nil {
		return nil, err
	}

	png, err := qrcode.Encode(tokenStr, qrcode.Medium, qrImageSize)
	if err != nil {
		return nil, fmt.Errorf("render qr image: %w", err)
	}
	image := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)

	session := domain.QRSession{
		SessionID:       sessionID,
		Token:           tokenStr,
		ImagePayload:    image,
		ExpiresAt:       now.Add(ttl),
		DeviceInfo:      info,
		InitiatorConnID: initiatorConnID,
		CreatedAt:       now,
		LastActivity:    now,
	}

	s.sessions.put(session)
	go s.persistSession(session)

	return &GenerateResult{
		SessionID: sessionID,
		Token:     tokenStr,
		Image:     image,
		ExpiresIn: int64(ttl.Seconds()),
	}, nil
}

// Scan is called by the mobile device that read the code. On success the
// session flips to scanned and the web device is notified with the
// scanning user's display info.
func (s *Service) Scan(ctx context.Context, tokenStr string, userID int64, confirmerConnID string) (*ScanResult, error) {
	claims, err := s.tokens.VerifyQRToken(ctx, tokenStr)
	if err != nil {
		if errors.Is(err, token.ErrTokenExpired) {
			return nil, ErrSessionExpired
		}
		return nil, err
	}
	if claims.SessionID == "" {
		return nil, ErrSessionNotFound
	}

	entry, err := s.resolve(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}

	user, err := s.loadActiveUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	entry.mu.Lock()
	sess := &entry.session
	switch {
	case sess.IsUsed || sess.IsRejected:
		entry.mu.Unlock()
		return nil, ErrSessionAlreadyUsed
	case sess.IsExpired(now):
		entry.mu.Unlock()
		s.cleanup(ctx, claims.SessionID)
		return nil, ErrSessionExpired
	}

	sess.IsScanned = true
	sess.UserID = userID
	sess.ConfirmerConnID = confirmerConnID
	sess.LastActivity = now
	snapshot := *sess
	entry.mu.Unlock()

	go s.persistSession(snapshot)

	if snapshot.InitiatorConnID != "" {
		s.channel.EmitTo(snapshot.InitiatorConnID, eventScanned, map[string]any{
			"session_id": snapshot.SessionID,
			"user":       user.Display(),
		})
	}

	return &ScanResult{SessionID: snapshot.SessionID, RequiresConfirmation: true}, nil
}

// Confirm consumes the session. The used flag flips exactly once: the
// check and the flip happen under the session lock, so of two racing
// confirms one wins and the other fails with ErrSessionAlreadyUsed. On
// approval the web device receives the account plus a fresh token pair;
// cleanup is delayed by a grace period to tolerate delivery retries.
func (s *Service) Confirm(ctx context.Context, req ConfirmRequest) error {
	if !req.Approved {
		return s.Reject(ctx, req.SessionID, req.UserID)
	}

	entry, err := s.resolve(ctx, req.SessionID)
	if err != nil {
		return err
	}

	now := time.Now()
	entry.mu.Lock()
	sess := &entry.session
	switch {
	case sess.IsUsed || sess.IsRejected:
		entry.mu.Unlock()
		return ErrSessionAlreadyUsed
	case sess.IsExpired(now):
		entry.mu.Unlock()
		s.cleanup(ctx, req.SessionID)
		return ErrSessionExpired
	case !sess.IsScanned || sess.UserID != req.UserID:
		entry.mu.Unlock()
		return ErrOwnershipMismatch
	}

	// The lock is held across the mint on purpose: if issuing tokens
	// fails the session stays scanned and the confirm can be retried,
	// while a concurrent confirm still cannot slip past the used check.
	user, err := s.loadActiveUser(ctx, req.UserID)
	if err != nil {
		entry.mu.Unlock()
		return err
	}

	pair, err := s.tokens.MintTokenPair(ctx, req.UserID, req.DeviceInfo.DeviceID, req.DeviceInfo)
	if err != nil {
		entry.mu.Unlock()
		return err
	}

	sess.IsUsed = true
	sess.Tokens = pair
	sess.LastActivity = now
	snapshot := *sess
	entry.mu.Unlock()

	go s.persistSession(snapshot)

	if snapshot.InitiatorConnID != "" {
		s.channel.EmitTo(snapshot.InitiatorConnID, eventSuccess, map[string]any{
			"session_id": snapshot.SessionID,
			"user":       user.Display(),
			"tokens":     pair,
		})
	}
	if snapshot.ConfirmerConnID != "" {
		s.channel.EmitTo(snapshot.ConfirmerConnID, eventConfirmed, map[string]any{
			"session_id": snapshot.SessionID,
		})
	}

	grace := s.cfg.Current(ctx).QRCleanupGrace
	time.AfterFunc(grace, func() {
		s.cleanup(context.Background(), snapshot.SessionID)
	})

	return nil
}

// Reject declines the login from the mobile side and tears the session
// down immediately.
func (s *Service) Reject(ctx context.Context, sessionID string, userID int64) error {
	entry, err := s.resolve(ctx, sessionID)
	if err != nil {
		return err
	}

	now := time.Now()
	entry.mu.Lock()
	sess := &entry.session
	switch {
	case sess.IsUsed || sess.IsRejected:
		entry.mu.Unlock()
		return ErrSessionAlreadyUsed
	case sess.IsExpired(now):
		entry.mu.Unlock()
		s.cleanup(ctx, sessionID)
		return ErrSessionExpired
	case !sess.IsScanned || sess.UserID != userID:
		entry.mu.Unlock()
		return ErrOwnershipMismatch
	}

	sess.IsRejected = true
	sess.LastActivity = now
	snapshot := *sess
	entry.mu.Unlock()

	if snapshot.InitiatorConnID != "" {
		s.channel.EmitTo(snapshot.InitiatorConnID, eventRejected, map[string]any{
			"session_id": snapshot.SessionID,
		})
	}
	if snapshot.ConfirmerConnID != "" {
		s.channel.EmitTo(snapshot.ConfirmerConnID, eventRejected, map[string]any{
			"session_id": snapshot.SessionID,
		})
	}

	s.cleanup(ctx, sessionID)
	return nil
}

// Status is the polling fallback. Expiry is recomputed on every read,
// so an expired session reports expired even before the sweep gets to
// it; a freshly confirmed session still carries the token pair until
// the grace cleanup runs.
func (s *Service) Status(ctx context.Context, sessionID string) (*StatusResult, error) {
	entry, err := s.resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	snapshot := entry.session
	entry.mu.Unlock()

	status := snapshot.Status(time.Now())
	res := &StatusResult{
		Status:    status,
		IsScanned: snapshot.IsScanned,
		IsUsed:    snapshot.IsUsed,
	}

	if snapshot.UserID != 0 && (status == domain.QRStatusScanned || status == domain.QRStatusConfirmed) {
		if user, err := s.users.GetByID(ctx, snapshot.UserID); err == nil {
			display := user.Display()
			res.User = &display
		}
	}
	if status == domain.QRStatusConfirmed {
		res.Tokens = snapshot.Tokens
	}

	return res, nil
}

// Cancel is the initiator-side abort.
func (s *Service) Cancel(ctx context.Context, sessionID string) error {
	entry, err := s.resolve(ctx, sessionID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	if entry.session.IsUsed {
		entry.mu.Unlock()
		return ErrSessionAlreadyUsed
	}
	snapshot := entry.session
	entry.mu.Unlock()

	if snapshot.ConfirmerConnID != "" {
		s.channel.EmitTo(snapshot.ConfirmerConnID, eventCancelled, map[string]any{
			"session_id": snapshot.SessionID,
		})
	}

	s.cleanup(ctx, sessionID)
	return nil
}

// RunSweeper blocks until the context is cancelled, evicting expired
// sessions on a fixed interval. The cache pass covers live sessions;
// the bulk store deletion covers ones never reloaded since a restart.
func (s *Service) RunSweeper(ctx context.Context) {
	interval := s.cfg.Current(ctx).QRSweepInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("qr session sweeper started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("qr session sweeper stopped")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Service) sweepOnce(ctx context.Context) {
	now := time.Now()

	for _, sessionID := range s.sessions.expiredIDs(now) {
		s.cleanup(ctx, sessionID)
	}

	n, err := s.store.DeleteExpired(ctx, storeCategory, sessionKeyPrefix, now)
	if err != nil {
		s.logger.Warn("bulk qr session cleanup failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("swept expired qr sessions", zap.Int64("count", n))
	}
}

// resolve finds the session in the cache, falling back to the durable
// store so sessions survive a process restart.
func (s *Service) resolve(ctx context.Context, sessionID string) (*sessionEntry, error) {
	if entry := s.sessions.get(sessionID); entry != nil {
		return entry, nil
	}

	var session domain.QRSession
	if _, err := s.store.Get(ctx, storeCategory, sessionKey(sessionID), &session); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	return s.sessions.getOrPut(session), nil
}

func (s *Service) persistSession(session domain.QRSession) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	meta := store.Meta{
		SubjectID: session.UserID,
		Active:    !session.IsUsed && !session.IsRejected,
		ExpiresAt: session.ExpiresAt,
	}
	if err := s.store.Set(ctx, storeCategory, sessionKey(session.SessionID), meta, session); err != nil {
		s.logger.Error("failed to persist qr session",
			zap.String("session_id", session.SessionID),
			zap.Error(err),
		)
	}
}

// loadActiveUser distinguishes "this account may not sign in" from an
// infrastructure failure: the former is final, the latter is retryable
// and must not masquerade as a forbidden account.
func (s *Service) loadActiveUser(ctx context.Context, userID int64) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserInactive
		}
		return nil, fmt.Errorf("load user %d: %w", userID, err)
	}
	if !user.CanAuthenticate() {
		return nil, ErrUserInactive
	}
	return user, nil
}

func (s *Service) cleanup(ctx context.Context, sessionID string) {
	s.sessions.remove(sessionID)
	if err := s.store.Delete(ctx, storeCategory, sessionKey(sessionID)); err != nil {
		s.logger.Warn("failed to delete qr session from durable store",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}
}

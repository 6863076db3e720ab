package token

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messenger/internal/config"
	"messenger/internal/domain"
	"messenger/internal/store"
)

type staticConfig struct {
	snap *config.Snapshot
}

func (c *staticConfig) Current(ctx context.Context) *config.Snapshot { return c.snap }

type mockUserReader struct {
	mock.Mock
}

func (m *mockUserReader) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

type mockSecurityStore struct {
	mock.Mock
}

func (m *mockSecurityStore) Set(ctx context.Context, category, key string, meta store.Meta, value any) error {
	args := m.Called(ctx, category, key, meta, value)
	return args.Error(0)
}

func (m *mockSecurityStore) Get(ctx context.Context, category, key string, dest any) (*store.Meta, error) {
	args := m.Called(ctx, category, key, dest)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Meta), args.Error(1)
}

func (m *mockSecurityStore) Deactivate(ctx context.Context, category, key string) error {
	args := m.Called(ctx, category, key)
	return args.Error(0)
}

func (m *mockSecurityStore) DeactivateBySubject(ctx context.Context, category string, subjectID int64, deviceID string) (int64, error) {
	args := m.Called(ctx, category, subjectID, deviceID)
	return args.Get(0).(int64), args.Error(1)
}

func testSnapshot() *config.Snapshot {
	return &config.Snapshot{
		AppEnv:   "test",
		Issuer:   "messenger",
		Audience: "messenger-clients",

		AccessTokenSecret:  "test-access-secret",
		RefreshTokenSecret: "test-refresh-secret",
		QRTokenSecret:      "test-qr-secret",
		AdminTokenSecret:   "test-admin-secret",

		AccessTokenTTL:  "15m",
		RefreshTokenTTL: "7d",
		QRTokenTTL:      "5m",
		AdminTokenTTL:   "1h",
	}
}

func newTestService(snap *config.Snapshot, users *mockUserReader, st *mockSecurityStore) *Service {
	if users == nil {
		users = new(mockUserReader)
	}
	if st == nil {
		st = new(mockSecurityStore)
		st.On("Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	}
	return NewService(&staticConfig{snap: snap}, users, st, nil)
}

func activeUser(id int64) *domain.User {
	return &domain.User{ID: id, Phone: "+77001234567", Username: "user", IsActive: true}
}

func TestService_MintAccessToken_RoundTrip(t *testing.T) {
	users := new(mockUserReader)
	users.On("GetByID", mock.Anything, int64(7)).Return(activeUser(7), nil)
	svc := newTestService(testSnapshot(), users, nil)

	signed, err := svc.MintAccessToken(context.Background(), 7, "device-1", map[string]any{"locale": "kz"})
	require.NoError(t, err)
	require.NotEmpty(t, signed)

	claims, err := svc.VerifyAccessToken(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.UserID)
	assert.Equal(t, "device-1", claims.DeviceID)
	assert.Equal(t, KindAccess, claims.Kind)
}

func TestService_Verify_RejectsWrongKind(t *testing.T) {
	users := new(mockUserReader)
	svc := newTestService(testSnapshot(), users, nil)

	refresh, err := svc.MintRefreshToken(context.Background(), 7, "device-1", domain.DeviceInfo{})
	require.NoError(t, err)

	// A refresh token must not pass access verification even before the
	// subject check runs.
	_, err = svc.VerifyAccessToken(context.Background(), refresh)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestService_Verify_RejectsWrongSecret(t *testing.T) {
	svc := newTestService(testSnapshot(), nil, nil)

	other := testSnapshot()
	other.QRTokenSecret = "a-completely-different-secret"
	otherSvc := newTestService(other, nil, nil)

	qr, _, err := svc.MintQRToken(context.Background(), "sess-1", nil)
	require.NoError(t, err)
	_, err = otherSvc.VerifyQRToken(context.Background(), qr)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.NotErrorIs(t, err, ErrTokenExpired)
}

func TestService_Verify_ExpiredIsDistinctError(t *testing.T) {
	snap := testSnapshot()
	snap.QRTokenTTL = "1s"
	svc := newTestService(snap, nil, nil)

	qr, _, err := svc.MintQRToken(context.Background(), "sess-1", nil)
	require.NoError(t, err)

	time.Sleep(2100 * time.Millisecond)

	_, err = svc.VerifyQRToken(context.Background(), qr)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestService_MintQRToken_CarriesSessionAndDevice(t *testing.T) {
	svc := newTestService(testSnapshot(), nil, nil)

	info := &domain.DeviceInfo{DeviceName: "Desktop", Platform: "web"}
	qr, ttl, err := svc.MintQRToken(context.Background(), "sess-42", info)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, ttl)

	claims, err := svc.VerifyQRToken(context.Background(), qr)
	require.NoError(t, err)
	assert.Equal(t, "sess-42", claims.SessionID)
	require.NotNil(t, claims.DeviceInfo)
	assert.Equal(t, "Desktop", claims.DeviceInfo.DeviceName)
	assert.Zero(t, claims.UserID)
}

func TestService_MintAdminToken_FlattensGrants(t *testing.T) {
	users := new(mockUserReader)
	users.On("GetByID", mock.Anything, int64(1)).Return(activeUser(1), nil)
	svc := newTestService(testSnapshot(), users, nil)

	signed, err := svc.MintAdminToken(context.Background(), 1, "device-1", "moderator", map[string][]string{
		"users":   {"ban", "read"},
		"reports": {"resolve"},
	}, "admin-sess-1")
	require.NoError(t, err)

	claims, err := svc.VerifyAdminToken(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, "moderator", claims.Role)
	assert.Equal(t, []string{"reports:resolve", "users:ban", "users:read"}, claims.Permissions)
	assert.Equal(t, "admin-sess-1", claims.SessionID)

	// An admin token is not interchangeable with a plain access token.
	_, err = svc.VerifyAccessToken(context.Background(), signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestService_VerifyAccessToken_InactiveSubject(t *testing.T) {
	users := new(mockUserReader)
	banned := activeUser(9)
	banned.IsBanned = true
	users.On("GetByID", mock.Anything, int64(9)).Return(banned, nil)
	svc := newTestService(testSnapshot(), users, nil)

	signed, err := svc.MintAccessToken(context.Background(), 9, "device-1", nil)
	require.NoError(t, err)

	_, err = svc.VerifyAccessToken(context.Background(), signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestService_VerifyRefreshToken_UsesCache(t *testing.T) {
	st := new(mockSecurityStore)
	st.On("Set", mock.Anything, "security", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	svc := newTestService(testSnapshot(), nil, st)

	refresh, err := svc.MintRefreshToken(context.Background(), 7, "device-1", domain.DeviceInfo{Platform: "ios"})
	require.NoError(t, err)

	rec, err := svc.VerifyRefreshToken(context.Background(), refresh)
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.UserID)
	assert.Equal(t, "device-1", rec.DeviceID)
	assert.True(t, rec.IsActive)

	// Cache hit: no Get against the durable store.
	st.AssertNotCalled(t, "Get", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestService_VerifyRefreshToken_FallsBackToStore(t *testing.T) {
	st := new(mockSecurityStore)
	st.On("Set", mock.Anything, "security", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	svc := newTestService(testSnapshot(), nil, st)

	refresh, err := svc.MintRefreshToken(context.Background(), 7, "device-1", domain.DeviceInfo{})
	require.NoError(t, err)

	claims, err := svc.verify(context.Background(), refresh, KindRefresh)
	require.NoError(t, err)

	// Simulate a restart: cache is cold, the durable record survives.
	svc.registry = newRegistry()

	stored := domain.RefreshTokenRecord{
		UserID:    7,
		DeviceID:  "device-1",
		TokenID:   claims.TokenID,
		CreatedAt: time.Now().Add(-time.Hour),
		ExpiresAt: time.Now().Add(24 * time.Hour),
		IsActive:  true,
	}
	st.On("Get", mock.Anything, "security", refreshKey(claims.TokenID), mock.Anything).
		Run(func(args mock.Arguments) {
			*args.Get(3).(*domain.RefreshTokenRecord) = stored
		}).
		Return(&store.Meta{SubjectID: 7, DeviceID: "device-1", Active: true, ExpiresAt: stored.ExpiresAt}, nil).
		Once()

	rec, err := svc.VerifyRefreshToken(context.Background(), refresh)
	require.NoError(t, err)
	assert.Equal(t, claims.TokenID, rec.TokenID)

	// The record was repopulated into the cache: a second verify must not
	// touch the store again.
	_, err = svc.VerifyRefreshToken(context.Background(), refresh)
	require.NoError(t, err)
	st.AssertExpectations(t)
}

func TestService_VerifyRefreshToken_RevokedInStore(t *testing.T) {
	st := new(mockSecurityStore)
	st.On("Set", mock.Anything, "security", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	svc := newTestService(testSnapshot(), nil, st)

	refresh, err := svc.MintRefreshToken(context.Background(), 7, "device-1", domain.DeviceInfo{})
	require.NoError(t, err)
	claims, err := svc.verify(context.Background(), refresh, KindRefresh)
	require.NoError(t, err)

	svc.registry = newRegistry()

	// Bulk revocation flips only the index column; the decrypted payload
	// still says active.
	stored := domain.RefreshTokenRecord{
		UserID:    7,
		TokenID:   claims.TokenID,
		ExpiresAt: time.Now().Add(24 * time.Hour),
		IsActive:  true,
	}
	st.On("Get", mock.Anything, "security", refreshKey(claims.TokenID), mock.Anything).
		Run(func(args mock.Arguments) {
			*args.Get(3).(*domain.RefreshTokenRecord) = stored
		}).
		Return(&store.Meta{SubjectID: 7, Active: false, ExpiresAt: stored.ExpiresAt}, nil)

	_, err = svc.VerifyRefreshToken(context.Background(), refresh)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestService_VerifyRefreshToken_MissingRecord(t *testing.T) {
	st := new(mockSecurityStore)
	st.On("Set", mock.Anything, "security", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	svc := newTestService(testSnapshot(), nil, st)

	refresh, err := svc.MintRefreshToken(context.Background(), 7, "device-1", domain.DeviceInfo{})
	require.NoError(t, err)

	svc.registry = newRegistry()
	st.On("Get", mock.Anything, "security", mock.Anything, mock.Anything).Return(nil, store.ErrNotFound)

	_, err = svc.VerifyRefreshToken(context.Background(), refresh)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestService_RefreshAccessToken_KeepsRefreshToken(t *testing.T) {
	users := new(mockUserReader)
	users.On("GetByID", mock.Anything, int64(7)).Return(activeUser(7), nil)
	svc := newTestService(testSnapshot(), users, nil)

	refresh, err := svc.MintRefreshToken(context.Background(), 7, "device-1", domain.DeviceInfo{})
	require.NoError(t, err)

	pair, err := svc.RefreshAccessToken(context.Background(), refresh)
	require.NoError(t, err)
	assert.Equal(t, refresh, pair.RefreshToken)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, int64(900), pair.ExpiresIn)

	claims, err := svc.VerifyAccessToken(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.UserID)
}

func TestService_RevokeRefreshToken_BlocksRefresh(t *testing.T) {
	st := new(mockSecurityStore)
	st.On("Set", mock.Anything, "security", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	st.On("Get", mock.Anything, "security", mock.Anything, mock.Anything).Return(nil, store.ErrNotFound)
	st.On("Deactivate", mock.Anything, "security", mock.Anything).Return(nil).Once()
	svc := newTestService(testSnapshot(), nil, st)

	refresh, err := svc.MintRefreshToken(context.Background(), 7, "device-1", domain.DeviceInfo{})
	require.NoError(t, err)
	claims, err := svc.verify(context.Background(), refresh, KindRefresh)
	require.NoError(t, err)

	require.NoError(t, svc.RevokeRefreshToken(context.Background(), claims.TokenID))

	_, err = svc.VerifyRefreshToken(context.Background(), refresh)
	assert.ErrorIs(t, err, ErrTokenRevoked)
	st.AssertExpectations(t)
}

func TestService_RevokeRefreshToken_SurfacesStoreFailure(t *testing.T) {
	st := new(mockSecurityStore)
	st.On("Deactivate", mock.Anything, "security", refreshKey("tid-1")).Return(store.ErrUnavailable)
	svc := newTestService(testSnapshot(), nil, st)

	err := svc.RevokeRefreshToken(context.Background(), "tid-1")
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

func TestService_RevokeRefreshToken_RacingCacheMissLoad(t *testing.T) {
	st := new(mockSecurityStore)
	st.On("Set", mock.Anything, "security", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	svc := newTestService(testSnapshot(), nil, st)

	refresh, err := svc.MintRefreshToken(context.Background(), 7, "device-1", domain.DeviceInfo{})
	require.NoError(t, err)
	claims, err := svc.verify(context.Background(), refresh, KindRefresh)
	require.NoError(t, err)

	// Cold cache, as after a restart: verification has to go through
	// the durable store.
	svc.registry = newRegistry()

	stored := domain.RefreshTokenRecord{
		UserID:    7,
		DeviceID:  "device-1",
		TokenID:   claims.TokenID,
		ExpiresAt: time.Now().Add(24 * time.Hour),
		IsActive:  true,
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	st.On("Get", mock.Anything, "security", refreshKey(claims.TokenID), mock.Anything).
		Run(func(args mock.Arguments) {
			close(entered)
			<-release
			*args.Get(3).(*domain.RefreshTokenRecord) = stored
		}).
		Return(&store.Meta{SubjectID: 7, DeviceID: "device-1", Active: true, ExpiresAt: stored.ExpiresAt}, nil).
		Once()
	st.On("Deactivate", mock.Anything, "security", refreshKey(claims.TokenID)).Return(nil).Once()
	st.On("Get", mock.Anything, "security", refreshKey(claims.TokenID), mock.Anything).
		Run(func(args mock.Arguments) {
			*args.Get(3).(*domain.RefreshTokenRecord) = stored
		}).
		Return(&store.Meta{SubjectID: 7, DeviceID: "device-1", Active: false, ExpiresAt: stored.ExpiresAt}, nil)

	// Start a verify that stalls inside the durable read, then revoke
	// the token while it is stalled.
	verifyDone := make(chan error, 1)
	go func() {
		_, err := svc.VerifyRefreshToken(context.Background(), refresh)
		verifyDone <- err
	}()
	<-entered

	revokeDone := make(chan error, 1)
	go func() {
		revokeDone <- svc.RevokeRefreshToken(context.Background(), claims.TokenID)
	}()

	time.Sleep(50 * time.Millisecond)
	close(release)

	<-verifyDone
	require.NoError(t, <-revokeDone)

	// The stalled load must not have repopulated the cache with the
	// pre-revocation record: the token stays dead.
	_, err = svc.VerifyRefreshToken(context.Background(), refresh)
	assert.ErrorIs(t, err, ErrTokenRevoked)
	st.AssertExpectations(t)
}

func TestService_RevokeAllUserTokens_CascadesBothTiers(t *testing.T) {
	st := new(mockSecurityStore)
	st.On("Set", mock.Anything, "security", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	st.On("Deactivate", mock.Anything, "security", mock.Anything).Return(nil)
	st.On("DeactivateBySubject", mock.Anything, "security", int64(7), "").Return(int64(3), nil).Once()
	svc := newTestService(testSnapshot(), nil, st)

	r1, err := svc.MintRefreshToken(context.Background(), 7, "device-1", domain.DeviceInfo{})
	require.NoError(t, err)
	r2, err := svc.MintRefreshToken(context.Background(), 7, "device-2", domain.DeviceInfo{})
	require.NoError(t, err)
	other, err := svc.MintRefreshToken(context.Background(), 8, "device-1", domain.DeviceInfo{})
	require.NoError(t, err)

	require.NoError(t, svc.RevokeAllUserTokens(context.Background(), 7, ""))

	st.On("Get", mock.Anything, "security", mock.Anything, mock.Anything).Return(nil, store.ErrNotFound)
	_, err = svc.VerifyRefreshToken(context.Background(), r1)
	assert.ErrorIs(t, err, ErrTokenRevoked)
	_, err = svc.VerifyRefreshToken(context.Background(), r2)
	assert.ErrorIs(t, err, ErrTokenRevoked)

	// The other user's session survives the cascade.
	_, err = svc.VerifyRefreshToken(context.Background(), other)
	assert.NoError(t, err)
	st.AssertExpectations(t)
}

func TestService_RevokeAllUserTokens_DeviceScoped(t *testing.T) {
	st := new(mockSecurityStore)
	st.On("Set", mock.Anything, "security", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	st.On("Deactivate", mock.Anything, "security", mock.Anything).Return(nil)
	st.On("DeactivateBySubject", mock.Anything, "security", int64(7), "device-1").Return(int64(1), nil).Once()
	svc := newTestService(testSnapshot(), nil, st)

	target, err := svc.MintRefreshToken(context.Background(), 7, "device-1", domain.DeviceInfo{})
	require.NoError(t, err)
	keep, err := svc.MintRefreshToken(context.Background(), 7, "device-2", domain.DeviceInfo{})
	require.NoError(t, err)

	require.NoError(t, svc.RevokeAllUserTokens(context.Background(), 7, "device-1"))

	st.On("Get", mock.Anything, "security", mock.Anything, mock.Anything).Return(nil, store.ErrNotFound)
	_, err = svc.VerifyRefreshToken(context.Background(), target)
	assert.ErrorIs(t, err, ErrTokenRevoked)
	_, err = svc.VerifyRefreshToken(context.Background(), keep)
	assert.NoError(t, err)
}

func TestService_Mint_MissingSecret(t *testing.T) {
	snap := testSnapshot()
	snap.AdminTokenSecret = ""
	svc := newTestService(snap, nil, nil)

	_, err := svc.MintAdminToken(context.Background(), 1, "d", "admin", nil, "s")
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestService_Mint_BadTTL(t *testing.T) {
	snap := testSnapshot()
	snap.AccessTokenTTL = "15 minutes"
	svc := newTestService(snap, nil, nil)

	_, err := svc.MintAccessToken(context.Background(), 1, "d", nil)
	assert.ErrorIs(t, err, config.ErrInvalidDurationFormat)
}

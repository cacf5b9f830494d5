package security

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"coachcal-sync/models"
	"coachcal-sync/store/storetest"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var testNow = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

type fakeRefresher struct {
	mu     sync.Mutex
	calls  int
	tokens models.TokenSet
	err    error
}

func (f *fakeRefresher) Refresh(_ context.Context, _ *models.CalendarIntegration) (models.TokenSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.tokens, f.err
}

type fakeForceRefresher struct {
	*fakeRefresher
	forceCalls  int
	forceTokens models.TokenSet
	forceErr    error
}

func (f *fakeForceRefresher) ForceRefresh(_ context.Context, _ *models.CalendarIntegration) (models.TokenSet, error) {
	f.forceCalls++
	return f.forceTokens, f.forceErr
}

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, server
}

func seedIntegration(expiresAt time.Time) *storetest.Integrations {
	return storetest.NewIntegrations(&models.CalendarIntegration{
		ID:                   "int-1",
		UserID:               "user-1",
		Provider:             models.ProviderCalcom,
		ExternalUserID:       "1001",
		AccessToken:          "old-access",
		RefreshToken:         "old-refresh",
		AccessTokenExpiresAt: expiresAt,
	})
}

func newManager(refresher Refresher, repo *storetest.Integrations, opts ...Option) *TokenManager {
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewTokenManager(models.ProviderCalcom, refresher, repo, zap.NewNop(), opts...)
}

func TestTokenManager_IsTokenExpired(t *testing.T) {
	m := newManager(&fakeRefresher{}, storetest.NewIntegrations())

	assert.True(t, m.IsTokenExpired(time.Time{}))
	assert.True(t, m.IsTokenExpired(testNow.Add(-time.Hour)))
	assert.True(t, m.IsTokenExpired(testNow.Add(4*time.Minute)))
	assert.True(t, m.IsTokenExpired(testNow.Add(DefaultSafetyMargin)))
	assert.False(t, m.IsTokenExpired(testNow.Add(6*time.Minute)))

	wide := newManager(&fakeRefresher{}, storetest.NewIntegrations(), WithSafetyMargin(10*time.Minute))
	assert.True(t, wide.IsTokenExpired(testNow.Add(6*time.Minute)))
}

func TestTokenManager_EnsureValidToken_NoRefreshWhenValid(t *testing.T) {
	repo := seedIntegration(testNow.Add(time.Hour))
	refresher := &fakeRefresher{}
	m := newManager(refresher, repo)

	token, err := m.EnsureValidToken(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "old-access", token)
	assert.Equal(t, 0, refresher.calls)
	assert.Equal(t, 0, repo.Calls.UpdateTokens)
}

func TestTokenManager_EnsureValidToken_RefreshesExpiredToken(t *testing.T) {
	repo := seedIntegration(testNow.Add(time.Minute))
	refresher := &fakeRefresher{tokens: models.TokenSet{
		AccessToken:  "new-access",
		RefreshToken: "new-refresh",
		ExpiresAt:    testNow.Add(time.Hour),
	}}
	m := newManager(refresher, repo)

	token, err := m.EnsureValidToken(context.Background(), "user-1")
	require.NoError(t, err)

	// Exactly one refresh and one persist, and the stored expiry is past the margin
	assert.Equal(t, "new-access", token)
	assert.Equal(t, 1, refresher.calls)
	assert.Equal(t, 1, repo.Calls.UpdateTokens)

	stored := repo.Get("int-1")
	assert.Equal(t, "new-access", stored.AccessToken)
	assert.Equal(t, "new-refresh", stored.RefreshToken)
	assert.False(t, m.IsTokenExpired(stored.AccessTokenExpiresAt))
}

func TestTokenManager_RefreshKeepsRefreshTokenWhenProviderOmitsIt(t *testing.T) {
	repo := seedIntegration(testNow)
	refresher := &fakeRefresher{tokens: models.TokenSet{AccessToken: "new-access", ExpiresAt: testNow.Add(time.Hour)}}
	m := newManager(refresher, repo)

	_, err := m.RefreshAccessToken(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "old-refresh", repo.Get("int-1").RefreshToken)
}

func TestTokenManager_PersistFailureStillReturnsToken(t *testing.T) {
	repo := seedIntegration(testNow)
	repo.UpdateTokensErr = errors.New("connection reset")
	refresher := &fakeRefresher{tokens: models.TokenSet{AccessToken: "new-access", RefreshToken: "new-refresh", ExpiresAt: testNow.Add(time.Hour)}}
	m := newManager(refresher, repo)

	token, err := m.EnsureValidToken(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "new-access", token)
	assert.Equal(t, "old-access", repo.Get("int-1").AccessToken)
}

func TestTokenManager_RefreshFailureWithoutForce(t *testing.T) {
	repo := seedIntegration(testNow)
	refresher := &fakeRefresher{err: &RefreshError{Provider: models.ProviderCalendly, StatusCode: 401, Body: `{"error":"invalid_grant"}`}}
	m := newManager(refresher, repo)

	_, err := m.EnsureValidToken(context.Background(), "user-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrRefreshFailed))
	assert.True(t, errors.Is(err, models.ErrReconnectCalendar))

	var refreshErr *RefreshError
	require.True(t, errors.As(err, &refreshErr))
	assert.Equal(t, 401, refreshErr.StatusCode)
	assert.Equal(t, 0, repo.Calls.UpdateTokens)

	_, err = m.ForceReauthorize(context.Background(), "user-1")
	assert.True(t, errors.Is(err, models.ErrForceRefreshUnsupported))
}

func TestTokenManager_TransientRefreshFailureIsNotCredential(t *testing.T) {
	err := &RefreshError{Provider: models.ProviderCalcom, StatusCode: 503}
	assert.True(t, errors.Is(err, models.ErrRefreshFailed))
	assert.False(t, errors.Is(err, models.ErrReconnectCalendar))
}

func TestTokenManager_FallsBackToForceRefresh(t *testing.T) {
	repo := seedIntegration(testNow)
	refresher := &fakeForceRefresher{
		fakeRefresher: &fakeRefresher{err: &RefreshError{Provider: models.ProviderCalcom, StatusCode: 400}},
		forceTokens:   models.TokenSet{AccessToken: "forced-access", RefreshToken: "forced-refresh", ExpiresAt: testNow.Add(time.Hour)},
	}
	m := newManager(refresher, repo)

	token, err := m.RenewToken(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "forced-access", token)
	assert.Equal(t, 1, refresher.calls)
	assert.Equal(t, 1, refresher.forceCalls)
	assert.Equal(t, "forced-refresh", repo.Get("int-1").RefreshToken)
}

func TestTokenManager_ForceFailureIsReturned(t *testing.T) {
	repo := seedIntegration(testNow)
	refresher := &fakeForceRefresher{
		fakeRefresher: &fakeRefresher{err: &RefreshError{Provider: models.ProviderCalcom, StatusCode: 401}},
		forceErr:      &RefreshError{Provider: models.ProviderCalcom, StatusCode: 403},
	}
	m := newManager(refresher, repo)

	_, err := m.RenewToken(context.Background(), "user-1")
	var refreshErr *RefreshError
	require.True(t, errors.As(err, &refreshErr))
	assert.Equal(t, 403, refreshErr.StatusCode)
	assert.Equal(t, 1, refresher.forceCalls)
}

func TestTokenManager_MissingRefreshTokenNeedsReconnect(t *testing.T) {
	repo := storetest.NewIntegrations(&models.CalendarIntegration{
		ID:       "int-1",
		UserID:   "user-1",
		Provider: models.ProviderCalcom,
	})
	refresher := &fakeRefresher{}
	m := newManager(refresher, repo)

	_, err := m.EnsureValidToken(context.Background(), "user-1")
	assert.True(t, errors.Is(err, models.ErrReconnectCalendar))
	assert.Equal(t, 0, refresher.calls)
}

func TestTokenManager_NoIntegration(t *testing.T) {
	m := newManager(&fakeRefresher{}, storetest.NewIntegrations())

	_, err := m.EnsureValidToken(context.Background(), "nobody")
	assert.True(t, errors.Is(err, models.ErrNoIntegration))
}

func TestTokenManager_LeaseReusesConcurrentRefresh(t *testing.T) {
	client, server := newTestRedis(t)
	repo := seedIntegration(testNow)
	refresher := &fakeRefresher{tokens: models.TokenSet{AccessToken: "should-not-be-used", ExpiresAt: testNow.Add(time.Hour)}}
	m := newManager(refresher, repo, WithRefreshLease(client, time.Minute))

	// Another process holds the lease and finishes its refresh shortly after
	require.NoError(t, server.Set(leaseKey("int-1"), "held"))
	go func() {
		time.Sleep(150 * time.Millisecond)
		_ = repo.UpdateTokens(context.Background(), "int-1", models.TokenSet{
			AccessToken:  "peer-access",
			RefreshToken: "peer-refresh",
			ExpiresAt:    testNow.Add(time.Hour),
		})
		server.Del(leaseKey("int-1"))
	}()

	token, err := m.EnsureValidToken(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "peer-access", token)
	assert.Equal(t, 0, refresher.calls)
}

func TestTokenManager_LeaseReleasedAfterRefresh(t *testing.T) {
	client, server := newTestRedis(t)
	repo := seedIntegration(testNow)
	refresher := &fakeRefresher{tokens: models.TokenSet{AccessToken: "new-access", ExpiresAt: testNow.Add(time.Hour)}}
	m := newManager(refresher, repo, WithRefreshLease(client, time.Minute))

	_, err := m.RefreshAccessToken(context.Background(), "user-1")
	require.NoError(t, err)
	assert.False(t, server.Exists(leaseKey("int-1")))
	assert.Equal(t, 1, refresher.calls)
}

func TestTokenManager_RejectsRefreshedTokenInsideMargin(t *testing.T) {
	repo := seedIntegration(testNow)
	refresher := &fakeRefresher{tokens: models.TokenSet{AccessToken: "short", RefreshToken: "new-refresh", ExpiresAt: testNow.Add(time.Minute)}}
	m := newManager(refresher, repo)

	token, err := m.EnsureValidToken(context.Background(), "user-1")
	require.Error(t, err)
	assert.Empty(t, token)
	assert.True(t, errors.Is(err, models.ErrRefreshFailed))
	assert.False(t, errors.Is(err, models.ErrReconnectCalendar), "a short-lived token is transient, not revoked")
	assert.Equal(t, 0, repo.Calls.UpdateTokens)
	assert.Equal(t, "old-access", repo.Get("int-1").AccessToken)
}

func TestRefreshLease_ReleaseKeepsForeignLease(t *testing.T) {
	client, server := newTestRedis(t)
	lease := newRefreshLease(client, time.Minute)

	acquired, release, err := lease.acquire(context.Background(), "int-1")
	require.NoError(t, err)
	require.True(t, acquired)

	// Our lease expired and another process took it over
	require.NoError(t, server.Set(leaseKey("int-1"), "other-owner"))
	release()
	got, err := server.Get(leaseKey("int-1"))
	require.NoError(t, err)
	assert.Equal(t, "other-owner", got)

	server.Del(leaseKey("int-1"))
	acquired, release, err = lease.acquire(context.Background(), "int-1")
	require.NoError(t, err)
	require.True(t, acquired)
	release()
	assert.False(t, server.Exists(leaseKey("int-1")))
}

func TestTokenManager_LeaseDoesNotReuseRejectedToken(t *testing.T) {
	client, server := newTestRedis(t)
	repo := seedIntegration(testNow.Add(time.Hour))
	refresher := &fakeRefresher{tokens: models.TokenSet{AccessToken: "new-access", ExpiresAt: testNow.Add(2 * time.Hour)}}
	m := newManager(refresher, repo, WithRefreshLease(client, time.Minute))

	// The peer gives up without storing anything, so the stored token is
	// still the one the provider just rejected
	require.NoError(t, server.Set(leaseKey("int-1"), "held"))
	go func() {
		time.Sleep(150 * time.Millisecond)
		server.Del(leaseKey("int-1"))
	}()

	token, err := m.RenewToken(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "new-access", token)
	assert.Equal(t, 1, refresher.calls)
}

func assertNoSecretsLogged(t *testing.T, logs *observer.ObservedLogs, secrets ...string) {
	t.Helper()
	require.NotZero(t, logs.Len(), "expected log output to inspect")
	for _, entry := range logs.All() {
		for _, secret := range secrets {
			assert.NotContains(t, entry.Message, secret)
			for key, value := range entry.ContextMap() {
				assert.NotContains(t, fmt.Sprint(value), secret, "field %q of %q", key, entry.Message)
			}
		}
	}
}

func TestTokenManager_DoesNotLogTokens(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	repo := seedIntegration(testNow)
	repo.UpdateTokensErr = errors.New("connection reset")
	refresher := &fakeForceRefresher{
		fakeRefresher: &fakeRefresher{err: &RefreshError{Provider: models.ProviderCalcom, StatusCode: 400, Body: `{"error":"invalid_grant"}`}},
		forceTokens:   models.TokenSet{AccessToken: "forced-access", RefreshToken: "forced-refresh", ExpiresAt: testNow.Add(time.Hour)},
	}
	m := NewTokenManager(models.ProviderCalcom, refresher, repo, zap.New(core), WithClock(func() time.Time { return testNow }))

	token, err := m.EnsureValidToken(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "forced-access", token)
	require.NotEmpty(t, logs.FilterMessage("token_persist_failed").All())

	assertNoSecretsLogged(t, logs, "old-access", "old-refresh", "forced-access", "forced-refresh")
	for _, entry := range logs.All() {
		assert.False(t, strings.Contains(entry.Message, "Bearer"))
	}
}

package security

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coachcal-sync/models"
	"coachcal-sync/store"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultSafetyMargin is how long before expiry a token is treated as expired.
const DefaultSafetyMargin = 5 * time.Minute

// Refresher exchanges a stored refresh token for a new token pair.
type Refresher interface {
	Refresh(ctx context.Context, integration *models.CalendarIntegration) (models.TokenSet, error)
}

// ForceRefresher re-issues tokens without a refresh token, using provider
// client credentials. Only Cal.com managed users support it.
type ForceRefresher interface {
	ForceRefresh(ctx context.Context, integration *models.CalendarIntegration) (models.TokenSet, error)
}

// TokenManager keeps one provider's stored credentials valid.
type TokenManager struct {
	provider     models.Provider
	refresher    Refresher
	integrations store.IntegrationRepository
	logger       *zap.Logger

	margin time.Duration
	now    func() time.Time
	lease  *refreshLease
}

// Option configures a TokenManager.
type Option func(*TokenManager)

// WithSafetyMargin overrides DefaultSafetyMargin.
func WithSafetyMargin(margin time.Duration) Option {
	return func(m *TokenManager) {
		if margin > 0 {
			m.margin = margin
		}
	}
}

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(m *TokenManager) { m.now = now }
}

// WithRefreshLease serializes refreshes of the same integration across
// processes with a short-lived Redis key.
func WithRefreshLease(client *redis.Client, ttl time.Duration) Option {
	return func(m *TokenManager) {
		if client != nil {
			m.lease = newRefreshLease(client, ttl)
		}
	}
}

// NewTokenManager returns a manager for provider's integrations. refresher
// may also implement ForceRefresher to enable the force-refresh fallback.
func NewTokenManager(provider models.Provider, refresher Refresher, integrations store.IntegrationRepository, logger *zap.Logger, opts ...Option) *TokenManager {
	m := &TokenManager{
		provider:     provider,
		refresher:    refresher,
		integrations: integrations,
		logger:       logger.With(zap.String("provider", string(provider))),
		margin:       DefaultSafetyMargin,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsTokenExpired reports whether expiry is unset or falls within the safety margin.
func (m *TokenManager) IsTokenExpired(expiry time.Time) bool {
	if expiry.IsZero() {
		return true
	}
	return !expiry.After(m.now().Add(m.margin))
}

// RefreshAccessToken exchanges the stored refresh token and persists the new pair.
func (m *TokenManager) RefreshAccessToken(ctx context.Context, userID string) (models.TokenSet, error) {
	integration, err := m.load(ctx, userID)
	if err != nil {
		return models.TokenSet{}, err
	}
	return m.refresh(ctx, integration)
}

// ForceReauthorize re-issues tokens through the provider's force-refresh
// endpoint. Returns ErrForceRefreshUnsupported for providers without one.
func (m *TokenManager) ForceReauthorize(ctx context.Context, userID string) (models.TokenSet, error) {
	integration, err := m.load(ctx, userID)
	if err != nil {
		return models.TokenSet{}, err
	}
	return m.force(ctx, integration)
}

// EnsureValidToken returns an access token that stays valid for at least the
// safety margin, refreshing first when needed.
func (m *TokenManager) EnsureValidToken(ctx context.Context, userID string) (string, error) {
	integration, err := m.load(ctx, userID)
	if err != nil {
		return "", err
	}
	if integration.AccessToken != "" && !m.IsTokenExpired(integration.AccessTokenExpiresAt) {
		return integration.AccessToken, nil
	}

	m.logger.Info("access token expired, refreshing",
		zap.String("user_id", userID),
		zap.Time("expires_at", integration.AccessTokenExpiresAt))
	tokens, err := m.renew(ctx, integration)
	if err != nil {
		return "", err
	}
	return tokens.AccessToken, nil
}

// RenewToken refreshes unconditionally. Used after the provider rejected a
// token that looked valid locally.
func (m *TokenManager) RenewToken(ctx context.Context, userID string) (string, error) {
	integration, err := m.load(ctx, userID)
	if err != nil {
		return "", err
	}
	tokens, err := m.renew(ctx, integration)
	if err != nil {
		return "", err
	}
	return tokens.AccessToken, nil
}

// renew tries a normal refresh, then one force refresh.
func (m *TokenManager) renew(ctx context.Context, integration *models.CalendarIntegration) (models.TokenSet, error) {
	tokens, refreshErr := m.refresh(ctx, integration)
	if refreshErr == nil {
		return tokens, nil
	}
	if ctx.Err() != nil {
		return models.TokenSet{}, refreshErr
	}

	tokens, forceErr := m.force(ctx, integration)
	if forceErr == nil {
		m.logger.Info("recovered token with force refresh", zap.String("user_id", integration.UserID))
		return tokens, nil
	}
	if errors.Is(forceErr, models.ErrForceRefreshUnsupported) {
		return models.TokenSet{}, refreshErr
	}
	m.logger.Warn("force refresh failed",
		zap.String("user_id", integration.UserID),
		zap.NamedError("refresh_error", refreshErr),
		zap.Error(forceErr))
	return models.TokenSet{}, forceErr
}

func (m *TokenManager) refresh(ctx context.Context, integration *models.CalendarIntegration) (models.TokenSet, error) {
	if integration.RefreshToken == "" {
		return models.TokenSet{}, &RefreshError{Provider: m.provider, Revoked: true, Err: errors.New("no refresh token stored")}
	}

	if m.lease != nil {
		acquired, release, err := m.lease.acquire(ctx, integration.ID)
		if err != nil {
			m.logger.Warn("refresh lease unavailable", zap.String("user_id", integration.UserID), zap.Error(err))
		} else if acquired {
			defer release()
		} else if current, ok := m.awaitConcurrentRefresh(ctx, integration); ok {
			return current, nil
		}
	}

	tokens, err := m.refresher.Refresh(ctx, integration)
	if err != nil {
		m.logger.Warn("token refresh failed", zap.String("user_id", integration.UserID), zap.Error(err))
		return models.TokenSet{}, err
	}
	if err := m.validate(tokens); err != nil {
		return models.TokenSet{}, err
	}
	m.persist(ctx, integration, tokens)
	return tokens, nil
}

func (m *TokenManager) force(ctx context.Context, integration *models.CalendarIntegration) (models.TokenSet, error) {
	forcer, ok := m.refresher.(ForceRefresher)
	if !ok {
		return models.TokenSet{}, fmt.Errorf("%s: %w", m.provider, models.ErrForceRefreshUnsupported)
	}
	tokens, err := forcer.ForceRefresh(ctx, integration)
	if err != nil {
		return models.TokenSet{}, err
	}
	if err := m.validate(tokens); err != nil {
		return models.TokenSet{}, err
	}
	m.persist(ctx, integration, tokens)
	return tokens, nil
}

func (m *TokenManager) validate(tokens models.TokenSet) error {
	if tokens.AccessToken == "" {
		return &RefreshError{Provider: m.provider, Err: errors.New("provider returned an empty access token")}
	}
	if m.IsTokenExpired(tokens.ExpiresAt) {
		return &RefreshError{
			Provider: m.provider,
			Err:      fmt.Errorf("refreshed token expires at %s, within the %s safety margin", tokens.ExpiresAt.UTC().Format(time.RFC3339), m.margin),
		}
	}
	return nil
}

// persist is best-effort: the fresh token is still usable for this request
// when the write fails, and the next request refreshes again.
func (m *TokenManager) persist(ctx context.Context, integration *models.CalendarIntegration, tokens models.TokenSet) {
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = integration.RefreshToken
	}
	if err := m.integrations.UpdateTokens(ctx, integration.ID, tokens); err != nil {
		m.logger.Error("token_persist_failed",
			zap.String("user_id", integration.UserID),
			zap.String("integration_id", integration.ID),
			zap.Error(err))
		return
	}
	integration.AccessToken = tokens.AccessToken
	integration.RefreshToken = tokens.RefreshToken
	integration.AccessTokenExpiresAt = tokens.ExpiresAt
}

// awaitConcurrentRefresh waits for another holder of the lease and reuses
// its result when the stored token is valid and differs from the one this
// caller is replacing.
func (m *TokenManager) awaitConcurrentRefresh(ctx context.Context, integration *models.CalendarIntegration) (models.TokenSet, bool) {
	rejected := integration.AccessToken
	if err := m.lease.wait(ctx, integration.ID); err != nil {
		return models.TokenSet{}, false
	}
	current, err := m.load(ctx, integration.UserID)
	if err != nil || current.AccessToken == "" || current.AccessToken == rejected || m.IsTokenExpired(current.AccessTokenExpiresAt) {
		return models.TokenSet{}, false
	}
	*integration = *current
	return current.Tokens(), true
}

func (m *TokenManager) load(ctx context.Context, userID string) (*models.CalendarIntegration, error) {
	integration, err := m.integrations.GetActive(ctx, userID, m.provider)
	if err != nil {
		return nil, fmt.Errorf("load %s integration: %w", m.provider, err)
	}
	if integration == nil {
		return nil, fmt.Errorf("user %s: %w", userID, models.ErrNoIntegration)
	}
	return integration, nil
}

package security

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"coachcal-sync/models"
	"coachcal-sync/store"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

var CalendlyEndpoint = oauth2.Endpoint{
	AuthURL:   "https://auth.calendly.com/oauth/authorize",
	TokenURL:  "https://auth.calendly.com/oauth/token",
	AuthStyle: oauth2.AuthStyleInHeader,
}

const oauthStateTTL = 10 * time.Minute

// CalendlyOAuth runs the Calendly authorization code flow and refreshes
// Calendly tokens. OAuth state lives in Redis for ten minutes.
type CalendlyOAuth struct {
	config       *oauth2.Config
	redisClient  *redis.Client
	integrations store.IntegrationRepository
	logger       *zap.Logger
}

// NewCalendlyOAuth configures the code flow against endpoint. OAuth state is
// kept in Redis; integrations receive the exchanged tokens.
func NewCalendlyOAuth(clientID, clientSecret, redirectURL string, endpoint oauth2.Endpoint, redisClient *redis.Client, integrations store.IntegrationRepository, logger *zap.Logger) *CalendlyOAuth {
	if endpoint.TokenURL == "" {
		endpoint = CalendlyEndpoint
	}
	return &CalendlyOAuth{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     endpoint,
		},
		redisClient:  redisClient,
		integrations: integrations,
		logger:       logger.With(zap.String("provider", string(models.ProviderCalendly))),
	}
}

// Configured reports whether client credentials were provided.
func (c *CalendlyOAuth) Configured() bool {
	return c.config.ClientID != "" && c.config.ClientSecret != ""
}

// GetAuthURL returns the consent URL and the state bound to userID.
func (c *CalendlyOAuth) GetAuthURL(ctx context.Context, userID string) (string, string, error) {
	stateBytes := make([]byte, 32)
	if _, err := rand.Read(stateBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate state: %w", err)
	}
	state := base64.URLEncoding.EncodeToString(stateBytes)

	if err := c.redisClient.Set(ctx, stateKey(state), userID, oauthStateTTL).Err(); err != nil {
		return "", "", fmt.Errorf("failed to store OAuth state: %w", err)
	}

	return c.config.AuthCodeURL(state), state, nil
}

// ResolveUserIDFromState returns the user that started the flow for state.
func (c *CalendlyOAuth) ResolveUserIDFromState(ctx context.Context, state string) (string, error) {
	userID, err := c.redisClient.Get(ctx, stateKey(state)).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("invalid or expired state parameter")
	} else if err != nil {
		return "", fmt.Errorf("failed to resolve OAuth state: %w", err)
	}
	return userID, nil
}

// ExchangeCodeForToken completes the flow and stores the integration. The
// state is consumed whether or not the exchange succeeds.
func (c *CalendlyOAuth) ExchangeCodeForToken(ctx context.Context, code, state string) (*models.CalendarIntegration, error) {
	userID, err := c.ResolveUserIDFromState(ctx, state)
	if err != nil {
		return nil, err
	}
	defer c.redisClient.Del(ctx, stateKey(state))

	token, err := c.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code for token: %w", c.refreshError(err))
	}

	integration := &models.CalendarIntegration{
		UserID:               userID,
		Provider:             models.ProviderCalendly,
		ExternalUserID:       extraString(token, "owner"),
		AccessToken:          token.AccessToken,
		RefreshToken:         token.RefreshToken,
		AccessTokenExpiresAt: token.Expiry,
	}
	if err := c.integrations.Upsert(ctx, integration); err != nil {
		return nil, fmt.Errorf("failed to store integration: %w", err)
	}

	c.logger.Info("calendly connected", zap.String("user_id", userID))
	return integration, nil
}

// Refresh implements Refresher with the standard refresh_token grant.
func (c *CalendlyOAuth) Refresh(ctx context.Context, integration *models.CalendarIntegration) (models.TokenSet, error) {
	current := &oauth2.Token{
		AccessToken:  integration.AccessToken,
		RefreshToken: integration.RefreshToken,
		TokenType:    "Bearer",
		// Force the token source to hit the token endpoint.
		Expiry: time.Now().Add(-time.Minute),
	}

	token, err := c.config.TokenSource(ctx, current).Token()
	if err != nil {
		return models.TokenSet{}, c.refreshError(err)
	}

	tokens := models.TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = integration.RefreshToken
	}
	return tokens, nil
}

func (c *CalendlyOAuth) refreshError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		refreshErr := &RefreshError{Provider: models.ProviderCalendly, Body: string(retrieveErr.Body), Err: err}
		if retrieveErr.Response != nil {
			refreshErr.StatusCode = retrieveErr.Response.StatusCode
		}
		return refreshErr
	}
	return &RefreshError{Provider: models.ProviderCalendly, Err: err}
}

func stateKey(state string) string {
	return fmt.Sprintf("oauth_state_user:%s", state)
}

func extraString(token *oauth2.Token, key string) string {
	value, _ := token.Extra(key).(string)
	return strings.TrimSpace(value)
}

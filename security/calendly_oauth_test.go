package security

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"coachcal-sync/models"
	"coachcal-sync/store/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

func newCalendlyTokenServer(t *testing.T, handler http.HandlerFunc) oauth2.Endpoint {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return oauth2.Endpoint{
		AuthURL:   server.URL + "/oauth/authorize",
		TokenURL:  server.URL + "/oauth/token",
		AuthStyle: oauth2.AuthStyleInHeader,
	}
}

func TestCalendlyOAuth_GetAuthURL(t *testing.T) {
	client, _ := newTestRedis(t)
	oauth := NewCalendlyOAuth("calendly-client", "secret", "http://localhost:8080/auth/calendly/callback",
		oauth2.Endpoint{}, client, storetest.NewIntegrations(), zap.NewNop())

	authURL, state, err := oauth.GetAuthURL(context.Background(), "user-1")
	require.NoError(t, err)
	assert.NotEmpty(t, state)
	assert.Contains(t, authURL, "auth.calendly.com")
	assert.Contains(t, authURL, "client_id=calendly-client")

	userID, err := oauth.ResolveUserIDFromState(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestCalendlyOAuth_ExchangeCodeForToken(t *testing.T) {
	client, server := newTestRedis(t)
	endpoint := newCalendlyTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.Form.Get("grant_type"))
		assert.Equal(t, "the-code", r.Form.Get("code"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"cal-access","refresh_token":"cal-refresh","token_type":"Bearer","expires_in":7200,"owner":"https://api.calendly.com/users/ABC"}`))
	})
	repo := storetest.NewIntegrations()
	oauth := NewCalendlyOAuth("calendly-client", "secret", "http://localhost/callback", endpoint, client, repo, zap.NewNop())

	_, state, err := oauth.GetAuthURL(context.Background(), "user-1")
	require.NoError(t, err)

	integration, err := oauth.ExchangeCodeForToken(context.Background(), "the-code", state)
	require.NoError(t, err)
	assert.Equal(t, models.ProviderCalendly, integration.Provider)
	assert.Equal(t, "https://api.calendly.com/users/ABC", integration.ExternalUserID)
	assert.Equal(t, 1, repo.Calls.Upsert)

	stored, err := repo.GetActive(context.Background(), "user-1", models.ProviderCalendly)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "cal-refresh", stored.RefreshToken)

	// State is single use
	assert.False(t, server.Exists(stateKey(state)))
	_, err = oauth.ExchangeCodeForToken(context.Background(), "the-code", state)
	assert.Error(t, err)
}

func TestCalendlyOAuth_Refresh(t *testing.T) {
	client, _ := newTestRedis(t)
	endpoint := newCalendlyTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "stored-refresh", r.Form.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fresh-access","refresh_token":"fresh-refresh","token_type":"Bearer","expires_in":7200}`))
	})
	oauth := NewCalendlyOAuth("calendly-client", "secret", "", endpoint, client, storetest.NewIntegrations(), zap.NewNop())

	tokens, err := oauth.Refresh(context.Background(), &models.CalendarIntegration{AccessToken: "stale", RefreshToken: "stored-refresh"})
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", tokens.AccessToken)
	assert.Equal(t, "fresh-refresh", tokens.RefreshToken)
	assert.False(t, tokens.ExpiresAt.IsZero())
}

func TestCalendlyOAuth_RefreshRejected(t *testing.T) {
	client, _ := newTestRedis(t)
	endpoint := newCalendlyTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"refresh token revoked"}`))
	})
	oauth := NewCalendlyOAuth("calendly-client", "secret", "", endpoint, client, storetest.NewIntegrations(), zap.NewNop())

	_, err := oauth.Refresh(context.Background(), &models.CalendarIntegration{RefreshToken: "revoked"})
	require.Error(t, err)

	var refreshErr *RefreshError
	require.True(t, errors.As(err, &refreshErr))
	assert.Equal(t, http.StatusBadRequest, refreshErr.StatusCode)
	assert.Contains(t, refreshErr.Body, "invalid_grant")
	assert.True(t, errors.Is(err, models.ErrReconnectCalendar))
}

func TestCalendlyOAuth_AuthURLCarriesRedirect(t *testing.T) {
	client, _ := newTestRedis(t)
	oauth := NewCalendlyOAuth("id", "secret", "https://app.example.com/auth/calendly/callback",
		oauth2.Endpoint{}, client, storetest.NewIntegrations(), zap.NewNop())

	authURL, _, err := oauth.GetAuthURL(context.Background(), "user-1")
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.com/auth/calendly/callback", parsed.Query().Get("redirect_uri"))
	assert.True(t, oauth.Configured())
}

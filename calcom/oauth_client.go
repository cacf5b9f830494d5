package calcom

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"coachcal-sync/models"
	"coachcal-sync/security"

	"go.uber.org/zap"
)

// OAuthClient talks to the platform OAuth-client endpoints, authenticated
// with the client secret instead of a user token.
type OAuthClient struct {
	baseURL    string
	clientID   string
	secretKey  string
	httpClient *http.Client
	logger     *zap.Logger
}

var (
	_ security.Refresher      = (*OAuthClient)(nil)
	_ security.ForceRefresher = (*OAuthClient)(nil)
)

// NewOAuthClient talks to the platform OAuth endpoints with the client's
// id and secret key. It implements the token manager's refresher interfaces.
func NewOAuthClient(baseURL, clientID, secretKey string, timeout time.Duration, logger *zap.Logger) *OAuthClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &OAuthClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		clientID:   clientID,
		secretKey:  secretKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type tokenData struct {
	AccessToken          string    `json:"accessToken"`
	RefreshToken         string    `json:"refreshToken"`
	AccessTokenExpiresAt Timestamp `json:"accessTokenExpiresAt"`
}

func (t tokenData) tokenSet() models.TokenSet {
	return models.TokenSet{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    t.AccessTokenExpiresAt.Time,
	}
}

// Refresh exchanges the stored refresh token for a new pair.
func (c *OAuthClient) Refresh(ctx context.Context, integration *models.CalendarIntegration) (models.TokenSet, error) {
	path := fmt.Sprintf("/oauth/%s/refresh", c.clientID)
	body := map[string]string{"refreshToken": integration.RefreshToken}

	var data tokenData
	if err := c.post(ctx, path, body, &data); err != nil {
		return models.TokenSet{}, asRefreshError(err)
	}
	return data.tokenSet(), nil
}

// ForceRefresh re-issues tokens for a managed user without its refresh token.
func (c *OAuthClient) ForceRefresh(ctx context.Context, integration *models.CalendarIntegration) (models.TokenSet, error) {
	if integration.ExternalUserID == "" {
		return models.TokenSet{}, &security.RefreshError{Provider: models.ProviderCalcom, Revoked: true, Err: errors.New("integration has no managed user id")}
	}
	path := fmt.Sprintf("/oauth-clients/%s/users/%s/force-refresh", c.clientID, integration.ExternalUserID)

	var data tokenData
	if err := c.post(ctx, path, struct{}{}, &data); err != nil {
		return models.TokenSet{}, asRefreshError(err)
	}
	c.logger.Info("force refreshed managed user tokens", zap.String("user_id", integration.UserID))
	return data.tokenSet(), nil
}

// ManagedUserInput is the body of a managed user creation.
type ManagedUserInput struct {
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

// ManagedUser is a provider account owned by this OAuth client.
type ManagedUser struct {
	ID       ID     `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	TimeZone string `json:"timeZone"`
}

type managedUserData struct {
	User ManagedUser `json:"user"`
	tokenData
}

// CreateManagedUser provisions a Cal.com user owned by the OAuth client and
// returns it with its first token pair.
func (c *OAuthClient) CreateManagedUser(ctx context.Context, input ManagedUserInput) (*ManagedUser, models.TokenSet, error) {
	path := fmt.Sprintf("/oauth-clients/%s/users", c.clientID)

	var data managedUserData
	if err := c.post(ctx, path, input, &data); err != nil {
		return nil, models.TokenSet{}, err
	}
	if data.User.ID == "" || data.AccessToken == "" {
		return nil, models.TokenSet{}, &ProviderError{Endpoint: path, Method: http.MethodPost, StatusCode: http.StatusOK, Message: "managed user response missing id or tokens"}
	}
	return &data.User, data.tokenSet(), nil
}

func (c *OAuthClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-cal-secret-key", c.secretKey)
	req.Header.Set("x-cal-client-id", c.clientID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ProviderError{Endpoint: path, Method: http.MethodPost, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return &ProviderError{Endpoint: path, Method: http.MethodPost, StatusCode: resp.StatusCode, Err: err}
	}
	c.logger.Debug("cal.com oauth request",
		zap.String("endpoint", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)))

	env, err := decodeResponse(http.MethodPost, path, &rawResponse{status: resp.StatusCode, body: data})
	if err != nil {
		return err
	}
	return env.Decode(out)
}

func asRefreshError(err error) error {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return &security.RefreshError{Provider: models.ProviderCalcom, StatusCode: pe.StatusCode, Body: pe.Body, Err: err}
	}
	return &security.RefreshError{Provider: models.ProviderCalcom, Err: err}
}

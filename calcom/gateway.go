package calcom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"coachcal-sync/models"

	"go.uber.org/zap"
)

const (
	DefaultBaseURL    = "https://api.cal.com/v2"
	DefaultAPIVersion = "2024-06-14"

	// StatusTokenExpired is Cal.com's "access token expired" status.
	StatusTokenExpired = 498

	maxResponseBody = 4 << 20
)

// TokenProvider hands out access tokens for a user.
type TokenProvider interface {
	EnsureValidToken(ctx context.Context, userID string) (string, error)
	RenewToken(ctx context.Context, userID string) (string, error)
}

// Gateway is the only path for authenticated Cal.com calls.
type Gateway struct {
	baseURL    string
	apiVersion string
	httpClient *http.Client
	tokens     TokenProvider
	limiter    *RateLimiter
	logger     *zap.Logger
}

// GatewayConfig holds the connection settings of a Gateway. Zero values
// fall back to DefaultBaseURL, DefaultAPIVersion and a 15 second timeout.
type GatewayConfig struct {
	BaseURL    string
	APIVersion string
	Timeout    time.Duration
}

// NewGateway returns a Gateway that takes tokens from tokens and paces calls
// per user with limiter. A nil limiter disables pacing.
func NewGateway(cfg GatewayConfig, tokens TokenProvider, limiter *RateLimiter, logger *zap.Logger) *Gateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if limiter == nil {
		limiter = NewRateLimiter(0)
	}
	return &Gateway{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiVersion: cfg.APIVersion,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		tokens:     tokens,
		limiter:    limiter,
		logger:     logger,
	}
}

type requestOptions struct {
	apiVersion string
	query      url.Values
}

// RequestOption adjusts a single Request call.
type RequestOption func(*requestOptions)

// WithAPIVersion pins a different cal-api-version for one call.
func WithAPIVersion(version string) RequestOption {
	return func(o *requestOptions) { o.apiVersion = version }
}

// WithQuery appends query as the URL query string.
func WithQuery(query url.Values) RequestOption {
	return func(o *requestOptions) { o.query = query }
}

type rawResponse struct {
	status int
	body   []byte
}

// Request performs an authenticated call. An expired or unauthorized answer
// triggers one token renewal and one resend; a second rejection means the
// user must reconnect.
func (g *Gateway) Request(ctx context.Context, userID, method, path string, body any, opts ...RequestOption) (*Envelope, error) {
	o := requestOptions{apiVersion: g.apiVersion}
	for _, opt := range opts {
		opt(&o)
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
	}

	if err := g.limiter.Wait(ctx, userID); err != nil {
		return nil, fmt.Errorf("rate limit %s %s: %w", method, path, err)
	}

	token, err := g.tokens.EnsureValidToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	resp, err := g.send(ctx, userID, token, method, path, payload, o)
	if err != nil {
		return nil, err
	}

	if isTokenRejected(resp.status) {
		g.logger.Info("cal.com rejected token, renewing",
			zap.String("user_id", userID),
			zap.String("endpoint", path),
			zap.Int("status", resp.status))

		token, err = g.tokens.RenewToken(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("renew token for %s %s: %w", method, path, err)
		}
		resp, err = g.send(ctx, userID, token, method, path, payload, o)
		if err != nil {
			return nil, err
		}
		if isTokenRejected(resp.status) {
			return nil, &ProviderError{
				Endpoint:   path,
				Method:     method,
				StatusCode: resp.status,
				Body:       truncateBody(resp.body),
				Message:    "token rejected after renewal",
				Err:        models.ErrReconnectCalendar,
			}
		}
	}

	return decodeResponse(method, path, resp)
}

func (g *Gateway) send(ctx context.Context, userID, token, method, path string, payload []byte, o requestOptions) (*rawResponse, error) {
	endpoint := g.baseURL + path
	if len(o.query) > 0 {
		endpoint += "?" + o.query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("cal-api-version", o.apiVersion)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		g.logger.Warn("cal.com request failed",
			zap.String("user_id", userID),
			zap.String("method", method),
			zap.String("endpoint", path),
			zap.Duration("latency", latency),
			zap.Error(err))
		return nil, &ProviderError{Endpoint: path, Method: method, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &ProviderError{Endpoint: path, Method: method, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	g.logger.Debug("cal.com request",
		zap.String("user_id", userID),
		zap.String("method", method),
		zap.String("endpoint", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", latency))

	return &rawResponse{status: resp.StatusCode, body: data}, nil
}

func decodeResponse(method, path string, resp *rawResponse) (*Envelope, error) {
	if resp.status < 200 || resp.status >= 300 {
		pe := &ProviderError{
			Endpoint:   path,
			Method:     method,
			StatusCode: resp.status,
			Body:       truncateBody(resp.body),
		}
		if env, err := parseEnvelope(resp.body); err == nil && env.Error != nil {
			pe.Code = env.Error.Code
			pe.Message = env.Error.Message
		}
		return nil, pe
	}

	env, err := parseEnvelope(resp.body)
	if err != nil {
		return nil, &ProviderError{Endpoint: path, Method: method, StatusCode: resp.status, Body: truncateBody(resp.body), Err: err}
	}
	if env.Status == StatusError {
		pe := &ProviderError{Endpoint: path, Method: method, StatusCode: resp.status, Body: truncateBody(resp.body)}
		if env.Error != nil {
			pe.Code = env.Error.Code
			pe.Message = env.Error.Message
		}
		return nil, pe
	}
	return env, nil
}

func isTokenRejected(status int) bool {
	return status == StatusTokenExpired || status == http.StatusUnauthorized
}

package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"coachcal-sync/models"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubCalendly struct {
	configured  bool
	exchangeErr error
	gotCode     string
	gotState    string
}

func (s *stubCalendly) Configured() bool { return s.configured }

func (s *stubCalendly) GetAuthURL(_ context.Context, userID string) (string, string, error) {
	return "https://auth.calendly.com/oauth/authorize?state=st-" + userID, "st-" + userID, nil
}

func (s *stubCalendly) ExchangeCodeForToken(_ context.Context, code, state string) (*models.CalendarIntegration, error) {
	s.gotCode, s.gotState = code, state
	if s.exchangeErr != nil {
		return nil, s.exchangeErr
	}
	return &models.CalendarIntegration{UserID: "coach-1", Provider: models.ProviderCalendly}, nil
}

func newCalendlyRouter(oauth calendlyAuth) *mux.Router {
	r := mux.NewRouter()
	NewCalendlyAuthHandler(oauth, zap.NewNop()).RegisterRoutes(r)
	return r
}

func TestCalendlyStartAuth(t *testing.T) {
	r := newCalendlyRouter(&stubCalendly{configured: true})

	rr := doJSON(t, r, http.MethodPost, "/auth/calendly", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "st-coach-1")

	unconfigured := newCalendlyRouter(&stubCalendly{})
	assert.Equal(t, http.StatusServiceUnavailable, doJSON(t, unconfigured, http.MethodPost, "/auth/calendly", nil).Code)
}

func TestCalendlyCallback(t *testing.T) {
	oauth := &stubCalendly{configured: true}
	r := newCalendlyRouter(oauth)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/auth/calendly/callback?code=abc&state=st-coach-1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "abc", oauth.gotCode)
	assert.Equal(t, "st-coach-1", oauth.gotState)

	missing := httptest.NewRecorder()
	r.ServeHTTP(missing, httptest.NewRequest(http.MethodGet, "/auth/calendly/callback?code=abc", nil))
	assert.Equal(t, http.StatusBadRequest, missing.Code)

	denied := httptest.NewRecorder()
	r.ServeHTTP(denied, httptest.NewRequest(http.MethodGet, "/auth/calendly/callback?error=access_denied", nil))
	assert.Equal(t, http.StatusBadRequest, denied.Code)

	oauth.exchangeErr = errors.New("invalid or expired state")
	failed := httptest.NewRecorder()
	r.ServeHTTP(failed, httptest.NewRequest(http.MethodGet, "/auth/calendly/callback?code=abc&state=gone", nil))
	assert.Equal(t, http.StatusBadRequest, failed.Code)
}

package main

import (
	"context"
	"net/http"

	"coachcal-sync/models"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// calendlyAuth is the legacy Calendly OAuth code flow.
type calendlyAuth interface {
	Configured() bool
	GetAuthURL(ctx context.Context, userID string) (string, string, error)
	ExchangeCodeForToken(ctx context.Context, code, state string) (*models.CalendarIntegration, error)
}

// CalendlyAuthHandler connects a coach's Calendly account.
type CalendlyAuthHandler struct {
	oauth  calendlyAuth
	logger *zap.Logger
}

func NewCalendlyAuthHandler(oauth calendlyAuth, logger *zap.Logger) *CalendlyAuthHandler {
	return &CalendlyAuthHandler{oauth: oauth, logger: logger}
}

// AuthResponse carries the consent URL the browser is sent to.
type AuthResponse struct {
	AuthURL string `json:"auth_url"`
	State   string `json:"state"`
}

// CallbackResponse reports the outcome of the OAuth callback.
type CallbackResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Provider string `json:"provider,omitempty"`
}

func (h *CalendlyAuthHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/calendly", h.StartAuth).Methods("POST")
	router.HandleFunc("/auth/calendly/callback", h.HandleCallback).Methods("GET")
}

// StartAuth creates a state bound to the caller and returns the consent URL.
func (h *CalendlyAuthHandler) StartAuth(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if h.oauth == nil || !h.oauth.Configured() {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "calendly is not configured", Code: "not_configured"})
		return
	}

	authURL, state, err := h.oauth.GetAuthURL(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, AuthResponse{AuthURL: authURL, State: state})
}

// HandleCallback exchanges the code. The user comes from the stored state,
// not from the request, because the provider redirects the browser here.
func (h *CalendlyAuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if errorParam := query.Get("error"); errorParam != "" {
		h.logger.Warn("calendly oauth error", zap.String("error", errorParam))
		writeBadRequest(w, "OAuth failed: "+errorParam)
		return
	}
	code, state := query.Get("code"), query.Get("state")
	if code == "" || state == "" {
		writeBadRequest(w, "code and state are required")
		return
	}
	if h.oauth == nil || !h.oauth.Configured() {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "calendly is not configured", Code: "not_configured"})
		return
	}

	_, err := h.oauth.ExchangeCodeForToken(r.Context(), code, state)
	if err != nil {
		h.logger.Warn("calendly code exchange failed", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, CallbackResponse{Success: false, Message: "could not connect Calendly, please try again"})
		return
	}

	writeJSON(w, http.StatusOK, CallbackResponse{
		Success:  true,
		Message:  "Calendly connected",
		Provider: string(models.ProviderCalendly),
	})
}

package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"coachcal-sync/calcom"
	"coachcal-sync/models"
	"coachcal-sync/reconcile"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	userIDHeader = "X-User-ID"
	maxBodyBytes = 1 << 20
)

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain and provider errors onto HTTP statuses.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status, code := classifyError(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		logger.Error("request_failed", zap.Int("status", status), zap.String("code", code), zap.Error(err))
		if status == http.StatusInternalServerError {
			message = "internal error"
		}
	}
	if code == "reconnect_calendar" {
		message = "your calendar connection expired, please reconnect it"
	}
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

func classifyError(err error) (int, string) {
	var validation *reconcile.ValidationError
	switch {
	case errors.Is(err, models.ErrReconnectCalendar):
		return http.StatusConflict, "reconnect_calendar"
	case errors.Is(err, models.ErrNoIntegration):
		return http.StatusNotFound, "no_integration"
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.As(err, &validation), errors.Is(err, models.ErrInvalidInterval):
		return http.StatusUnprocessableEntity, "validation_failed"
	case errors.Is(err, models.ErrDefaultEventType):
		return http.StatusUnprocessableEntity, "default_event_type"
	case calcom.IsValidation(err):
		return http.StatusUnprocessableEntity, "provider_rejected"
	case calcom.IsTransient(err), errors.Is(err, models.ErrRefreshFailed):
		return http.StatusBadGateway, "provider_unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: message, Code: "bad_request"})
}

// requireUser reads the caller set by the auth proxy. It answers 401 and
// returns false when the header is missing.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.Header.Get(userIDHeader))
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "missing user", Code: "unauthenticated"})
		return "", false
	}
	return userID, true
}

func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
}

// rateLimitByUser answers 429 once a caller exceeds its per-user budget.
// Requests without a user pass through; routes that need one reject them.
func rateLimitByUser(limiter *calcom.RateLimiter, logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(userIDHeader))
			if userID != "" && !limiter.Allow(userID) {
				logger.Warn("rate limit exceeded", zap.String("user_id", userID), zap.String("path", r.URL.Path))
				writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "too many requests, try again shortly", Code: "rate_limited"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

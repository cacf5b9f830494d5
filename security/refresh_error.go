package security

import (
	"fmt"
	"net/http"

	"coachcal-sync/models"
)

// StatusInvalidToken is Cal.com's non-standard "token expired" status.
const StatusInvalidToken = 498

// RefreshError is returned when a provider rejects a token refresh.
type RefreshError struct {
	Provider   models.Provider
	StatusCode int
	Body       string
	// Revoked marks failures that no retry can fix, such as a missing refresh token.
	Revoked bool
	Err     error
}

func (e *RefreshError) Error() string {
	msg := fmt.Sprintf("%s token refresh failed", e.Provider)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes ErrRefreshFailed, ErrReconnectCalendar for credential
// failures, and the underlying cause.
func (e *RefreshError) Unwrap() []error {
	errs := []error{models.ErrRefreshFailed}
	if e.IsCredential() {
		errs = append(errs, models.ErrReconnectCalendar)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// IsCredential reports whether the stored credentials were rejected, as
// opposed to a transient provider or network failure.
func (e *RefreshError) IsCredential() bool {
	if e.Revoked {
		return true
	}
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, StatusInvalidToken:
		return true
	}
	return false
}

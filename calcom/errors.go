package calcom

import (
	"errors"
	"fmt"
	"net/http"
)

const maxErrorBody = 2048

// ProviderError is a non-success answer from Cal.com.
type ProviderError struct {
	Endpoint   string
	Method     string
	StatusCode int
	Body       string
	Code       string
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("cal.com %s %s", e.Method, e.Endpoint)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.StatusCode)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsTransient reports failures worth retrying later: network errors, 429 and 5xx.
func IsTransient(err error) bool {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.StatusCode == 0 || pe.StatusCode == http.StatusTooManyRequests || pe.StatusCode >= 500
}

// IsValidation reports requests Cal.com refused as invalid. A 2xx carrying
// an error envelope counts as one.
func IsValidation(err error) bool {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	switch pe.StatusCode {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity:
		return true
	}
	return pe.StatusCode >= 200 && pe.StatusCode < 300
}

// StatusCode returns the provider status carried by err, or 0.
func StatusCode(err error) int {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.StatusCode
	}
	return 0
}

func truncateBody(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody])
	}
	return string(body)
}

package models

import "errors"

var (
	// ErrNoIntegration means the user has no active integration for the provider.
	ErrNoIntegration = errors.New("no active calendar integration")

	// ErrRefreshFailed is wrapped by every token refresh failure.
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrReconnectCalendar means the stored credentials were rejected and the user
	// has to connect the calendar again.
	ErrReconnectCalendar = errors.New("calendar must be reconnected")

	// ErrForceRefreshUnsupported is returned for providers without a force-refresh endpoint.
	ErrForceRefreshUnsupported = errors.New("provider does not support force refresh")

	ErrInvalidInterval  = errors.New("invalid availability interval")
	ErrDefaultEventType = errors.New("default event types cannot be deleted")
	ErrNotFound         = errors.New("not found")

	// ErrStaleBooking means a newer state of the booking is already stored.
	ErrStaleBooking = errors.New("booking state is older than the stored one")
)

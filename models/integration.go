package models

import (
	"time"
)

// Provider identifies an external scheduling provider.
type Provider string

const (
	ProviderCalcom   Provider = "calcom"
	ProviderCalendly Provider = "calendly"
)

// CalendarIntegration is a user's connection to one scheduling provider.
type CalendarIntegration struct {
	ID                   string    `db:"id" json:"id"`
	UserID               string    `db:"user_id" json:"user_id"`
	Provider             Provider  `db:"provider" json:"provider"`
	ExternalUserID       string    `db:"external_user_id" json:"external_user_id"`
	AccessToken          string    `db:"access_token" json:"-"`
	RefreshToken         string    `db:"refresh_token" json:"-"`
	AccessTokenExpiresAt time.Time `db:"access_token_expires_at" json:"access_token_expires_at"`
	ExternalUsername     string    `db:"external_username" json:"external_username"`
	Timezone             string    `db:"timezone" json:"timezone"`
	IsActive             bool      `db:"is_active" json:"is_active"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time `db:"updated_at" json:"updated_at"`
}

// Tokens returns the credential triple stored on the integration.
func (c *CalendarIntegration) Tokens() TokenSet {
	return TokenSet{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		ExpiresAt:    c.AccessTokenExpiresAt,
	}
}

// TokenSet is an OAuth access/refresh pair with the access token expiry.
type TokenSet struct {
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at"`
}
